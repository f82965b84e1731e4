/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
)

var (
	// ErrInvalidClientConfig is returned when the client has neither a port nor an adapter to launch.
	ErrInvalidClientConfig = errors.New("invalid DAP client configuration: AdapterPath is required unless a port is given")

	// ErrNotStarted is returned when a request is made before Start() succeeded.
	ErrNotStarted = errors.New("DAP client is not started")

	// ErrAlreadyStarted is returned when Start() is called twice.
	ErrAlreadyStarted = errors.New("DAP client is already started")

	// ErrConnectionClosed is returned for requests that cannot complete because the adapter connection ended.
	ErrConnectionClosed = errors.New("debug adapter connection closed")

	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed = errors.New("transport is closed")
)

// IsConnectionError returns true if the error indicates that the adapter is no longer reachable.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrTransportClosed)
}

// filterContextError filters out redundant context errors during shutdown.
// If the context is already done, context errors and "signal: killed" process exit errors
// are logged at debug level and nil is returned. Otherwise the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Error(), "signal: killed") {
			log.V(1).Info("Filtering process killed error on context cancellation", "error", err)
			return nil
		}
	}

	return err
}
