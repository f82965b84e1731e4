/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	runtimeVersionQueryTimeout = 10 * time.Second
)

// RuntimeDescriptor describes the runtime the debuggee runs on.
// It is resolved once, when the Harness is created.
type RuntimeDescriptor struct {
	Platform      string `json:"platform"`
	Version       string `json:"version"`
	NightlyPrefix string `json:"nightlyPrefix,omitempty"`
	NightlyName   string `json:"nightlyName,omitempty"`
}

// IsNightly returns true if the runtime version is a nightly build.
func (rd RuntimeDescriptor) IsNightly() bool {
	return rd.NightlyPrefix != "" && strings.HasPrefix(rd.Version, rd.NightlyPrefix)
}

// NightlyExecutable returns the name of the nightly runtime executable for the platform.
func (rd RuntimeDescriptor) NightlyExecutable() string {
	if rd.Platform == "windows" {
		return rd.NightlyName + ".cmd"
	}
	return rd.NightlyName
}

// ResolveRuntime fills in the runtime descriptor from the configuration.
// If the configuration does not specify the runtime version, "<runtime> --version" is run to obtain it.
// A runtime that cannot be queried is treated as a regular (non-nightly) release.
func ResolveRuntime(ctx context.Context, cfg Config, log logr.Logger) RuntimeDescriptor {
	rd := RuntimeDescriptor{
		Platform:      cfg.Platform,
		Version:       cfg.RuntimeVersion,
		NightlyPrefix: cfg.NightlyPrefix,
		NightlyName:   cfg.NightlyExecutable,
	}

	if rd.Platform == "" {
		rd.Platform = runtime.GOOS
	}

	if rd.Version == "" && rd.NightlyPrefix != "" && cfg.Runtime != "" {
		queryCtx, cancel := context.WithTimeout(ctx, runtimeVersionQueryTimeout)
		defer cancel()

		out, queryErr := exec.CommandContext(queryCtx, cfg.Runtime, "--version").Output()
		if queryErr != nil {
			log.V(1).Info("Could not determine runtime version", "Runtime", cfg.Runtime, "Error", queryErr.Error())
		} else {
			rd.Version = strings.TrimSpace(string(out))
		}
	}

	log.V(1).Info("Runtime resolved", "Platform", rd.Platform, "Version", rd.Version, "Nightly", rd.IsNightly())
	return rd
}
