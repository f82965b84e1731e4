/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/nickolasclarke/vscode-node-debug2/internal/resiliency"
)

// Transport provides DAP message I/O over a connection to a debug adapter.
// ReadMessage is called from a single reader goroutine; WriteMessage may be called concurrently.
type Transport interface {
	// ReadMessage blocks until a complete DAP message is available.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes and flushes a single DAP message.
	WriteMessage(msg dap.Message) error

	// Close releases the underlying streams. Blocked reads and writes return with an error.
	Close() error
}

// streamTransport frames DAP messages (Content-Length header + JSON body) over a pair of streams.
type streamTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	closers []io.Closer

	writeMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

// NewTCPTransport creates a Transport backed by a network connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		closers: []io.Closer{conn},
	}
}

// NewStdioTransport creates a Transport that reads from the adapter's stdout and writes to its stdin.
func NewStdioTransport(adapterStdout io.ReadCloser, adapterStdin io.WriteCloser) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(adapterStdout),
		writer:  bufio.NewWriter(adapterStdin),
		closers: []io.Closer{adapterStdin, adapterStdout},
	}
}

// DialTCP connects to a debug adapter listening on the given address.
// The adapter may still be starting, so connection attempts are retried until
// the timeout elapses or the context is cancelled.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (Transport, error) {
	var d net.Dialer
	conn, dialErr := resiliency.RetryGet(ctx, resiliency.PollingBackoff(timeout), func() (net.Conn, error) {
		return d.DialContext(ctx, "tcp", address)
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	msg, readErr := dap.ReadProtocolMessage(t.reader)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && !errors.Is(closeErr, os.ErrClosed) {
			errs = append(errs, closeErr)
		}
	}

	return errors.Join(errs...)
}
