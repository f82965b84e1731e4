/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/nickolasclarke/vscode-node-debug2/internal/logger"
)

const (
	// DefaultConnectionTimeout is the default time allowed for connecting to an adapter in debug-server mode.
	DefaultConnectionTimeout = 10 * time.Second

	// How long Stop() waits for the adapter to answer a disconnect request.
	disconnectTimeout = 2 * time.Second

	// How long Stop() waits for the adapter process to exit on its own before killing it.
	adapterExitGracePeriod = 2 * time.Second

	eventQueueSize = 100
)

// ClientConfig describes the debug adapter a Client talks to.
type ClientConfig struct {
	// Runtime is the executable used to run the adapter, e.g. "node".
	// If empty, AdapterPath is executed directly.
	Runtime string

	// AdapterPath is the adapter entry point passed to Runtime.
	// Not needed when the client connects to an adapter that is already listening on a port.
	AdapterPath string

	// AdapterType is sent to the adapter as the adapterID of the initialize request.
	AdapterType string

	// Env contains additional "NAME=value" environment variables for the adapter process.
	Env []string

	// ConnectionTimeout bounds connection attempts in debug-server mode.
	// If zero, DefaultConnectionTimeout is used.
	ConnectionTimeout time.Duration

	Logger logr.Logger
}

// LaunchArguments is the adapter-specific payload of a launch request.
type LaunchArguments map[string]any

// Location identifies a position in a source file. Zero Line or Column means "any".
type Location struct {
	Path   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.Path, l.Line, l.Column)
}

// Client is a DAP client for testing debug adapters.
// It provides helper methods for common DAP operations.
type Client struct {
	config ClientConfig
	log    logr.Logger

	// stateMu protects transport, adapterCmd and stopped
	stateMu    sync.Mutex
	transport  Transport
	adapterCmd *exec.Cmd
	stopped    bool

	seq atomic.Int64

	// eventChan receives events from the adapter
	eventChan chan dap.Message

	listeners *listenerSet

	// responseChans tracks pending requests waiting for responses
	responseChans map[int]chan dap.Message
	responseMu    sync.Mutex

	// capabilities is set once the initialize request succeeds
	capabilities *dap.Capabilities
	initMu       sync.Mutex

	// lifetimeCtx is cancelled when the client is stopped
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc

	// readerDone is closed when the reader goroutine exits
	readerDone chan struct{}
}

// NewClient creates a new DAP client. No connection is made until Start() is called.
func NewClient(config ClientConfig) *Client {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	lifetimeCtx, lifetimeCancel := context.WithCancel(context.Background())
	return &Client{
		config:         config,
		log:            log.WithValues("AdapterType", config.AdapterType),
		eventChan:      make(chan dap.Message, eventQueueSize),
		listeners:      newListenerSet(),
		responseChans:  make(map[int]chan dap.Message),
		lifetimeCtx:    lifetimeCtx,
		lifetimeCancel: lifetimeCancel,
		readerDone:     make(chan struct{}),
	}
}

// Start establishes the connection to the debug adapter.
// If port is greater than zero, the client connects to an adapter already listening on that port.
// Otherwise the adapter is launched as a child process and DAP messages flow over its stdin/stdout.
func (c *Client) Start(ctx context.Context, port int) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.transport != nil || c.stopped {
		return ErrAlreadyStarted
	}

	var transport Transport
	if port > 0 {
		address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		timeout := c.config.ConnectionTimeout
		if timeout <= 0 {
			timeout = DefaultConnectionTimeout
		}

		t, dialErr := DialTCP(ctx, address, timeout)
		if dialErr != nil {
			return dialErr
		}
		c.log.V(1).Info("Connected to debug adapter", "address", address)
		transport = t
	} else {
		t, launchErr := c.launchAdapter()
		if launchErr != nil {
			return launchErr
		}
		transport = t
	}

	c.transport = transport
	go c.readLoop(transport)

	return nil
}

// launchAdapter starts the adapter process and returns a transport bound to its stdio.
// The process is not tied to any context; Stop() ends it.
func (c *Client) launchAdapter() (Transport, error) {
	if c.config.AdapterPath == "" {
		return nil, ErrInvalidClientConfig
	}

	var cmd *exec.Cmd
	if c.config.Runtime != "" {
		cmd = exec.Command(c.config.Runtime, c.config.AdapterPath)
	} else {
		cmd = exec.Command(c.config.AdapterPath)
	}
	cmd.Env = append(os.Environ(), c.config.Env...)

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}

	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", stdoutErr)
	}

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	if startErr := cmd.Start(); startErr != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	go logStderr(stderr, c.log)

	c.log.Info("Launched debug adapter process",
		"command", cmd.Path,
		"args", cmd.Args[1:],
		"pid", cmd.Process.Pid)

	c.adapterCmd = cmd
	return NewStdioTransport(stdout, stdin), nil
}

// Stop ends the debug session: it asks the adapter to disconnect, closes the connection
// and stops the adapter process if the client launched it.
// A disconnect request the adapter does not answer is not an error; the adapter is stopped regardless.
func (c *Client) Stop(ctx context.Context) error {
	c.stateMu.Lock()
	transport := c.transport
	cmd := c.adapterCmd
	alreadyStopped := c.stopped
	c.stopped = true
	c.stateMu.Unlock()

	if transport == nil {
		c.lifetimeCancel()
		return ErrNotStarted
	}
	if alreadyStopped {
		return nil
	}

	disconnectCtx, disconnectCancel := context.WithTimeout(ctx, disconnectTimeout)
	disconnectErr := c.Disconnect(disconnectCtx, true)
	disconnectCancel()
	switch {
	case disconnectErr == nil:
	case IsConnectionError(disconnectErr):
		c.log.V(1).Info("Debug adapter closed the connection before answering the disconnect request")
	default:
		c.log.Info("Disconnect request did not complete", "error", disconnectErr.Error())
	}

	c.lifetimeCancel()

	var errs []error
	if closeErr := transport.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("failed to close debug adapter connection: %w", closeErr))
	}
	<-c.readerDone

	if cmd != nil {
		if stopErr := c.stopAdapter(ctx, cmd); stopErr != nil {
			errs = append(errs, stopErr)
		}
	}

	return errors.Join(errs...)
}

func (c *Client) stopAdapter(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-exited:
		if waitErr != nil {
			c.log.V(1).Info("Debug adapter process exited with error", "pid", cmd.Process.Pid, "error", waitErr)
		}
		return nil

	case <-time.After(adapterExitGracePeriod):
	case <-ctx.Done():
	}

	if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop debug adapter process %d: %w", cmd.Process.Pid, killErr)
	}

	waitErr = <-exited
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// Killed on purpose.
		return nil
	}

	return filterContextError(waitErr, ctx, c.log)
}

// readLoop continuously reads messages from the transport and routes them.
func (c *Client) readLoop(transport Transport) {
	defer close(c.readerDone)

	for {
		msg, readErr := transport.ReadMessage()
		if readErr != nil {
			if c.lifetimeCtx.Err() == nil && !errors.Is(readErr, io.EOF) {
				c.log.Error(readErr, "Stopped reading from debug adapter")
			}
			return
		}
		c.log.V(logger.ProtocolVerbosity).Info("Received DAP message", "type", fmt.Sprintf("%T", msg))

		switch m := msg.(type) {
		case dap.ResponseMessage:
			resp := m.GetResponse()
			c.responseMu.Lock()
			if ch, ok := c.responseChans[resp.RequestSeq]; ok {
				ch <- msg
				delete(c.responseChans, resp.RequestSeq)
			}
			c.responseMu.Unlock()

		case dap.EventMessage:
			c.listeners.dispatch(m)
			c.enqueueEvent(msg)

		case dap.RequestMessage:
			// Reverse requests (e.g. runInTerminal) are not supported by the test client.
			c.log.V(1).Info("Ignoring reverse request from debug adapter", "command", m.GetRequest().Command)
		}
	}
}

func (c *Client) enqueueEvent(msg dap.Message) {
	select {
	case c.eventChan <- msg:
	default:
		// Event queue full, drop oldest
		select {
		case <-c.eventChan:
		default:
		}
		c.eventChan <- msg
	}
}

// AddListener registers a listener for events of the given type (e.g. "output").
func (c *Client) AddListener(eventType string, listener EventListener) ListenerHandle {
	return c.listeners.add(eventType, listener)
}

// RemoveListener unregisters a listener. Returns false if the handle is unknown.
func (c *Client) RemoveListener(handle ListenerHandle) bool {
	return c.listeners.remove(handle)
}

// ListenerCount returns the number of listeners registered for the given event type.
func (c *Client) ListenerCount(eventType string) int {
	return c.listeners.count(eventType)
}

// nextEvent returns a channel that receives the first event of the given type that arrives
// after the call. The returned function must be called to unregister the underlying listener.
func (c *Client) nextEvent(eventType string) (<-chan dap.EventMessage, func()) {
	ch := make(chan dap.EventMessage, 1)
	var once sync.Once
	handle := c.AddListener(eventType, func(event dap.EventMessage) {
		once.Do(func() { ch <- event })
	})
	return ch, func() { c.RemoveListener(handle) }
}

func (c *Client) nextSeq() int {
	return int(c.seq.Add(1))
}

func (c *Client) currentTransport() (Transport, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.transport == nil {
		return nil, ErrNotStarted
	}
	return c.transport, nil
}

// sendRequest sends a request and waits for the response.
func (c *Client) sendRequest(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	transport, transportErr := c.currentTransport()
	if transportErr != nil {
		return nil, transportErr
	}

	request := req.GetRequest()
	seq := c.nextSeq()
	request.Seq = seq

	respChan := make(chan dap.Message, 1)
	c.responseMu.Lock()
	c.responseChans[seq] = respChan
	c.responseMu.Unlock()

	forget := func() {
		c.responseMu.Lock()
		delete(c.responseChans, seq)
		c.responseMu.Unlock()
	}

	c.log.V(logger.ProtocolVerbosity).Info("Sending DAP request", "command", request.Command, "seq", seq)
	if writeErr := transport.WriteMessage(req); writeErr != nil {
		forget()
		if errors.Is(writeErr, ErrTransportClosed) {
			return nil, fmt.Errorf("failed to send %s request: %w", request.Command, ErrConnectionClosed)
		}
		return nil, fmt.Errorf("failed to send %s request: %w", request.Command, writeErr)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-c.readerDone:
		forget()
		// The response may have arrived just before the connection ended.
		select {
		case resp := <-respChan:
			return resp, nil
		default:
			return nil, fmt.Errorf("%s request: %w", request.Command, ErrConnectionClosed)
		}
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// roundTrip sends a request and converts the response to the expected type.
// Responses with success=false are turned into errors carrying the adapter's message.
func roundTrip[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	var zero T
	command := req.GetRequest().Command

	resp, sendErr := c.sendRequest(ctx, req)
	if sendErr != nil {
		return zero, sendErr
	}

	if rm, isResponse := resp.(dap.ResponseMessage); isResponse && !rm.GetResponse().Success {
		return zero, fmt.Errorf("%s failed: %s", command, rm.GetResponse().Message)
	}

	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", resp)
	}

	return typed, nil
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends an initialize request and returns the adapter capabilities.
func (c *Client) Initialize(ctx context.Context) (*dap.Capabilities, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.capabilities != nil {
		return c.capabilities, nil
	}

	req := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "dapharness",
			ClientName:      "DAP Test Harness",
			AdapterID:       c.config.AdapterType,
			Locale:          "en-US",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}

	initResp, initErr := roundTrip[*dap.InitializeResponse](ctx, c, req)
	if initErr != nil {
		return nil, initErr
	}

	c.capabilities = &initResp.Body
	return c.capabilities, nil
}

// Capabilities returns the adapter capabilities, or nil if the client is not initialized yet.
func (c *Client) Capabilities() *dap.Capabilities {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	return c.capabilities
}

// Launch initializes the adapter (if not done yet) and sends a launch request with the given arguments.
func (c *Client) Launch(ctx context.Context, args LaunchArguments) error {
	if _, initErr := c.Initialize(ctx); initErr != nil {
		return initErr
	}

	if args == nil {
		args = LaunchArguments{}
	}
	argsJSON, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal launch arguments: %w", marshalErr)
	}

	req := &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: argsJSON,
	}

	_, launchErr := roundTrip[*dap.LaunchResponse](ctx, c, req)
	return launchErr
}

// SetBreakpoints sets breakpoints in the given file at the specified lines.
func (c *Client) SetBreakpoints(ctx context.Context, file string, lines []int) (*dap.SetBreakpointsResponse, error) {
	breakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.SourceBreakpoint{Line: line}
	}

	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: file},
			Breakpoints: breakpoints,
		},
	}

	return roundTrip[*dap.SetBreakpointsResponse](ctx, c, req)
}

// ConfigurationDone signals that configuration is complete.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	}

	_, configErr := roundTrip[*dap.ConfigurationDoneResponse](ctx, c, req)
	return configErr
}

// Continue resumes execution of the given thread.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	req := &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}

	_, contErr := roundTrip[*dap.ContinueResponse](ctx, c, req)
	return contErr
}

// StackTrace returns the stack frames of the given thread.
func (c *Client) StackTrace(ctx context.Context, threadID int) (*dap.StackTraceResponse, error) {
	req := &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: threadID},
	}

	return roundTrip[*dap.StackTraceResponse](ctx, c, req)
}

// Disconnect sends a disconnect request to terminate the debug session.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	}

	_, disconnErr := roundTrip[*dap.DisconnectResponse](ctx, c, req)
	return disconnErr
}

// HitBreakpoint launches the debuggee with a breakpoint at the given location and waits until
// execution stops there. The stop location is verified against expected, or against location if expected is nil.
// The launch request and the configuration sequence run concurrently because some adapters
// answer the launch request only after configuration is done.
func (c *Client) HitBreakpoint(ctx context.Context, args LaunchArguments, location Location, expected *Location) (*dap.StoppedEvent, error) {
	initializedCh, stopWaitingInitialized := c.nextEvent("initialized")
	defer stopWaitingInitialized()
	stoppedCh, stopWaitingStopped := c.nextEvent("stopped")
	defer stopWaitingStopped()

	launchErrCh := make(chan error, 1)
	go func() {
		launchErrCh <- c.Launch(ctx, args)
	}()

	launchDone := false
	for initialized := false; !initialized; {
		select {
		case <-initializedCh:
			initialized = true
		case launchErr := <-launchErrCh:
			if launchErr != nil {
				return nil, launchErr
			}
			launchDone = true
		case <-c.readerDone:
			return nil, fmt.Errorf("waiting for initialized event: %w", ErrConnectionClosed)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	bpResp, bpErr := c.SetBreakpoints(ctx, location.Path, []int{location.Line})
	if bpErr != nil {
		return nil, bpErr
	}
	if len(bpResp.Body.Breakpoints) == 0 {
		return nil, fmt.Errorf("no breakpoint was set at %s", location)
	}

	if caps := c.Capabilities(); caps != nil && caps.SupportsConfigurationDoneRequest {
		if configErr := c.ConfigurationDone(ctx); configErr != nil {
			return nil, configErr
		}
	}

	if !launchDone {
		select {
		case launchErr := <-launchErrCh:
			if launchErr != nil {
				return nil, launchErr
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var stopped *dap.StoppedEvent
	select {
	case msg := <-stoppedCh:
		stoppedEvent, ok := msg.(*dap.StoppedEvent)
		if !ok {
			return nil, fmt.Errorf("unexpected event type: %T", msg)
		}
		stopped = stoppedEvent
	case <-c.readerDone:
		return nil, fmt.Errorf("waiting for stopped event: %w", ErrConnectionClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if stopped.Body.Reason != "breakpoint" {
		return stopped, fmt.Errorf("expected to stop at a breakpoint, stopped because of %q", stopped.Body.Reason)
	}

	want := location
	if expected != nil {
		want = *expected
	}

	stResp, stErr := c.StackTrace(ctx, stopped.Body.ThreadId)
	if stErr != nil {
		return stopped, stErr
	}
	if len(stResp.Body.StackFrames) == 0 {
		return stopped, fmt.Errorf("stopped thread %d has no stack frames", stopped.Body.ThreadId)
	}

	return stopped, verifyStopLocation(stResp.Body.StackFrames[0], want)
}

func verifyStopLocation(frame dap.StackFrame, want Location) error {
	var path string
	if frame.Source != nil {
		path = frame.Source.Path
	}
	got := Location{Path: path, Line: frame.Line, Column: frame.Column}

	if want.Path != "" && !samePath(got.Path, want.Path) {
		return fmt.Errorf("stopped at %s, expected %s", got, want)
	}
	if want.Line > 0 && got.Line != want.Line {
		return fmt.Errorf("stopped at %s, expected %s", got, want)
	}
	if want.Column > 0 && got.Column != want.Column {
		return fmt.Errorf("stopped at %s, expected %s", got, want)
	}

	return nil
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// WaitForEvent waits for an event of the specified type.
// Events of other types received while waiting are discarded.
func (c *Client) WaitForEvent(ctx context.Context, eventType string) (dap.Message, error) {
	for {
		select {
		case msg := <-c.eventChan:
			if event, ok := msg.(dap.EventMessage); ok && event.GetEvent().Event == eventType {
				return msg, nil
			}

		case <-c.readerDone:
			// Drain whatever is still queued before giving up.
			select {
			case msg := <-c.eventChan:
				if event, ok := msg.(dap.EventMessage); ok && event.GetEvent().Event == eventType {
					return msg, nil
				}
				continue
			default:
			}
			return nil, fmt.Errorf("waiting for event %q: %w", eventType, ErrConnectionClosed)

		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for event %q: %w", eventType, ctx.Err())
		}
	}
}

// WaitForTerminatedEvent waits for a terminated event.
func (c *Client) WaitForTerminatedEvent(ctx context.Context) error {
	_, waitErr := c.WaitForEvent(ctx, "terminated")
	return waitErr
}

// logStderr forwards the adapter stderr to the log.
func logStderr(stderr io.Reader, log logr.Logger) {
	buf := make([]byte, 1024)
	for {
		n, readErr := stderr.Read(buf)
		if n > 0 {
			log.V(1).Info("Debug adapter stderr", "output", string(buf[:n]))
		}
		if readErr != nil {
			return
		}
	}
}
