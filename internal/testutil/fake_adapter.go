/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/google/go-dap"
)

// FakeAdapterOptions configures the scripted behavior of a FakeAdapter.
type FakeAdapterOptions struct {
	// LaunchOutput is sent as output events while the launch request is processed, before the launch response.
	LaunchOutput []dap.OutputEventBody

	// LaunchError makes the launch request fail with the given message.
	LaunchError string

	// StopColumn is the column reported for the stop location. Zero means 1.
	StopColumn int

	// IgnoreDisconnect makes the adapter close the connection instead of answering a disconnect request.
	IgnoreDisconnect bool
}

// FakeAdapter is a minimal debug adapter in debug-server mode. It answers the requests
// a launch-to-breakpoint session needs and records what it received.
// Only one client connection is served at a time.
type FakeAdapter struct {
	listener net.Listener
	opts     FakeAdapterOptions

	mu          sync.Mutex
	session     *fakeSession
	launchArgs  []map[string]any
	commands    []string
	connections int

	wg sync.WaitGroup
}

type fakeSession struct {
	conn    net.Conn
	rw      *bufio.ReadWriter
	writeMu sync.Mutex

	breakpointPath string
	breakpointLine int
}

// StartFakeAdapter starts a fake adapter listening on a random local port.
// The adapter is closed when the test completes.
func StartFakeAdapter(t testing.TB, opts FakeAdapterOptions) *FakeAdapter {
	t.Helper()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		t.Fatalf("Failed to start fake debug adapter: %v", listenErr)
	}

	fa := &FakeAdapter{
		listener: listener,
		opts:     opts,
	}

	fa.wg.Add(1)
	go fa.acceptLoop()

	t.Cleanup(fa.Close)
	return fa
}

// Port returns the TCP port the adapter listens on.
func (fa *FakeAdapter) Port() int {
	return fa.listener.Addr().(*net.TCPAddr).Port
}

// LaunchArguments returns the arguments of every launch request received so far.
func (fa *FakeAdapter) LaunchArguments() []map[string]any {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]map[string]any(nil), fa.launchArgs...)
}

// Commands returns the commands of all requests received so far, in order.
func (fa *FakeAdapter) Commands() []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]string(nil), fa.commands...)
}

// Connections returns the number of client connections accepted so far.
func (fa *FakeAdapter) Connections() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.connections
}

// SendOutput sends an output event to the connected client.
func (fa *FakeAdapter) SendOutput(category, output string) error {
	return fa.SendOutputBody(dap.OutputEventBody{Category: category, Output: output})
}

// SendOutputBody sends an output event with the given body to the connected client.
func (fa *FakeAdapter) SendOutputBody(body dap.OutputEventBody) error {
	fa.mu.Lock()
	s := fa.session
	fa.mu.Unlock()

	if s == nil {
		return errors.New("no client is connected to the fake debug adapter")
	}

	return s.send(&dap.OutputEvent{Event: newEvent("output"), Body: body})
}

// Close stops accepting connections and closes the current one.
func (fa *FakeAdapter) Close() {
	_ = fa.listener.Close()

	fa.mu.Lock()
	if fa.session != nil {
		_ = fa.session.conn.Close()
	}
	fa.mu.Unlock()

	fa.wg.Wait()
}

func (fa *FakeAdapter) acceptLoop() {
	defer fa.wg.Done()

	for {
		conn, acceptErr := fa.listener.Accept()
		if acceptErr != nil {
			return
		}

		s := &fakeSession{
			conn: conn,
			rw:   bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		}

		fa.mu.Lock()
		fa.session = s
		fa.connections++
		fa.mu.Unlock()

		fa.serve(s)

		fa.mu.Lock()
		fa.session = nil
		fa.mu.Unlock()
		_ = conn.Close()
	}
}

func (fa *FakeAdapter) serve(s *fakeSession) {
	for {
		msg, readErr := dap.ReadProtocolMessage(s.rw.Reader)
		if readErr != nil {
			return
		}

		req, isRequest := msg.(dap.RequestMessage)
		if !isRequest {
			continue
		}

		fa.mu.Lock()
		fa.commands = append(fa.commands, req.GetRequest().Command)
		fa.mu.Unlock()

		if done := fa.handle(s, req); done {
			return
		}
	}
}

// handle processes a single request. Returns true if the session should end.
func (fa *FakeAdapter) handle(s *fakeSession, req dap.RequestMessage) bool {
	request := req.GetRequest()

	switch r := req.(type) {
	case *dap.InitializeRequest:
		_ = s.send(&dap.InitializeResponse{
			Response: newResponse(request),
			Body:     dap.Capabilities{SupportsConfigurationDoneRequest: true},
		})
		_ = s.send(&dap.InitializedEvent{Event: newEvent("initialized")})

	case *dap.LaunchRequest:
		var args map[string]any
		if unmarshalErr := json.Unmarshal(r.Arguments, &args); unmarshalErr != nil {
			_ = s.send(newErrorResponse(request, fmt.Sprintf("invalid launch arguments: %v", unmarshalErr)))
			return false
		}

		fa.mu.Lock()
		fa.launchArgs = append(fa.launchArgs, args)
		fa.mu.Unlock()

		for _, body := range fa.opts.LaunchOutput {
			_ = s.send(&dap.OutputEvent{Event: newEvent("output"), Body: body})
		}

		if fa.opts.LaunchError != "" {
			_ = s.send(newErrorResponse(request, fa.opts.LaunchError))
		} else {
			_ = s.send(&dap.LaunchResponse{Response: newResponse(request)})
		}

	case *dap.SetBreakpointsRequest:
		breakpoints := make([]dap.Breakpoint, len(r.Arguments.Breakpoints))
		for i, sbp := range r.Arguments.Breakpoints {
			breakpoints[i] = dap.Breakpoint{
				Id:       i + 1,
				Verified: true,
				Line:     sbp.Line,
				Source:   &dap.Source{Path: r.Arguments.Source.Path},
			}
		}
		if len(r.Arguments.Breakpoints) > 0 {
			s.breakpointPath = r.Arguments.Source.Path
			s.breakpointLine = r.Arguments.Breakpoints[0].Line
		}

		resp := &dap.SetBreakpointsResponse{Response: newResponse(request)}
		resp.Body.Breakpoints = breakpoints
		_ = s.send(resp)

	case *dap.ConfigurationDoneRequest:
		_ = s.send(&dap.ConfigurationDoneResponse{Response: newResponse(request)})
		if s.breakpointLine > 0 {
			stopped := &dap.StoppedEvent{Event: newEvent("stopped")}
			stopped.Body.Reason = "breakpoint"
			stopped.Body.ThreadId = 1
			stopped.Body.AllThreadsStopped = true
			_ = s.send(stopped)
		} else {
			_ = s.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
		}

	case *dap.StackTraceRequest:
		column := fa.opts.StopColumn
		if column == 0 {
			column = 1
		}

		resp := &dap.StackTraceResponse{Response: newResponse(request)}
		resp.Body.StackFrames = []dap.StackFrame{{
			Id:     1,
			Name:   "main",
			Source: &dap.Source{Path: s.breakpointPath},
			Line:   s.breakpointLine,
			Column: column,
		}}
		resp.Body.TotalFrames = 1
		_ = s.send(resp)

	case *dap.ContinueRequest:
		_ = s.send(&dap.ContinueResponse{Response: newResponse(request)})
		_ = s.send(&dap.TerminatedEvent{Event: newEvent("terminated")})

	case *dap.DisconnectRequest:
		if !fa.opts.IgnoreDisconnect {
			_ = s.send(&dap.DisconnectResponse{Response: newResponse(request)})
		}
		return true

	default:
		_ = s.send(newErrorResponse(request, "Unsupported command"))
	}

	return false
}

func (s *fakeSession) send(msg dap.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(s.rw.Writer, msg); writeErr != nil {
		return writeErr
	}
	if flushErr := s.rw.Flush(); flushErr != nil && !errors.Is(flushErr, io.ErrClosedPipe) {
		return flushErr
	}
	return nil
}

func newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

func newResponse(request *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         request.Command,
		RequestSeq:      request.Seq,
		Success:         true,
	}
}

func newErrorResponse(request *dap.Request, message string) *dap.ErrorResponse {
	resp := &dap.ErrorResponse{Response: newResponse(request)}
	resp.Success = false
	resp.Message = message
	return resp
}
