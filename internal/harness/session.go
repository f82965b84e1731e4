/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	godap "github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/nickolasclarke/vscode-node-debug2/internal/dap"
	"github.com/nickolasclarke/vscode-node-debug2/internal/pubsub"
)

// Session is a DAP client whose launch requests carry the harness launch settings.
type Session struct {
	*dap.Client
	patcher *LaunchPatcher
}

func NewSession(client *dap.Client, patcher *LaunchPatcher) *Session {
	return &Session{Client: client, patcher: patcher}
}

func (s *Session) Launch(ctx context.Context, args dap.LaunchArguments) error {
	return s.Client.Launch(ctx, s.patcher.Patch(args))
}

func (s *Session) HitBreakpoint(
	ctx context.Context,
	args dap.LaunchArguments,
	location dap.Location,
	expected *dap.Location,
) (*godap.StoppedEvent, error) {
	return s.Client.HitBreakpoint(ctx, s.patcher.Patch(args), location, expected)
}

// TestContext holds the state of a single test: its debug session and the adapter errors logged while it runs.
type TestContext struct {
	ID      string
	Session *Session

	errors   *UnhandledErrors
	listener dap.ListenerHandle
	tb       testing.TB
}

// NewTestContext creates a test context for the session with an empty unhandled error log.
func NewTestContext(session *Session) *TestContext {
	return &TestContext{
		ID:      uuid.NewString(),
		Session: session,
		errors:  &UnhandledErrors{},
	}
}

func (tc *TestContext) UnhandledErrors() *UnhandledErrors {
	return tc.errors
}

// T returns the test the context belongs to, or nil if it is not bound to a test.
func (tc *TestContext) T() testing.TB {
	return tc.tb
}

// SessionProvider creates and disposes of per-test debug sessions.
type SessionProvider interface {
	// Setup creates a test context with a started session.
	// If port is greater than zero, the session connects to an adapter listening on that port;
	// otherwise the adapter is launched.
	Setup(ctx context.Context, port int) (*TestContext, error)

	Teardown(ctx context.Context, tc *TestContext) error
}

type Harness struct {
	config  Config
	runtime RuntimeDescriptor
	patcher *LaunchPatcher
	sink    *pubsub.Topic[string]
	log     logr.Logger
}

var _ SessionProvider = (*Harness)(nil)

func NewHarness(cfg Config, log logr.Logger) (*Harness, error) {
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("harness configuration is invalid: %w", validationErr)
	}

	rd := ResolveRuntime(context.Background(), cfg, log)

	return &Harness{
		config:  cfg,
		runtime: rd,
		patcher: NewLaunchPatcher(rd),
		sink:    NewLogSink(context.Background()),
		log:     log,
	}, nil
}

func (h *Harness) Config() Config {
	return h.config
}

func (h *Harness) Runtime() RuntimeDescriptor {
	return h.runtime
}

// LogSink returns the topic intercepted adapter log lines are published on.
func (h *Harness) LogSink() *pubsub.Topic[string] {
	return h.sink
}

func (h *Harness) Setup(ctx context.Context, port int) (*TestContext, error) {
	tc := NewTestContext(nil)
	log := h.log.WithValues("TestContext", tc.ID)

	client := dap.NewClient(dap.ClientConfig{
		Runtime:           h.config.Runtime,
		AdapterPath:       h.config.AdapterPath,
		AdapterType:       h.config.AdapterType,
		Env:               h.config.Env,
		ConnectionTimeout: h.config.ConnectionTimeout,
		Logger:            log,
	})

	tc.Session = NewSession(client, h.patcher)

	// The interceptor must be subscribed before the adapter can emit anything.
	interceptor := NewLogInterceptor(h.sink, tc.errors, log)
	tc.listener = client.AddListener("output", interceptor.OnEvent)

	if startErr := client.Start(ctx, port); startErr != nil {
		client.RemoveListener(tc.listener)
		_ = client.Stop(ctx) // Releases the client; there is no connection to close.
		return nil, fmt.Errorf("failed to start debug session: %w", startErr)
	}

	log.V(1).Info("Debug session started", "Port", port)
	return tc, nil
}

func (h *Harness) Teardown(ctx context.Context, tc *TestContext) error {
	if tc == nil || tc.Session == nil {
		return nil
	}

	tc.Session.RemoveListener(tc.listener)
	tc.listener = dap.InvalidListenerHandle

	if stopErr := tc.Session.Stop(ctx); stopErr != nil {
		return fmt.Errorf("failed to stop debug session: %w", stopErr)
	}

	h.log.V(1).Info("Debug session stopped", "TestContext", tc.ID)
	return nil
}
