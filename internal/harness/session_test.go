/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"net"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/nickolasclarke/vscode-node-debug2/internal/dap"
	"github.com/nickolasclarke/vscode-node-debug2/internal/testutil"
)

func newTestHarness(t *testing.T, runtimeVersion string) *Harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.AdapterType = "fake"
	cfg.RuntimeVersion = runtimeVersion
	cfg.Platform = "linux"
	cfg.ConnectionTimeout = 5 * time.Second

	h, harnessErr := NewHarness(cfg, testutil.NewLogForTesting(t.Name()))
	require.NoError(t, harnessErr)
	return h
}

func TestHarnessSessionPatchesLaunchArguments(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{})
	h := newTestHarness(t, "v6.2.0")
	require.True(t, h.Runtime().IsNightly())

	tc, setupErr := h.Setup(ctx, adapter.Port())
	require.NoError(t, setupErr)
	require.NotEmpty(t, tc.ID)

	program := "/src/program.js"
	stopped, hitErr := tc.Session.HitBreakpoint(ctx, dap.LaunchArguments{"program": program}, dap.Location{Path: program, Line: 3}, nil)
	require.NoError(t, hitErr)
	require.Equal(t, "breakpoint", stopped.Body.Reason)

	launchArgs := adapter.LaunchArguments()
	require.Len(t, launchArgs, 1)
	require.Equal(t, program, launchArgs[0]["program"])
	require.Equal(t, true, launchArgs[0][VerboseDiagnosticLoggingArg])
	require.Equal(t, "node-nightly", launchArgs[0][RuntimeExecutableArg])

	require.NoError(t, h.Teardown(ctx, tc))
	require.Equal(t, 0, tc.Session.ListenerCount("output"))
}

func TestHarnessInterceptsAdapterOutput(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{
		LaunchOutput: []godap.OutputEventBody{
			{Category: "stdout", Output: "starting\n"},
			{Category: "telemetry", Output: "******** telemetry is never an error"},
			{Category: "stderr", Output: "******** boom\n"},
		},
	})
	h := newTestHarness(t, "v8.0.0")
	sub := h.LogSink().Subscribe()

	tc, setupErr := h.Setup(ctx, adapter.Port())
	require.NoError(t, setupErr)

	// Output events precede the launch response
	require.NoError(t, tc.Session.Launch(ctx, dap.LaunchArguments{"program": "/src/program.js"}))

	launchArgs := adapter.LaunchArguments()
	require.Len(t, launchArgs, 1)
	require.Equal(t, true, launchArgs[0][VerboseDiagnosticLoggingArg])
	require.NotContains(t, launchArgs[0], RuntimeExecutableArg)

	errs := tc.UnhandledErrors().Messages()
	require.Len(t, errs, 1)
	require.Regexp(t, `^ \d\d:\d\d:\d\d\.\d\d\d \*{8} boom$`, errs[0])

	require.NoError(t, h.Teardown(ctx, tc))

	lines := sub.Drain()
	require.Len(t, lines, 2)
	require.Regexp(t, `^ \d\d:\d\d:\d\d\.\d\d\d starting$`, lines[0])
	require.Equal(t, errs[0], lines[1])
}

func TestHarnessSetupStartsWithEmptyErrorLog(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{
		LaunchOutput: []godap.OutputEventBody{{Category: "stderr", Output: "******** boom"}},
	})
	h := newTestHarness(t, "v8.0.0")

	first, setupErr := h.Setup(ctx, adapter.Port())
	require.NoError(t, setupErr)
	require.NoError(t, first.Session.Launch(ctx, dap.LaunchArguments{}))
	require.Equal(t, 1, first.UnhandledErrors().Len())
	require.NoError(t, h.Teardown(ctx, first))

	second, setupErr := h.Setup(ctx, adapter.Port())
	require.NoError(t, setupErr)
	defer func() { require.NoError(t, h.Teardown(ctx, second)) }()

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 0, second.UnhandledErrors().Len())

	// Once the adapter has answered a request, it is serving the second session.
	_, initErr := second.Session.Initialize(ctx)
	require.NoError(t, initErr)

	// Output of the second session does not leak into the first one
	require.NoError(t, adapter.SendOutput("stderr", "******** late"))
	require.Eventually(t, func() bool { return second.UnhandledErrors().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, first.UnhandledErrors().Len())
	require.Equal(t, 2, adapter.Connections())
}

func TestHarnessSetupFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	freePort, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	port := freePort.Addr().(*net.TCPAddr).Port
	require.NoError(t, freePort.Close())

	h := newTestHarness(t, "v8.0.0")
	h.config.ConnectionTimeout = 200 * time.Millisecond

	tc, setupErr := h.Setup(ctx, port)
	require.Error(t, setupErr)
	require.Nil(t, tc)

	require.NoError(t, h.Teardown(ctx, nil))
}

func TestNewHarnessRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AdapterType = ""
	_, harnessErr := NewHarness(cfg, testutil.NewLogForTesting(t.Name()))
	require.Error(t, harnessErr)
}
