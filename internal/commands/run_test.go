/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	dapclient "github.com/nickolasclarke/vscode-node-debug2/internal/dap"
	"github.com/nickolasclarke/vscode-node-debug2/internal/harness"
	"github.com/nickolasclarke/vscode-node-debug2/internal/logger"
	"github.com/nickolasclarke/vscode-node-debug2/internal/testutil"
)

// The commands share package-level flag variables, so these tests do not run in parallel.

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := testutil.GetTestContext(t, 30*time.Second)
	defer cancel()

	root, rootErr := NewRootCmd(logger.NewWithWriter("dapharness-test", io.Discard))
	require.NoError(t, rootErr)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	execErr := root.ExecuteContext(ctx)
	return out.String(), execErr
}

func writeLaunchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	type testcase struct {
		input    string
		expected dapclient.Location
		invalid  bool
	}

	testcases := []testcase{
		{input: "/src/app.js:12", expected: dapclient.Location{Path: "/src/app.js", Line: 12}},
		{input: "/src/app.js:12:5", expected: dapclient.Location{Path: "/src/app.js", Line: 12, Column: 5}},
		{input: `C:\src\app.js:3`, expected: dapclient.Location{Path: `C:\src\app.js`, Line: 3}},
		{input: `c:\src\app.js:3:1`, expected: dapclient.Location{Path: `c:\src\app.js`, Line: 3, Column: 1}},
		{input: "/src/app.js", invalid: true},
		{input: "/src/app.js:0", invalid: true},
		{input: ":12", invalid: true},
	}

	for _, tc := range testcases {
		loc, parseErr := parseLocation(tc.input)
		if tc.invalid {
			require.Error(t, parseErr, tc.input)
			continue
		}
		require.NoError(t, parseErr, tc.input)
		require.Equal(t, tc.expected, loc, tc.input)
	}
}

func TestRunCommandHitsBreakpoint(t *testing.T) {
	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{
		LaunchOutput: []dap.OutputEventBody{{Category: "stdout", Output: "Debugger listening"}},
	})
	launchFile := writeLaunchFile(t, "program: /src/app.js\nargs: [\"--fast\"]\nenv:\n  DEBUG: \"1\"\n")

	out, runErr := executeRoot(t, "run",
		"--launch", launchFile,
		"--port", strconv.Itoa(adapter.Port()),
		"--adapter-type", "fake",
		"--runtime-version", "v10.0.0",
		"--break", "/src/app.js:7",
		"--show-log",
	)
	require.NoError(t, runErr, out)
	require.Contains(t, out, "Debug session completed without adapter errors")
	require.Contains(t, out, "Debugger listening")

	launchArgs := adapter.LaunchArguments()
	require.Len(t, launchArgs, 1)
	require.Equal(t, "/src/app.js", launchArgs[0]["program"])
	require.Equal(t, []any{"--fast"}, launchArgs[0]["args"])
	require.Equal(t, map[string]any{"DEBUG": "1"}, launchArgs[0]["env"])
	require.Equal(t, true, launchArgs[0][harness.VerboseDiagnosticLoggingArg])
	require.Contains(t, adapter.Commands(), "continue")
}

func TestRunCommandShowsLogOnlyWhenAsked(t *testing.T) {
	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{
		LaunchOutput: []dap.OutputEventBody{{Category: "stdout", Output: "Debugger listening"}},
	})
	launchFile := writeLaunchFile(t, "program: /src/app.js\n")

	out, runErr := executeRoot(t, "run",
		"--launch", launchFile,
		"--port", strconv.Itoa(adapter.Port()),
		"--adapter-type", "fake",
		"--runtime-version", "v10.0.0",
		"--break", "/src/app.js:7",
	)
	require.NoError(t, runErr, out)
	require.Contains(t, out, "Debug session completed without adapter errors")
	require.NotContains(t, out, "Debug adapter log:")
	require.NotContains(t, out, "Debugger listening")
}

func TestRunCommandFailsOnAdapterErrors(t *testing.T) {
	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{
		LaunchOutput: []dap.OutputEventBody{{Category: "stderr", Output: "******** Error processing launch: boom"}},
	})
	launchFile := writeLaunchFile(t, "program: /src/app.js\n")

	out, runErr := executeRoot(t, "run",
		"--launch", launchFile,
		"--port", strconv.Itoa(adapter.Port()),
		"--adapter-type", "fake",
		"--runtime-version", "v10.0.0",
	)
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "1 unhandled error(s)")
	require.Contains(t, runErr.Error(), "******** Error processing launch: boom")
	require.Contains(t, out, "Debug adapter log:")
}

func TestRunCommandReportsSessionFailure(t *testing.T) {
	adapter := testutil.StartFakeAdapter(t, testutil.FakeAdapterOptions{LaunchError: "Cannot find runtime 'node'"})
	launchFile := writeLaunchFile(t, "program: /src/app.js\n")

	_, runErr := executeRoot(t, "run",
		"--launch", launchFile,
		"--port", strconv.Itoa(adapter.Port()),
		"--adapter-type", "fake",
		"--runtime-version", "v10.0.0",
	)
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "debug session failed")
	require.Contains(t, runErr.Error(), "Cannot find runtime 'node'")
}

func TestRunCommandValidatesArguments(t *testing.T) {
	_, missingLaunchErr := executeRoot(t, "run", "--adapter-type", "fake")
	require.Error(t, missingLaunchErr)

	launchFile := writeLaunchFile(t, "program: /src/app.js\n")
	_, expectErr := executeRoot(t, "run", "--launch", launchFile, "--expect", "/src/app.js:3")
	require.ErrorContains(t, expectErr, "requires a breakpoint location")

	_, breakErr := executeRoot(t, "run", "--launch", launchFile, "--break", "/src/app.js:3:4")
	require.ErrorContains(t, breakErr, "must have the form path:line")
}

func TestVersionAndInfoCommands(t *testing.T) {
	out, versionErr := executeRoot(t, "version")
	require.NoError(t, versionErr)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Contains(t, v, "version")

	out, infoErr := executeRoot(t, "info", "--runtime-version", "v6.2.1", "--platform", "windows")
	require.NoError(t, infoErr)

	var info struct {
		Runtime harness.RuntimeDescriptor `json:"runtime"`
		Nightly bool                      `json:"nightly"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.True(t, info.Nightly)
	require.Equal(t, "windows", info.Runtime.Platform)
	require.Equal(t, harness.DefaultNightlyExecutable, info.Runtime.NightlyName)
}
