/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nickolasclarke/vscode-node-debug2/internal/dap"
	"github.com/nickolasclarke/vscode-node-debug2/internal/harness"
)

var (
	configPath     string
	launchFilePath string
	adapterPort    int
	breakAt        string
	expectAt       string
	runTimeout     time.Duration
	showLog        bool
)

func NewRunCommand(log logr.Logger) (*cobra.Command, error) {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a debug session against the adapter and fails if the adapter logs an internal error",
		Long: `Runs a debug session against the adapter and fails if the adapter logs an internal error.

The debuggee is launched with the arguments from the launch file (YAML). If a breakpoint location
is given, the session runs to the breakpoint, verifies the stop location and resumes the debuggee.
Otherwise the debuggee runs to completion.

With --port the harness connects to an adapter that is already listening on that port,
otherwise the adapter is started and the harness talks to it over stdio.`,
		RunE: runSession(log),
		Args: cobra.NoArgs,
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the harness configuration file (YAML)")
	runCmd.Flags().StringVarP(&launchFilePath, "launch", "l", "", "Path to the launch arguments file (YAML)")
	runCmd.Flags().IntVarP(&adapterPort, "port", "p", 0, "Port of an adapter running in debug-server mode. If zero, the adapter is launched.")
	runCmd.Flags().StringVarP(&breakAt, "break", "b", "", "Breakpoint location in the form path:line")
	runCmd.Flags().StringVar(&expectAt, "expect", "", "Expected stop location in the form path:line[:column]. Defaults to the breakpoint location.")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", harness.DefaultTestTimeout, "Maximum duration of the debug session")
	runCmd.Flags().BoolVar(&showLog, "show-log", false, "Print adapter log lines even if the session succeeds")
	harness.AddFlags(runCmd.Flags())

	if err := runCmd.MarkFlagRequired("launch"); err != nil {
		return nil, err
	}

	return runCmd, nil
}

func runSession(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := log.WithName("run")

		cfg, cfgErr := loadConfig(cmd)
		if cfgErr != nil {
			return cfgErr
		}

		launchArgs, launchErr := loadLaunchArguments(launchFilePath)
		if launchErr != nil {
			return launchErr
		}

		assertion, assertionErr := sessionAssertion(breakAt, expectAt)
		if assertionErr != nil {
			return assertionErr
		}

		h, harnessErr := harness.NewHarness(cfg, log)
		if harnessErr != nil {
			return harnessErr
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()

		out := cmd.OutOrStdout()
		report := &sessionReport{out: out}
		harness.NewLoggingReporter(h.LogSink()).WithAlwaysReport(showLog).Begin(report)

		tc, setupErr := h.Setup(ctx, adapterPort)
		if setupErr != nil {
			report.complete(true)
			return setupErr
		}
		log = log.WithValues("TestContext", tc.ID)

		sessionErr := harness.CheckAfter(ctx, nil, tc, func(ctx context.Context, tc *harness.TestContext) error {
			return assertion(ctx, tc, launchArgs)
		})

		teardownCtx, teardownCancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), harness.DefaultTeardownTimeout)
		defer teardownCancel()
		if teardownErr := h.Teardown(teardownCtx, tc); teardownErr != nil {
			log.Error(teardownErr, "Debug session did not stop cleanly")
		}

		report.complete(sessionErr != nil)

		if sessionErr != nil {
			var uae *harness.UnhandledAdapterError
			if errors.As(sessionErr, &uae) {
				return fmt.Errorf("the debug adapter logged %d unhandled error(s): %w", len(uae.Messages), sessionErr)
			}
			return fmt.Errorf("debug session failed: %w", sessionErr)
		}

		fmt.Fprintln(out, "Debug session completed without adapter errors")
		return nil
	}
}

// sessionReport writes the adapter log captured during a run to the command output.
type sessionReport struct {
	out      io.Writer
	failed   bool
	cleanups []func()
}

func (r *sessionReport) Cleanup(f func()) {
	r.cleanups = append(r.cleanups, f)
}

func (r *sessionReport) Failed() bool {
	return r.failed
}

func (r *sessionReport) Logf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// complete runs the cleanup functions, most recently registered first.
func (r *sessionReport) complete(failed bool) {
	r.failed = failed
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
	r.cleanups = nil
}

func loadConfig(cmd *cobra.Command) (harness.Config, error) {
	cfg, loadErr := harness.LoadConfig(configPath)
	if loadErr != nil {
		return harness.Config{}, loadErr
	}

	if flagsErr := cfg.ApplyFlags(cmd.Flags()); flagsErr != nil {
		return harness.Config{}, flagsErr
	}

	return cfg, nil
}

func loadLaunchArguments(path string) (dap.LaunchArguments, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read launch arguments file '%s': %w", path, readErr)
	}

	var args dap.LaunchArguments
	if unmarshalErr := yaml.Unmarshal(data, &args); unmarshalErr != nil {
		return nil, fmt.Errorf("launch arguments file '%s' is invalid: %w", path, unmarshalErr)
	}
	if args == nil {
		args = dap.LaunchArguments{}
	}

	return args, nil
}

type sessionAssertionFunc func(ctx context.Context, tc *harness.TestContext, args dap.LaunchArguments) error

func sessionAssertion(breakpoint, expected string) (sessionAssertionFunc, error) {
	if breakpoint == "" {
		if expected != "" {
			return nil, errors.New("an expected stop location requires a breakpoint location")
		}
		return runToCompletion, nil
	}

	bpLocation, bpErr := parseLocation(breakpoint)
	if bpErr != nil {
		return nil, fmt.Errorf("breakpoint location is invalid: %w", bpErr)
	}
	if bpLocation.Line == 0 || bpLocation.Column != 0 {
		return nil, fmt.Errorf("breakpoint location '%s' must have the form path:line", breakpoint)
	}

	var expectedLocation *dap.Location
	if expected != "" {
		loc, expectedErr := parseLocation(expected)
		if expectedErr != nil {
			return nil, fmt.Errorf("expected stop location is invalid: %w", expectedErr)
		}
		expectedLocation = &loc
	}

	return func(ctx context.Context, tc *harness.TestContext, args dap.LaunchArguments) error {
		stopped, hitErr := tc.Session.HitBreakpoint(ctx, args, bpLocation, expectedLocation)
		if hitErr != nil {
			return hitErr
		}
		if continueErr := tc.Session.Continue(ctx, stopped.Body.ThreadId); continueErr != nil {
			return continueErr
		}
		return tc.Session.WaitForTerminatedEvent(ctx)
	}, nil
}

func runToCompletion(ctx context.Context, tc *harness.TestContext, args dap.LaunchArguments) error {
	caps, initErr := tc.Session.Initialize(ctx)
	if initErr != nil {
		return initErr
	}

	if launchErr := tc.Session.Launch(ctx, args); launchErr != nil {
		return launchErr
	}

	if caps.SupportsConfigurationDoneRequest {
		if cdErr := tc.Session.ConfigurationDone(ctx); cdErr != nil {
			return cdErr
		}
	}

	return tc.Session.WaitForTerminatedEvent(ctx)
}

// parseLocation parses "path:line[:column]". The path may itself contain colons (Windows drive letters).
func parseLocation(s string) (dap.Location, error) {
	path, numbers := s, []int{}

	for len(numbers) < 2 {
		i := strings.LastIndex(path, ":")
		if i <= 0 {
			break
		}
		n, convErr := strconv.Atoi(path[i+1:])
		if convErr != nil {
			break
		}
		if n <= 0 {
			return dap.Location{}, fmt.Errorf("'%s': line and column numbers must be positive", s)
		}
		numbers = append([]int{n}, numbers...)
		path = path[:i]
	}

	switch len(numbers) {
	case 0:
		return dap.Location{}, fmt.Errorf("'%s' does not contain a line number", s)
	case 1:
		return dap.Location{Path: path, Line: numbers[0]}, nil
	default:
		return dap.Location{Path: path, Line: numbers[0], Column: numbers[1]}, nil
	}
}
