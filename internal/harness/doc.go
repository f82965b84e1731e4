/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package harness runs integration tests against a debug adapter and fails any test during which
the adapter reported an internal error, even if the test's own assertions passed.

# Components

  - LogInterceptor: receives the adapter's output events, forwards them (timestamped) to the "log"
    topic and records lines containing the error marker as unhandled adapter errors
  - LaunchPatcher: adds verbose diagnostic logging (and, for nightly runtimes, the nightly runtime
    executable) to every launch request made through a Session
  - Suite: registers tests and, after a test's assertion function succeeds, fails the test
    if any unhandled adapter errors were recorded

# Test Lifecycle

Every test gets its own TestContext:

 1. Harness.Setup creates a Session, subscribes the LogInterceptor and starts the adapter
 2. The assertion function drives the Session (Launch, HitBreakpoint, ...)
 3. The Suite checks the unhandled errors recorded so far
 4. Harness.Teardown unsubscribes the LogInterceptor and stops the Session

An assertion failure always takes precedence: if the assertion function returns an error or the test
has already failed, the unhandled error check is skipped and the original failure is reported.

# Usage

	func TestBreakpoints(t *testing.T) {
		h, err := harness.NewHarness(harness.DefaultConfig(), log)
		require.NoError(t, err)

		suite := harness.NewSuite(h)
		suite.Test("stops at a breakpoint", func(ctx context.Context, tc *harness.TestContext) error {
			program := filepath.Join(harness.DataRoot, "program.js")
			_, hitErr := tc.Session.HitBreakpoint(ctx, dap.LaunchArguments{"program": program}, dap.Location{Path: program, Line: 3}, nil)
			return hitErr
		})
		suite.Run(t)
	}
*/
package harness
