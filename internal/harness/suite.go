/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/nickolasclarke/vscode-node-debug2/internal/testutil"
)

const (
	DefaultTestTimeout     = 2 * time.Minute
	DefaultTeardownTimeout = 10 * time.Second
)

// AssertionFunc is the body of a test. The test completes when the function returns;
// a non-nil error fails the test.
type AssertionFunc func(ctx context.Context, tc *TestContext) error

type registration int

const (
	registerNormal registration = iota
	registerOnly
	registerSkip
)

type testRecord struct {
	name         string
	fn           AssertionFunc
	registration registration
}

// Suite registers debug adapter tests. After a test's assertion function succeeds,
// the test is failed if the adapter logged any unhandled errors while the test was running.
type Suite struct {
	provider        SessionProvider
	port            int
	testTimeout     time.Duration
	teardownTimeout time.Duration
	reporter        *LoggingReporter
	records         []testRecord
}

type SuiteOption func(*Suite)

// WithPort makes tests connect to an adapter listening on port instead of launching one.
func WithPort(port int) SuiteOption {
	return func(s *Suite) { s.port = port }
}

func WithTestTimeout(timeout time.Duration) SuiteOption {
	return func(s *Suite) { s.testTimeout = timeout }
}

func WithTeardownTimeout(timeout time.Duration) SuiteOption {
	return func(s *Suite) { s.teardownTimeout = timeout }
}

// WithReporter makes the suite show the adapter log of failed tests.
func WithReporter(r *LoggingReporter) SuiteOption {
	return func(s *Suite) { s.reporter = r }
}

func NewSuite(provider SessionProvider, opts ...SuiteOption) *Suite {
	s := &Suite{
		provider:        provider,
		testTimeout:     DefaultTestTimeout,
		teardownTimeout: DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Test registers a test. A nil fn registers a pending test, which is reported as skipped.
func (s *Suite) Test(name string, fn AssertionFunc) {
	s.records = append(s.records, testRecord{name: name, fn: fn, registration: registerNormal})
}

// Only registers an exclusive test. If any exclusive tests are registered, only they are run.
func (s *Suite) Only(name string, fn AssertionFunc) {
	s.records = append(s.records, testRecord{name: name, fn: fn, registration: registerOnly})
}

// Skip registers a test that is reported as skipped and never run.
func (s *Suite) Skip(name string, fn AssertionFunc) {
	s.records = append(s.records, testRecord{name: name, fn: fn, registration: registerSkip})
}

// Run runs the registered tests as subtests of t, in registration order.
func (s *Suite) Run(t *testing.T) {
	t.Helper()

	exclusive := slices.ContainsFunc(s.records, func(r testRecord) bool { return r.registration == registerOnly })

	for _, rec := range s.records {
		if exclusive && rec.registration != registerOnly {
			continue
		}

		switch {
		case rec.registration == registerSkip:
			t.Run(rec.name, func(t *testing.T) { t.Skip("skipped") })
		case rec.fn == nil:
			t.Run(rec.name, func(t *testing.T) { t.Skip("pending") })
		default:
			t.Run(rec.name, func(t *testing.T) { s.runTest(t, rec.fn) })
		}
	}
}

func (s *Suite) runTest(t *testing.T, fn AssertionFunc) {
	if s.reporter != nil {
		s.reporter.Begin(t)
	}

	ctx, cancel := testutil.GetTestContext(t, s.testTimeout)
	defer cancel()

	tc, setupErr := s.provider.Setup(ctx, s.port)
	if setupErr != nil {
		t.Fatalf("Test setup failed: %v", setupErr)
	}
	tc.tb = t

	t.Cleanup(func() {
		teardownCtx, teardownCancel := testutil.GetTestContext(t, s.teardownTimeout)
		defer teardownCancel()
		if teardownErr := s.provider.Teardown(teardownCtx, tc); teardownErr != nil {
			t.Errorf("Test teardown failed: %v", teardownErr)
		}
	})

	if testErr := CheckAfter(ctx, t, tc, fn); testErr != nil {
		t.Fatal(testErr)
	}
}

// CheckAfter runs fn and then, if fn succeeded and tb (may be nil) has not failed,
// returns the unhandled adapter errors recorded in tc as an *UnhandledAdapterError.
// Failures of fn are returned unchanged.
func CheckAfter(ctx context.Context, tb testing.TB, tc *TestContext, fn AssertionFunc) error {
	if fnErr := fn(ctx, tc); fnErr != nil {
		return fnErr
	}

	if tb != nil && tb.Failed() {
		return nil
	}

	return tc.errors.Err()
}
