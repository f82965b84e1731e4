/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"strings"

	"github.com/nickolasclarke/vscode-node-debug2/internal/pubsub"
)

// ReportTarget receives the captured log. testing.TB implements it.
type ReportTarget interface {
	Cleanup(func())
	Failed() bool
	Logf(format string, args ...any)
}

// LoggingReporter captures the adapter log lines published while a test runs
// and writes them to the test log if the test fails.
type LoggingReporter struct {
	sink   *pubsub.Topic[string]
	always bool
}

func NewLoggingReporter(sink *pubsub.Topic[string]) *LoggingReporter {
	return &LoggingReporter{sink: sink}
}

// WithAlwaysReport makes the reporter write the log for passing tests too.
func (r *LoggingReporter) WithAlwaysReport(always bool) *LoggingReporter {
	r.always = always
	return r
}

// Begin starts capturing log lines for tb. The lines are reported when tb completes.
func (r *LoggingReporter) Begin(tb ReportTarget) {
	sub := r.sink.Subscribe()

	tb.Cleanup(func() {
		lines := sub.Drain()
		if len(lines) == 0 {
			return
		}
		if tb.Failed() || r.always {
			tb.Logf("Debug adapter log:\n%s", strings.Join(lines, "\n"))
		}
	})
}
