/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/nickolasclarke/vscode-node-debug2/internal/pubsub"
)

const (
	// Output events in this category are not logged.
	TelemetryCategory = "telemetry"

	// Adapter log lines containing this marker signal an unhandled adapter error.
	ErrorMarker = "********"

	// The topic adapter log lines are published on.
	LogTopicName = "log"

	timestampLayout = "15:04:05.000"
)

// NewLogSink creates the topic that intercepted adapter log lines are published on.
func NewLogSink(lifetimeCtx context.Context) *pubsub.Topic[string] {
	return pubsub.NewTopic[string](lifetimeCtx, LogTopicName)
}

// LogInterceptor turns adapter output events into timestamped log lines and records unhandled adapter errors.
type LogInterceptor struct {
	sink   *pubsub.Topic[string]
	errors *UnhandledErrors
	now    func() time.Time
	log    logr.Logger
}

// NewLogInterceptor creates an interceptor that publishes log lines to sink (may be nil)
// and appends error lines to errors.
func NewLogInterceptor(sink *pubsub.Topic[string], errors *UnhandledErrors, log logr.Logger) *LogInterceptor {
	return &LogInterceptor{
		sink:   sink,
		errors: errors,
		now:    time.Now,
		log:    log,
	}
}

// OnEvent handles an event delivered by the DAP client. Events other than output events are ignored.
func (li *LogInterceptor) OnEvent(event dap.EventMessage) {
	if oe, isOutput := event.(*dap.OutputEvent); isOutput {
		li.HandleOutput(oe)
	}
}

func (li *LogInterceptor) HandleOutput(event *dap.OutputEvent) {
	if event == nil || event.Body.Category == TelemetryCategory {
		return
	}

	msg := FormatLogLine(event.Body, li.now())
	li.log.V(1).Info("Adapter output", "Category", event.Body.Category, "Line", msg)

	if li.sink != nil {
		li.sink.Publish(msg)
	}

	if strings.Contains(msg, ErrorMarker) {
		li.errors.Append(msg)
	}
}

// FormatLogLine returns " <UTC time of day> <text>", where text is the trimmed output,
// or a reference to the structured output if the event carries no output text.
func FormatLogLine(body dap.OutputEventBody, at time.Time) string {
	var text string
	if body.Output != "" {
		text = strings.TrimSpace(body.Output)
	} else {
		text = fmt.Sprintf("variablesReference: %d", body.VariablesReference)
	}
	return " " + at.UTC().Format(timestampLayout) + " " + text
}
