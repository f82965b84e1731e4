/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, time.March, 5, 13, 4, 5, 6*int(time.Millisecond), time.FixedZone("UTC+1", 3600))

func newTestInterceptor(t *testing.T) (*LogInterceptor, *UnhandledErrors, func() []string) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := NewLogSink(ctx)
	sub := sink.Subscribe()
	errs := &UnhandledErrors{}
	li := NewLogInterceptor(sink, errs, logr.Discard())
	li.now = func() time.Time { return fixedTime }

	return li, errs, sub.Drain
}

func outputEvent(category, output string) *dap.OutputEvent {
	return &dap.OutputEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "output"},
		Body:  dap.OutputEventBody{Category: category, Output: output},
	}
}

func TestLogInterceptorIgnoresTelemetry(t *testing.T) {
	t.Parallel()

	li, errs, drain := newTestInterceptor(t)
	li.HandleOutput(outputEvent(TelemetryCategory, "******** not an error"))

	require.Empty(t, drain())
	require.Equal(t, 0, errs.Len())
}

func TestLogInterceptorPublishesPlainMessages(t *testing.T) {
	t.Parallel()

	li, errs, drain := newTestInterceptor(t)
	li.HandleOutput(outputEvent("stdout", "  hello\n"))

	require.Equal(t, []string{" 12:04:05.006 hello"}, drain())
	require.Equal(t, 0, errs.Len())
}

func TestLogInterceptorRecordsErrorMarkers(t *testing.T) {
	t.Parallel()

	li, errs, drain := newTestInterceptor(t)
	li.HandleOutput(outputEvent("stderr", "******** boom\n"))
	li.HandleOutput(outputEvent("stdout", "fine"))
	li.OnEvent(outputEvent("console", "prefix ******** second"))

	expected := []string{" 12:04:05.006 ******** boom", " 12:04:05.006 fine", " 12:04:05.006 prefix ******** second"}
	require.Equal(t, expected, drain())
	require.Equal(t, []string{expected[0], expected[2]}, errs.Messages())
}

func TestLogInterceptorIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	li, errs, drain := newTestInterceptor(t)
	li.OnEvent(&dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}})
	li.HandleOutput(nil)

	require.Empty(t, drain())
	require.Equal(t, 0, errs.Len())
}

func TestFormatLogLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, " 12:04:05.006 text", FormatLogLine(dap.OutputEventBody{Output: "\ttext \r\n"}, fixedTime))
	require.Equal(t, " 12:04:05.006 variablesReference: 7", FormatLogLine(dap.OutputEventBody{VariablesReference: 7}, fixedTime))
	require.Equal(t, " 00:00:00.000 variablesReference: 0", FormatLogLine(dap.OutputEventBody{}, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestUnhandledAdapterErrorMessage(t *testing.T) {
	t.Parallel()

	errs := &UnhandledErrors{}
	require.NoError(t, errs.Err())

	errs.Append(" 12:04:05.006 ******** boom")
	require.EqualError(t, errs.Err(), " 12:04:05.006 ******** boom")

	errs.Append(` 12:04:05.007 ******** "quoted"`)
	require.EqualError(t, errs.Err(), `[" 12:04:05.006 ******** boom"," 12:04:05.007 ******** \"quoted\""]`)

	var uae *UnhandledAdapterError
	require.ErrorAs(t, errs.Err(), &uae)
	require.Len(t, uae.Messages, 2)

	// Same output as JSON.stringify: no HTML escaping
	stackTrace := &UnhandledAdapterError{Messages: []string{
		" 12:00:00.000 ******** at Object.<anonymous> (a.js:1:1)",
		" 12:00:00.001 ******** a && b",
	}}
	require.Equal(t, `[" 12:00:00.000 ******** at Object.<anonymous> (a.js:1:1)"," 12:00:00.001 ******** a && b"]`, stackTrace.Error())

	errs.Reset()
	require.NoError(t, errs.Err())
}
