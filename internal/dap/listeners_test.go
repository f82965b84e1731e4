/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

func TestListenerSetDispatchesByEventType(t *testing.T) {
	t.Parallel()

	ls := newListenerSet()
	var calls []string

	h1 := ls.add("output", func(dap.EventMessage) { calls = append(calls, "output-1") })
	ls.add("output", func(dap.EventMessage) { calls = append(calls, "output-2") })
	ls.add("stopped", func(dap.EventMessage) { calls = append(calls, "stopped") })
	require.NotEqual(t, InvalidListenerHandle, h1)

	ls.dispatch(&dap.OutputEvent{Event: dap.Event{Event: "output"}})
	require.Equal(t, []string{"output-1", "output-2"}, calls)

	require.True(t, ls.remove(h1))
	require.False(t, ls.remove(h1))
	require.False(t, ls.remove(InvalidListenerHandle))

	calls = nil
	ls.dispatch(&dap.OutputEvent{Event: dap.Event{Event: "output"}})
	ls.dispatch(&dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}})
	require.Equal(t, []string{"output-2"}, calls)
	require.Equal(t, 1, ls.count("output"))
	require.Equal(t, 0, ls.count("terminated"))
}

func TestListenerCanRemoveItselfWhileDispatching(t *testing.T) {
	t.Parallel()

	ls := newListenerSet()
	calls := 0

	var handle ListenerHandle
	handle = ls.add("initialized", func(dap.EventMessage) {
		calls++
		ls.remove(handle)
	})

	ls.dispatch(&dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})
	ls.dispatch(&dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})
	require.Equal(t, 1, calls)
}
