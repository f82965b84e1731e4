/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"slices"
	"sync"

	"github.com/google/go-dap"
)

// EventListener is called for every event of the type it was registered for.
// Listeners run on the client reader goroutine and must not block on client requests.
type EventListener func(event dap.EventMessage)

// ListenerHandle identifies a registered listener so that it can be removed later.
type ListenerHandle uint32

const (
	InvalidListenerHandle ListenerHandle = 0
)

type registeredListener struct {
	handle   ListenerHandle
	listener EventListener
}

// listenerSet keeps event listeners grouped by event type, in registration order.
type listenerSet struct {
	mu         sync.Mutex
	nextHandle ListenerHandle
	byEvent    map[string][]registeredListener
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		byEvent: make(map[string][]registeredListener),
	}
}

func (ls *listenerSet) add(eventType string, listener EventListener) ListenerHandle {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.nextHandle++
	handle := ls.nextHandle
	ls.byEvent[eventType] = append(ls.byEvent[eventType], registeredListener{handle: handle, listener: listener})
	return handle
}

// remove unregisters the listener with the given handle. Returns false if no such listener exists.
func (ls *listenerSet) remove(handle ListenerHandle) bool {
	if handle == InvalidListenerHandle {
		return false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for eventType, listeners := range ls.byEvent {
		i := slices.IndexFunc(listeners, func(rl registeredListener) bool { return rl.handle == handle })
		if i < 0 {
			continue
		}

		listeners = slices.Delete(listeners, i, i+1)
		if len(listeners) == 0 {
			delete(ls.byEvent, eventType)
		} else {
			ls.byEvent[eventType] = listeners
		}
		return true
	}

	return false
}

func (ls *listenerSet) count(eventType string) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.byEvent[eventType])
}

// dispatch calls listeners registered for the event type. The lock is not held while listeners run,
// so a listener may add or remove listeners.
func (ls *listenerSet) dispatch(event dap.EventMessage) {
	ls.mu.Lock()
	current := slices.Clone(ls.byEvent[event.GetEvent().Event])
	ls.mu.Unlock()

	for _, rl := range current {
		rl.listener(event)
	}
}
