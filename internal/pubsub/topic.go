/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/smallnest/chanx"
)

type HandleT uint32

const (
	InvalidHandle HandleT = 0

	initialSubscriptionCapacity = 64
)

var (
	nextHandle atomic.Uint32
)

// Topic is a named publish/subscribe channel. Publishing never blocks on slow subscribers:
// every subscription buffers notifications until the subscriber reads them.
type Topic[NotificationT any] struct {
	name          string
	subscriptions map[HandleT]*Subscription[NotificationT]

	// The parent context of all subscription buffers.
	// Cancelling it discards whatever notifications have not been read yet.
	lifetimeCtx context.Context

	mutex *sync.Mutex
}

func NewTopic[NotificationT any](lifetimeCtx context.Context, name string) *Topic[NotificationT] {
	if lifetimeCtx == nil {
		lifetimeCtx = context.Background()
	}

	return &Topic[NotificationT]{
		name:          name,
		subscriptions: make(map[HandleT]*Subscription[NotificationT]),
		lifetimeCtx:   lifetimeCtx,
		mutex:         &sync.Mutex{},
	}
}

func (t *Topic[NotificationT]) Name() string {
	return t.name
}

// Subscribe returns a new subscription that receives every notification published after this call.
func (t *Topic[NotificationT]) Subscribe() *Subscription[NotificationT] {
	sub := &Subscription[NotificationT]{
		Handle: HandleT(nextHandle.Add(1)),
		buf:    chanx.NewUnboundedChan[NotificationT](t.lifetimeCtx, initialSubscriptionCapacity),
		owner:  t,
		lock:   &sync.Mutex{},
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.subscriptions[sub.Handle] = sub

	return sub
}

// Publish delivers the notification to all current subscriptions.
func (t *Topic[NotificationT]) Publish(n NotificationT) {
	t.mutex.Lock()
	currentSubs := slices.Collect(maps.Values(t.subscriptions))
	t.mutex.Unlock()

	for _, sub := range currentSubs {
		sub.notify(n)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (t *Topic[NotificationT]) SubscriberCount() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.subscriptions)
}

// CancelAll cancels all subscriptions. Notifications already published remain readable.
func (t *Topic[NotificationT]) CancelAll() {
	t.mutex.Lock()
	currentSubs := slices.Collect(maps.Values(t.subscriptions))
	clear(t.subscriptions)
	t.mutex.Unlock()

	for _, sub := range currentSubs {
		sub.Cancel()
	}
}

func (t *Topic[NotificationT]) onSubscriptionCancelled(handle HandleT) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.subscriptions, handle) // No-op if the handle does not exist.
}
