/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"sync"

	"github.com/smallnest/chanx"
)

type Subscription[NotificationT any] struct {
	Handle HandleT
	buf    *chanx.UnboundedChan[NotificationT]
	owner  *Topic[NotificationT]
	lock   *sync.Mutex
}

func (s *Subscription[NotificationT]) Cancel() {
	s.lock.Lock()

	handle := s.Handle
	if handle != InvalidHandle {
		// Make sure onSubscriptionCancelled is called after the subscription lock is released.
		defer s.owner.onSubscriptionCancelled(handle)
	}
	defer s.lock.Unlock()

	if handle != InvalidHandle {
		s.Handle = InvalidHandle
		close(s.buf.In)
	}
}

func (s *Subscription[NotificationT]) Cancelled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Handle == InvalidHandle
}

func (s *Subscription[NotificationT]) notify(n NotificationT) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.Handle == InvalidHandle {
		return
	}

	// The unbounded buffer only blocks for as long as it takes to move the notification off the input channel.
	// Once the topic lifetime ends nothing moves notifications anymore and they are dropped.
	select {
	case s.buf.In <- n:
	case <-s.owner.lifetimeCtx.Done():
	}
}

// Drain cancels the subscription and returns all notifications that have not been read yet.
// After the topic lifetime ends, notifications that were still buffered may be lost.
func (s *Subscription[NotificationT]) Drain() []NotificationT {
	s.Cancel()

	var retval []NotificationT
	for n := range s.buf.Out {
		retval = append(retval, n)
	}
	return retval
}
