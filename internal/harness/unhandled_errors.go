/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"bytes"
	"encoding/json"
	"slices"
	"sync"
)

// UnhandledErrors collects adapter log lines that signal an internal adapter error.
// It is safe for concurrent use.
type UnhandledErrors struct {
	lock     sync.Mutex
	messages []string
}

func (ue *UnhandledErrors) Append(message string) {
	ue.lock.Lock()
	defer ue.lock.Unlock()
	ue.messages = append(ue.messages, message)
}

func (ue *UnhandledErrors) Messages() []string {
	ue.lock.Lock()
	defer ue.lock.Unlock()
	return slices.Clone(ue.messages)
}

func (ue *UnhandledErrors) Len() int {
	ue.lock.Lock()
	defer ue.lock.Unlock()
	return len(ue.messages)
}

// Reset discards all collected messages.
func (ue *UnhandledErrors) Reset() {
	ue.lock.Lock()
	defer ue.lock.Unlock()
	ue.messages = nil
}

// Err returns nil if no messages were collected, otherwise an *UnhandledAdapterError.
func (ue *UnhandledErrors) Err() error {
	messages := ue.Messages()
	if len(messages) == 0 {
		return nil
	}
	return &UnhandledAdapterError{Messages: messages}
}

// UnhandledAdapterError reports adapter errors that were logged while a test was running.
type UnhandledAdapterError struct {
	Messages []string
}

// Error returns the single message verbatim. Multiple messages are reported as a JSON array.
func (e *UnhandledAdapterError) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}

	// Adapter stack traces contain frames like "Object.<anonymous>", which must stay readable.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if encodeErr := enc.Encode(e.Messages); encodeErr != nil {
		// Encoding a string slice does not fail
		panic(encodeErr)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
