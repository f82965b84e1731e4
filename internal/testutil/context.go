/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"
)

const TEST_CONTEXT_TIMEOUT = "TEST_CONTEXT_TIMEOUT" // Overrides test context timeout, in minutes

// GetTestContext returns a context bounded by the shorter of the test binary deadline and testTimeout.
// A zero testTimeout means "use the test binary deadline only".
func GetTestContext(t testing.TB, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	timeoutStr, found := os.LookupEnv(TEST_CONTEXT_TIMEOUT)
	if found {
		timeout, err := strconv.ParseUint(timeoutStr, 10, 16)
		if err != nil {
			panic(fmt.Sprintf("Context timeout value '%s' is invalid: %s", timeoutStr, err.Error()))
		}
		return context.WithTimeout(context.Background(), time.Duration(timeout)*time.Minute)
	}

	var deadline time.Time
	haveDeadline := false
	if dt, ok := t.(interface{ Deadline() (time.Time, bool) }); ok {
		deadline, haveDeadline = dt.Deadline()
	}

	switch {
	case !haveDeadline && testTimeout == 0:
		return context.WithCancel(context.Background())

	case haveDeadline && testTimeout == 0:
		return context.WithDeadline(context.Background(), deadline)

	case !haveDeadline && testTimeout != 0:
		return context.WithTimeout(context.Background(), testTimeout)

	default:
		testDeadline := time.Now().Add(testTimeout)
		// Take shorter of the two deadlines
		if testDeadline.Before(deadline) {
			return context.WithDeadline(context.Background(), testDeadline)
		}
		return context.WithDeadline(context.Background(), deadline)
	}
}
