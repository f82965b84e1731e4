/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap provides a Debug Adapter Protocol (DAP) client for driving a debug adapter
from tests.

# Connection Modes

The client either launches the adapter itself or connects to one that is already running:

  - Start(ctx, 0): runs "<runtime> <adapter path>" and speaks DAP over the adapter's stdin/stdout
  - Start(ctx, port): connects to an adapter in debug-server mode listening on 127.0.0.1:port

# Requests and Events

Requests are matched to responses by sequence number. Events are delivered two ways:

  - Listeners registered with AddListener run synchronously on the reader goroutine,
    in the order the adapter sent the events
  - WaitForEvent and friends consume a buffered event queue

# Usage

	client := dap.NewClient(dap.ClientConfig{
		Runtime:     "node",
		AdapterPath: "./out/src/nodeDebug.js",
		AdapterType: "node2",
		Logger:      log,
	})

	if err := client.Start(ctx, 0); err != nil {
		return err
	}
	defer client.Stop(ctx)

	stopped, err := client.HitBreakpoint(ctx, launchArgs, dap.Location{Path: program, Line: 3}, nil)
*/
package dap
