/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"maps"

	"github.com/nickolasclarke/vscode-node-debug2/internal/dap"
)

const (
	VerboseDiagnosticLoggingArg = "verboseDiagnosticLogging"
	RuntimeExecutableArg        = "runtimeExecutable"
)

// LaunchPatcher adds the harness-required settings to launch arguments.
type LaunchPatcher struct {
	runtime RuntimeDescriptor
}

func NewLaunchPatcher(rd RuntimeDescriptor) *LaunchPatcher {
	return &LaunchPatcher{runtime: rd}
}

// Patch returns a copy of args with verbose diagnostic logging enabled.
// For nightly runtimes the runtime executable is set to the nightly executable.
// All other arguments are passed through unchanged; args itself is not modified.
func (lp *LaunchPatcher) Patch(args dap.LaunchArguments) dap.LaunchArguments {
	patched := make(dap.LaunchArguments, len(args)+2)
	maps.Copy(patched, args)

	patched[VerboseDiagnosticLoggingArg] = true
	if lp.runtime.IsNightly() {
		patched[RuntimeExecutableArg] = lp.runtime.NightlyExecutable()
	}

	return patched
}
