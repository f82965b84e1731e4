/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickolasclarke/vscode-node-debug2/internal/logger"
)

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "dapharness",
		Short: "Runs debug sessions against a debug adapter and reports adapter-internal errors",
		Long: `dapharness drives a debug adapter through the Debug Adapter Protocol.

	It launches debuggees with verbose diagnostic logging enabled, captures the adapter log
	and fails the session if the adapter reported an unhandled internal error.`,
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: LogVersion(log.Logger, "Starting dapharness..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	log.AddLevelFlag(rootCmd.PersistentFlags())

	var err error
	var cmd *cobra.Command

	if cmd, err = NewVersionCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	}

	if cmd, err = NewInfoCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'info' command: %w", err)
	}

	if cmd, err = NewRunCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'run' command: %w", err)
	}

	return rootCmd, nil
}
