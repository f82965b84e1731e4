/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/nickolasclarke/vscode-node-debug2/internal/harness"
	"github.com/nickolasclarke/vscode-node-debug2/internal/version"
)

type information struct {
	Version       version.VersionOutput     `json:"version"`
	Configuration harness.Config            `json:"configuration"`
	Runtime       harness.RuntimeDescriptor `json:"runtime"`
	Nightly       bool                      `json:"nightly"`
}

func NewInfoCommand(log logr.Logger) (*cobra.Command, error) {
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Prints the harness configuration and the resolved runtime",
		Long: `Prints the harness configuration and the resolved runtime.

The configuration is read the same way the 'run' command reads it.`,
		RunE: getInfo(log),
		Args: cobra.NoArgs,
	}

	infoCmd.Flags().StringVar(&configPath, "config", "", "Path to the harness configuration file (YAML)")
	harness.AddFlags(infoCmd.Flags())

	return infoCmd, nil
}

func getInfo(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := log.WithName("info")

		cfg, cfgErr := loadConfig(cmd)
		if cfgErr != nil {
			return cfgErr
		}

		rd := harness.ResolveRuntime(cmd.Context(), cfg, log)
		info := information{
			Version:       version.Version(),
			Configuration: cfg,
			Runtime:       rd,
			Nightly:       rd.IsNightly(),
		}

		encoded, marshalErr := json.MarshalIndent(info, "", "  ")
		if marshalErr != nil {
			log.Error(marshalErr, "Could not serialize harness information")
			return marshalErr
		}

		return printJSON(cmd.OutOrStdout(), encoded)
	}
}
