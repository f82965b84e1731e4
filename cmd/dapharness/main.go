/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nickolasclarke/vscode-node-debug2/internal/commands"
	"github.com/nickolasclarke/vscode-node-debug2/internal/logger"
	"github.com/nickolasclarke/vscode-node-debug2/internal/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("dapharness")

	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			os.Stderr.WriteString(panicErr.Error() + string(commands.WithNewline(nil)))
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root, err := commands.NewRootCmd(log)
	if err != nil {
		commands.ErrorExit(log, err, errSetup)
	}

	err = root.ExecuteContext(ctx)
	if err != nil {
		cancel()
		commands.ErrorExit(log, err, errCommandError)
	} else {
		log.Flush()
	}
}
