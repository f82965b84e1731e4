/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/nickolasclarke/vscode-node-debug2/internal/logger"
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func WithNewline(b []byte) []byte {
	if IsWindows() {
		b = append(b, '\r')
	}
	b = append(b, '\n')
	return b
}

// ErrorExit reports the error, flushes the log and exits with the given code.
func ErrorExit(log *logger.Logger, err error, code int) {
	fmt.Fprintln(os.Stderr, err.Error())
	log.Flush()
	os.Exit(code)
}

func printJSON(w io.Writer, encoded []byte) error {
	_, writeErr := w.Write(WithNewline(encoded))
	return writeErr
}
