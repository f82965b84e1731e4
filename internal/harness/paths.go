/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ProjectRoot is the root directory of the source tree.
	ProjectRoot = projectRoot()

	// DataRoot is the directory with test programs.
	DataRoot = filepath.Join(ProjectRoot, "testdata") + string(filepath.Separator)
)

func projectRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}

	// This file lives in <root>/internal/harness
	root := filepath.Join(filepath.Dir(file), "..", "..")
	return lowercaseDriveLetter(root, runtime.GOOS)
}

// lowercaseDriveLetter makes paths on Windows start with a lower-case drive letter, matching the paths reported by the adapter.
func lowercaseDriveLetter(path string, goos string) string {
	if goos != "windows" || path == "" {
		return path
	}
	return strings.ToLower(path[:1]) + path[1:]
}
