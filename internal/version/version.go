/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"

	dapModulePath = "github.com/google/go-dap"
)

// Set at build time via -ldflags "-X".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = "" // Unix seconds or RFC 3339
)

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion"`

	// Version of the DAP protocol library the harness was built with.
	DapLibraryVersion string `json:"dapLibraryVersion,omitempty"`
}

func Version() VersionOutput {
	retval := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
		GoVersion:  runtime.Version(),
	}

	if retval.Version == "" {
		retval.Version = DevelopmentVersion
	}

	if buildTime, ok := parseBuildTimestamp(BuildTimestamp); ok {
		retval.BuildTime = &buildTime
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == dapModulePath {
				retval.DapLibraryVersion = dep.Version
				break
			}
		}
	}

	return retval
}

func parseBuildTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}

	if seconds, parseErr := strconv.ParseInt(ts, 10, 64); parseErr == nil {
		return time.Unix(seconds, 0).UTC(), true
	}

	if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		return t.UTC(), true
	}

	return time.Time{}, false
}
