/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, loadErr := LoadConfig("")
	require.NoError(t, loadErr)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "harness.yaml")
	writeFile(t, configPath, `
runtime: /usr/local/bin/node
adapterPath: ./dist/adapter.js
adapterType: pwa-node
connectionTimeout: 3s
env:
  - NODE_OPTIONS=--no-warnings
`)
	writeFile(t, filepath.Join(dir, envFileName), "DAPHARNESS_ADAPTER_PATH=./from-dotenv.js\nDAPHARNESS_RUNTIME_VERSION=v6.2.0\n")
	t.Setenv(DAPHARNESS_RUNTIME_VERSION, "v18.0.0")

	cfg, loadErr := LoadConfig(configPath)
	require.NoError(t, loadErr)

	require.Equal(t, "/usr/local/bin/node", cfg.Runtime)
	require.Equal(t, "./from-dotenv.js", cfg.AdapterPath, ".env overrides the config file")
	require.Equal(t, "pwa-node", cfg.AdapterType)
	require.Equal(t, "v18.0.0", cfg.RuntimeVersion, "process environment overrides .env")
	require.Equal(t, 3*time.Second, cfg.ConnectionTimeout)
	require.Equal(t, []string{"NODE_OPTIONS=--no-warnings"}, cfg.Env)
	require.Equal(t, DefaultNightlyPrefix, cfg.NightlyPrefix, "unset values keep their defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, missingErr := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, missingErr)

	invalidPath := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalidPath, "runtime: [unterminated")
	_, invalidErr := LoadConfig(invalidPath)
	require.Error(t, invalidErr)

	emptyTypePath := filepath.Join(dir, "empty-type.yaml")
	writeFile(t, emptyTypePath, "adapterType: ''\n")
	_, validationErr := LoadConfig(emptyTypePath)
	require.ErrorContains(t, validationErr, "adapter type")

	t.Setenv(DAPHARNESS_CONNECTION_TIMEOUT, "soon")
	_, timeoutErr := LoadConfig("")
	require.ErrorContains(t, timeoutErr, DAPHARNESS_CONNECTION_TIMEOUT)
}

func TestConfigApplyFlags(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--adapter-type", "node3", "--connection-timeout", "250ms"}))

	cfg := DefaultConfig()
	cfg.AdapterPath = "./from-file.js"
	require.NoError(t, cfg.ApplyFlags(fs))

	require.Equal(t, "node3", cfg.AdapterType)
	require.Equal(t, 250*time.Millisecond, cfg.ConnectionTimeout)
	require.Equal(t, "./from-file.js", cfg.AdapterPath, "flags that were not set do not override")
	require.Equal(t, DefaultRuntime, cfg.Runtime)
}

func TestResolveRuntime(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RuntimeVersion = "v6.2.0"
	rd := ResolveRuntime(context.Background(), cfg, logr.Discard())
	require.Equal(t, runtime.GOOS, rd.Platform)
	require.Equal(t, "v6.2.0", rd.Version)
	require.True(t, rd.IsNightly())
	require.Equal(t, DefaultNightlyExecutable, rd.NightlyName)

	cfg = DefaultConfig()
	cfg.Runtime = filepath.Join(t.TempDir(), "no-such-runtime")
	cfg.Platform = "windows"
	rd = ResolveRuntime(context.Background(), cfg, logr.Discard())
	require.Equal(t, "windows", rd.Platform)
	require.Empty(t, rd.Version, "a runtime that cannot be queried has an unknown version")
	require.False(t, rd.IsNightly())
}

func TestProjectPaths(t *testing.T) {
	t.Parallel()

	require.FileExists(t, filepath.Join(ProjectRoot, "go.mod"))
	require.Equal(t, filepath.Join(ProjectRoot, "testdata")+string(filepath.Separator), DataRoot)

	require.Equal(t, `c:\src\project`, lowercaseDriveLetter(`C:\src\project`, "windows"))
	require.Equal(t, `C:\src\project`, lowercaseDriveLetter(`C:\src\project`, "linux"))
	require.Equal(t, "/Src/project", lowercaseDriveLetter("/Src/project", "darwin"))
	require.Equal(t, "", lowercaseDriveLetter("", "windows"))
}
