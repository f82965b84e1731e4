/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRuntime           = "node"
	DefaultAdapterPath       = "./out/src/nodeDebug.js"
	DefaultAdapterType       = "node2"
	DefaultNightlyPrefix     = "v6.2"
	DefaultNightlyExecutable = "node-nightly"

	DAPHARNESS_RUNTIME            = "DAPHARNESS_RUNTIME"
	DAPHARNESS_ADAPTER_PATH       = "DAPHARNESS_ADAPTER_PATH"
	DAPHARNESS_ADAPTER_TYPE       = "DAPHARNESS_ADAPTER_TYPE"
	DAPHARNESS_RUNTIME_VERSION    = "DAPHARNESS_RUNTIME_VERSION" // Skips running "<runtime> --version"
	DAPHARNESS_PLATFORM           = "DAPHARNESS_PLATFORM"        // Defaults to runtime.GOOS
	DAPHARNESS_NIGHTLY_PREFIX     = "DAPHARNESS_NIGHTLY_PREFIX"
	DAPHARNESS_NIGHTLY_EXECUTABLE = "DAPHARNESS_NIGHTLY_EXECUTABLE"
	DAPHARNESS_CONNECTION_TIMEOUT = "DAPHARNESS_CONNECTION_TIMEOUT" // Go duration, e.g. "15s"

	// Name of the optional dotenv file read from the directory of the config file.
	envFileName = ".env"
)

// Config describes the adapter under test and the environment it runs in.
type Config struct {
	// Runtime runs the adapter entry point (and usually the debuggee), e.g. "node".
	Runtime string `yaml:"runtime" json:"runtime"`

	// AdapterPath is the adapter entry point.
	AdapterPath string `yaml:"adapterPath" json:"adapterPath"`

	// AdapterType is sent as the adapterID of the initialize request.
	AdapterType string `yaml:"adapterType" json:"adapterType"`

	// RuntimeVersion is the version string of Runtime. If empty, it is queried from the runtime once.
	RuntimeVersion string `yaml:"runtimeVersion,omitempty" json:"runtimeVersion,omitempty"`

	// Platform is the GOOS-style name of the platform the debuggee runs on. Defaults to the current platform.
	Platform string `yaml:"platform,omitempty" json:"platform,omitempty"`

	// Runtimes whose version starts with NightlyPrefix are launched with NightlyExecutable.
	// An empty prefix disables the override.
	NightlyPrefix     string `yaml:"nightlyPrefix" json:"nightlyPrefix"`
	NightlyExecutable string `yaml:"nightlyExecutable" json:"nightlyExecutable"`

	// ConnectionTimeout bounds connection attempts to an adapter in debug-server mode.
	ConnectionTimeout time.Duration `yaml:"connectionTimeout,omitempty" json:"connectionTimeout,omitempty"`

	// Env contains additional "NAME=value" environment variables for the adapter process.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Runtime:           DefaultRuntime,
		AdapterPath:       DefaultAdapterPath,
		AdapterType:       DefaultAdapterType,
		NightlyPrefix:     DefaultNightlyPrefix,
		NightlyExecutable: DefaultNightlyExecutable,
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path (if path is not empty),
// a .env file next to it (if present) and DAPHARNESS_* environment variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return Config{}, fmt.Errorf("failed to read harness configuration file '%s': %w", path, readErr)
		}
		if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
			return Config{}, fmt.Errorf("harness configuration file '%s' is invalid: %w", path, unmarshalErr)
		}

		envFile := filepath.Join(filepath.Dir(path), envFileName)
		dotenv, dotenvErr := godotenv.Read(envFile)
		switch {
		case dotenvErr == nil:
			if applyErr := cfg.applyEnv(mapLookup(dotenv)); applyErr != nil {
				return Config{}, fmt.Errorf("'%s': %w", envFile, applyErr)
			}
		case !errors.Is(dotenvErr, fs.ErrNotExist):
			return Config{}, fmt.Errorf("failed to read '%s': %w", envFile, dotenvErr)
		}
	}

	if applyErr := cfg.applyEnv(os.LookupEnv); applyErr != nil {
		return Config{}, applyErr
	}

	return cfg, cfg.Validate()
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		val, found := m[key]
		return val, found
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	stringVars := map[string]*string{
		DAPHARNESS_RUNTIME:            &c.Runtime,
		DAPHARNESS_ADAPTER_PATH:       &c.AdapterPath,
		DAPHARNESS_ADAPTER_TYPE:       &c.AdapterType,
		DAPHARNESS_RUNTIME_VERSION:    &c.RuntimeVersion,
		DAPHARNESS_PLATFORM:           &c.Platform,
		DAPHARNESS_NIGHTLY_PREFIX:     &c.NightlyPrefix,
		DAPHARNESS_NIGHTLY_EXECUTABLE: &c.NightlyExecutable,
	}
	for name, target := range stringVars {
		if val, found := lookup(name); found {
			*target = val
		}
	}

	if val, found := lookup(DAPHARNESS_CONNECTION_TIMEOUT); found {
		timeout, parseErr := time.ParseDuration(val)
		if parseErr != nil {
			return fmt.Errorf("%s value '%s' is invalid: %w", DAPHARNESS_CONNECTION_TIMEOUT, val, parseErr)
		}
		c.ConnectionTimeout = timeout
	}

	return nil
}

func (c *Config) Validate() error {
	if c.AdapterType == "" {
		return errors.New("adapter type must not be empty")
	}
	if c.NightlyPrefix != "" && c.NightlyExecutable == "" {
		return errors.New("nightly executable must be set when a nightly version prefix is configured")
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must not be negative (was %s)", c.ConnectionTimeout)
	}
	return nil
}

// AddFlags adds command-line flags that override configuration values.
// Call ApplyFlags after the flags are parsed.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("runtime", "", "Executable that runs the debug adapter, e.g. 'node'")
	fs.String("adapter-path", "", "Debug adapter entry point")
	fs.String("adapter-type", "", "Adapter ID sent with the initialize request")
	fs.String("runtime-version", "", "Runtime version; queried from the runtime if not set")
	fs.String("platform", "", "Platform of the debuggee (GOOS name); defaults to the current platform")
	fs.Duration("connection-timeout", 0, "How long to keep trying to connect to an adapter listening on a port")
}

// ApplyFlags copies the values of flags that were set on the command line into the configuration.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	stringFlags := map[string]*string{
		"runtime":         &c.Runtime,
		"adapter-path":    &c.AdapterPath,
		"adapter-type":    &c.AdapterType,
		"runtime-version": &c.RuntimeVersion,
		"platform":        &c.Platform,
	}
	for name, target := range stringFlags {
		if !fs.Changed(name) {
			continue
		}
		val, getErr := fs.GetString(name)
		if getErr != nil {
			return getErr
		}
		*target = val
	}

	if fs.Changed("connection-timeout") {
		timeout, getErr := fs.GetDuration("connection-timeout")
		if getErr != nil {
			return getErr
		}
		c.ConnectionTimeout = timeout
	}

	return c.Validate()
}
