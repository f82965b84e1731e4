/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"

	// DebugVerbosity is the logr verbosity of debug session lifecycle messages.
	DebugVerbosity = 1

	// ProtocolVerbosity is the logr verbosity of individual DAP messages.
	ProtocolVerbosity = 2
)

var verbosityNames = map[string]zapcore.Level{
	"error":    zapcore.ErrorLevel,
	"info":     zapcore.InfoLevel,
	"debug":    zapcore.Level(-DebugVerbosity),
	"protocol": zapcore.Level(-ProtocolVerbosity),
}

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger that writes human-readable output to stderr.
func New(name string) *Logger {
	return NewWithWriter(name, os.Stderr)
}

// NewWithWriter creates a logger that writes human-readable output to the given writer.
func NewWithWriter(name string, w io.Writer) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Honor Windows line endings for logs if appropriate
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	// Info and above by default; the verbosity flag can change it.
	atomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	zapLogger := zap.New(zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(w)), atomicLevel))

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		name:        name,
		atomicLevel: atomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Level() zapcore.Level {
	return l.atomicLevel.Level()
}

func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag adds the verbosity flag that sets the console log level.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(&verbosityValue{logger: l}, verbosityFlagName, verbosityFlagShortName,
		"Logging verbosity. One of 'error', 'info', 'debug' (debug session lifecycle) or 'protocol' (every DAP message), or a positive integer for the corresponding debug verbosity.")
}

// parseVerbosity converts a verbosity name or a positive debug verbosity number to a zap level.
func parseVerbosity(value string) (zapcore.Level, error) {
	if level, found := verbosityNames[strings.ToLower(value)]; found {
		return level, nil
	}

	v, err := strconv.Atoi(value)
	if err != nil || v <= 0 || v > 127 {
		return zapcore.InfoLevel, fmt.Errorf("invalid verbosity \"%s\"", value)
	}

	// Zap debug levels are negative
	return zapcore.Level(int8(-v)), nil
}

type verbosityValue struct {
	logger *Logger
	value  string
}

func (vv *verbosityValue) Set(value string) error {
	level, err := parseVerbosity(value)
	if err != nil {
		return err
	}

	vv.logger.SetLevel(level)
	vv.value = value
	return nil
}

func (vv *verbosityValue) String() string {
	return vv.value
}

func (*verbosityValue) Type() string {
	return "verbosity"
}

var _ pflag.Value = &verbosityValue{}
