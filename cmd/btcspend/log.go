// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcspend/assembler"
	"github.com/btcsuite/btcspend/chain"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/keychain"
	"github.com/btcsuite/btcspend/privacy"
	"github.com/btcsuite/btcspend/spend"
	"github.com/btcsuite/btcspend/store"
	"github.com/btcsuite/btcspend/utxopool"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log = backendLog.Logger("BSPD")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"BSPD": log,
}

// registerSubsystem creates the logger of a library package and hands it
// over.
func registerSubsystem(tag string, use func(btclog.Logger)) {
	logger := backendLog.Logger(tag)
	subsystemLoggers[tag] = logger
	use(logger)
}

func init() {
	registerSubsystem(keychain.Subsystem, keychain.UseLogger)
	registerSubsystem(coinselect.Subsystem, coinselect.UseLogger)
	registerSubsystem(privacy.Subsystem, privacy.UseLogger)
	registerSubsystem(assembler.Subsystem, assembler.UseLogger)
	registerSubsystem(utxopool.Subsystem, utxopool.UseLogger)
	registerSubsystem(chain.Subsystem, chain.UseLogger)
	registerSubsystem(store.Subsystem, store.UseLogger)
	registerSubsystem(spend.Subsystem, spend.UseLogger)
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}

	logRotator = r

	return nil
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, level btclog.Level) {
	if logger, ok := subsystemLoggers[subsystemID]; ok {
		logger.SetLevel(level)
	}
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(level btclog.Level) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, level)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)

	return subsystems
}

// parseAndSetDebugLevels applies a debug level spec of the form
// "level" or "level,SUBSYS=level,...".
func parseAndSetDebugLevels(debugLevel string) error {
	for i, part := range strings.Split(debugLevel, ",") {
		if !strings.Contains(part, "=") {
			if i != 0 {
				return fmt.Errorf("global level %q must come "+
					"first", part)
			}

			level, ok := btclog.LevelFromString(part)
			if !ok {
				return fmt.Errorf("invalid debug level %q", part)
			}
			setLogLevels(level)

			continue
		}

		subsysID, levelStr, _ := strings.Cut(part, "=")
		if _, ok := subsystemLoggers[subsysID]; !ok {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems: %v", subsysID,
				supportedSubsystems())
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("invalid debug level %q", levelStr)
		}
		setLogLevel(subsysID, level)
	}

	return nil
}
