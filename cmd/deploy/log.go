// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to standard error and, if
// initialized, the log rotator. Standard output carries the address listing.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator == nil {
		return os.Stderr.Write(p)
	}
	os.Stderr.Write(p)
	return logRotator.Write(p) // not safe concurrent writes, so only one logWriter{} allowed!
}

// Loggers are disabled until parseAndSetDebugLevels is called.
var (
	// logRotator is one of the logging outputs. Use initLogRotator to set it.
	// It should be closed on application shutdown.
	logRotator *rotator.Rotator

	log = rollup.Disabled

	subsystemLoggers = map[string]rollup.Logger{
		"MAIN": rollup.Disabled,
		"DPLY": rollup.Disabled,
		"CHAN": rollup.Disabled,
		"RSLV": rollup.Disabled,
		"JRNL": rollup.Disabled,
	}
)

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.
func initLogRotator(logFile string, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, 32*1024, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels parses the debug level string and creates the
// subsystem loggers. An unknown subsystem is an error.
func parseAndSetDebugLevels(debugLevel string) (*rollup.LoggerMaker, error) {
	lm, err := rollup.NewLoggerMaker(logWriter{}, debugLevel)
	if err != nil {
		return nil, err
	}
	for subsysID := range lm.Levels {
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return nil, fmt.Errorf("the specified subsystem [%v] is invalid, supported subsystems %v",
				subsysID, supportedSubsystems())
		}
	}
	for subsysID := range subsystemLoggers {
		subsystemLoggers[subsysID] = lm.NewLogger(subsysID)
	}
	log = subsystemLoggers["MAIN"]
	return lm, nil
}
