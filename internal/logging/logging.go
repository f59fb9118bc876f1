// Package logging builds the broker's zap logger and the trace sink that
// backs the hourly-rotated debug trace files. Rotation and retention of
// those files is handled by a separate debug-bundling collaborator; this
// package only owns installing the sink exactly once.
package logging

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrTraceSinkReconfigured is returned by InstallTraceSink if a trace sink
// has already been installed in this process. The trace sink, like the
// memoised working/home directory lookups, is lifecycle-tied to process
// start and may only be set up once.
var ErrTraceSinkReconfigured = errors.New("logging: trace sink already installed")

var (
	traceSinkMu   sync.Mutex
	traceSinkCore zapcore.Core
)

// InstallTraceSink registers core as the destination for trace-level log
// records. Safe to call once; subsequent calls return
// ErrTraceSinkReconfigured without side effects.
func InstallTraceSink(core zapcore.Core) error {
	traceSinkMu.Lock()
	defer traceSinkMu.Unlock()
	if traceSinkCore != nil {
		return ErrTraceSinkReconfigured
	}
	traceSinkCore = core
	return nil
}

// TraceSink returns the installed trace sink core, or nil if none has been
// installed yet.
func TraceSink() zapcore.Core {
	traceSinkMu.Lock()
	defer traceSinkMu.Unlock()
	return traceSinkCore
}

// Build constructs the process-wide *zap.Logger at the given level
// ("debug", "info", "warn", "error"): development config (console, caller
// info) in debug mode, production config (JSON) otherwise.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// workingDir and homeDir are memoised on first use: both are fixed for
// the lifetime of the process, so there is no reason to recompute them.
var (
	wdOnce sync.Once
	wdVal  string
	wdErr  error

	homeOnce sync.Once
	homeVal  string
	homeErr  error
)

// WorkingDir returns the process's current working directory, computed
// once and cached for the lifetime of the process.
func WorkingDir() (string, error) {
	wdOnce.Do(func() {
		wdVal, wdErr = os.Getwd()
	})
	return wdVal, wdErr
}

// HomeDir returns the user's home directory, computed once and cached.
func HomeDir() (string, error) {
	homeOnce.Do(func() {
		homeVal, homeErr = os.UserHomeDir()
	})
	return homeVal, homeErr
}
