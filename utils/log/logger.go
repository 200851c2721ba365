// Package log builds the interceptor's *zap.Logger: a console encoder
// writing to LogCfg.OutputPaths (stdout by default). New() returns a ready
// logger plus the open on-disk log file; the logger itself does not write
// to that file. ChangeLogLevel/AddMode rebuild it from the package-level
// LogCfg, and the underlying os.OpenFile/os.Chmod calls go through
// swappable package vars so tests can inject failures without touching the
// filesystem.
package log

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFilePath is the on-disk log file New opens, overridable by callers
// (cmd/root.go sets it from config.Config.Log.Path before calling New).
var LogFilePath = "trustbase.log"

// LogCfg is the zap.Config every rebuild (ChangeLogLevel, AddMode,
// ChangeColorEncoding) starts from. It's a package var, not a constant,
// specifically so callers and tests can tweak it between calls.
var LogCfg = zap.NewProductionConfig()

var (
	osOpenFile184 = os.OpenFile
	osChmod184    = os.Chmod
)

func init() {
	LogCfg.Encoding = "colorConsole"
	LogCfg.EncoderConfig.EncodeTime = customTimeEncoder
	LogCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	LogCfg.OutputPaths = []string{"stdout"}

	_ = zap.RegisterEncoder("colorConsole", func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
		return zapcore.NewConsoleEncoder(cfg), nil
	})
	_ = zap.RegisterEncoder("nonColorConsole", func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
		nonColor := cfg
		nonColor.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(nonColor), nil
	})
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z0700"))
}

// New opens (or creates) the on-disk log file world-writable (so a process
// started as root and later dropped to an unprivileged user can still
// rotate it) and builds the console *zap.Logger described by LogCfg. The
// caller owns the returned *os.File and must close it on shutdown.
func New() (*zap.Logger, *os.File, error) {
	logFile, err := osOpenFile184(LogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	if err := osChmod184(LogFilePath, 0777); err != nil {
		return nil, nil, fmt.Errorf("failed to set the log file permission to 777: %w", err)
	}

	logger, err := LogCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build config for logger: %w", err)
	}
	return logger, logFile, nil
}

// ChangeLogLevel rebuilds the logger at the given level and enables caller
// info in the encoder config.
func ChangeLogLevel(level zapcore.Level) (*zap.Logger, error) {
	LogCfg.Level = zap.NewAtomicLevelAt(level)
	LogCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := LogCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build config for logger: %w", err)
	}
	return logger, nil
}

// AddMode rebuilds the logger with an extra named mode enabled via
// SetDebugModules, without otherwise touching LogCfg. It first validates
// LogCfg by building it the normal way, so a bad LogCfg (an unwritable
// output path, say) surfaces here instead of silently falling back to the
// console-only debug-module core.
func AddMode(mode string) (*zap.Logger, error) {
	if _, err := LogCfg.Build(); err != nil {
		return nil, fmt.Errorf("failed to add mode to logger: %w", err)
	}
	return SetDebugModules(map[string]bool{mode: true})
}

// ChangeColorEncoding toggles the console encoder between the ANSI-colored
// and plain variants registered in init.
func ChangeColorEncoding() (*zap.Logger, error) {
	if LogCfg.Encoding == "colorConsole" {
		LogCfg.Encoding = "nonColorConsole"
	} else {
		LogCfg.Encoding = "colorConsole"
	}

	logger, err := LogCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build config for logger: %w", err)
	}
	return logger, nil
}

// SetConsoleWriter redirects the console output sink, used by tests to
// capture logger output into an in-memory buffer.
func SetConsoleWriter(w zapcore.WriteSyncer) {
	consoleWriter = w
}

var consoleWriter zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)

// SetDebugModules rebuilds the logger at Debug level with a module filter:
// only zap.Logger.Named(...) calls whose name matches one of modules (or is
// a dotted child of an enabled parent, e.g. "proxy" enables "proxy.http")
// produce output.
func SetDebugModules(modules map[string]bool) (*zap.Logger, error) {
	cfg := LogCfg
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg.EncoderConfig),
		consoleWriter,
		cfg.Level,
	)
	return zap.New(moduleFilterFacade{core: core, modules: modules}), nil
}

// moduleFilterFacade wraps a zapcore.Core so that Check only admits entries
// whose LoggerName matches an enabled module or is a dotted descendant of
// one, implementing the hierarchical "enabling a parent enables its
// children" rule SetDebugModules promises.
type moduleFilterFacade struct {
	core    zapcore.Core
	modules map[string]bool
}

func (f moduleFilterFacade) Enabled(level zapcore.Level) bool { return f.core.Enabled(level) }

func (f moduleFilterFacade) With(fields []zapcore.Field) zapcore.Core {
	return moduleFilterFacade{core: f.core.With(fields), modules: f.modules}
}

func (f moduleFilterFacade) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.Enabled(entry.Level) || !f.moduleEnabled(entry.LoggerName) {
		return ce
	}
	return ce.AddCore(entry, f)
}

func (f moduleFilterFacade) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return f.core.Write(entry, fields)
}

func (f moduleFilterFacade) Sync() error { return f.core.Sync() }

func (f moduleFilterFacade) moduleEnabled(name string) bool {
	for name != "" {
		if enabled, ok := f.modules[name]; ok {
			return enabled
		}
		idx := lastDot(name)
		if idx < 0 {
			return false
		}
		name = name[:idx]
	}
	return false
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
