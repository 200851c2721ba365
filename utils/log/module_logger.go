package log

import "go.uber.org/zap"

// Module name constants for the subsystems that scope their own debug
// logging: the TLS proxy loop, the agent that installs the kernel hooks,
// and the policy engine that renders verdicts.
const (
	ModuleProxy  = "proxy"
	ModuleAgent  = "agent"
	ModulePolicy = "policy"
)

// ModuleLoggerFactory hands out one *zap.Logger per module, each gated to
// Debug level only when that module is enabled — either globally, or by
// name via the moduleDebug map. Unlike SetDebugModules, which rebuilds the
// whole package-level LogCfg pipeline, a ModuleLoggerFactory just wraps an
// already-built *zap.Logger, so it's cheap to construct per-request.
type ModuleLoggerFactory struct {
	base        *zap.Logger
	globalDebug bool
	moduleDebug map[string]bool
}

// NewModuleLoggerFactory builds a factory around base. When globalDebug is
// true every module's debug logs pass regardless of moduleDebug.
func NewModuleLoggerFactory(base *zap.Logger, globalDebug bool, moduleDebug map[string]bool) *ModuleLoggerFactory {
	return &ModuleLoggerFactory{base: base, globalDebug: globalDebug, moduleDebug: moduleDebug}
}

// IsDebugEnabled reports whether Debug-level logs for module should reach
// the output.
func (f *ModuleLoggerFactory) IsDebugEnabled(module string) bool {
	if f.globalDebug {
		return true
	}
	return f.moduleDebug[module]
}

// GetLogger returns a *zap.Logger named for module. If module's debug
// logging isn't enabled, the returned logger's level floor is raised to
// Info so Debug calls are dropped before they reach the underlying core.
func (f *ModuleLoggerFactory) GetLogger(module string) *zap.Logger {
	named := f.base.Named(module)
	if f.IsDebugEnabled(module) {
		return named
	}
	return named.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
}
