// Package config provides the configuration structure for the interceptor
// CLI: a viper-bound, mapstructure-tagged struct covering where to log, how
// to reach the policy engine, which CA bundle backs the default trust
// engine, and which hosts/ports to leave unmonitored.
package config

import "time"

// Config is the root configuration structure, bound from CLI flags and an
// optional YAML file merged on top of defaultConfig (default.go).
type Config struct {
	Path        string        `json:"path" yaml:"path" mapstructure:"path"`
	Debug       bool          `json:"debug" yaml:"debug" mapstructure:"debug"`
	DisableANSI bool          `json:"disableANSI" yaml:"disableANSI" mapstructure:"disableANSI"`
	ConfigPath  string        `json:"configPath" yaml:"configPath" mapstructure:"configPath"`
	BypassRules []BypassRule  `json:"bypassRules" yaml:"bypassRules" mapstructure:"bypassRules"`
	Log         Log           `json:"log" yaml:"log" mapstructure:"log"`
	Policy      Policy        `json:"policy" yaml:"policy" mapstructure:"policy"`
	Hook        Hook          `json:"hook" yaml:"hook" mapstructure:"hook"`
	ShutdownFor time.Duration `json:"shutdownGracePeriod" yaml:"shutdownGracePeriod" mapstructure:"shutdownGracePeriod"`

	InstallationID string `json:"-" yaml:"-" mapstructure:"-"`
	Version        string `json:"-" yaml:"-" mapstructure:"-"`
}

// Log configures utils/log's zap core, mirroring th_logging.c's
// DEBUG/INFO/WARNING/ERROR levels plus an on-disk log file.
type Log struct {
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	Path  string `json:"path" yaml:"path" mapstructure:"path"`
}

// Policy configures how the core reaches the Verdict Channel collaborator.
// CongressThreshold is accepted from config and flags but nothing in this
// repo reads it: the congress algorithm that would interpret it lives in
// the policy engine, never here.
type Policy struct {
	// Address names an out-of-process policy engine's socket address. It is
	// accepted from config and flags but not read: the run command always
	// renders verdicts with the in-process DefaultEngine (pkg/policy).
	Address           string  `json:"address" yaml:"address" mapstructure:"address"`
	CABundlePath      string  `json:"caBundlePath" yaml:"caBundlePath" mapstructure:"caBundlePath"`
	CongressThreshold float64 `json:"congressThreshold" yaml:"congressThreshold" mapstructure:"congressThreshold"`
}

// Hook configures the mechanism that installs the transport hooks, kept
// here only as the thin parameters pkg/agent/hooks/linux needs.
type Hook struct {
	// BufferPages is accepted from config but not read: the "events" ring
	// buffer that hands connect/send/recv/close events to userspace has
	// whatever size the compiled eBPF object declares.
	BufferPages int `json:"bufferPages" yaml:"bufferPages" mapstructure:"bufferPages"`
	// ObjectPath is the compiled eBPF object (built by a separate clang
	// step, not by `go build`) that pkg/agent/hooks/linux loads and
	// attaches; unset disables instrumentation.
	ObjectPath string `json:"objectPath" yaml:"objectPath" mapstructure:"objectPath"`
}

// BypassRule names a host/port pair the interceptor never attaches
// handshake monitoring to.
type BypassRule struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port uint   `json:"port" yaml:"port" mapstructure:"port"`
}

// Bypassed reports whether host/port matches one of cfg's bypass rules. An
// empty Host in a rule matches any host; a zero Port matches any port.
func (c *Config) Bypassed(host string, port uint) bool {
	for _, r := range c.BypassRules {
		if r.Host != "" && r.Host != host {
			continue
		}
		if r.Port != 0 && r.Port != port {
			continue
		}
		return true
	}
	return false
}
