// Package utils holds small helpers shared across the interceptor's cmd,
// config, agent, and policy packages.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

// Version is set at build time via -ldflags and surfaces in the root
// command's --version output and the Sentry scope tags.
var Version string

// shutdownSubstrings are fragments of error messages the standard library
// and the kernel both produce when a socket's peer has gone away or the
// process is shutting down — none of them indicate a real transport
// failure the interceptor should log as unexpected.
var shutdownSubstrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"closed network connection",
	"EOF",
}

// IsShutdownError reports whether err represents an expected
// connection-teardown condition rather than an unexpected transport error.
func IsShutdownError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, s := range shutdownSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// CheckFileExists reports whether path names an existing file or directory,
// swallowing stat errors (including "path is empty") as non-existence.
func CheckFileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// FileExists reports whether path names an existing regular file,
// returning false (not an error) for directories.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// GetAbsPath resolves path relative to the current working directory.
func GetAbsPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}
	return abs, nil
}

// ExpandPath expands a leading "~" in path to the current user's home
// directory, leaving any other path unchanged.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(u.HomeDir, strings.TrimPrefix(path, "~")), nil
}

// IsFileEmpty reports whether the file at path has zero length.
func IsFileEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	return info.Size() == 0, nil
}

// Hash returns the hex-encoded SHA256 digest of data, used to fingerprint
// captured leaf certificates for the policy engine's decision log.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LogError is the error-logging helper the cmd, config-loading, policy and
// agent error paths funnel through (the transport hooks call logger.Error
// directly): it logs err at Error level with msg and any extra fields, plus
// the error itself as a zap.Error field. A nil logger is tolerated (used in
// tests and by components constructed before logging is wired up) and
// simply skips the log.
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
}

// Recover logs a panic recovered from a goroutine instead of letting it
// crash the process. It wraps the policy query goroutines policy.Async
// spawns and the root command's Execute; the installer goroutine core.Run
// starts is not wrapped.
func Recover(logger *zap.Logger) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error("recovered from panic", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		}
	}
}
