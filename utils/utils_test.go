// Package utils holds small helpers shared across the interceptor's cmd,
// config, agent, and policy packages.
package utils

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// IsShutdownError Tests
// =============================================================================

// TestIsShutdownError validates the detection of shutdown-related errors.
func TestIsShutdownError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "io.EOF error",
			err:      io.EOF,
			expected: true,
		},
		{
			name:     "io.ErrUnexpectedEOF error",
			err:      io.ErrUnexpectedEOF,
			expected: true,
		},
		{
			name:     "connection refused error",
			err:      errors.New("dial tcp: connection refused"),
			expected: true,
		},
		{
			name:     "connection reset error",
			err:      errors.New("read: connection reset by peer"),
			expected: true,
		},
		{
			name:     "broken pipe error",
			err:      errors.New("write: broken pipe"),
			expected: true,
		},
		{
			name:     "closed network connection error",
			err:      errors.New("use of closed network connection"),
			expected: true,
		},
		{
			name:     "EOF in error message",
			err:      errors.New("unexpected EOF while reading"),
			expected: true,
		},
		{
			name:     "regular error",
			err:      errors.New("some random error"),
			expected: false,
		},
		{
			name:     "timeout error (not shutdown)",
			err:      errors.New("context deadline exceeded"),
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := IsShutdownError(tc.err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

// =============================================================================
// CheckFileExists Tests
// =============================================================================

// TestCheckFileExists validates file existence checking.
func TestCheckFileExists(t *testing.T) {
	tempFile, err := os.CreateTemp("", "test-file-*.txt")
	require.NoError(t, err)
	tempFilePath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempFilePath)

	t.Run("existing file", func(t *testing.T) {
		result := CheckFileExists(tempFilePath)
		assert.True(t, result)
	})

	t.Run("non-existing file", func(t *testing.T) {
		result := CheckFileExists("/path/to/non-existing-file.txt")
		assert.False(t, result)
	})

	t.Run("empty path", func(t *testing.T) {
		result := CheckFileExists("")
		assert.False(t, result)
	})
}

// =============================================================================
// FileExists Tests
// =============================================================================

// TestFileExists validates file existence checking with directory distinction.
func TestFileExists(t *testing.T) {
	tempFile, err := os.CreateTemp("", "test-file-*.txt")
	require.NoError(t, err)
	tempFilePath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempFilePath)

	tempDir, err := os.MkdirTemp("", "test-dir-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	t.Run("existing file", func(t *testing.T) {
		exists, err := FileExists(tempFilePath)
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("directory returns false", func(t *testing.T) {
		exists, err := FileExists(tempDir)
		assert.NoError(t, err)
		assert.False(t, exists) // FileExists returns false for directories
	})

	t.Run("non-existing file", func(t *testing.T) {
		exists, err := FileExists("/path/to/non-existing-file.txt")
		assert.NoError(t, err)
		assert.False(t, exists)
	})
}

// =============================================================================
// GetAbsPath Tests
// =============================================================================

// TestGetAbsPath validates absolute path resolution.
func TestGetAbsPath(t *testing.T) {
	t.Run("relative path", func(t *testing.T) {
		result, err := GetAbsPath(".")
		assert.NoError(t, err)
		assert.True(t, filepath.IsAbs(result))
	})

	t.Run("current directory", func(t *testing.T) {
		cwd, err := os.Getwd()
		require.NoError(t, err)

		result, err := GetAbsPath(".")
		assert.NoError(t, err)
		assert.Equal(t, cwd, result)
	})

	t.Run("nested relative path", func(t *testing.T) {
		result, err := GetAbsPath("./subdir/file.txt")
		assert.NoError(t, err)
		assert.True(t, filepath.IsAbs(result))
		assert.Contains(t, result, "subdir")
	})

	t.Run("absolute path unchanged", func(t *testing.T) {
		if absPath, err := filepath.Abs("/tmp"); err == nil {
			result, err := GetAbsPath(absPath)
			assert.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
		}
	})
}

// =============================================================================
// Hash Tests
// =============================================================================

// TestHash validates SHA256 hashing, used to fingerprint captured leaf
// certificates for the policy engine's decision log.
func TestHash(t *testing.T) {
	t.Run("hash of empty data", func(t *testing.T) {
		result := Hash([]byte{})
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", result)
	})

	t.Run("hash of hello world", func(t *testing.T) {
		result := Hash([]byte("hello world"))
		assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", result)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		data := []byte("test data")
		hash1 := Hash(data)
		hash2 := Hash(data)
		assert.Equal(t, hash1, hash2)
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		hash1 := Hash([]byte("data1"))
		hash2 := Hash([]byte("data2"))
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("hash length is 64 characters", func(t *testing.T) {
		result := Hash([]byte("any data"))
		assert.Len(t, result, 64) // SHA256 produces 32 bytes = 64 hex chars
	})
}

// =============================================================================
// ExpandPath Tests
// =============================================================================

// TestExpandPath validates path expansion with tilde.
func TestExpandPath(t *testing.T) {
	t.Run("path without tilde", func(t *testing.T) {
		path := "/usr/local/bin"
		result, err := ExpandPath(path)
		assert.NoError(t, err)
		assert.Equal(t, path, result)
	})

	t.Run("relative path without tilde", func(t *testing.T) {
		path := "./local/path"
		result, err := ExpandPath(path)
		assert.NoError(t, err)
		assert.Equal(t, path, result)
	})

	t.Run("path with tilde", func(t *testing.T) {
		path := "~/mydir/file.txt"
		result, err := ExpandPath(path)
		assert.NoError(t, err)
		assert.NotContains(t, result, "~")
		assert.Contains(t, result, "mydir/file.txt")
	})

	t.Run("just tilde slash", func(t *testing.T) {
		path := "~/"
		result, err := ExpandPath(path)
		assert.NoError(t, err)
		assert.NotEqual(t, path, result)
	})
}

// =============================================================================
// IsFileEmpty Tests
// =============================================================================

// TestIsFileEmpty validates empty file detection.
func TestIsFileEmpty(t *testing.T) {
	emptyFile, err := os.CreateTemp("", "empty-*.txt")
	require.NoError(t, err)
	emptyFilePath := emptyFile.Name()
	emptyFile.Close()
	defer os.Remove(emptyFilePath)

	nonEmptyFile, err := os.CreateTemp("", "nonempty-*.txt")
	require.NoError(t, err)
	nonEmptyFilePath := nonEmptyFile.Name()
	_, err = nonEmptyFile.WriteString("some content")
	require.NoError(t, err)
	nonEmptyFile.Close()
	defer os.Remove(nonEmptyFilePath)

	t.Run("empty file", func(t *testing.T) {
		isEmpty, err := IsFileEmpty(emptyFilePath)
		assert.NoError(t, err)
		assert.True(t, isEmpty)
	})

	t.Run("non-empty file", func(t *testing.T) {
		isEmpty, err := IsFileEmpty(nonEmptyFilePath)
		assert.NoError(t, err)
		assert.False(t, isEmpty)
	})

	t.Run("non-existing file", func(t *testing.T) {
		_, err := IsFileEmpty("/path/to/non-existing-file.txt")
		assert.Error(t, err)
	})
}

// =============================================================================
// LogError / Recover Tests
// =============================================================================

func TestLogError_NilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		LogError(nil, errors.New("boom"), "something failed")
	})
}

func TestLogError_LogsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	LogError(logger, errors.New("boom"), "something failed", zap.String("component", "test"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "something failed", entries[0].Message)
	assert.Equal(t, "component", entries[0].Context[0].Key)
}

func TestRecover_NilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		func() {
			defer Recover(nil)
			panic("boom")
		}()
	})
}

func TestRecover_LogsRecoveredPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	func() {
		defer Recover(logger)
		panic("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "recovered from panic", entries[0].Message)
}
