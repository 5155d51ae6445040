package utils

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDManager(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "test.pid")

	t.Run("WritePID", func(t *testing.T) {
		manager := NewPIDManager(pidFile)
		assert.Equal(t, pidFile, manager.GetPIDFile())
		require.NoError(t, manager.WritePID())

		content, err := os.ReadFile(pidFile)
		require.NoError(t, err)
		pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("RemovePID", func(t *testing.T) {
		manager := NewPIDManager(pidFile)
		require.NoError(t, manager.WritePID())
		require.NoError(t, manager.RemovePID())

		_, err := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("WritePID with non-existent directory", func(t *testing.T) {
		manager := NewPIDManager(filepath.Join(tmpDir, "subdir", "test.pid"))
		require.NoError(t, manager.WritePID())
		_, err := os.Stat(manager.GetPIDFile())
		require.NoError(t, err)
	})
}

func TestPIDManager_Signal(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "test.pid")

	err := NewPIDManager("").Signal(syscall.SIGTERM)
	assert.ErrorContains(t, err, "PID file path is empty")

	err = NewPIDManager(filepath.Join(tmpDir, "missing.pid")).Signal(syscall.SIGTERM)
	assert.ErrorContains(t, err, "failed to read PID file")

	require.NoError(t, os.WriteFile(pidFile, []byte("invalid"), 0644))
	err = NewPIDManager(pidFile).Signal(syscall.SIGTERM)
	assert.ErrorContains(t, err, "invalid PID format")

	require.NoError(t, os.WriteFile(pidFile, []byte("0"), 0644))
	err = NewPIDManager(pidFile).Signal(syscall.SIGTERM)
	assert.ErrorContains(t, err, "invalid PID value")

	// signal 0 probes the process without affecting it
	require.NoError(t, NewPIDManager(pidFile).WritePID())
	assert.NoError(t, NewPIDManager(pidFile).Signal(syscall.Signal(0)))
}
