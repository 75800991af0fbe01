package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balancer.pid")
	pid, err := Acquire(path)
	require.NoError(t, err)
	defer pid.Close()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	written, err := strconv.Atoi(strings.TrimSpace(string(content)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), written)
	assert.Equal(t, path, pid.Path())
}

func TestCloseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balancer.pid")
	pid, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, pid.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The lock is gone with the file, so a fresh acquire succeeds.
	pid, err = Acquire(path)
	require.NoError(t, err)
	assert.NoError(t, pid.Close())
}

func TestAcquireUnwritablePath(t *testing.T) {
	_, err := Acquire(filepath.Join(t.TempDir(), "missing", "balancer.pid"))
	assert.Error(t, err)
}
