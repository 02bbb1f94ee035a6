//go:build unix

package instance

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "server.pid")
	lock, err := Acquire(path, DefaultGrace)
	require.NoError(t, err)

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// acquiring again from the same process does not signal itself
	again, err := Acquire(path, DefaultGrace)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, again.Release())
}

func TestReleaseLeavesForeignPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	lock, err := Acquire(path, DefaultGrace)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0644))
	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestStaleAndGarbagePIDFiles(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not a pid"), 0644))
	lock, err := Acquire(garbage, DefaultGrace)
	require.NoError(t, err)
	lock.Release()
}

func TestAcquireStopsPreviousInstance(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	path := filepath.Join(t.TempDir(), "server.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

	lock, err := Acquire(path, time.Second)
	require.NoError(t, err)
	defer lock.Release()

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		t.Fatal("previous instance was not stopped")
	}
}
