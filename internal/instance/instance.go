// Package instance keeps a single server running per pid file.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/logger"
)

// DefaultGrace is how long a previous instance gets to exit after SIGINT
// before it is killed.
const DefaultGrace = 2 * time.Second

// ErrStillRunning is returned when a previous instance survived SIGKILL,
// usually because it runs with higher privileges.
var ErrStillRunning = errors.New("instance: previous instance still running")

// Lock is a held pid file.
type Lock struct {
	path string
	pid  int
}

// Acquire stops any instance recorded in path and records this process.
func Acquire(path string, grace time.Duration) (*Lock, error) {
	log := logger.WithComponent("instance")
	self := os.Getpid()

	if pid, err := readPID(path); err == nil && pid != self && alive(pid) {
		log.Warn().Int("pid", pid).Str("pid_file", path).Msg("Stopping existing instance")
		if err := stop(pid, grace); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	log.Debug().Int("pid", self).Str("pid_file", path).Msg("PID file written")
	return &Lock{path: path, pid: self}, nil
}

// Release removes the pid file if it still names this process.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	pid, err := readPID(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

func stop(pid int, grace time.Duration) error {
	if err := interrupt(pid); err != nil && alive(pid) {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	if waitExit(pid, grace) {
		return nil
	}
	logger.WithComponent("instance").Warn().Int("pid", pid).Msg("Existing instance ignored SIGINT, killing")
	kill(pid)
	if waitExit(pid, 500*time.Millisecond) {
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStillRunning, pid)
}

func waitExit(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return !alive(pid)
}
