// Package lockfile keeps watch mode single-instance per project
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeldByOther indicates another live process holds the project lock
var ErrHeldByOther = errors.New("watch mode is already running")

// HeldError carries the owning process ID so the caller can name it
type HeldError struct {
	PID int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("watch mode is already running (pid %d)", e.PID)
}

func (e *HeldError) Is(target error) bool {
	return target == ErrHeldByOther
}

// Lock is a pidfile claim on a project's watch mode
type Lock struct {
	path     string
	acquired bool
}

func lockPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".slipway", "watch.pid")
}

// Acquire claims the project for this process. A pidfile left behind by
// a dead process is stale and gets replaced; a live owner produces a
// HeldError naming its pid.
func Acquire(projectRoot string) (*Lock, error) {
	path := lockPath(projectRoot)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if pid, ok := readPID(path); ok && processAlive(pid) {
		return nil, &HeldError{PID: pid}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{path: path, acquired: true}, nil
}

// Release removes the pidfile. Releasing twice is a no-op.
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	l.acquired = false
	os.Remove(l.path)
}

// Owner reports the live process currently holding the project lock,
// if any.
func Owner(projectRoot string) (int, bool) {
	pid, ok := readPID(lockPath(projectRoot))
	if !ok || !processAlive(pid) {
		return 0, false
	}
	return pid, true
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes the pid with signal 0, which delivers nothing but
// still reports whether the process exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// An EPERM answer still proves the process exists
	return errors.Is(err, syscall.EPERM)
}
