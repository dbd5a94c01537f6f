package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/clusterlift/clusterlift/internal/config"
)

const DefaultPath = config.HomeDir + "/clusterlift.lock"

// ErrHeld is wrapped by Acquire when another live process holds the lock.
var ErrHeld = errors.New("session lock held")

// Acquire records the current PID in the lock file so that only one process
// drives the session at a time. A lock left by a dead process is taken over.
func Acquire(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	held, pid, err := IsHeld(path)
	if err != nil {
		return err
	}
	if held && pid != os.Getpid() {
		return fmt.Errorf("%w: another clusterlift process is running (PID %d)", ErrHeld, pid)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the lock file if this process owns it.
func Release(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	_, pid, err := IsHeld(path)
	if err != nil {
		return err
	}
	if pid != 0 && pid != os.Getpid() {
		return nil
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHeld checks if the lock is currently held by a running process.
func IsHeld(path string) (bool, int, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}
	return isProcessRunning(pid), pid, nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
