// Package lockfile protects the backup store against a second process
// instance. The in-process engine mutex already serializes backup and
// restore within one process; the lock file extends that exclusion across
// processes on the same machine.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a held lock file. Release removes it.
type Lock struct {
	path string
}

// Acquire creates the lock file exclusively, writing this process's PID into
// it. A lock file left behind by a dead process (its PID no longer running)
// is treated as stale and replaced.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock file: %w", werr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		pid, perr := readPID(path)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("another instance holds the lock (pid %d)", pid)
		}

		// Stale or unreadable lock: remove and retry once.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("removing stale lock file: %w", rerr)
		}
	}

	return nil, fmt.Errorf("could not acquire lock at %s", path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the permission/existence check without signalling.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
