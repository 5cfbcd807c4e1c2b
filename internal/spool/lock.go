package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrLocked is returned by AcquireLock while another live process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// LockFileName is the PID file shared by every job that touches the spool.
const LockFileName = "deliver.pid"

// Lock is a held PID lock file.
type Lock struct {
	path string
}

// AcquireLock creates the PID file at path. A lock left behind by a process
// that no longer exists is removed and taken over. The PID is written to a
// temporary file first and linked into place, so the lock file is never
// observed empty.
func AcquireLock(path string) (*Lock, error) {
	tmp, err := writePIDFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp) }()

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		pid, alive := lockOwner(path)
		if alive {
			return nil, fmt.Errorf("%w (PID %d)", ErrLocked, pid)
		}
		// Stale PID file.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// writePIDFile writes this process's PID to a temporary file next to path.
func writePIDFile(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create lock %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write lock %s: %w", path, err)
	}
	return f.Name(), nil
}

// lockOwner reads the PID from a lock file and reports whether that
// process is still running. Unreadable or empty files count as stale.
func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, true
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return pid, true
	}
	return pid, exists
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file unless another process has taken it over.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return fmt.Errorf("release lock %s: held by PID %s", l.path, strings.TrimSpace(string(data)))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
