package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ibeckermayer/xwatcher/internal/logging"
)

// ErrHeld is returned when a live process already owns the lock
var ErrHeld = errors.New("another instance is running")

// Lock is a PID file guarded by an advisory file lock
type Lock struct {
	path string
	pid  int
	f    *os.File
}

// Acquire takes the lock at path. A lock file naming a process that is no
// longer alive is reclaimed.
func Acquire(path string) (*Lock, error) {
	log := logging.For("lock")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		if owner, ok := readPID(path); ok {
			return nil, fmt.Errorf("%w (pid %d)", ErrHeld, owner)
		}
		return nil, ErrHeld
	}

	// the flock is ours; a leftover PID is only a problem if that process
	// is still alive and somehow not holding the flock
	if owner, ok := readPID(path); ok && owner != os.Getpid() {
		if alive(owner) {
			unlock(f)
			f.Close()
			return nil, fmt.Errorf("%w (pid %d)", ErrHeld, owner)
		}
		log.WithField("pid", owner).Warn("reclaiming stale lock")
	}

	pid := os.Getpid()
	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		log.WithError(err).Warn("failed to sync lock file")
	}

	return &Lock{path: path, pid: pid, f: f}, nil
}

// Release removes the lock file if this process is still its recorded owner
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer func() {
		unlock(l.f)
		l.f.Close()
		l.f = nil
	}()

	owner, ok := readPID(l.path)
	if !ok || owner != l.pid {
		logging.For("lock").WithField("owner", owner).Warn("lock file owned by another process, leaving it")
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Owner returns the pid recorded in the lock file at path, if any
func Owner(path string) (int, bool) {
	return readPID(path)
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
