//go:build unix

package state

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Lock is an advisory file lock held via flock(2).
type Lock struct {
	f *os.File
}

// LockFile opens and exclusively locks lockPath, creating it if needed. It
// blocks while another build holds the lock.
func LockFile(lockPath string) (*Lock, error) {
	if err := EnsureParentDir(lockPath); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock %q", lockPath)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "flock %q", lockPath)
	}
	return &Lock{f: f}, nil
}

// Close unlocks and closes the lock file.
func (l *Lock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
