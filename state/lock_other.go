//go:build !unix

package state

import (
	"os"

	"github.com/pkg/errors"
)

// Lock holds the lock file open. Without flock(2) it does not exclude other
// builds.
type Lock struct {
	f *os.File
}

// LockFile opens lockPath, creating it if needed.
func LockFile(lockPath string) (*Lock, error) {
	if err := EnsureParentDir(lockPath); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock %q", lockPath)
	}
	return &Lock{f: f}, nil
}

// Close closes the lock file.
func (l *Lock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
