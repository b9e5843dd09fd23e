//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package internal

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock on the data file so that two
// engines never append to the same file.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return errors.Newf("smx: %s is locked by another process", f.Name())
		}
		return errors.Wrapf(err, "smx: lock %s", f.Name())
	}
	return nil
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
