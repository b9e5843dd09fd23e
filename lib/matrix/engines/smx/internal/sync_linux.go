//go:build linux

package internal

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncData flushes file data (not metadata such as mtime) to stable storage.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
