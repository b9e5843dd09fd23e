package internal

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrCorruption marks errors caused by a file that does not match the
	// expected layout (bad magic, impossible sizes, broken block chain).
	ErrCorruption = errors.New("smx: corruption")

	// ErrShortIO is returned when the OS reads or writes fewer bytes than requested.
	ErrShortIO = errors.New("smx: short read or write")

	// ErrOutOfMemory is returned when a table would grow beyond its addressable
	// maximum or the memory budget cannot be satisfied.
	ErrOutOfMemory = errors.New("smx: out of memory")
)

// CorruptionErrorf formats an error and marks it as ErrCorruption.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsCorruptionError returns true if err is (or wraps) a corruption error.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}
