//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package internal

import (
	"os"
)

func lockFile(_ *os.File) error { return nil }

func unlockFile(_ *os.File) error { return nil }
