//go:build !linux

package internal

import (
	"os"
)

func syncData(f *os.File) error {
	return f.Sync()
}
