// Package cmd implements the command-line interface for smatrix. Every
// command opens the data file given by --file, runs and closes it again.
//
// The package is organized into several subpackages:
//
//   - matrix: Commands for counter operations (get, set, incr, decr, len, row),
//     inspection (info) and bulk work (import, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can also be set through SMX_ prefixed environment variables or a
// .env file, e.g. SMX_MEMORY_LIMIT=512.
//
// See smx -help for a list of all commands.
package cmd
