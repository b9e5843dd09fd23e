// Package smx implements a concurrent, disk-backed sparse counter matrix.
// It provides a complete implementation of the matrix.SparseMatrix interface
// with a focus on many concurrent increments, lazy loading of rows and a
// single append-only data file.
//
// The package focuses on:
//   - Fine-grained concurrency through one reader/writer lock per row plus
//     one lock for the row index
//   - Lazy persistence: rows are loaded on first access and written back
//     in the background, on Flush or on Close
//   - Bounded memory through LRU eviction of clean rows
//   - Comprehensive metrics and statistics for monitoring
//
// Key Components:
//
//   - Engine: The façade implementing matrix.SparseMatrix. It owns the row
//     index, the backing file and the write-back worker, and maps every
//     public operation onto a lookup in the index followed by a read or write
//     on a single row table.
//
//   - RowIndex (internal): An open-addressing hash table from row key to row
//     table. It grows by doubling and records every row in a chain of
//     append-only index blocks so the matrix can be rebuilt on open.
//
//   - RowTable (internal): An open-addressing hash table from column key to
//     counter. Rows start small, double when three quarters full and are
//     relocated to a fresh block of the file when they grow.
//
//   - Lock (internal): A spinning reader/writer lock with a two-phase
//     exclusive acquire. A writer first announces itself, which blocks new
//     readers, and then waits for the existing readers to drain. Announcing
//     can be abandoned, which is how eviction skips rows that are in use.
//
// File Layout:
//
// The data file starts with a 512-byte header holding a magic number and the
// offset of the first index block. Everything after the header is appended:
//
//	header      | magic (8) | first index block (8) | reserved |
//	index block | capacity (8) | next block (8) | entries (12 each) |
//	entry       | row key (4) | row block offset (8) |
//	row block   | magic (8) | capacity (8) | slots (8 each) |
//	slot        | column key (4) | counter (4) |
//
// Space is never reclaimed. When a row outgrows its block it is written to a
// new block and its index entry is rewritten to point there. A slot with
// column key 0 and counter 0 marks an empty slot on disk, so such an entry
// is kept in memory but does not survive a reopen.
//
// Arithmetic:
//
// By default Incr and Decr saturate at the bounds of uint32. With
// Options.CheckedArithmetic they return ErrCounterOverflow or
// ErrCounterUnderflow instead and leave the matrix unchanged.
//
// Example usage:
//
//	m, err := smx.Open("cooc.smx", nil)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	m.Incr(itemA, itemB, 1)
//	top, err := m.GetRow(itemA, 100)
package smx
