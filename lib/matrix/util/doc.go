// Package util provides utility components for
// sparse matrix implementations that satisfy the matrix.SparseMatrix interface.
//
// The package contains:
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue used to hand dirty rows to a single write-back goroutine
//   - mapheap: A priority queue with key-based access, used to find the least recently touched resident row for eviction
//   - statistics: A LengthHistogram for tracking row-length distribution and helpers for summary statistics
//   - functions: Hash functions for mapping external identifiers onto 32-bit matrix keys
//
// This package is particularly useful for:
//   - Engine developers implementing the SparseMatrix interface
//   - Background workers that need an unbounded, contention-friendly hand-off queue
//   - Monitoring code that reports on the shape of the matrix without full scans
package util
