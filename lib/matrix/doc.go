// Package matrix defines the interface for sparse matrix implementations
// used throughout smatrix. It establishes a contract that all counter store
// engines must fulfill, enabling interchangeable engines with consistent behavior.
//
// The package focuses on:
//   - Defining a uniform interface (SparseMatrix) for (row, column) -> counter stores
//   - Supporting lazy persistence through an append-only backing file
//   - Providing a feature detection system for capability discovery
//   - Providing introspection through MatrixInfo and Prometheus metrics
//
// Key Components:
//
//   - SparseMatrix Interface: The core interface that all engines must implement.
//     It provides methods for point reads and writes (Get, Set, Incr, Decr),
//     row reads (RowLength, GetRow), persistence (Flush, Close) and
//     introspection (GetInfo, WriteMetrics, SupportsFeature).
//
//   - Feature: A bit-flag type that allows engines to declare supported
//     capabilities. A memory-only engine for example does not support
//     FeaturePersistence or FeatureEviction.
//
//   - MatrixInfo: Provides statistics about the matrix, including row counts,
//     resident rows, memory usage and file size.
//
// The primary consumer of this package is an item co-occurrence recommender:
// for every session of items it increments (a, b) for each ordered pair, and
// reads rows back to compute similarities. That logic lives outside this module.
//
// See the engines package for concrete implementations of the SparseMatrix interface.
package matrix
