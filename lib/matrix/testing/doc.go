// Package testing provides standardised tests and benchmarks for
// sparse matrix implementations that satisfy the matrix.SparseMatrix interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the SparseMatrix contract
//     (counter semantics, getRow truncation, concurrent increments, persistence)
//   - benchmark: Performance tests for measuring throughput of common matrix operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() matrix.SparseMatrix {
//		return NewMyMatrix()
//	}
//
//	// Running the standard test suite
//	testing.RunMatrixTests(t, "MyMatrix", factory)
//
//	// Running the persistence tests for file-backed implementations
//	testing.RunPersistenceTests(t, "MyMatrix", func(path string) (matrix.SparseMatrix, error) {
//		return OpenMyMatrix(path)
//	})
//
//	// Running performance benchmarks
//	testing.RunMatrixBenchmarks(b, "MyMatrix", factory)
package testing
