package testing

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ValentinKolb/smatrix/lib/matrix"
)

// MatrixFactory is a function that creates a new, empty SparseMatrix
type MatrixFactory func() matrix.SparseMatrix

// PersistentFactory opens (or creates) the SparseMatrix stored at path
type PersistentFactory func(path string) (matrix.SparseMatrix, error)

// RunMatrixTests runs a comprehensive test suite for a SparseMatrix implementation.
func RunMatrixTests(t *testing.T, name string, factory MatrixFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("IncrDecr", func(t *testing.T) {
			testIncrDecr(t, factory())
		})

		t.Run("IdempotentInsert", func(t *testing.T) {
			testIdempotentInsert(t, factory())
		})

		t.Run("AbsentLookups", func(t *testing.T) {
			testAbsentLookups(t, factory())
		})

		t.Run("GetRow", func(t *testing.T) {
			testGetRow(t, factory())
		})

		t.Run("GetRowTruncation", func(t *testing.T) {
			testGetRowTruncation(t, factory())
		})

		t.Run("ResizePreservesMembership", func(t *testing.T) {
			testResizePreservesMembership(t, factory())
		})

		t.Run("ConcurrentIncrSameCell", func(t *testing.T) {
			testConcurrentIncrSameCell(t, factory())
		})

		t.Run("ConcurrentDisjointRows", func(t *testing.T) {
			testConcurrentDisjointRows(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory())
		})
	})
}

// RunPersistenceTests runs the tests that close and reopen a file-backed SparseMatrix.
func RunPersistenceTests(t *testing.T, name string, open PersistentFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, open)
		})

		t.Run("ManyRowsRoundTrip", func(t *testing.T) {
			testManyRowsRoundTrip(t, open)
		})

		t.Run("ReopenAndExtend", func(t *testing.T) {
			testReopenAndExtend(t, open)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the matrix supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, m matrix.SparseMatrix, feature matrix.Feature) {
	if !m.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustGet(t *testing.T, m matrix.SparseMatrix, row, col uint32) uint32 {
	t.Helper()
	v, err := m.Get(row, col)
	if err != nil {
		t.Fatalf("Get(%d, %d) failed: %v", row, col, err)
	}
	return v
}

func mustRowLength(t *testing.T, m matrix.SparseMatrix, row uint32) uint32 {
	t.Helper()
	n, err := m.RowLength(row)
	if err != nil {
		t.Fatalf("RowLength(%d) failed: %v", row, err)
	}
	return n
}

func mustOpen(t *testing.T, open PersistentFactory, path string) matrix.SparseMatrix {
	t.Helper()
	m, err := open(path)
	if err != nil {
		t.Fatalf("Opening %s failed: %v", path, err)
	}
	return m
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureSet|matrix.FeatureGet)

	v, err := m.Set(1, 2, 42)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Set should return the new value 42, got %d", v)
	}

	if got := mustGet(t, m, 1, 2); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}

	// overwrite
	_, _ = m.Set(1, 2, 7)
	if got := mustGet(t, m, 1, 2); got != 7 {
		t.Errorf("Expected 7 after overwrite, got %d", got)
	}

	// neighbours are unaffected
	if got := mustGet(t, m, 1, 3); got != 0 {
		t.Errorf("Expected 0 for an absent column, got %d", got)
	}
	if got := mustGet(t, m, 2, 2); got != 0 {
		t.Errorf("Expected 0 for an absent row, got %d", got)
	}
}

func testIncrDecr(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureIncr|matrix.FeatureDecr|matrix.FeatureGet)

	for i := 1; i <= 5; i++ {
		v, err := m.Incr(10, 20, 2)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if v != uint32(i*2) {
			t.Errorf("Incr should return %d, got %d", i*2, v)
		}
	}

	v, err := m.Decr(10, 20, 3)
	if err != nil {
		t.Fatalf("Decr failed: %v", err)
	}
	if v != 7 {
		t.Errorf("Decr should return 7, got %d", v)
	}

	if got := mustGet(t, m, 10, 20); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
}

func testIdempotentInsert(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureIncr|matrix.FeatureRowLength)

	_, _ = m.Incr(5, 9, 1)
	_, _ = m.Incr(5, 9, 1)

	if n := mustRowLength(t, m, 5); n != 1 {
		t.Errorf("Inserting the same pair twice should leave 1 entry, got %d", n)
	}

	_, _ = m.Incr(5, 10, 1)
	if n := mustRowLength(t, m, 5); n != 2 {
		t.Errorf("Expected 2 entries, got %d", n)
	}
}

func testAbsentLookups(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureGet|matrix.FeatureRowLength|matrix.FeatureGetRow)

	_, _ = m.Set(1, 1, 1)
	before := m.GetInfo().Rows

	if got := mustGet(t, m, 999, 1); got != 0 {
		t.Errorf("Expected 0 for an absent row, got %d", got)
	}
	if n := mustRowLength(t, m, 999); n != 0 {
		t.Errorf("Expected length 0 for an absent row, got %d", n)
	}
	entries, err := m.GetRow(999, 10)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries for an absent row, got %d", len(entries))
	}

	if after := m.GetInfo().Rows; after != before {
		t.Errorf("Absent lookups created rows: %d before, %d after", before, after)
	}
}

func testGetRow(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureSet|matrix.FeatureGetRow)

	expected := make(map[uint32]uint32)
	for col := uint32(1); col <= 10; col++ {
		_, _ = m.Set(3, col*100, col)
		expected[col*100] = col
	}

	entries, err := m.GetRow(3, 100)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if len(entries) != len(expected) {
		t.Fatalf("Expected %d entries, got %d", len(expected), len(entries))
	}

	seen := make(map[uint32]bool)
	for _, e := range entries {
		if seen[e.Column] {
			t.Errorf("Column %d returned twice", e.Column)
		}
		seen[e.Column] = true
		if want, ok := expected[e.Column]; !ok || want != e.Value {
			t.Errorf("Unexpected entry %+v", e)
		}
	}
}

func testGetRowTruncation(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureSet|matrix.FeatureGetRow)

	for col := uint32(1); col <= 10; col++ {
		_, _ = m.Set(4, col, col)
	}

	entries, err := m.GetRow(4, 3)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected exactly 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Column < 1 || e.Column > 10 || e.Value != e.Column {
			t.Errorf("Unexpected entry %+v", e)
		}
	}

	entries, err = m.GetRow(4, 0)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries for capacity 0, got %d", len(entries))
	}
}

func testResizePreservesMembership(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureSet|matrix.FeatureGet|matrix.FeatureRowLength)

	// enough columns to grow any reasonable initial row size several times
	const columns = 5000
	for col := uint32(0); col < columns; col++ {
		if _, err := m.Set(7, col*13+1, col+1); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// overwrite some values after the growth
	for col := uint32(0); col < columns; col += 10 {
		_, _ = m.Set(7, col*13+1, col+2)
	}

	if n := mustRowLength(t, m, 7); n != columns {
		t.Errorf("Expected %d entries, got %d", columns, n)
	}
	for col := uint32(0); col < columns; col++ {
		want := col + 1
		if col%10 == 0 {
			want = col + 2
		}
		if got := mustGet(t, m, 7, col*13+1); got != want {
			t.Errorf("Column %d: expected %d, got %d", col*13+1, want, got)
		}
	}
}

func testConcurrentIncrSameCell(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureIncr|matrix.FeatureGet)

	const goroutines = 16
	const increments = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				if _, err := m.Incr(1, 1, 1); err != nil {
					t.Errorf("Incr failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := mustGet(t, m, 1, 1); got != goroutines*increments {
		t.Errorf("Expected %d, got %d", goroutines*increments, got)
	}
}

func testConcurrentDisjointRows(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureIncr|matrix.FeatureGet|matrix.FeatureRowLength)

	const goroutines = 16
	const increments = 500
	const columns = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(row uint32) {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				if _, err := m.Incr(row, uint32(i%columns), 1); err != nil {
					t.Errorf("Incr failed: %v", err)
					return
				}
			}
		}(uint32(g + 1000))
	}
	wg.Wait()

	for g := 0; g < goroutines; g++ {
		row := uint32(g + 1000)
		if n := mustRowLength(t, m, row); n != columns {
			t.Errorf("Row %d: expected %d entries, got %d", row, columns, n)
		}
		for col := uint32(0); col < columns; col++ {
			if got := mustGet(t, m, row, col); got != increments/columns {
				t.Errorf("Row %d column %d: expected %d, got %d", row, col, increments/columns, got)
			}
		}
	}
}

func testEdgeCases(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureSet|matrix.FeatureGet|matrix.FeatureRowLength)

	// extreme keys
	keys := []uint32{0, 1, 1 << 31, ^uint32(0)}
	for _, row := range keys {
		for _, col := range keys {
			_, _ = m.Set(row, col, row^col|1)
		}
	}
	for _, row := range keys {
		if n := mustRowLength(t, m, row); n != uint32(len(keys)) {
			t.Errorf("Row %d: expected %d entries, got %d", row, len(keys), n)
		}
		for _, col := range keys {
			if got := mustGet(t, m, row, col); got != row^col|1 {
				t.Errorf("(%d, %d): expected %d, got %d", row, col, row^col|1, got)
			}
		}
	}

	// column 0 with a zero value is a live entry
	_, _ = m.Set(50, 0, 0)
	if n := mustRowLength(t, m, 50); n != 1 {
		t.Errorf("Setting (50, 0) to 0 should create an entry, got length %d", n)
	}

	// maximum counter value
	_, _ = m.Set(51, 1, ^uint32(0))
	if got := mustGet(t, m, 51, 1); got != ^uint32(0) {
		t.Errorf("Expected max counter, got %d", got)
	}
}

func testRealisticUsage(t *testing.T, m matrix.SparseMatrix) {
	defer m.Close()

	requireFeature(t, m, matrix.FeatureIncr|matrix.FeatureGet|matrix.FeatureGetRow)

	// co-occurrence counting: every pair of items in a session is incremented
	// in both directions, mirroring how collaborators feed the matrix
	rng := rand.New(rand.NewSource(42))
	expected := make(map[[2]uint32]uint32)

	for session := 0; session < 200; session++ {
		items := make([]uint32, 2+rng.Intn(6))
		for i := range items {
			items[i] = uint32(rng.Intn(50) + 1)
		}
		for i, a := range items {
			for j, b := range items {
				if i == j {
					continue
				}
				if _, err := m.Incr(a, b, 1); err != nil {
					t.Fatalf("Incr failed: %v", err)
				}
				expected[[2]uint32{a, b}]++
			}
		}
	}

	for pair, want := range expected {
		if got := mustGet(t, m, pair[0], pair[1]); got != want {
			t.Errorf("(%d, %d): expected %d, got %d", pair[0], pair[1], want, got)
		}
	}

	for row := uint32(1); row <= 50; row++ {
		entries, err := m.GetRow(row, 1000)
		if err != nil {
			t.Fatalf("GetRow failed: %v", err)
		}
		for _, e := range entries {
			if expected[[2]uint32{row, e.Column}] != e.Value {
				t.Errorf("Row %d: unexpected entry %+v", row, e)
			}
		}
	}
}

func testClosed(t *testing.T, m matrix.SparseMatrix) {
	_, _ = m.Set(1, 1, 1)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := m.Get(1, 1); err == nil {
		t.Error("Get after Close should fail")
	}
	if _, err := m.Incr(1, 1, 1); err == nil {
		t.Error("Incr after Close should fail")
	}
	if err := m.Close(); err == nil {
		t.Error("Second Close should fail")
	}
}

// --------------------------------------------------------------------------
// Persistence test functions
// --------------------------------------------------------------------------

func testRoundTrip(t *testing.T, open PersistentFactory) {
	path := filepath.Join(t.TempDir(), "roundtrip.smx")

	m := mustOpen(t, open, path)
	requireFeature(t, m, matrix.FeaturePersistence)

	_, _ = m.Set(1, 2, 3)
	_, _ = m.Incr(1, 4, 5)
	_, _ = m.Set(100, 200, 300)
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m = mustOpen(t, open, path)
	defer m.Close()

	if got := mustGet(t, m, 1, 2); got != 3 {
		t.Errorf("Expected 3 after reopen, got %d", got)
	}
	if got := mustGet(t, m, 1, 4); got != 5 {
		t.Errorf("Expected 5 after reopen, got %d", got)
	}
	if got := mustGet(t, m, 100, 200); got != 300 {
		t.Errorf("Expected 300 after reopen, got %d", got)
	}
	if n := mustRowLength(t, m, 1); n != 2 {
		t.Errorf("Expected row length 2 after reopen, got %d", n)
	}
}

func testManyRowsRoundTrip(t *testing.T, open PersistentFactory) {
	path := filepath.Join(t.TempDir(), "many.smx")

	m := mustOpen(t, open, path)
	requireFeature(t, m, matrix.FeaturePersistence)

	const rows = 2000
	for row := uint32(1); row <= rows; row++ {
		for col := uint32(1); col <= row%25+1; col++ {
			if _, err := m.Set(row, col, row+col); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
	}
	// Close alone must persist everything
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m = mustOpen(t, open, path)
	defer m.Close()

	if got := m.GetInfo().Rows; got != rows {
		t.Errorf("Expected %d rows after reopen, got %d", rows, got)
	}
	for row := uint32(1); row <= rows; row++ {
		if n := mustRowLength(t, m, row); n != row%25+1 {
			t.Errorf("Row %d: expected length %d, got %d", row, row%25+1, n)
		}
		for col := uint32(1); col <= row%25+1; col++ {
			if got := mustGet(t, m, row, col); got != row+col {
				t.Errorf("(%d, %d): expected %d, got %d", row, col, row+col, got)
			}
		}
	}
}

func testReopenAndExtend(t *testing.T, open PersistentFactory) {
	path := filepath.Join(t.TempDir(), "extend.smx")

	for round := uint32(1); round <= 3; round++ {
		m := mustOpen(t, open, path)
		requireFeature(t, m, matrix.FeaturePersistence)

		// grow an existing row and add a new one in every round
		for col := uint32(0); col < 100; col++ {
			if _, err := m.Incr(1, round*1000+col, round); err != nil {
				t.Fatalf("Incr failed: %v", err)
			}
		}
		if _, err := m.Incr(round+1, 1, 1); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	m := mustOpen(t, open, path)
	defer m.Close()

	if n := mustRowLength(t, m, 1); n != 300 {
		t.Errorf("Expected 300 entries in row 1, got %d", n)
	}
	for round := uint32(1); round <= 3; round++ {
		if got := mustGet(t, m, 1, round*1000+50); got != round {
			t.Errorf("Round %d: expected %d, got %d", round, round, got)
		}
		if got := mustGet(t, m, round+1, 1); got != 1 {
			t.Errorf("Row %d: expected 1, got %d", round+1, got)
		}
	}
}
