package smx

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/smatrix/lib/matrix"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx/internal"
	"github.com/cockroachdb/errors"
)

func openTestEngine(t *testing.T, opts *Options) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.smx")
	e, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return e, path
}

// TestSaturatingArithmetic tests the default overflow behavior
func TestSaturatingArithmetic(t *testing.T) {
	e := OpenMemory(nil)
	defer e.Close()

	_, _ = e.Set(1, 1, math.MaxUint32-1)
	v, err := e.Incr(1, 1, 5)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if v != math.MaxUint32 {
		t.Errorf("Expected saturation at %d, got %d", uint32(math.MaxUint32), v)
	}

	v, err = e.Decr(2, 2, 5)
	if err != nil {
		t.Fatalf("Decr failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Expected saturation at 0, got %d", v)
	}
	if n, _ := e.RowLength(2); n != 1 {
		t.Errorf("Saturating Decr should still create the entry, got length %d", n)
	}
}

// TestCheckedArithmetic tests that overflow errors leave the matrix unchanged
func TestCheckedArithmetic(t *testing.T) {
	e := OpenMemory(&Options{CheckedArithmetic: true})
	defer e.Close()

	_, _ = e.Set(1, 1, math.MaxUint32)
	if _, err := e.Incr(1, 1, 1); !errors.Is(err, ErrCounterOverflow) {
		t.Errorf("Expected ErrCounterOverflow, got %v", err)
	}
	if v, _ := e.Get(1, 1); v != math.MaxUint32 {
		t.Errorf("Failed Incr must not change the counter, got %d", v)
	}

	rows := e.Rows()
	if _, err := e.Decr(2, 7, 1); !errors.Is(err, ErrCounterUnderflow) {
		t.Errorf("Expected ErrCounterUnderflow, got %v", err)
	}
	if n, _ := e.RowLength(2); n != 0 {
		t.Errorf("Failed Decr must not create a column, got length %d", n)
	}
	if e.Rows() != rows {
		t.Errorf("Failed Decr must not create a row, rows %d -> %d", rows, e.Rows())
	}

	_, _ = e.Set(3, 3, 10)
	if v, err := e.Decr(3, 3, 10); err != nil || v != 0 {
		t.Errorf("Expected 0 without error, got %d, %v", v, err)
	}
}

// TestCheckedArithmeticPersistence tests that a rejected update on an absent
// row leaves no trace in the data file
func TestCheckedArithmeticPersistence(t *testing.T) {
	e, path := openTestEngine(t, &Options{CheckedArithmetic: true})

	_, _ = e.Set(1, 1, 5)
	if _, err := e.Decr(42, 7, 1); !errors.Is(err, ErrCounterUnderflow) {
		t.Errorf("Expected ErrCounterUnderflow, got %v", err)
	}
	if e.Rows() != 1 {
		t.Errorf("Expected 1 row, got %d", e.Rows())
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	if e.Rows() != 1 {
		t.Errorf("Expected 1 row after reopen, got %d", e.Rows())
	}
	var keys []uint32
	_ = e.ForEachRow(func(row uint32) bool {
		keys = append(keys, row)
		return true
	})
	if len(keys) != 1 || keys[0] != 1 {
		t.Errorf("Expected only row 1, got %v", keys)
	}
}

// TestHardMemoryLimit tests that a memory-only engine refuses writes beyond its budget
func TestHardMemoryLimit(t *testing.T) {
	e := OpenMemory(&Options{
		InitialRowSize:  8,
		MemoryLimit:     int64(internal.SlotBytes) * 64,
		MemoryHardLimit: true,
	})
	defer e.Close()

	var err error
	for row := uint32(0); row < 100 && err == nil; row++ {
		_, err = e.Incr(row, 1, 1)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Expected ErrOutOfMemory, got %v", err)
	}

	// reads keep working
	if v, err := e.Get(0, 1); err != nil || v != 1 {
		t.Errorf("Expected 1 without error, got %d, %v", v, err)
	}
}

// TestEviction tests that rows are dropped from memory and reloaded on access
func TestEviction(t *testing.T) {
	e, _ := openTestEngine(t, &Options{
		InitialRowSize: 8,
		MemoryLimit:    int64(internal.SlotBytes) * 8 * 4, // four rows
		WriteBack:      WriteBackManual,
	})
	defer e.Close()

	for row := uint32(1); row <= 20; row++ {
		if _, err := e.Set(row, row, row*10); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	info := e.GetInfo()
	if info.ResidentRows > 4 {
		t.Errorf("Expected at most 4 resident rows, got %d", info.ResidentRows)
	}
	if info.MemoryBytes > int64(internal.SlotBytes)*8*4 {
		t.Errorf("Memory %d exceeds the limit", info.MemoryBytes)
	}
	if info.Rows != 20 {
		t.Errorf("Expected 20 rows, got %d", info.Rows)
	}

	// every value survives eviction, including rows that were never flushed
	for row := uint32(1); row <= 20; row++ {
		if v, err := e.Get(row, row); err != nil || v != row*10 {
			t.Errorf("Row %d: expected %d, got %d (%v)", row, row*10, v, err)
		}
	}
}

// TestExplicitEvict tests Evict on a single row
func TestExplicitEvict(t *testing.T) {
	e, _ := openTestEngine(t, nil)
	defer e.Close()

	_, _ = e.Set(5, 1, 11)
	_, _ = e.Set(5, 2, 22)

	if err := e.Evict(5); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if info := e.GetInfo(); info.ResidentRows != 0 || info.MemoryBytes != 0 {
		t.Errorf("Expected nothing resident, got %d rows and %d bytes", info.ResidentRows, info.MemoryBytes)
	}

	if v, _ := e.Get(5, 2); v != 22 {
		t.Errorf("Expected 22 after reload, got %d", v)
	}
	if n, _ := e.RowLength(5); n != 2 {
		t.Errorf("Expected length 2 after reload, got %d", n)
	}

	// absent rows are a no-op
	if err := e.Evict(12345); err != nil {
		t.Errorf("Evicting an absent row should succeed, got %v", err)
	}

	mem := OpenMemory(nil)
	defer mem.Close()
	if err := mem.Evict(1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported for a memory-only engine, got %v", err)
	}
}

// TestConcurrentColdReads tests many readers racing to load the same cold row
func TestConcurrentColdReads(t *testing.T) {
	e, _ := openTestEngine(t, nil)
	defer e.Close()

	for col := uint32(0); col < 500; col++ {
		_, _ = e.Set(1, col, col)
	}

	for round := 0; round < 20; round++ {
		if err := e.Evict(1); err != nil {
			t.Fatalf("Evict failed: %v", err)
		}

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				col := uint32(g * 50)
				if v, err := e.Get(1, col); err != nil || v != col {
					t.Errorf("Expected %d, got %d (%v)", col, v, err)
				}
			}(g)
		}
		wg.Wait()
	}

	if info := e.GetInfo(); info.MemoryBytes <= 0 {
		t.Errorf("Row should be resident after the reads, memory=%d", info.MemoryBytes)
	}
}

// TestOpenCorruptFile tests that a foreign file is rejected
func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.smx")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 4096), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Open(path, nil)
	if err == nil {
		t.Fatal("Open should fail on a corrupt file")
	}
	if !IsCorruptionError(err) {
		t.Errorf("Expected a corruption error, got %v", err)
	}

	// the failed open must release the file lock
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	e, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open of an emptied file failed: %v", err)
	}
	e.Close()
}

// TestOpenLocked tests that a data file can only be served by one engine
func TestOpenLocked(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("file locking is only enforced on unix")
	}

	e, path := openTestEngine(t, nil)

	if _, err := Open(path, nil); err == nil {
		t.Fatal("Opening a file twice should fail")
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	e, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open after Close failed: %v", err)
	}
	e.Close()
}

// TestFeaturesAndInfo tests the metadata of memory-only and file-backed engines
func TestFeaturesAndInfo(t *testing.T) {
	mem := OpenMemory(nil)
	defer mem.Close()

	if !mem.SupportsFeature(matrix.FeatureGet | matrix.FeatureIncr | matrix.FeatureGetRow) {
		t.Error("Memory engine should support the core operations")
	}
	if mem.SupportsFeature(matrix.FeaturePersistence) {
		t.Error("Memory engine should not support persistence")
	}

	e, path := openTestEngine(t, nil)
	defer e.Close()

	if !e.SupportsFeature(matrix.FeaturePersistence | matrix.FeatureEviction) {
		t.Error("File engine should support persistence and eviction")
	}

	for row := uint32(1); row <= 3; row++ {
		for col := uint32(0); col < row*4; col++ {
			_, _ = e.Incr(row, col, 1)
		}
	}

	info := e.GetInfo()
	if info.Path != path || info.MatrixType != matrix.ImplSMX {
		t.Errorf("Unexpected path or type: %s %s", info.Path, info.MatrixType)
	}
	if info.Rows != 3 || info.ResidentRows != 3 {
		t.Errorf("Expected 3 rows, all resident, got %d and %d", info.Rows, info.ResidentRows)
	}
	if info.FileBytes <= internal.HeaderSize {
		t.Errorf("File should have grown beyond the header, got %d bytes", info.FileBytes)
	}
	if len(info.SupportedFeatures) != 8 {
		t.Errorf("Expected 8 features, got %v", info.SupportedFeatures)
	}

	stats, ok := info.Metadata.(Stats)
	if !ok {
		t.Fatalf("Expected Stats metadata, got %T", info.Metadata)
	}
	if stats.ResidentRowLength < 12 {
		t.Errorf("Expected a longest resident row of at least 12, got %d", stats.ResidentRowLength)
	}
	if stats.WriteBack != "deferred" {
		t.Errorf("Expected deferred write-back, got %s", stats.WriteBack)
	}
}

// TestWriteMetrics tests the Prometheus output
func TestWriteMetrics(t *testing.T) {
	e, _ := openTestEngine(t, &Options{WriteBack: WriteBackSync})
	defer e.Close()

	_, _ = e.Incr(1, 1, 1)
	_, _ = e.Get(1, 1)

	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	out := buf.String()

	for _, name := range []string{
		`smx_operations_total{op="incr"} 1`,
		`smx_operations_total{op="get"} 1`,
		"smx_rows 1",
		"smx_row_writebacks_total",
		"smx_memory_bytes",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("Metrics output misses %q:\n%s", name, out)
		}
	}
}

// TestForEachRow tests row iteration and early termination
func TestForEachRow(t *testing.T) {
	e := OpenMemory(nil)
	defer e.Close()

	for row := uint32(10); row < 20; row++ {
		_, _ = e.Set(row, 1, 1)
	}

	seen := make(map[uint32]bool)
	_ = e.ForEachRow(func(row uint32) bool {
		seen[row] = true
		return true
	})
	if len(seen) != 10 || e.Rows() != 10 {
		t.Errorf("Expected 10 rows, saw %d (Rows=%d)", len(seen), e.Rows())
	}

	visited := 0
	_ = e.ForEachRow(func(row uint32) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Iteration should stop after the first row, visited %d", visited)
	}
}

// TestDeferredWriteBack tests that queued rows reach the file without an explicit Flush
func TestDeferredWriteBack(t *testing.T) {
	e, path := openTestEngine(t, nil)

	for col := uint32(0); col < 100; col++ {
		_, _ = e.Incr(1, col, 1)
	}

	// Close waits for the queue and writes whatever is left
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	if n, _ := e.RowLength(1); n != 100 {
		t.Errorf("Expected 100 entries after reopen, got %d", n)
	}
	if v, _ := e.Get(1, 99); v != 1 {
		t.Errorf("Expected 1 after reopen, got %d", v)
	}
}

// TestParseWriteBackMode tests the textual write-back modes
func TestParseWriteBackMode(t *testing.T) {
	cases := map[string]WriteBackMode{
		"":         WriteBackDeferred,
		"deferred": WriteBackDeferred,
		"SYNC":     WriteBackSync,
		" manual ": WriteBackManual,
	}
	for in, want := range cases {
		got, err := ParseWriteBackMode(in)
		if err != nil || got != want {
			t.Errorf("ParseWriteBackMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseWriteBackMode("later"); err == nil {
		t.Error("Expected an error for an unknown mode")
	}
}

// TestLRUPolicy tests the default victim order
func TestLRUPolicy(t *testing.T) {
	p := NewLRUPolicy()

	p.Touch(1)
	p.Touch(2)
	p.Touch(3)
	p.Touch(1) // 2 is now the least recently used
	p.Forget(3)

	if row, ok := p.Victim(); !ok || row != 2 {
		t.Errorf("Expected victim 2, got %d (%v)", row, ok)
	}
	if row, ok := p.Victim(); !ok || row != 1 {
		t.Errorf("Expected victim 1, got %d (%v)", row, ok)
	}
	if _, ok := p.Victim(); ok {
		t.Error("Expected no victim left")
	}
}

// TestOptionsNormalize tests default filling and power-of-two rounding
func TestOptionsNormalize(t *testing.T) {
	o := (&Options{InitialIndexSize: 1000, InitialRowSize: 3, MemoryLimit: -1}).normalize()

	if o.InitialIndexSize != 1024 {
		t.Errorf("Expected index size 1024, got %d", o.InitialIndexSize)
	}
	if o.InitialRowSize != 4 {
		t.Errorf("Expected row size 4, got %d", o.InitialRowSize)
	}
	if o.IndexBlockCapacity != defaultIndexBlockCapacity {
		t.Errorf("Expected default block capacity, got %d", o.IndexBlockCapacity)
	}
	if o.MemoryLimit != 0 || o.Eviction == nil {
		t.Errorf("Expected unlimited memory with a default policy, got %d %v", o.MemoryLimit, o.Eviction)
	}
}
