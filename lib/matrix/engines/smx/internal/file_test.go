package internal

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/VictoriaMetrics/metrics"
)

// newTestBackend opens a fresh data file in a temporary directory
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.smx")

	file, created, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if !created {
		t.Fatal("OpenFile should report a new file as created")
	}
	t.Cleanup(func() { _ = file.Close() })

	return NewBackend(file, metrics.NewSet())
}

// newMemoryBackend returns a backend without a data file
func newMemoryBackend() *Backend {
	return NewBackend(nil, metrics.NewSet())
}

// TestFileHeader tests writing and validating the file header
func TestFileHeader(t *testing.T) {
	b := newTestBackend(t)

	off, err := b.File.AppendIndexBlock(4)
	if err != nil {
		t.Fatalf("AppendIndexBlock failed: %v", err)
	}
	if off != HeaderSize {
		t.Errorf("First block should start right after the header, got offset %d", off)
	}
	if err := b.File.WriteHeader(off); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	head, err := b.File.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if head != off {
		t.Errorf("Expected index head %d, got %d", off, head)
	}
}

// TestFileAllocate tests that allocations never overlap
func TestFileAllocate(t *testing.T) {
	b := newTestBackend(t)

	a := b.File.Allocate(100)
	c := b.File.Allocate(50)

	if a != HeaderSize {
		t.Errorf("Expected first allocation at %d, got %d", HeaderSize, a)
	}
	if c != a+100 {
		t.Errorf("Expected second allocation at %d, got %d", a+100, c)
	}
	if b.File.Size() != HeaderSize+150 {
		t.Errorf("Expected size %d, got %d", HeaderSize+150, b.File.Size())
	}
}

// TestIndexBlockChain tests appending, linking and reading index blocks
func TestIndexBlockChain(t *testing.T) {
	b := newTestBackend(t)

	first, _ := b.File.AppendIndexBlock(2)
	second, _ := b.File.AppendIndexBlock(2)
	if err := b.File.LinkIndexBlock(first, second); err != nil {
		t.Fatalf("LinkIndexBlock failed: %v", err)
	}

	row := b.File.Allocate(RowBlockSize(8))
	if err := b.File.WriteIndexEntry(first+IndexBlockHeaderSize, 42, row); err != nil {
		t.Fatalf("WriteIndexEntry failed: %v", err)
	}

	capacity, next, entries, err := b.File.ReadIndexBlock(first)
	if err != nil {
		t.Fatalf("ReadIndexBlock failed: %v", err)
	}
	if capacity != 2 || next != second {
		t.Errorf("Expected capacity 2 and next %d, got %d and %d", second, capacity, next)
	}
	if len(entries) != 1 || entries[0].RowKey != 42 || entries[0].RowOffset != row {
		t.Errorf("Unexpected entries: %+v", entries)
	}

	_, next, entries, err = b.File.ReadIndexBlock(second)
	if err != nil {
		t.Fatalf("ReadIndexBlock failed: %v", err)
	}
	if next != 0 || len(entries) != 0 {
		t.Errorf("Expected empty tail block, got next=%d entries=%d", next, len(entries))
	}
}

// TestFileCorruptHeader tests that a file with a foreign magic is rejected
func TestFileCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.smx")
	data := make([]byte, HeaderSize+64)
	copy(data, "NOTSMX!!")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	file, created, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer file.Close()
	if created {
		t.Error("Non-empty file should not be reported as created")
	}

	_, err = file.ReadHeader()
	if err == nil {
		t.Fatal("ReadHeader should fail on a foreign magic")
	}
	if !IsCorruptionError(err) {
		t.Errorf("Expected a corruption error, got %v", err)
	}
}

// TestFileTooSmall tests that a truncated header is reported as corruption
func TestFileTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.smx")
	if err := os.WriteFile(path, []byte("SMATRIX"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, _, err := OpenFile(path)
	if !IsCorruptionError(err) {
		t.Errorf("Expected a corruption error, got %v", err)
	}
}

// TestRowBlockHeaderCorrupt tests that a row block with a bad magic is rejected
func TestRowBlockHeaderCorrupt(t *testing.T) {
	b := newTestBackend(t)

	off := b.File.Allocate(RowBlockSize(4))
	buf := make([]byte, RowBlockSize(4))
	copy(buf, "garbage!")
	if err := b.File.WriteAt(buf, off); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	if _, err := b.File.ReadRowHeader(off); !IsCorruptionError(err) {
		t.Errorf("Expected a corruption error, got %v", err)
	}
}

// TestFileLock tests that a data file cannot be opened twice
func TestFileLock(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("file locking is only enforced on unix")
	}
	b := newTestBackend(t)

	if _, _, err := OpenFile(b.File.Path()); err == nil {
		t.Fatal("Opening a locked file should fail")
	}
}
