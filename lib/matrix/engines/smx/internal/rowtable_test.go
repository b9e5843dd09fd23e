package internal

import (
	"testing"
)

// newTable creates a loaded row table and accounts its memory like the index does
func newTable(b *Backend, key, size uint32) *RowTable {
	rt := NewRowTable(key, size)
	b.trackMemory(rt.MemoryBytes())
	return rt
}

// TestRowTableInsertIdempotent tests that inserting a key twice returns the same slot
func TestRowTableInsertIdempotent(t *testing.T) {
	b := newMemoryBackend()
	rt := newTable(b, 1, 8)

	first, err := rt.Insert(b, 7)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	rt.SetValue(first, 3)

	second, err := rt.Insert(b, 7)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected the same slot, got %d and %d", first, second)
	}
	if rt.Used() != 1 {
		t.Errorf("Expected 1 used slot, got %d", rt.Used())
	}
	if rt.Value(second) != 3 {
		t.Errorf("Existing value should be unchanged, got %d", rt.Value(second))
	}
}

// TestRowTableColumnZero tests that column key 0 is an ordinary key in memory
func TestRowTableColumnZero(t *testing.T) {
	b := newMemoryBackend()
	rt := newTable(b, 1, 8)

	idx, _ := rt.Insert(b, 0)
	if rt.Used() != 1 {
		t.Errorf("Expected 1 used slot after inserting column 0, got %d", rt.Used())
	}
	if _, found := rt.Probe(0); !found {
		t.Error("Column 0 should be found after insert")
	}
	rt.SetValue(idx, 5)
	if rt.Get(0) != 5 {
		t.Errorf("Expected 5, got %d", rt.Get(0))
	}
}

// TestRowTableResize tests that growth keeps every entry and honors the load factor
func TestRowTableResize(t *testing.T) {
	b := newMemoryBackend()
	rt := newTable(b, 1, 4)

	const n = 100
	for k := uint32(1); k <= n; k++ {
		idx, err := rt.Insert(b, k*31)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		rt.SetValue(idx, k)

		if rt.Used()*4 > rt.Size()*3 {
			t.Fatalf("Load factor exceeded: %d used in %d slots", rt.Used(), rt.Size())
		}
	}

	if rt.Used() != n {
		t.Errorf("Expected %d entries, got %d", n, rt.Used())
	}
	if rt.Size() < 128 {
		t.Errorf("Expected the table to have grown to at least 128 slots, got %d", rt.Size())
	}
	for k := uint32(1); k <= n; k++ {
		if v := rt.Get(k * 31); v != k {
			t.Errorf("Column %d: expected %d, got %d", k*31, k, v)
		}
	}
	if got := b.Metrics.Resizes.Get(); got < 3 {
		t.Errorf("Expected at least 3 resizes, got %d", got)
	}
	if b.MemoryBytes() != int64(rt.Size())*SlotBytes {
		t.Errorf("Memory counter %d does not match %d slots", b.MemoryBytes(), rt.Size())
	}
}

// TestRowTableRange tests iteration and early termination
func TestRowTableRange(t *testing.T) {
	b := newMemoryBackend()
	rt := newTable(b, 1, 16)
	for k := uint32(1); k <= 10; k++ {
		idx, _ := rt.Insert(b, k)
		rt.SetValue(idx, k*2)
	}

	sum := uint32(0)
	rt.Range(func(key, value uint32) bool {
		if value != key*2 {
			t.Errorf("Column %d: expected %d, got %d", key, key*2, value)
		}
		sum += key
		return true
	})
	if sum != 55 {
		t.Errorf("Expected key sum 55, got %d", sum)
	}

	visited := 0
	rt.Range(func(key, value uint32) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("Range should stop after 3 entries, visited %d", visited)
	}
}

// TestRowTablePersistence tests write-back, eviction and reload
func TestRowTablePersistence(t *testing.T) {
	b := newTestBackend(t)
	rt := newTable(b, 9, 4)

	for k := uint32(1); k <= 20; k++ {
		idx, err := rt.Insert(b, k)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		rt.SetValue(idx, k+100)
	}

	if err := rt.WriteBack(b, true); err != nil {
		t.Fatalf("WriteBack failed: %v", err)
	}
	if rt.Dirty() {
		t.Error("Table should be clean after a full write-back")
	}
	offset := rt.Offset()
	if offset == 0 {
		t.Fatal("Table should have been assigned a file offset")
	}

	if err := rt.Evict(b); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if rt.Loaded() {
		t.Fatal("Table should be cold after eviction")
	}
	if b.MemoryBytes() != 0 {
		t.Errorf("Memory counter should be 0 after eviction, got %d", b.MemoryBytes())
	}

	if err := rt.Load(b); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rt.Used() != 20 {
		t.Errorf("Expected 20 entries after reload, got %d", rt.Used())
	}
	for k := uint32(1); k <= 20; k++ {
		if v := rt.Get(k); v != k+100 {
			t.Errorf("Column %d: expected %d, got %d", k, k+100, v)
		}
	}
}

// TestRowTableSingleSlotSync tests that one changed slot is written in place
func TestRowTableSingleSlotSync(t *testing.T) {
	b := newTestBackend(t)
	rt := newTable(b, 3, 8)
	if err := rt.WriteBack(b, true); err != nil {
		t.Fatalf("WriteBack failed: %v", err)
	}
	offset := rt.Offset()

	idx, _ := rt.Insert(b, 5)
	rt.SetValue(idx, 77)
	if err := rt.Sync(b); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if rt.Offset() != offset {
		t.Errorf("Single slot sync should not move the block (%d -> %d)", offset, rt.Offset())
	}
	if b.Metrics.SlotWrites.Get() != 1 {
		t.Errorf("Expected 1 slot write, got %d", b.Metrics.SlotWrites.Get())
	}

	rt.Free(b)
	if err := rt.Load(b); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rt.Get(5) != 77 {
		t.Errorf("Expected 77 after reload, got %d", rt.Get(5))
	}
}

// TestRowTableResizeRelocates tests that a resized table is written to a new block
func TestRowTableResizeRelocates(t *testing.T) {
	b := newTestBackend(t)
	rt := newTable(b, 3, 4)
	if err := rt.WriteBack(b, true); err != nil {
		t.Fatalf("WriteBack failed: %v", err)
	}
	offset := rt.Offset()

	for k := uint32(1); k <= 10; k++ {
		if _, err := rt.Insert(b, k); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := rt.Sync(b); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if rt.Offset() == offset {
		t.Error("Resized table should have been relocated")
	}
	if rt.Offset() < offset {
		t.Errorf("Relocated block must be appended, got %d before %d", rt.Offset(), offset)
	}
}

// TestRowTableZeroEntryReload tests that a live (0, 0) entry that is lost on
// disk does not hide entries probing past it
func TestRowTableZeroEntryReload(t *testing.T) {
	b := newTestBackend(t)
	rt := newTable(b, 1, 8)

	// 0 and 8 share home slot 0, so 8 is stored behind 0
	if _, err := rt.Insert(b, 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	idx, _ := rt.Insert(b, 8)
	rt.SetValue(idx, 4)

	if err := rt.WriteBack(b, true); err != nil {
		t.Fatalf("WriteBack failed: %v", err)
	}
	rt.Free(b)

	if err := rt.Load(b); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rt.Get(8) != 4 {
		t.Errorf("Column 8 should survive the reload, got %d", rt.Get(8))
	}
	if rt.Used() != 1 {
		t.Errorf("Expected 1 entry after reload, got %d", rt.Used())
	}
	if !rt.Dirty() {
		t.Error("A rehashed table should be marked for rewrite")
	}
}

// TestRowTableEvictMemoryOnly tests that memory-only tables cannot be evicted
func TestRowTableEvictMemoryOnly(t *testing.T) {
	b := newMemoryBackend()
	rt := newTable(b, 1, 8)

	if err := rt.Evict(b); err == nil {
		t.Error("Evicting a memory-only table should fail")
	}
	if !rt.Loaded() {
		t.Error("Table should still be loaded")
	}
}
