package internal

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Row table
// --------------------------------------------------------------------------

const (
	flagLoaded uint32 = 1 << iota
	flagDirty
	flagResized
)

const (
	noDirtySlot    = -1
	manyDirtySlots = -2
)

// MaxRowSize is the largest slot count a row table may grow to
const MaxRowSize = MaxRowCapacity

// SlotBytes is the in-memory footprint of one slot
const SlotBytes = int64(unsafe.Sizeof(Slot{}))

// Slot is one column entry of a row table
type Slot struct {
	Key   uint32 // column key
	Value uint32 // counter value
	Used  bool   // slot holds a live entry
}

// RowTable is an open-addressing hash table mapping column keys to counters for
// a single row. It is either loaded (slots in memory) or cold (only its file
// offset is known).
//
// Every method except the constructor and the flag getters requires the caller
// to hold the embedded Lock at the level stated on the method.
type RowTable struct {
	Lock

	Key         uint32 // row key
	size        uint32 // slot capacity
	used        uint32 // number of live entries
	offset      int64  // file offset of the persisted row block (0 = never written)
	entryOffset int64  // file offset of the index entry pointing at this table
	flags       atomic.Uint32
	slots       []Slot
	dirtySlot   int

	queued atomic.Bool // row is waiting in the write-back queue
}

// NewRowTable creates an empty, loaded row table with the given capacity.
// The caller accounts the returned table's memory.
func NewRowTable(key uint32, size uint32) *RowTable {
	rt := &RowTable{
		Key:       key,
		size:      size,
		slots:     make([]Slot, size),
		dirtySlot: noDirtySlot,
	}
	rt.flags.Or(flagLoaded)
	return rt
}

// NewColdRowTable creates a row table that is only known by its file location
func NewColdRowTable(key uint32, offset, entryOffset int64) *RowTable {
	return &RowTable{
		Key:         key,
		offset:      offset,
		entryOffset: entryOffset,
		dirtySlot:   noDirtySlot,
	}
}

// Loaded reports whether the slot array is resident in memory
func (rt *RowTable) Loaded() bool { return rt.flags.Load()&flagLoaded != 0 }

// Dirty reports whether the table has changes not yet written to disk
func (rt *RowTable) Dirty() bool { return rt.flags.Load()&flagDirty != 0 }

// Offset returns the file offset of the persisted row block. Requires shared hold.
func (rt *RowTable) Offset() int64 { return rt.offset }

// Size returns the slot capacity. Requires shared hold.
func (rt *RowTable) Size() uint32 { return rt.size }

// Used returns the number of live entries. Requires shared hold on a loaded table.
func (rt *RowTable) Used() uint32 { return rt.used }

// MemoryBytes returns the memory held by the slot array. Requires shared hold.
func (rt *RowTable) MemoryBytes() int64 { return int64(len(rt.slots)) * SlotBytes }

// MarkQueued marks the table as waiting for write-back.
// Returns false if it was already queued.
func (rt *RowTable) MarkQueued() bool { return rt.queued.CompareAndSwap(false, true) }

// ClearQueued removes the queued mark before the table is written back
func (rt *RowTable) ClearQueued() { rt.queued.Store(false) }

// --------------------------------------------------------------------------
// Probing and mutation
// --------------------------------------------------------------------------

// Probe returns the index of the slot holding key, or of the first empty slot
// on its probe sequence. found reports which of the two it is.
// Requires shared or exclusive hold on a loaded table.
func (rt *RowTable) Probe(key uint32) (idx int, found bool) {
	return probeSlots(rt.slots, key)
}

func probeSlots(slots []Slot, key uint32) (int, bool) {
	n := uint32(len(slots))
	pos := key % n
	for i := uint32(0); i < n; i++ {
		s := &slots[pos]
		if !s.Used {
			return int(pos), false
		}
		if s.Key == key {
			return int(pos), true
		}
		pos++
		if pos == n {
			pos = 0
		}
	}
	// unreachable while the load factor is kept below 1
	return -1, false
}

// Get returns the counter for key, or 0 if absent.
// Requires shared or exclusive hold on a loaded table.
func (rt *RowTable) Get(key uint32) uint32 {
	if idx, found := rt.Probe(key); found {
		return rt.slots[idx].Value
	}
	return 0
}

// Insert returns the slot index for key, creating an entry with value 0 if it
// does not exist. Resizes first if the table is at least three quarters full.
// Inserting an existing key returns its slot unchanged.
// Requires exclusive hold on a loaded table.
func (rt *RowTable) Insert(b *Backend, key uint32) (int, error) {
	idx, found := rt.Probe(key)
	if found {
		return idx, nil
	}

	if rt.used*4 >= rt.size*3 {
		if err := rt.Resize(b); err != nil {
			return -1, err
		}
		idx, _ = rt.Probe(key)
	}

	rt.slots[idx] = Slot{Key: key, Value: 0, Used: true}
	rt.used++
	rt.markSlotDirty(idx)
	return idx, nil
}

// Value returns the counter stored in slot idx. Requires shared hold.
func (rt *RowTable) Value(idx int) uint32 {
	return rt.slots[idx].Value
}

// SetValue replaces the counter in slot idx and marks it dirty.
// Requires exclusive hold on a loaded table.
func (rt *RowTable) SetValue(idx int, value uint32) {
	rt.slots[idx].Value = value
	rt.markSlotDirty(idx)
}

func (rt *RowTable) markSlotDirty(idx int) {
	switch rt.dirtySlot {
	case noDirtySlot:
		rt.dirtySlot = idx
	case idx, manyDirtySlots:
	default:
		rt.dirtySlot = manyDirtySlots
	}
	rt.flags.Or(flagDirty)
}

// Resize doubles the capacity and rehashes every live entry into the new slot
// array. A disk-backed table is marked for relocation: its next write-back goes
// to a freshly allocated block and the old block is abandoned.
// Requires exclusive hold on a loaded table.
func (rt *RowTable) Resize(b *Backend) error {
	if rt.size >= MaxRowSize {
		return errors.Wrapf(ErrOutOfMemory, "smx: row %d cannot grow beyond %d slots", rt.Key, rt.size)
	}
	newSize := rt.size * 2
	if newSize > MaxRowSize {
		newSize = MaxRowSize
	}

	slots := make([]Slot, newSize)
	for _, s := range rt.slots {
		if !s.Used {
			continue
		}
		idx, _ := probeSlots(slots, s.Key)
		slots[idx] = s
	}

	b.trackMemory(int64(newSize-rt.size) * SlotBytes)
	rt.slots = slots
	rt.size = newSize
	rt.dirtySlot = manyDirtySlots
	rt.flags.Or(flagDirty | flagResized)
	b.Metrics.Resizes.Inc()
	return nil
}

// Range calls fn for every live entry in slot order until fn returns false.
// Requires shared hold on a loaded table.
func (rt *RowTable) Range(fn func(key, value uint32) bool) {
	for i := range rt.slots {
		s := &rt.slots[i]
		if s.Used && !fn(s.Key, s.Value) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Load reads the persisted row block into memory. No-op if already loaded.
// Entries stored as (0, 0) are indistinguishable from empty slots on disk and
// are treated as empty.
// Requires exclusive hold.
func (rt *RowTable) Load(b *Backend) error {
	if rt.Loaded() {
		return nil
	}
	if b.File == nil || rt.offset == 0 {
		return errors.AssertionFailedf("smx: row %d has no persisted block to load", rt.Key)
	}

	capacity, err := b.File.ReadRowHeader(rt.offset)
	if err != nil {
		return errors.Wrapf(err, "smx: load row %d", rt.Key)
	}
	raw, err := b.File.ReadRowSlots(rt.offset, capacity)
	if err != nil {
		return errors.Wrapf(err, "smx: load row %d", rt.Key)
	}

	slots := make([]Slot, capacity)
	used := uint32(0)
	for i := range slots {
		key, value := DecodeRowSlot(raw[i*RowSlotSize:])
		if key == 0 && value == 0 {
			continue
		}
		slots[i] = Slot{Key: key, Value: value, Used: true}
		used++
	}

	// A dropped (0, 0) entry can cut a probe chain short. Rehash in that case
	// and rewrite the whole block on the next write-back.
	flags := flagLoaded
	dirtySlot := noDirtySlot
	if !reachable(slots) {
		if slots, err = rehash(slots, rt.offset); err != nil {
			return err
		}
		flags |= flagDirty
		dirtySlot = manyDirtySlots
	}

	b.trackMemory(int64(capacity) * SlotBytes)
	rt.slots = slots
	rt.size = capacity
	rt.used = used
	rt.dirtySlot = dirtySlot
	rt.flags.And(^(flagDirty | flagResized))
	rt.flags.Or(flags)
	b.Metrics.Loads.Inc()
	return nil
}

// reachable reports whether every live entry is found by probing for its key
func reachable(slots []Slot) bool {
	for i, s := range slots {
		if !s.Used {
			continue
		}
		if idx, found := probeSlots(slots, s.Key); !found || idx != i {
			return false
		}
	}
	return true
}

// rehash re-inserts every live entry into a fresh slot array of the same size
func rehash(slots []Slot, offset int64) ([]Slot, error) {
	fresh := make([]Slot, len(slots))
	for _, s := range slots {
		if !s.Used {
			continue
		}
		idx, found := probeSlots(fresh, s.Key)
		if found {
			return nil, CorruptionErrorf("smx: row block at %d holds column %d twice", offset, s.Key)
		}
		fresh[idx] = s
	}
	return fresh, nil
}

// WriteBack serializes the row block to disk as one contiguous write. If full is
// false only the header is written. A table that was resized (or never written)
// is first moved to a newly allocated block and its index entry is updated.
// Requires exclusive hold on a loaded table.
func (rt *RowTable) WriteBack(b *Backend, full bool) error {
	if b.File == nil {
		return nil
	}

	relocate := rt.offset == 0 || rt.flags.Load()&flagResized != 0
	if relocate {
		full = true
	}

	size := RowHeaderSize
	if full {
		size = int(RowBlockSize(rt.size))
	}
	buf := make([]byte, size)
	EncodeRowHeader(buf, rt.size)
	if full {
		for i, s := range rt.slots {
			if s.Used {
				EncodeRowSlot(buf[RowHeaderSize+i*RowSlotSize:], s.Key, s.Value)
			}
		}
	}

	offset := rt.offset
	if relocate {
		offset = b.File.Allocate(int64(len(buf)))
	}
	if err := b.File.WriteAt(buf, offset); err != nil {
		return errors.Wrapf(err, "smx: write back row %d", rt.Key)
	}

	if relocate {
		if rt.entryOffset != 0 {
			if err := b.File.WriteIndexEntry(rt.entryOffset, rt.Key, offset); err != nil {
				return errors.Wrapf(err, "smx: relink row %d", rt.Key)
			}
		}
		rt.offset = offset
		rt.flags.And(^flagResized)
	}

	if full {
		rt.dirtySlot = noDirtySlot
		rt.flags.And(^flagDirty)
	}
	b.Metrics.WriteBacks.Inc()
	return nil
}

// WriteSlot writes a single slot to its position in the persisted block.
// Requires exclusive hold on a loaded table that is not waiting for relocation.
func (rt *RowTable) WriteSlot(b *Backend, idx int) error {
	var buf [RowSlotSize]byte
	if s := rt.slots[idx]; s.Used {
		EncodeRowSlot(buf[:], s.Key, s.Value)
	}
	off := rt.offset + RowHeaderSize + int64(idx)*RowSlotSize
	if err := b.File.WriteAt(buf[:], off); err != nil {
		return errors.Wrapf(err, "smx: write slot %d of row %d", idx, rt.Key)
	}
	b.Metrics.SlotWrites.Inc()
	return nil
}

// Sync persists pending changes, using a single slot write when only one slot
// changed since the last write-back and a full block write otherwise.
// Requires exclusive hold.
func (rt *RowTable) Sync(b *Backend) error {
	if b.File == nil || !rt.Loaded() || !rt.Dirty() {
		return nil
	}
	start := time.Now()
	defer b.Metrics.WriteBackDuration.UpdateDuration(start)

	if rt.dirtySlot >= 0 && rt.offset != 0 && rt.flags.Load()&flagResized == 0 {
		if err := rt.WriteSlot(b, rt.dirtySlot); err != nil {
			return err
		}
		rt.dirtySlot = noDirtySlot
		rt.flags.And(^flagDirty)
		return nil
	}
	return rt.WriteBack(b, true)
}

// Evict writes the table back if dirty, then drops its slot array so that only
// its file location remains. Memory-only tables cannot be evicted.
// Requires exclusive hold.
func (rt *RowTable) Evict(b *Backend) error {
	if !rt.Loaded() {
		return nil
	}
	if b.File == nil {
		return errors.Newf("smx: row %d is not backed by a file", rt.Key)
	}
	if err := rt.Sync(b); err != nil {
		return err
	}
	rt.Free(b)
	b.Metrics.Evictions.Inc()
	return nil
}

// Free releases the slot array without writing anything.
// Requires exclusive hold (or exclusive ownership during shutdown).
func (rt *RowTable) Free(b *Backend) {
	if !rt.Loaded() {
		return
	}
	b.trackMemory(-rt.MemoryBytes())
	rt.slots = nil
	rt.used = 0
	rt.dirtySlot = noDirtySlot
	rt.flags.And(^(flagLoaded | flagDirty | flagResized))
}
