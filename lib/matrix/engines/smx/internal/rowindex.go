package internal

import (
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Row index
// --------------------------------------------------------------------------

// MaxIndexSize is the largest slot count the row index may grow to
const MaxIndexSize = 1 << 30

// indexSlot links a row key to a row table in the arena
type indexSlot struct {
	key    uint32
	handle int32 // position in RowIndex.tables
	used   bool
}

// RowIndex is an open-addressing hash table mapping row keys to row tables.
// Row tables live in an arena owned by the index and are referenced by their
// position, so rehashing the index never moves a table.
//
// The index also owns the allocator for its on-disk entries: entries are
// appended into fixed-capacity blocks that form a singly linked list starting
// at the file header.
type RowIndex struct {
	Lock

	slots  []indexSlot
	used   uint32
	tables []*RowTable // arena, append only

	rowSize uint32 // initial capacity of new row tables

	// block allocator
	blockOffset      int64 // offset of the block new entries go to
	blockUsed        int64 // entries used in that block
	blockCapacity    int64 // capacity of that block
	newBlockCapacity int64 // capacity of blocks appended from now on
}

// NewRowIndex creates an empty index with the given slot capacity.
// New row tables start with rowSize slots; new index blocks hold blockCapacity entries.
func NewRowIndex(size, rowSize uint32, blockCapacity int64) *RowIndex {
	return &RowIndex{
		slots:            make([]indexSlot, size),
		rowSize:          rowSize,
		newBlockCapacity: blockCapacity,
	}
}

// Len returns the number of rows in the index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (idx *RowIndex) Len() int {
	idx.AcquireShared()
	defer idx.ReleaseShared()
	return int(idx.used)
}

// Size returns the slot capacity of the index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (idx *RowIndex) Size() int {
	idx.AcquireShared()
	defer idx.ReleaseShared()
	return len(idx.slots)
}

// Tables returns a snapshot of all row tables in creation order.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (idx *RowIndex) Tables() []*RowTable {
	idx.AcquireShared()
	defer idx.ReleaseShared()
	tables := make([]*RowTable, len(idx.tables))
	copy(tables, idx.tables)
	return tables
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

// Lookup returns the row table for key with a shared admission on it already
// taken; the caller must release it. If the row is absent and create is false,
// nil is returned and nothing changes. If create is true a new, empty row table
// is created, persisted and linked into the index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (idx *RowIndex) Lookup(b *Backend, key uint32, create bool) (*RowTable, error) {
	idx.AcquireShared()
	if rt := idx.find(key); rt != nil {
		rt.AcquireShared()
		idx.ReleaseShared()
		return rt, nil
	}
	if !create {
		idx.ReleaseShared()
		return nil, nil
	}

	idx.AcquireExclusive()
	defer idx.ReleaseExclusive()

	// another writer may have created the row while we waited
	if rt := idx.find(key); rt != nil {
		rt.AcquireShared()
		return rt, nil
	}

	rt, err := idx.create(b, key)
	if err != nil {
		return nil, err
	}
	rt.AcquireShared()
	return rt, nil
}

// find returns the row table for key or nil. Requires shared hold.
func (idx *RowIndex) find(key uint32) *RowTable {
	if pos, found := probeIndex(idx.slots, key); found {
		return idx.tables[idx.slots[pos].handle]
	}
	return nil
}

func probeIndex(slots []indexSlot, key uint32) (int, bool) {
	n := uint32(len(slots))
	pos := key % n
	for i := uint32(0); i < n; i++ {
		s := &slots[pos]
		if !s.used {
			return int(pos), false
		}
		if s.key == key {
			return int(pos), true
		}
		pos++
		if pos == n {
			pos = 0
		}
	}
	return -1, false
}

// create builds a new row table, persists it and links it. Requires exclusive hold.
func (idx *RowIndex) create(b *Backend, key uint32) (*RowTable, error) {
	if err := idx.reserve(b); err != nil {
		return nil, err
	}

	rt := NewRowTable(key, idx.rowSize)
	b.trackMemory(rt.MemoryBytes())

	if b.File != nil {
		entry, err := idx.allocateIndexSlot(b)
		if err == nil {
			rt.entryOffset = entry
			// the row block is written before the entry pointing at it
			if err = rt.WriteBack(b, true); err != nil {
				// the entry was never written, hand it to the next row
				idx.blockUsed--
			}
		}
		if err != nil {
			b.trackMemory(-rt.MemoryBytes())
			return nil, errors.Wrapf(err, "smx: create row %d", key)
		}
	}

	idx.link(rt)
	return rt, nil
}

// reserve makes room for one more entry. Requires exclusive hold.
func (idx *RowIndex) reserve(b *Backend) error {
	if idx.used*4 < uint32(len(idx.slots))*3 {
		return nil
	}
	return idx.Resize(b)
}

// link adds rt to the arena and the slot array. Requires exclusive hold and room for one entry.
func (idx *RowIndex) link(rt *RowTable) {
	pos, _ := probeIndex(idx.slots, rt.Key)
	idx.slots[pos] = indexSlot{key: rt.Key, handle: int32(len(idx.tables)), used: true}
	idx.tables = append(idx.tables, rt)
	idx.used++
}

// Resize doubles the slot capacity and re-probes every entry. Only memory is
// touched; index blocks on disk never change. Requires exclusive hold.
func (idx *RowIndex) Resize(b *Backend) error {
	size := uint32(len(idx.slots))
	if size >= MaxIndexSize {
		return errors.Wrapf(ErrOutOfMemory, "smx: row index cannot grow beyond %d slots", size)
	}

	slots := make([]indexSlot, size*2)
	for _, s := range idx.slots {
		if !s.used {
			continue
		}
		pos, _ := probeIndex(slots, s.key)
		slots[pos] = s
	}
	idx.slots = slots
	b.Metrics.IndexResizes.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Block allocator
// --------------------------------------------------------------------------

// allocateIndexSlot returns the file offset of the next free index entry,
// appending and linking a new block once the current one is full.
// Requires exclusive hold.
func (idx *RowIndex) allocateIndexSlot(b *Backend) (int64, error) {
	if idx.blockUsed >= idx.blockCapacity {
		off, err := b.File.AppendIndexBlock(idx.newBlockCapacity)
		if err != nil {
			return 0, err
		}
		if err := b.File.LinkIndexBlock(idx.blockOffset, off); err != nil {
			return 0, err
		}
		idx.blockOffset = off
		idx.blockUsed = 0
		idx.blockCapacity = idx.newBlockCapacity
		b.Metrics.IndexBlocks.Inc()
	}

	entry := idx.blockOffset + IndexBlockHeaderSize + idx.blockUsed*IndexEntrySize
	idx.blockUsed++
	return entry, nil
}

// Create initializes an empty data file: the first index block and the
// header pointing at it. Must be called before the index is shared.
func (idx *RowIndex) Create(b *Backend) error {
	off, err := b.File.AppendIndexBlock(idx.newBlockCapacity)
	if err != nil {
		return err
	}
	if err := b.File.WriteHeader(off); err != nil {
		return err
	}
	idx.blockOffset = off
	idx.blockUsed = 0
	idx.blockCapacity = idx.newBlockCapacity
	b.Metrics.IndexBlocks.Inc()
	return nil
}

// Load walks the index block chain starting at head and registers every row
// as a cold row table. Must be called before the index is shared.
func (idx *RowIndex) Load(b *Backend, head int64) error {
	visited := make(map[int64]struct{})

	for off := head; off != 0; {
		if _, ok := visited[off]; ok {
			return CorruptionErrorf("smx: index block chain loops back to %d", off)
		}
		visited[off] = struct{}{}

		capacity, next, entries, err := b.File.ReadIndexBlock(off)
		if err != nil {
			return err
		}

		for _, e := range entries {
			if _, found := probeIndex(idx.slots, e.RowKey); found {
				return CorruptionErrorf("smx: row %d is listed twice in the index", e.RowKey)
			}
			if err := idx.reserve(b); err != nil {
				return err
			}
			idx.link(NewColdRowTable(e.RowKey, e.RowOffset, e.Offset))
		}

		idx.blockOffset = off
		idx.blockUsed = 0
		if n := len(entries); n > 0 {
			idx.blockUsed = (entries[n-1].Offset-off-IndexBlockHeaderSize)/IndexEntrySize + 1
		}
		idx.blockCapacity = capacity
		off = next
	}
	return nil
}

// FreeAll releases every resident slot array. Must only be called once no
// other goroutine uses the index.
func (idx *RowIndex) FreeAll(b *Backend) {
	for _, rt := range idx.tables {
		rt.Free(b)
	}
	idx.tables = nil
	idx.slots = nil
	idx.used = 0
}
