package internal

import (
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// File layout
// --------------------------------------------------------------------------

/*
	All integers are little-endian.

	FILE         ::= HEADER BODY
	HEADER       ::= MAGIC(8) INDEX_HEAD_OFFSET(8) PADDING(496)            ; 512 bytes
	BODY         ::= *(INDEX_BLOCK | ROW_BLOCK)
	INDEX_BLOCK  ::= BLOCK_CAPACITY(8) NEXT_BLOCK_OFFSET(8) *(INDEX_ENTRY)   ; 12 bytes/entry
	INDEX_ENTRY  ::= ROW_KEY(4) ROW_TABLE_OFFSET(8)
	ROW_BLOCK    ::= ROW_MAGIC(8) ROW_CAPACITY(8) *(ROW_SLOT)              ; 8 bytes/slot
	ROW_SLOT     ::= COLUMN_KEY(4) COUNTER_VALUE(4)

	Blocks are only ever appended. An index entry with ROW_TABLE_OFFSET 0 is unused.
*/

const (
	HeaderSize           = 512
	IndexBlockHeaderSize = 16
	IndexEntrySize       = 12
	RowHeaderSize        = 16
	RowSlotSize          = 8

	// MaxRowCapacity bounds the capacity a row block may declare
	MaxRowCapacity = 1 << 30
	// MaxIndexBlockCapacity bounds the capacity an index block may declare
	MaxIndexBlockCapacity = 1 << 24
)

var (
	FileMagic = [8]byte{'S', 'M', 'A', 'T', 'R', 'I', 'X', 0x01}
	RowMagic  = [8]byte{'S', 'M', 'X', 'R', 'O', 'W', 0x00, 0x01}
)

// RowBlockSize returns the number of bytes of a row block with the given capacity
func RowBlockSize(capacity uint32) int64 {
	return RowHeaderSize + int64(capacity)*RowSlotSize
}

// IndexBlockSize returns the number of bytes of an index block with the given capacity
func IndexBlockSize(capacity int64) int64 {
	return IndexBlockHeaderSize + capacity*IndexEntrySize
}

// IndexEntry is one decoded entry of an index block
type IndexEntry struct {
	Offset    int64 // file offset of the entry itself
	RowKey    uint32
	RowOffset int64
}

// --------------------------------------------------------------------------
// File
// --------------------------------------------------------------------------

// File wraps the data file. All reads and writes are positional, so concurrent
// callers only need to agree on who writes where. Space is handed out by an
// atomic append cursor and never given back.
type File struct {
	f      *os.File
	path   string
	cursor atomic.Int64
}

// OpenFile opens (or creates) the data file at path and locks it.
// created reports whether the file was empty and still needs a header.
func OpenFile(path string) (file *File, created bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, errors.Wrapf(err, "smx: open %s", path)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, false, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, false, errors.Wrapf(err, "smx: stat %s", path)
	}

	file = &File{f: f, path: path}
	if stat.Size() == 0 {
		file.cursor.Store(HeaderSize)
		return file, true, nil
	}

	if stat.Size() < HeaderSize {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, false, CorruptionErrorf("smx: %s is too small (%d bytes) to hold a header", path, stat.Size())
	}

	file.cursor.Store(stat.Size())
	return file, false, nil
}

// Path returns the path the file was opened with
func (f *File) Path() string {
	return f.path
}

// Size returns the current end of the file as seen by the append cursor
func (f *File) Size() int64 {
	return f.cursor.Load()
}

// Allocate reserves n bytes at the end of the file and returns their offset.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *File) Allocate(n int64) int64 {
	return f.cursor.Add(n) - n
}

// WriteAt writes all of b at off
func (f *File) WriteAt(b []byte, off int64) error {
	n, err := f.f.WriteAt(b, off)
	if err != nil {
		return errors.Wrapf(err, "smx: write %d bytes at offset %d", len(b), off)
	}
	if n != len(b) {
		return errors.Wrapf(ErrShortIO, "smx: wrote %d of %d bytes at offset %d", n, len(b), off)
	}
	return nil
}

// ReadAt fills b from off
func (f *File) ReadAt(b []byte, off int64) error {
	n, err := f.f.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || err == io.EOF {
		return errors.Wrapf(ErrShortIO, "smx: read %d of %d bytes at offset %d", n, len(b), off)
	}
	return errors.Wrapf(err, "smx: read %d bytes at offset %d", len(b), off)
}

// Sync flushes written data to stable storage
func (f *File) Sync() error {
	if err := syncData(f.f); err != nil {
		return errors.Wrapf(err, "smx: sync %s", f.path)
	}
	return nil
}

// Close releases the file lock and closes the file
func (f *File) Close() error {
	unlockErr := unlockFile(f.f)
	if err := f.f.Close(); err != nil {
		return errors.Wrapf(err, "smx: close %s", f.path)
	}
	if unlockErr != nil {
		return errors.Wrapf(unlockErr, "smx: unlock %s", f.path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Header
// --------------------------------------------------------------------------

// WriteHeader writes the fixed file header pointing at the first index block
func (f *File) WriteHeader(indexHead int64) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], FileMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(indexHead))
	return f.WriteAt(buf, 0)
}

// ReadHeader validates the file header and returns the offset of the first index block
func (f *File) ReadHeader() (int64, error) {
	buf := make([]byte, 16)
	if err := f.ReadAt(buf, 0); err != nil {
		return 0, err
	}

	if [8]byte(buf[0:8]) != FileMagic {
		return 0, CorruptionErrorf("smx: invalid file format: magic number mismatch in %s", f.path)
	}

	head := int64(binary.LittleEndian.Uint64(buf[8:16]))
	if head < HeaderSize || head >= f.Size() {
		return 0, CorruptionErrorf("smx: index head offset %d out of range in %s", head, f.path)
	}
	return head, nil
}

// --------------------------------------------------------------------------
// Index blocks
// --------------------------------------------------------------------------

// AppendIndexBlock appends an empty index block with the given capacity and returns its offset
func (f *File) AppendIndexBlock(capacity int64) (int64, error) {
	size := IndexBlockSize(capacity)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(capacity))

	off := f.Allocate(size)
	if err := f.WriteAt(buf, off); err != nil {
		return 0, err
	}
	return off, nil
}

// LinkIndexBlock sets the "next" pointer of the block at prev to next
func (f *File) LinkIndexBlock(prev, next int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(next))
	return f.WriteAt(buf[:], prev+8)
}

// WriteIndexEntry writes one index entry at off
func (f *File) WriteIndexEntry(off int64, rowKey uint32, rowOffset int64) error {
	var buf [IndexEntrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], rowKey)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(rowOffset))
	return f.WriteAt(buf[:], off)
}

// ReadIndexBlock reads the index block at off.
// Only used entries (row offset != 0) are returned, in block order. Unused entries
// may sit between used ones if a row could not be persisted.
func (f *File) ReadIndexBlock(off int64) (capacity int64, next int64, entries []IndexEntry, err error) {
	var hdr [IndexBlockHeaderSize]byte
	if err = f.ReadAt(hdr[:], off); err != nil {
		return 0, 0, nil, err
	}

	capacity = int64(binary.LittleEndian.Uint64(hdr[0:8]))
	next = int64(binary.LittleEndian.Uint64(hdr[8:16]))

	if capacity <= 0 || capacity > MaxIndexBlockCapacity || off+IndexBlockSize(capacity) > f.Size() {
		return 0, 0, nil, CorruptionErrorf("smx: index block at %d declares invalid capacity %d", off, capacity)
	}
	if next != 0 && (next < HeaderSize || next >= f.Size()) {
		return 0, 0, nil, CorruptionErrorf("smx: index block at %d links to invalid offset %d", off, next)
	}

	buf := make([]byte, capacity*IndexEntrySize)
	if err = f.ReadAt(buf, off+IndexBlockHeaderSize); err != nil {
		return 0, 0, nil, err
	}

	for i := int64(0); i < capacity; i++ {
		b := buf[i*IndexEntrySize : (i+1)*IndexEntrySize]
		rowOffset := int64(binary.LittleEndian.Uint64(b[4:12]))
		if rowOffset == 0 {
			// unused, either the free tail of the block or a slot whose row failed to persist
			continue
		}
		if rowOffset < HeaderSize || rowOffset >= f.Size() {
			return 0, 0, nil, CorruptionErrorf("smx: index entry %d of block %d points to invalid offset %d", i, off, rowOffset)
		}
		entries = append(entries, IndexEntry{
			Offset:    off + IndexBlockHeaderSize + i*IndexEntrySize,
			RowKey:    binary.LittleEndian.Uint32(b[0:4]),
			RowOffset: rowOffset,
		})
	}
	return capacity, next, entries, nil
}

// --------------------------------------------------------------------------
// Row blocks
// --------------------------------------------------------------------------

// EncodeRowHeader writes the row block header into buf[0:RowHeaderSize]
func EncodeRowHeader(buf []byte, capacity uint32) {
	copy(buf[0:8], RowMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(capacity))
}

// EncodeRowSlot writes one row slot into buf[0:RowSlotSize]
func EncodeRowSlot(buf []byte, key, value uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], key)
	binary.LittleEndian.PutUint32(buf[4:8], value)
}

// ReadRowHeader validates the row block header at off and returns its capacity
func (f *File) ReadRowHeader(off int64) (uint32, error) {
	var hdr [RowHeaderSize]byte
	if err := f.ReadAt(hdr[:], off); err != nil {
		return 0, err
	}
	if [8]byte(hdr[0:8]) != RowMagic {
		return 0, CorruptionErrorf("smx: row block at %d: magic number mismatch", off)
	}
	capacity := binary.LittleEndian.Uint64(hdr[8:16])
	if capacity == 0 || capacity > MaxRowCapacity || off+RowBlockSize(uint32(capacity)) > f.Size() {
		return 0, CorruptionErrorf("smx: row block at %d declares invalid capacity %d", off, capacity)
	}
	return uint32(capacity), nil
}

// ReadRowSlots reads the raw slot array of a row block with the given capacity
func (f *File) ReadRowSlots(off int64, capacity uint32) ([]byte, error) {
	buf := make([]byte, int64(capacity)*RowSlotSize)
	if err := f.ReadAt(buf, off+RowHeaderSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeRowSlot reads one row slot from b[0:RowSlotSize]
func DecodeRowSlot(b []byte) (key, value uint32) {
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}
