package smx

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx/internal"
	"github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultIndexSize          = 1 << 16 // Initial slot count of the row index
	defaultRowSize            = 8       // Initial slot count of a new row
	defaultIndexBlockCapacity = 4096    // Entries per on-disk index block
	minTableSize              = 2
)

// --------------------------------------------------------------------------
// Write-back modes
// --------------------------------------------------------------------------

// WriteBackMode controls when dirty rows are written to the data file
type WriteBackMode int

const (
	// WriteBackDeferred queues dirty rows for a background goroutine (default)
	WriteBackDeferred WriteBackMode = iota
	// WriteBackSync writes a row before the mutating call returns
	WriteBackSync
	// WriteBackManual only writes on Flush, Close and eviction
	WriteBackManual
)

func (m WriteBackMode) String() string {
	switch m {
	case WriteBackDeferred:
		return "deferred"
	case WriteBackSync:
		return "sync"
	case WriteBackManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseWriteBackMode converts "deferred", "sync" or "manual" to a WriteBackMode
func ParseWriteBackMode(s string) (WriteBackMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deferred":
		return WriteBackDeferred, nil
	case "sync":
		return WriteBackSync, nil
	case "manual":
		return WriteBackManual, nil
	default:
		return 0, errors.Newf("smx: unknown write-back mode %q", s)
	}
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures an Engine
type Options struct {
	InitialIndexSize   uint32         // Initial slot count of the row index (rounded up to a power of two)
	InitialRowSize     uint32         // Initial slot count of new rows (rounded up to a power of two)
	IndexBlockCapacity int64          // Entries per on-disk index block
	WriteBack          WriteBackMode  // When dirty rows are persisted
	CheckedArithmetic  bool           // Return errors on counter overflow instead of saturating
	MemoryLimit        int64          // Slot memory budget in bytes (0 = unlimited)
	MemoryHardLimit    bool           // Fail mutations that cannot get under MemoryLimit
	Eviction           EvictionPolicy // Victim selection (nil = LRU)
}

// DefaultOptions returns the default engine options
func DefaultOptions() *Options {
	return &Options{
		InitialIndexSize:   defaultIndexSize,
		InitialRowSize:     defaultRowSize,
		IndexBlockCapacity: defaultIndexBlockCapacity,
		WriteBack:          WriteBackDeferred,
	}
}

// normalize fills zero values with defaults and rounds table sizes to powers of two
func (o *Options) normalize() *Options {
	n := *o
	if n.InitialIndexSize < minTableSize {
		n.InitialIndexSize = defaultIndexSize
	}
	if n.InitialRowSize < minTableSize {
		n.InitialRowSize = defaultRowSize
	}
	if n.InitialIndexSize > internal.MaxIndexSize {
		n.InitialIndexSize = internal.MaxIndexSize
	}
	if n.InitialRowSize > internal.MaxRowSize {
		n.InitialRowSize = internal.MaxRowSize
	}
	n.InitialIndexSize = uint32(util.NextPowerOfTwo(uint64(n.InitialIndexSize)))
	n.InitialRowSize = uint32(util.NextPowerOfTwo(uint64(n.InitialRowSize)))
	if n.IndexBlockCapacity <= 0 || n.IndexBlockCapacity > internal.MaxIndexBlockCapacity {
		n.IndexBlockCapacity = defaultIndexBlockCapacity
	}
	if n.MemoryLimit < 0 {
		n.MemoryLimit = 0
	}
	if n.Eviction == nil {
		n.Eviction = NewLRUPolicy()
	}
	return &n
}

func (o *Options) String() string {
	limit := "unlimited"
	if o.MemoryLimit > 0 {
		limit = fmt.Sprintf("%d bytes", o.MemoryLimit)
		if o.MemoryHardLimit {
			limit += " (hard)"
		}
	}
	return fmt.Sprintf("index=%d row=%d block=%d writeback=%s checked=%v memory=%s",
		o.InitialIndexSize, o.InitialRowSize, o.IndexBlockCapacity, o.WriteBack, o.CheckedArithmetic, limit)
}
