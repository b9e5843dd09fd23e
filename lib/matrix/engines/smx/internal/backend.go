package internal

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// Backend bundles the resources shared by the row index and all row tables
// of one engine.
type Backend struct {
	File    *File          // data file, nil for memory-only engines
	Memory  *xsync.Counter // bytes held by resident slot arrays
	Metrics *Metrics
}

// NewBackend creates a backend around file (which may be nil) and registers
// its metrics in set
func NewBackend(file *File, set *metrics.Set) *Backend {
	return &Backend{
		File:    file,
		Memory:  xsync.NewCounter(),
		Metrics: NewMetrics(set),
	}
}

// MemoryBytes returns the number of bytes currently held by slot arrays
func (b *Backend) MemoryBytes() int64 {
	return b.Memory.Value()
}

func (b *Backend) trackMemory(delta int64) {
	b.Memory.Add(delta)
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// Metrics holds the storage level counters of one engine
type Metrics struct {
	Loads             *metrics.Counter   // cold row tables read from disk
	Evictions         *metrics.Counter   // row tables dropped back to cold
	Resizes           *metrics.Counter   // row table rehashes
	WriteBacks        *metrics.Counter   // full row block writes
	SlotWrites        *metrics.Counter   // single slot writes
	IndexResizes      *metrics.Counter   // row index rehashes
	IndexBlocks       *metrics.Counter   // index blocks appended to the file
	WriteBackDuration *metrics.Histogram // time spent persisting one row
}

// NewMetrics registers the storage metrics in set
func NewMetrics(set *metrics.Set) *Metrics {
	return &Metrics{
		Loads:             set.NewCounter("smx_row_loads_total"),
		Evictions:         set.NewCounter("smx_row_evictions_total"),
		Resizes:           set.NewCounter("smx_row_resizes_total"),
		WriteBacks:        set.NewCounter("smx_row_writebacks_total"),
		SlotWrites:        set.NewCounter("smx_slot_writes_total"),
		IndexResizes:      set.NewCounter("smx_index_resizes_total"),
		IndexBlocks:       set.NewCounter("smx_index_blocks_total"),
		WriteBackDuration: set.NewHistogram("smx_writeback_duration_seconds"),
	}
}
