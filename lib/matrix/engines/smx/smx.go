package smx

import (
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/smatrix/lib/matrix"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx/internal"
	"github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("smx")

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("smx: engine closed")
	// ErrCounterOverflow is returned by Incr with CheckedArithmetic if the result exceeds 2^32-1
	ErrCounterOverflow = errors.New("smx: counter overflow")
	// ErrCounterUnderflow is returned by Decr with CheckedArithmetic if the result is below 0
	ErrCounterUnderflow = errors.New("smx: counter underflow")
	// ErrNotSupported is returned for operations a memory-only engine cannot perform
	ErrNotSupported = errors.New("smx: operation not supported")
	// ErrOutOfMemory is returned when a table cannot grow or the memory limit cannot be kept
	ErrOutOfMemory = internal.ErrOutOfMemory
	// ErrCorruption marks errors caused by a damaged data file
	ErrCorruption = internal.ErrCorruption
)

// IsCorruptionError returns true if err was caused by a damaged data file
func IsCorruptionError(err error) bool {
	return internal.IsCorruptionError(err)
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is a concurrent sparse matrix of 32-bit counters, optionally backed
// by an append-only data file. It implements matrix.SparseMatrix.
type Engine struct {
	path    string
	opts    *Options
	backend *internal.Backend
	index   *internal.RowIndex
	metrics *metrics.Set

	// deferred write-back
	queue      *util.LockFreeMPSC[internal.RowTable]
	workerDone chan struct{}

	// first error raised by background work, returned by Flush/Close
	errMutex sync.Mutex
	asyncErr error

	evicting atomic.Bool
	closed   atomic.Bool

	// operation counters
	gets       *metrics.Counter
	sets       *metrics.Counter
	incrs      *metrics.Counter
	decrs      *metrics.Counter
	rowLengths *metrics.Counter
	getRows    *metrics.Counter
}

var _ matrix.SparseMatrix = (*Engine)(nil)

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// Open opens the data file at path, creating it if it does not exist, and
// returns an engine serving it. An empty path opens a memory-only engine.
// opts may be nil to use DefaultOptions.
//
// A file with an unknown header is rejected with an error marked ErrCorruption.
func Open(path string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = opts.normalize()

	if path == "" {
		return newEngine("", nil, opts), nil
	}

	file, created, err := internal.OpenFile(path)
	if err != nil {
		return nil, err
	}

	e := newEngine(path, file, opts)
	if created {
		err = e.index.Create(e.backend)
	} else {
		var head int64
		if head, err = file.ReadHeader(); err == nil {
			err = e.index.Load(e.backend, head)
		}
	}
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "smx: open %s", path)
	}

	if created {
		log.Infof("created %s (%s)", path, opts)
	} else {
		log.Infof("opened %s with %d rows, %d bytes (%s)", path, e.index.Len(), file.Size(), opts)
	}

	if opts.WriteBack == WriteBackDeferred {
		e.startWriteBack()
	}
	return e, nil
}

// OpenMemory returns a memory-only engine. Nothing is persisted and rows are
// never evicted; a memory limit only makes mutations fail once it is exceeded
// if MemoryHardLimit is set.
func OpenMemory(opts *Options) *Engine {
	e, _ := Open("", opts)
	return e
}

func newEngine(path string, file *internal.File, opts *Options) *Engine {
	set := metrics.NewSet()
	e := &Engine{
		path:    path,
		opts:    opts,
		backend: internal.NewBackend(file, set),
		index:   internal.NewRowIndex(opts.InitialIndexSize, opts.InitialRowSize, opts.IndexBlockCapacity),
		metrics: set,

		gets:       set.NewCounter(`smx_operations_total{op="get"}`),
		sets:       set.NewCounter(`smx_operations_total{op="set"}`),
		incrs:      set.NewCounter(`smx_operations_total{op="incr"}`),
		decrs:      set.NewCounter(`smx_operations_total{op="decr"}`),
		rowLengths: set.NewCounter(`smx_operations_total{op="row_length"}`),
		getRows:    set.NewCounter(`smx_operations_total{op="get_row"}`),
	}

	set.NewGauge("smx_memory_bytes", func() float64 {
		return float64(e.backend.MemoryBytes())
	})
	set.NewGauge("smx_rows", func() float64 {
		return float64(e.index.Len())
	})
	set.NewGauge("smx_file_bytes", func() float64 {
		if e.backend.File == nil {
			return 0
		}
		return float64(e.backend.File.Size())
	})
	return e
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Set implements matrix.SparseMatrix.Set
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Set(row, col, value uint32) (uint32, error) {
	e.sets.Inc()
	return e.mutate(row, col, func(uint32) (uint32, error) {
		return value, nil
	})
}

// Incr implements matrix.SparseMatrix.Incr. The result saturates at 2^32-1
// unless CheckedArithmetic is set.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Incr(row, col, delta uint32) (uint32, error) {
	e.incrs.Inc()
	return e.mutate(row, col, func(old uint32) (uint32, error) {
		if old > math.MaxUint32-delta {
			if e.opts.CheckedArithmetic {
				return 0, errors.Wrapf(ErrCounterOverflow, "smx: (%d, %d) = %d + %d", row, col, old, delta)
			}
			return math.MaxUint32, nil
		}
		return old + delta, nil
	})
}

// Decr implements matrix.SparseMatrix.Decr. The result saturates at 0 unless
// CheckedArithmetic is set.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Decr(row, col, delta uint32) (uint32, error) {
	e.decrs.Inc()
	return e.mutate(row, col, func(old uint32) (uint32, error) {
		if delta > old {
			if e.opts.CheckedArithmetic {
				return 0, errors.Wrapf(ErrCounterUnderflow, "smx: (%d, %d) = %d - %d", row, col, old, delta)
			}
			return 0, nil
		}
		return old - delta, nil
	})
}

// mutate runs the exclusive per-row protocol: lookup (creating the row),
// exclusive admission, lazy load, probe, update, write-back, release.
// fn must not have side effects, it may run more than once. If fn fails nothing is changed.
func (e *Engine) mutate(row, col uint32, fn func(old uint32) (uint32, error)) (uint32, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if err := e.admit(); err != nil {
		return 0, err
	}

	rt, err := e.index.Lookup(e.backend, row, false)
	if err != nil {
		return 0, err
	}
	if rt == nil {
		// a rejected update must not leave an empty row behind
		if _, err := fn(0); err != nil {
			return 0, err
		}
		if rt, err = e.index.Lookup(e.backend, row, true); err != nil {
			return 0, err
		}
	}

	rt.AcquireExclusive()
	value, err := e.mutateLocked(rt, col, fn)
	rt.ReleaseExclusive()

	if err != nil {
		return 0, err
	}
	e.touch(row)
	e.maybeEvict()
	return value, nil
}

// mutateLocked requires exclusive hold on rt
func (e *Engine) mutateLocked(rt *internal.RowTable, col uint32, fn func(old uint32) (uint32, error)) (uint32, error) {
	if err := rt.Load(e.backend); err != nil {
		return 0, err
	}

	old := uint32(0)
	idx, found := rt.Probe(col)
	if found {
		old = rt.Value(idx)
	}

	value, err := fn(old)
	if err != nil {
		return 0, err
	}

	if !found {
		if idx, err = rt.Insert(e.backend, col); err != nil {
			return 0, err
		}
	}
	rt.SetValue(idx, value)

	if err := e.afterWrite(rt); err != nil {
		// the value is applied in memory; the row stays dirty for the next write-back
		return value, errors.Wrapf(err, "smx: persist row %d", rt.Key)
	}
	return value, nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Get implements matrix.SparseMatrix.Get
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Get(row, col uint32) (uint32, error) {
	e.gets.Inc()
	var value uint32
	err := e.read(row, func(rt *internal.RowTable) {
		value = rt.Get(col)
	})
	return value, err
}

// RowLength implements matrix.SparseMatrix.RowLength
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) RowLength(row uint32) (uint32, error) {
	e.rowLengths.Inc()
	var length uint32
	err := e.read(row, func(rt *internal.RowTable) {
		length = rt.Used()
	})
	return length, err
}

// GetRow implements matrix.SparseMatrix.GetRow. Entries are returned in slot
// order, which is stable only as long as the row is not resized.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) GetRow(row uint32, capacity int) ([]matrix.Entry, error) {
	e.getRows.Inc()
	if capacity <= 0 {
		if e.closed.Load() {
			return nil, ErrClosed
		}
		return []matrix.Entry{}, nil
	}

	var entries []matrix.Entry
	err := e.read(row, func(rt *internal.RowTable) {
		n := int(rt.Used())
		if n > capacity {
			n = capacity
		}
		entries = make([]matrix.Entry, 0, n)
		rt.Range(func(key, value uint32) bool {
			entries = append(entries, matrix.Entry{Column: key, Value: value})
			return len(entries) < capacity
		})
	})
	if entries == nil && err == nil {
		entries = []matrix.Entry{}
	}
	return entries, err
}

// read runs the shared per-row protocol: lookup without create, lazy load,
// fn under shared admission, release. Absent rows never reach fn.
func (e *Engine) read(row uint32, fn func(rt *internal.RowTable)) error {
	if e.closed.Load() {
		return ErrClosed
	}

	rt, err := e.index.Lookup(e.backend, row, false)
	if err != nil || rt == nil {
		return err
	}

	if err := e.materialize(rt); err != nil {
		rt.ReleaseShared()
		return err
	}
	fn(rt)
	rt.ReleaseShared()

	e.touch(row)
	e.maybeEvict()
	return nil
}

// materialize loads a cold row. The caller holds a shared admission on rt and
// still holds one when materialize returns.
//
// The exclusive flag is announced before the caller's shared slot is given up,
// so two readers racing on the same cold row never both load it.
func (e *Engine) materialize(rt *internal.RowTable) error {
	for !rt.Loaded() {
		if !rt.AnnounceExclusive() {
			// someone else is loading or writing the row, wait for them
			rt.ReleaseShared()
			rt.AcquireShared()
			continue
		}
		if rt.Loaded() {
			rt.AbandonExclusive()
			return nil
		}

		rt.CompleteExclusive()
		err := rt.Load(e.backend)
		rt.DowngradeExclusive()
		if err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// Rows returns the number of rows in the index, resident or not.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Rows() int {
	return e.index.Len()
}

// ForEachRow calls fn with every row key in creation order until fn returns false.
// Rows created while iterating may or may not be visited.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) ForEachRow(fn func(row uint32) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	for _, rt := range e.index.Tables() {
		if !fn(rt.Key) {
			return nil
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// Stats is the engine specific part of matrix.MatrixInfo
type Stats struct {
	IndexSize         int     `json:"index_size"`
	WriteBack         string  `json:"write_back"`
	MemoryLimit       int64   `json:"memory_limit"`
	ResidentRowLength int64   `json:"resident_row_length_max"`
	AverageRowLength  float64 `json:"resident_row_length_avg"`
	MedianRowLength   int64   `json:"resident_row_length_p50"`
	P99RowLength      int64   `json:"resident_row_length_p99"`
	PendingWriteBacks uint64  `json:"pending_write_backs"`

	// LengthBounds[i] is the upper bound of a row length bucket, LengthShares[i]
	// the percentage of resident rows in it
	LengthBounds []int64   `json:"length_bounds"`
	LengthShares []float64 `json:"length_shares"`
}

func (e *Engine) supportedFeatures() matrix.Feature {
	features := matrix.FeatureGet | matrix.FeatureSet | matrix.FeatureIncr | matrix.FeatureDecr |
		matrix.FeatureRowLength | matrix.FeatureGetRow
	if e.backend.File != nil {
		features |= matrix.FeaturePersistence | matrix.FeatureEviction
	}
	return features
}

// SupportsFeature implements matrix.SparseMatrix.SupportsFeature
func (e *Engine) SupportsFeature(feature matrix.Feature) bool {
	return e.supportedFeatures()&feature == feature
}

// GetInfo implements matrix.SparseMatrix.GetInfo. Row length statistics only
// cover resident rows so that GetInfo never loads anything from disk.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) GetInfo() matrix.MatrixInfo {
	features := make([]matrix.Feature, 0, 8)
	supported := e.supportedFeatures()
	for f := matrix.FeatureGet; f <= matrix.FeatureEviction; f <<= 1 {
		if supported&f != 0 {
			features = append(features, f)
		}
	}

	info := matrix.MatrixInfo{
		Path:              e.path,
		MatrixType:        matrix.ImplSMX,
		SupportedFeatures: features,
	}
	if e.closed.Load() {
		return info
	}

	lengths := util.NewLengthHistogram()
	resident := 0
	for _, rt := range e.index.Tables() {
		rt.AcquireShared()
		if rt.Loaded() {
			resident++
			lengths.AddSample(int64(rt.Used()))
		}
		rt.ReleaseShared()
	}

	stats := Stats{
		IndexSize:         e.index.Size(),
		WriteBack:         e.opts.WriteBack.String(),
		MemoryLimit:       e.opts.MemoryLimit,
		ResidentRowLength: lengths.Max(),
		AverageRowLength:  lengths.Average(),
		MedianRowLength:   lengths.PercentileEstimate(50),
		P99RowLength:      lengths.PercentileEstimate(99),
	}
	stats.LengthBounds, stats.LengthShares = lengths.Distribution()
	if e.queue != nil {
		stats.PendingWriteBacks = e.queue.Backlog()
	}

	info.Rows = e.index.Len()
	info.ResidentRows = resident
	info.MemoryBytes = e.backend.MemoryBytes()
	if e.backend.File != nil {
		info.FileBytes = e.backend.File.Size()
	}
	info.Metadata = stats
	return info
}

// WriteMetrics implements matrix.SparseMatrix.WriteMetrics
func (e *Engine) WriteMetrics(w io.Writer) {
	e.metrics.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close implements matrix.SparseMatrix.Close. It waits for queued write-backs,
// writes every remaining dirty row, syncs and closes the data file and frees
// all rows. Operations must not be running concurrently with Close.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	e.stopWriteBack()
	err := e.flush()

	rows := e.index.Len()
	e.index.FreeAll(e.backend)

	if e.backend.File != nil {
		err = errors.CombineErrors(err, e.backend.File.Close())
		log.Infof("closed %s with %d rows", e.path, rows)
	}
	return err
}
