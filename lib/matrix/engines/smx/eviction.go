package smx

import (
	"sync"

	"github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Eviction policy
// --------------------------------------------------------------------------

// EvictionPolicy decides which resident row is dropped back to disk when the
// engine exceeds its memory limit. It is only consulted when Options.MemoryLimit
// is set.
//
// Thread-safety: Implementations must be safe for concurrent use.
type EvictionPolicy interface {
	// Touch records an access to row
	Touch(row uint32)
	// Forget removes row from the policy's bookkeeping
	Forget(row uint32)
	// Victim removes and returns the next row to evict
	Victim() (row uint32, ok bool)
}

// lruPolicy evicts the least recently touched row. Rows are kept in a
// util.MapHeap prioritized by a logical access tick.
type lruPolicy struct {
	mutex sync.Mutex
	heap  *util.MapHeap
	tick  uint64
}

// NewLRUPolicy returns the default least-recently-used eviction policy
func NewLRUPolicy() EvictionPolicy {
	return &lruPolicy{heap: util.NewMapHeap()}
}

func (p *lruPolicy) Touch(row uint32) {
	p.mutex.Lock()
	p.tick++
	p.heap.AddItem(uint64(row), p.tick)
	p.mutex.Unlock()
}

func (p *lruPolicy) Forget(row uint32) {
	p.mutex.Lock()
	p.heap.RemoveByKey(uint64(row))
	p.mutex.Unlock()
}

func (p *lruPolicy) Victim() (uint32, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	item, ok := p.heap.PopMin()
	if !ok {
		return 0, false
	}
	return uint32(item.Key), true
}

// --------------------------------------------------------------------------
// Engine side
// --------------------------------------------------------------------------

// touch reports an access to the eviction policy
func (e *Engine) touch(row uint32) {
	if e.opts.MemoryLimit > 0 {
		e.opts.Eviction.Touch(row)
	}
}

// overLimit reports whether resident rows use more memory than allowed
func (e *Engine) overLimit() bool {
	return e.opts.MemoryLimit > 0 && e.backend.MemoryBytes() > e.opts.MemoryLimit
}

// admit is called before every mutation. With a hard limit it evicts rows
// synchronously and fails if the engine cannot get below the limit.
func (e *Engine) admit() error {
	if !e.opts.MemoryHardLimit || !e.overLimit() {
		return nil
	}
	e.evictUntilBelowLimit()
	if e.overLimit() {
		return errors.Wrapf(ErrOutOfMemory, "smx: %d bytes resident, limit is %d",
			e.backend.MemoryBytes(), e.opts.MemoryLimit)
	}
	return nil
}

// maybeEvict is called after every operation. Only one goroutine evicts at a time;
// others skip instead of piling up behind it.
func (e *Engine) maybeEvict() {
	if e.backend.File == nil || !e.overLimit() {
		return
	}
	if !e.evicting.CompareAndSwap(false, true) {
		return
	}
	defer e.evicting.Store(false)
	e.evictUntilBelowLimit()
}

// evictUntilBelowLimit asks the policy for victims until memory use is below
// the limit, the policy runs dry or every row was tried once
func (e *Engine) evictUntilBelowLimit() {
	if e.backend.File == nil {
		return
	}

	var busy []uint32
	defer func() {
		// rows that were busy stay candidates
		for _, row := range busy {
			e.opts.Eviction.Touch(row)
		}
	}()

	for attempts := e.index.Len(); attempts > 0 && e.overLimit(); attempts-- {
		row, ok := e.opts.Eviction.Victim()
		if !ok {
			return
		}
		evicted, err := e.evictRow(row)
		if err != nil {
			log.Errorf("eviction of row %d failed: %v", row, err)
			e.recordError(err)
			continue
		}
		if !evicted {
			busy = append(busy, row)
		}
	}
}

// evictRow drops a loaded row back to disk if nobody else holds it exclusively.
// Returns false if the row is absent, cold or busy.
func (e *Engine) evictRow(row uint32) (bool, error) {
	rt, err := e.index.Lookup(e.backend, row, false)
	if err != nil || rt == nil {
		return false, err
	}

	// a row that is being written or loaded right now is not a good victim
	if !rt.AnnounceExclusive() {
		rt.ReleaseShared()
		return false, nil
	}
	if !rt.Loaded() {
		rt.AbandonExclusive()
		rt.ReleaseShared()
		return false, nil
	}
	rt.CompleteExclusive()
	err = rt.Evict(e.backend)
	rt.ReleaseExclusive()

	if err != nil {
		return false, err
	}
	log.Debugf("evicted row %d, %d bytes resident", row, e.backend.MemoryBytes())
	return true, nil
}

// Evict writes row back to disk and drops it from memory.
// Evicting an absent or cold row is a no-op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Evict(row uint32) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.backend.File == nil {
		return errors.Wrap(ErrNotSupported, "smx: eviction needs a data file")
	}

	rt, err := e.index.Lookup(e.backend, row, false)
	if err != nil || rt == nil {
		return err
	}
	rt.AcquireExclusive()
	err = rt.Evict(e.backend)
	rt.ReleaseExclusive()

	if err == nil && e.opts.MemoryLimit > 0 {
		e.opts.Eviction.Forget(row)
	}
	return err
}
