package smx

import (
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx/internal"
	"github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Deferred write-back
// --------------------------------------------------------------------------

// startWriteBack starts the goroutine that persists queued rows.
// A row is queued at most once per dirty period: the first mutation that finds
// it unqueued pushes it, later mutations see the queued mark and skip the push.
func (e *Engine) startWriteBack() {
	e.queue = util.NewLockFreeMPSC[internal.RowTable]()
	e.workerDone = make(chan struct{})
	go e.writeBackWorker()
}

// writeBackWorker drains the queue until it is closed
func (e *Engine) writeBackWorker() {
	defer close(e.workerDone)

	for rt := range e.queue.Recv() {
		// clear first so that a mutation racing with this write queues the row again
		rt.ClearQueued()

		rt.AcquireShared()
		rt.AcquireExclusive()
		err := rt.Sync(e.backend)
		rt.ReleaseExclusive()

		if err != nil {
			log.Errorf("write-back of row %d failed: %v", rt.Key, err)
			e.recordError(err)
		}
	}
}

// stopWriteBack closes the queue and waits until every queued row was written
func (e *Engine) stopWriteBack() {
	if e.queue == nil {
		return
	}
	e.queue.Close()
	<-e.workerDone
}

// afterWrite persists or schedules a row that was just mutated.
// Requires exclusive hold on rt.
func (e *Engine) afterWrite(rt *internal.RowTable) error {
	if e.backend.File == nil {
		return nil
	}

	switch e.opts.WriteBack {
	case WriteBackSync:
		return rt.Sync(e.backend)
	case WriteBackDeferred:
		if rt.MarkQueued() && !e.queue.Push(rt) {
			// queue already closed, Close flushes the row instead
			rt.ClearQueued()
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Background errors
// --------------------------------------------------------------------------

// recordError keeps the first error raised outside of a caller's goroutine
func (e *Engine) recordError(err error) {
	e.errMutex.Lock()
	defer e.errMutex.Unlock()
	if e.asyncErr == nil {
		e.asyncErr = err
	}
}

// takeError returns and clears the retained background error
func (e *Engine) takeError() error {
	e.errMutex.Lock()
	defer e.errMutex.Unlock()
	err := e.asyncErr
	e.asyncErr = nil
	if err != nil {
		return errors.Wrap(err, "smx: background write-back")
	}
	return nil
}

// --------------------------------------------------------------------------
// Flush
// --------------------------------------------------------------------------

// Flush writes every dirty row to the data file and syncs it. The first error
// raised by the background writer since the last Flush is returned as well.
// For memory-only engines this is a no-op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.flush()
}

func (e *Engine) flush() error {
	if e.backend.File == nil {
		return nil
	}

	var errs error
	for _, rt := range e.index.Tables() {
		if !rt.Dirty() {
			continue
		}
		rt.AcquireShared()
		rt.AcquireExclusive()
		err := rt.Sync(e.backend)
		rt.ReleaseExclusive()
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	if err := e.backend.File.Sync(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errors.CombineErrors(errs, e.takeError())
}
