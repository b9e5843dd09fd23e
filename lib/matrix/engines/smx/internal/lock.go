package internal

import (
	"runtime"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Hybrid reader-refcount / exclusive-flag lock
// --------------------------------------------------------------------------

// Lock is embedded in the row index and in every row table.
//
// It combines a count of shared holders with an exclusive flag:
//   - shared holders only bump the count; they back off while the flag is set
//   - an exclusive holder sets the flag first and then waits for the count to drain
//
// An exclusive holder always starts out as a shared holder (upgrade). The flag can
// be announced before the shared slot is given up, which makes the row look busy to
// new readers while the announcing goroutine still decides whether to proceed.
//
// The lock never fails and has no timeout; waiting goroutines spin with runtime.Gosched.
// The zero value is an unlocked Lock.
type Lock struct {
	readers atomic.Int32
	mutex   atomic.Bool
}

// AcquireShared blocks until the caller is admitted as a shared holder.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *Lock) AcquireShared() {
	for {
		l.readers.Add(1)
		if !l.mutex.Load() {
			return
		}

		// an exclusive holder is announced, step back until it is done
		l.readers.Add(-1)
		for l.mutex.Load() {
			runtime.Gosched()
		}
	}
}

// ReleaseShared gives up a shared admission.
func (l *Lock) ReleaseShared() {
	l.readers.Add(-1)
}

// AcquireExclusive upgrades a shared admission to an exclusive one.
// The caller must hold a shared admission; it is consumed by this call.
// Returns once every other shared holder has drained.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *Lock) AcquireExclusive() {
	for !l.AnnounceExclusive() {
		// Someone else owns the flag and waits for our slot to drain.
		// Give the slot up while waiting, then queue up as a reader again.
		l.readers.Add(-1)
		for l.mutex.Load() {
			runtime.Gosched()
		}
		l.AcquireShared()
	}
	l.CompleteExclusive()
}

// ReleaseExclusive gives up an exclusive admission.
// The caller holds no admission afterwards.
func (l *Lock) ReleaseExclusive() {
	l.mutex.Store(false)
}

// AnnounceExclusive tries to claim the exclusive flag without giving up the
// caller's shared admission. New shared entrants see the lock as busy from now on.
// Returns false without waiting if another goroutine owns the flag.
//
// After a successful announcement the caller either calls CompleteExclusive to
// become the exclusive holder, or AbandonExclusive to go back to being a plain
// shared holder.
func (l *Lock) AnnounceExclusive() bool {
	return l.mutex.CompareAndSwap(false, true)
}

// CompleteExclusive turns an announcement into an exclusive admission: the caller's
// shared slot is given up and the call returns once all other readers have drained.
func (l *Lock) CompleteExclusive() {
	l.readers.Add(-1)
	for l.readers.Load() > 0 {
		runtime.Gosched()
	}
}

// AbandonExclusive withdraws an announcement. The caller keeps its shared admission.
func (l *Lock) AbandonExclusive() {
	l.mutex.Store(false)
}

// DowngradeExclusive turns an exclusive admission back into a shared one
// without letting another exclusive holder in between.
func (l *Lock) DowngradeExclusive() {
	l.readers.Add(1)
	l.mutex.Store(false)
}

// Readers returns the current number of shared holders (for tests and diagnostics).
func (l *Lock) Readers() int32 {
	return l.readers.Load()
}

// Busy returns whether the exclusive flag is set.
func (l *Lock) Busy() bool {
	return l.mutex.Load()
}
