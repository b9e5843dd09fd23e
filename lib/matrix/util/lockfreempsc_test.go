package util

import (
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests push and consume in a single goroutine
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	values := make([]int, 10)
	for i := range values {
		values[i] = i
		if !q.Push(&values[i]) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

// TestPushNil verifies nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestConcurrentProducers verifies nothing is lost with many producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const numProducers = 8
	const itemsPerProducer = 1000

	received := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			received[*v] = true
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := p*itemsPerProducer + i
				q.Push(&v)
			}
		}(p)
	}
	wg.Wait()

	q.Close()
	q.Wait()
	<-done

	if len(received) != numProducers*itemsPerProducer {
		t.Errorf("Expected %d distinct items, got %d", numProducers*itemsPerProducer, len(received))
	}
}

// TestCloseDrains verifies queued items are delivered after Close and the channel closes afterwards
func TestCloseDrains(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}

	v := 99
	if q.Push(&v) {
		t.Error("Push after Close should fail")
	}

	count := 0
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Recv():
			if !ok {
				if count != 5 {
					t.Errorf("Expected 5 items before close, got %d", count)
				}
				return
			}
			count++
		case <-timeout:
			t.Fatal("Timeout waiting for the queue to drain")
		}
	}
}

// BenchmarkMultiProducer measures push throughput under contention
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	go func() {
		for range q.Recv() {
		}
	}()
	b.Cleanup(q.Close)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		v := 1
		for pb.Next() {
			q.Push(&v)
		}
	})
}

// TestPushAfterClose tests that a closed queue rejects items without counting them
func TestPushAfterClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	q.Close()
	for range q.Recv() {
	}
	q.Wait()

	v := 1
	if q.Push(&v) {
		t.Error("Push should fail after Close")
	}
	if q.Backlog() != 0 {
		t.Errorf("Expected an empty backlog, got %d", q.Backlog())
	}
}

// TestPushRacingClose tests that every accepted item is delivered when Close races with producers
func TestPushRacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		q := NewLockFreeMPSC[int]()

		var received int
		done := make(chan struct{})
		go func() {
			for range q.Recv() {
				received++
			}
			close(done)
		}()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					v := i
					if q.Push(&v) {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}
			}()
		}

		q.Close()
		wg.Wait()
		<-done
		q.Wait()

		if received != accepted {
			t.Fatalf("Round %d: accepted %d items but delivered %d", round, accepted, received)
		}
	}
}
