// Package util
//
// This file provides a min-heap with key-based access.
//
// The engine uses it to pick eviction victims: every resident row is an item
// keyed by its row key and prioritized by the logical tick of its last access,
// so the item at the top of the heap is the least recently used row.
//
// Complexity:
//   - O(log n) for AddItem (insert or re-prioritize), PopMin and RemoveByKey
//   - O(1) for Peek, Contains and GetByKey
//
// Concurrency: MapHeap is not thread-safe. Callers synchronize externally.
//
// Example usage:
//
//	h := NewMapHeap()
//	h.AddItem(rowKey, tick)     // touch
//	victim, ok := h.PopMin()    // least recently touched
//	h.RemoveByKey(rowKey)       // row freed by other means
package util

import (
	"container/heap"
	"strconv"
)

// Item is one entry of the heap
type Item struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Smaller priorities are popped first
	index    int    // Position in the heap slice, maintained by container/heap
}

func (i *Item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap over Item.Priority with an index by Item.Key
type MapHeap struct {
	items []*Item
	byKey map[uint64]*Item
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items: make([]*Item, 0),
		byKey: make(map[uint64]*Item),
	}
}

// Len is part of heap.Interface
func (h *MapHeap) Len() int { return len(h.items) }

// Less is part of heap.Interface
func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap is part of heap.Interface
func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push is part of heap.Interface, use AddItem instead
func (h *MapHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byKey[it.Key] = it
}

// Pop is part of heap.Interface, use PopMin instead
func (h *MapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.byKey, it.Key)
	return it
}

// AddItem inserts a key or moves an existing key to the new priority
func (h *MapHeap) AddItem(key, priority uint64) {
	if it, ok := h.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &Item{Key: key, Priority: priority})
}

// RemoveByKey removes a key and returns its priority
func (h *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the smallest priority without removing it
func (h *MapHeap) Peek() (*Item, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// PopMin removes and returns the item with the smallest priority
func (h *MapHeap) PopMin() (*Item, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop(h).(*Item), true
}

// Contains checks if a key is in the heap
func (h *MapHeap) Contains(key uint64) bool {
	_, ok := h.byKey[key]
	return ok
}

// GetByKey returns the item for a key without removing it
func (h *MapHeap) GetByKey(key uint64) (*Item, bool) {
	it, ok := h.byKey[key]
	return it, ok
}
