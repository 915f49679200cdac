// Package pq adapts the teacher's early-arrival segment heap into a
// generic age-ordered priority queue, used by netif to evict expired ARP
// cache entries and pending ARP requests in O(log n) instead of scanning
// every map entry on every tick.
package pq

import "container/heap"

// AgedItem is something ordered by an installation/send timestamp (in
// milliseconds on the owner's logical clock) so the oldest entry can be
// popped first.
type AgedItem struct {
	Key       string // cache/request key, e.g. an IPv4 address string
	Timestamp uint64 // milliseconds on the owner's logical clock
	index     int
}

// agedHeap is the container/heap plumbing, ordered by ascending
// Timestamp. It is kept private so callers can only reach it through
// AgeQueue, which also maintains the by-key index needed to update an
// item in place rather than leaking a duplicate on every refresh.
type agedHeap []*AgedItem

func (h agedHeap) Len() int { return len(h) }

func (h agedHeap) Less(i, j int) bool { return h[i].Timestamp < h[j].Timestamp }

func (h agedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *agedHeap) Push(x any) {
	item := x.(*AgedItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *agedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// AgeQueue is a min-heap of AgedItem ordered by ascending Timestamp, with
// at most one live entry per key: refreshing an already-present key
// updates its timestamp in place (via heap.Fix) instead of pushing a
// second entry, so repeatedly re-resolving the same key doesn't leak an
// orphaned heap slot. Mirrors the update-in-place shape of the teacher's
// unused priorityQueue/pq.go update() method, which calls
// heap.Fix(pq, item.Index) for the same reason.
type AgeQueue struct {
	heap  agedHeap
	items map[string]*AgedItem
}

// NewAgeQueue returns an initialized, empty AgeQueue ready for use.
func NewAgeQueue() *AgeQueue {
	q := &AgeQueue{items: make(map[string]*AgedItem)}
	heap.Init(&q.heap)
	return q
}

// Insert records timestamp for key. If key already has a live entry, its
// timestamp is updated in place via heap.Fix; otherwise a new entry is
// pushed.
func (q *AgeQueue) Insert(key string, timestamp uint64) {
	if item, ok := q.items[key]; ok {
		item.Timestamp = timestamp
		heap.Fix(&q.heap, item.index)
		return
	}
	item := &AgedItem{Key: key, Timestamp: timestamp}
	q.items[key] = item
	heap.Push(&q.heap, item)
}

// PopExpiredBefore pops and returns the keys of every item with
// Timestamp <= deadline, oldest first. Items newer than deadline are left
// in place.
func (q *AgeQueue) PopExpiredBefore(deadline uint64) []string {
	var expired []string
	for q.heap.Len() > 0 && q.heap[0].Timestamp <= deadline {
		item := heap.Pop(&q.heap).(*AgedItem)
		delete(q.items, item.Key)
		expired = append(expired, item.Key)
	}
	return expired
}
