// Package pqueue implements a min-priority queue keyed by (utilization,
// insertion order), used by Group to pick the least-loaded Process in O(log n)
// and to support O(log n) key-decrease and arbitrary removal.
package pqueue

import "container/heap"

// Item is anything the queue can hold. Utilization is the scheduling key;
// lower utilization sorts first. Ties are broken by insertion order, so the
// queue never reorders two items with equal utilization.
type Item interface {
	Utilization() int
}

// Handle is an opaque reference to an item's position in the queue. It
// remains valid (and is kept up to date) until the item is removed.
type Handle int

const invalidHandle Handle = -1

type entry struct {
	item  Item
	seq   uint64
	index int
}

// Queue is a min-heap over (Utilization, seq). Not safe for concurrent use;
// callers serialize access under their own lock (Group.syncher's pool lock).
type Queue struct {
	h      *innerHeap
	nextID uint64
}

// New creates an empty queue.
func New() *Queue {
	h := &innerHeap{}
	heap.Init(h)
	return &Queue{h: h}
}

// Len returns the number of items in the queue.
func (q *Queue) Len() int { return q.h.Len() }

// Push inserts an item and returns a handle for later Decrease/Remove/Update.
func (q *Queue) Push(item Item) Handle {
	e := &entry{item: item, seq: q.nextID, index: -1}
	q.nextID++
	heap.Push(q.h, e)
	return Handle(e.index)
}

// Top returns the item with the smallest utilization, or nil if empty.
func (q *Queue) Top() Item {
	if q.h.Len() == 0 {
		return nil
	}
	return (*q.h)[0].item
}

// Decrease notifies the queue that the item at handle now has a smaller
// (or equal) utilization than before, and re-heapifies around it in
// O(log n). Safe to call even if the utilization increased (it then
// behaves like Update).
func (q *Queue) Decrease(h Handle, _ int) {
	q.Update(h)
}

// Update re-heapifies around the item at handle after its Utilization()
// changed in either direction.
func (q *Queue) Update(h Handle) {
	idx := int(h)
	if idx < 0 || idx >= q.h.Len() {
		return
	}
	heap.Fix(q.h, idx)
}

// Remove removes the item at handle from the queue. O(log n).
func (q *Queue) Remove(h Handle) Item {
	idx := int(h)
	if idx < 0 || idx >= q.h.Len() {
		return nil
	}
	e := heap.Remove(q.h, idx).(*entry)
	return e.item
}

// Items returns all items currently in the queue, in no particular order.
func (q *Queue) Items() []Item {
	out := make([]Item, 0, q.h.Len())
	for _, e := range *q.h {
		out = append(out, e.item)
	}
	return out
}

type innerHeap []*entry

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	ui, uj := h[i].item.Utilization(), h[j].item.Utilization()
	if ui != uj {
		return ui < uj
	}
	return h[i].seq < h[j].seq
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
