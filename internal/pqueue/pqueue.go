// Package pqueue implements a priority queue whose ties are broken by strict
// insertion order, so that items of equal priority come out FIFO no matter how
// other priorities are interleaved.
//
// Queue has no internal locking; the owner is the sole synchronizer.
package pqueue

import (
	"cmp"
	"container/heap"
	"reflect"
	"slices"

	"bleq/internal/errors"
)

type entry[T any] struct {
	item T
	seq  uint64
}

// entryHeap implements heap.Interface. The root is the highest priority,
// earliest inserted entry.
type entryHeap[T any] struct {
	entries []entry[T]
	compare func(a, b T) int
}

func (h *entryHeap[T]) Len() int { return len(h.entries) }

func (h *entryHeap[T]) Less(i, j int) bool {
	return h.before(h.entries[i], h.entries[j])
}

func (h *entryHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *entryHeap[T]) Push(x any) {
	h.entries = append(h.entries, x.(entry[T]))
}

func (h *entryHeap[T]) Pop() any {
	old := h.entries
	n := len(old)
	x := old[n-1]
	old[n-1] = entry[T]{}
	h.entries = old[:n-1]
	return x
}

func (h *entryHeap[T]) before(a, b entry[T]) bool {
	if c := h.compare(a.item, b.item); c != 0 {
		return c > 0
	}
	return a.seq < b.seq
}

// Queue is a stable priority queue.
type Queue[T any] struct {
	heap  entryHeap[T]
	equal func(a, b T) bool
	seq   uint64
}

// New returns a queue over natively ordered items, where a greater value has
// a higher priority.
func New[T cmp.Ordered]() *Queue[T] {
	return NewFunc(cmp.Compare[T], func(a, b T) bool { return a == b })
}

// NewFunc returns a queue using compare for priority, where a positive result
// means a outranks b, and equal for Remove and Contains. A compare result of
// zero is always resolved by insertion order.
func NewFunc[T any](compare func(a, b T) int, equal func(a, b T) bool) *Queue[T] {
	if compare == nil || equal == nil {
		panic("pqueue: nil compare or equal func")
	}
	return &Queue[T]{
		heap:  entryHeap[T]{compare: compare},
		equal: equal,
	}
}

// Add inserts item, assigning it the next insertion sequence number, which is
// returned.
func (q *Queue[T]) Add(item T) (uint64, error) {
	if isNil(item) {
		return 0, errors.InvalidArgument("nil item")
	}
	q.seq++
	heap.Push(&q.heap, entry[T]{item: item, seq: q.seq})
	return q.seq, nil
}

// Peek returns the next item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.heap.entries) == 0 {
		var zero T
		return zero, false
	}
	return q.heap.entries[0].item, true
}

// Poll removes and returns the highest priority, earliest added item.
func (q *Queue[T]) Poll() (T, bool) {
	if len(q.heap.entries) == 0 {
		var zero T
		return zero, false
	}
	e := heap.Pop(&q.heap).(entry[T])
	return e.item, true
}

// PollFunc removes and returns the first item, in poll order, for which pred
// returns true. Skipped items keep their original sequence numbers.
func (q *Queue[T]) PollFunc(pred func(T) bool) (T, bool) {
	var skipped []entry[T]
	defer func() {
		for _, e := range skipped {
			heap.Push(&q.heap, e)
		}
	}()
	for len(q.heap.entries) > 0 {
		e := heap.Pop(&q.heap).(entry[T])
		if pred(e.item) {
			return e.item, true
		}
		skipped = append(skipped, e)
	}
	var zero T
	return zero, false
}

// Remove removes every item equal to item and returns how many were removed.
func (q *Queue[T]) Remove(item T) int {
	return len(q.RemoveFunc(func(v T) bool { return q.equal(v, item) }))
}

// RemoveFunc removes every item matching pred, returning them in poll order.
func (q *Queue[T]) RemoveFunc(pred func(T) bool) []T {
	var removed []entry[T]
	kept := q.heap.entries[:0]
	for _, e := range q.heap.entries {
		if pred(e.item) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) == 0 {
		return nil
	}
	clear(q.heap.entries[len(kept):])
	q.heap.entries = kept
	heap.Init(&q.heap)

	q.sort(removed)
	items := make([]T, len(removed))
	for i, e := range removed {
		items[i] = e.item
	}
	return items
}

// Contains reports whether an item equal to item is queued.
func (q *Queue[T]) Contains(item T) bool {
	return q.ContainsFunc(func(v T) bool { return q.equal(v, item) })
}

// ContainsFunc reports whether any queued item matches pred.
func (q *Queue[T]) ContainsFunc(pred func(T) bool) bool {
	for _, e := range q.heap.entries {
		if pred(e.item) {
			return true
		}
	}
	return false
}

// Size returns the number of queued items.
func (q *Queue[T]) Size() int {
	return len(q.heap.entries)
}

// Clear removes all items. Sequence numbers are never reused.
func (q *Queue[T]) Clear() {
	clear(q.heap.entries)
	q.heap.entries = q.heap.entries[:0]
}

// Items returns a snapshot of the queued items in poll order.
func (q *Queue[T]) Items() []T {
	entries := slices.Clone(q.heap.entries)
	q.sort(entries)
	items := make([]T, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}
	return items
}

func (q *Queue[T]) sort(entries []entry[T]) {
	slices.SortFunc(entries, func(a, b entry[T]) int {
		if q.heap.before(a, b) {
			return -1
		}
		if q.heap.before(b, a) {
			return 1
		}
		return 0
	})
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
