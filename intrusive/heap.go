// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package intrusive

// Heap stores each element's position in a field of the element itself,
// so Erase and Fix are O(log N) without searching.
// index == 0 is special value and means "not in a heap".
//
// This is min heap, so if less is used, front will be the smallest element.
// With greater as predicate and PopFront on overflow, Heap keeps the
// N smallest elements seen (see Bounded).
//
// Go cannot compute field offsets generically without unsafe,
// so we store 2 pointers per element, one to the element, another to its index.

const healthChecks = false

type pair[T any] struct {
	ptr        *T
	heap_index *int
}

type Heap[T any] struct {
	storage []pair[T]
	pred    func(*T, *T) bool
}

// pred is heap predicate (Less)
func New[T any](pred func(*T, *T) bool, size int) *Heap[T] {
	return &Heap[T]{
		pred:    pred,
		storage: make([]pair[T], 0, size),
	}
}

func (h *Heap[T]) Len() int {
	return len(h.storage)
}

func (h *Heap[T]) Front() *T {
	if healthChecks && *h.storage[0].heap_index != 1 {
		panic("heap invariant violated")
	}
	return h.storage[0].ptr
}

func (h *Heap[T]) Insert(node *T, heap_index *int) bool {
	if *heap_index != 0 {
		return false
	}
	h.storage = append(h.storage, pair[T]{node, heap_index})
	h.moveUp(len(h.storage) - 1)
	h.checkHeap()
	return true
}

func (h *Heap[T]) Erase(node *T, heap_index *int) bool {
	if *heap_index == 0 {
		return false
	}
	ind := *heap_index - 1
	if h.storage[ind] != (pair[T]{node, heap_index}) {
		panic("heap invariant violated") // element belongs to another heap
	}
	*heap_index = 0
	h.popBackToIndex(ind)
	if ind < len(h.storage) {
		h.adjust(ind)
	}
	h.checkHeap()
	return true
}

// Fix restores order after the element's key changed.
func (h *Heap[T]) Fix(heap_index *int) {
	if *heap_index == 0 {
		return
	}
	h.adjust(*heap_index - 1)
	h.checkHeap()
}

func (h *Heap[T]) PopFront() *T {
	front := h.storage[0]
	*front.heap_index = 0
	h.popBackToIndex(0)
	if len(h.storage) > 0 {
		h.moveDown(0)
	}
	h.checkHeap()
	return front.ptr
}

// Clear unlinks all elements.
func (h *Heap[T]) Clear() {
	for i := range h.storage {
		*h.storage[i].heap_index = 0
		h.storage[i] = pair[T]{}
	}
	h.storage = h.storage[:0]
}

func (h *Heap[T]) popBackToIndex(ind int) {
	last := len(h.storage) - 1
	h.storage[ind] = h.storage[last]
	h.storage[last] = pair[T]{} // do not leave aliases
	h.storage = h.storage[:last]
}

func (h *Heap[T]) checkHeap() {
	if !healthChecks {
		return
	}
	for i := range h.storage {
		if *h.storage[i].heap_index != i+1 {
			panic("heap invariant violated")
		}
		if i > 0 && h.pred(h.storage[i].ptr, h.storage[(i-1)/2].ptr) {
			panic("heap invariant violated")
		}
	}
}

func (h *Heap[T]) adjust(ind int) {
	if ind > 0 && h.pred(h.storage[ind].ptr, h.storage[(ind-1)/2].ptr) {
		h.moveUp(ind)
	} else {
		h.moveDown(ind)
	}
}

func (h *Heap[T]) place(ind int, p pair[T]) {
	h.storage[ind] = p
	*p.heap_index = ind + 1
}

func (h *Heap[T]) moveDown(ind int) {
	size := len(h.storage)
	data := h.storage[ind]
	for {
		child := ind*2 + 1
		if child >= size {
			break
		}
		if child+1 < size && !h.pred(h.storage[child].ptr, h.storage[child+1].ptr) {
			child++
		}
		if !h.pred(h.storage[child].ptr, data.ptr) {
			break
		}
		h.place(ind, h.storage[child])
		ind = child
	}
	h.place(ind, data)
}

func (h *Heap[T]) moveUp(ind int) {
	data := h.storage[ind]
	for ind > 0 {
		parent := (ind - 1) / 2
		if !h.pred(data.ptr, h.storage[parent].ptr) {
			break
		}
		h.place(ind, h.storage[parent])
		ind = parent
	}
	h.place(ind, data)
}

// Bounded keeps at most limit elements, evicting the front on overflow.
// Use a "greater" predicate to keep the limit smallest elements.
type Bounded[T any] struct {
	heap  *Heap[T]
	limit int
}

func NewBounded[T any](pred func(*T, *T) bool, limit int) *Bounded[T] {
	return &Bounded[T]{heap: New(pred, limit+1), limit: limit}
}

// Offer inserts node and returns the evicted element, if any (may be node itself).
func (b *Bounded[T]) Offer(node *T, heap_index *int) *T {
	if b.limit <= 0 {
		return node
	}
	b.heap.Insert(node, heap_index)
	if b.heap.Len() > b.limit {
		return b.heap.PopFront()
	}
	return nil
}

func (b *Bounded[T]) Len() int { return b.heap.Len() }

// Drain removes all elements, in heap order (front first).
func (b *Bounded[T]) Drain() []*T {
	result := make([]*T, 0, b.heap.Len())
	for b.heap.Len() != 0 {
		result = append(result, b.heap.PopFront())
	}
	return result
}
