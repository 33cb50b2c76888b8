// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package circular

import "iter"

// Buffer is a growable deque. We use it for per-device RSSI samples,
// which are appended on every sighting and drained on every report.
type Buffer[T any] struct {
	elements  []T  // length == capacity == 2^x
	read_pos  uint // uint because we rely on integer overflow
	write_pos uint
}

func (s *Buffer[T]) Len() int {
	return int(s.write_pos - s.read_pos) // diff will always fit int and be >= 0
}

func (s *Buffer[T]) Cap() int {
	return len(s.elements)
}

func (s *Buffer[T]) mask() uint { return uint(len(s.elements)) - 1 } // also correct for 0 length

// Two parts of circular buffer
func (s *Buffer[T]) Slices() ([]T, []T) {
	m := s.mask()
	if s.Len() == 0 {
		return nil, nil
	}
	if s.write_pos&^m == s.read_pos&^m {
		return s.elements[s.read_pos&m : s.write_pos&m], nil
	}
	return s.elements[s.read_pos&m:], s.elements[:s.write_pos&m]
}

// All iterates from front to back.
func (s *Buffer[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < s.Len(); i++ {
			if !yield(i, s.elements[(s.read_pos+uint(i))&s.mask()]) {
				return
			}
		}
	}
}

func (s *Buffer[T]) grow(newCapacity int) {
	capacity := max(len(s.elements), 1)
	for capacity < newCapacity {
		capacity *= 2
	}
	s1, s2 := s.Slices()
	elements := make([]T, capacity) // size will forever be equal to capacity
	off := copy(elements, s1)
	off += copy(elements[off:], s2)
	if off != len(s1)+len(s2) {
		panic("circular buffer invariant violated in Reserve")
	}
	s.read_pos = 0
	s.write_pos = uint(off)
	s.elements = elements
}

func (s *Buffer[T]) Reserve(newCapacity int) {
	if newCapacity > len(s.elements) {
		s.grow(newCapacity)
	}
}

func (s *Buffer[T]) ensureSpace() {
	if capacity := len(s.elements); s.Len() == capacity {
		s.grow(max(4, capacity*2))
	}
}

func (s *Buffer[T]) PushBack(element T) {
	s.ensureSpace()
	s.elements[s.write_pos&s.mask()] = element
	s.write_pos++
}

func (s *Buffer[T]) PushFront(element T) {
	s.ensureSpace()
	s.read_pos--
	s.elements[s.read_pos&s.mask()] = element
}

func (s *Buffer[T]) Front() T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	return s.elements[s.read_pos&s.mask()]
}

func (s *Buffer[T]) Back() T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	return s.elements[(s.write_pos-1)&s.mask()]
}

func (s *Buffer[T]) Index(pos int) T {
	return *s.IndexRef(pos)
}

func (s *Buffer[T]) IndexRef(pos int) *T {
	if pos < 0 {
		panic("circular buffer index < 0")
	}
	if pos >= s.Len() {
		panic("circular buffer index out of range")
	}
	return &s.elements[(s.read_pos+uint(pos))&s.mask()]
}

func (s *Buffer[T]) PopFront() T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	offset := s.read_pos & s.mask()
	element := s.elements[offset]
	var empty T
	s.elements[offset] = empty // do not have dangling references in unused parts of buffer
	s.read_pos++
	return element
}

func (s *Buffer[T]) PopBack() T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	s.write_pos--
	offset := s.write_pos & s.mask()
	element := s.elements[offset]
	var empty T
	s.elements[offset] = empty
	return element
}

func (s *Buffer[T]) Clear() {
	s1, s2 := s.Slices()
	clear(s1)
	clear(s2)
	s.read_pos = 0
	s.write_pos = 0
}
