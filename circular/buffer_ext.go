// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package circular

// BufferExt is Buffer over caller-provided fixed storage (length 2^x).
// Per-device epochs live in a [2]epoch array with this as index.

type BufferExt[T any] struct {
	read_pos  uint // uint because we rely on integer overflow
	write_pos uint
}

func (s *BufferExt[T]) Len() int {
	return int(s.write_pos - s.read_pos) // diff will always fit int and be >= 0
}

func (s *BufferExt[T]) mask(elements []T) uint { return uint(len(elements)) - 1 } // also correct for 0 length

func (s *BufferExt[T]) Full(elements []T) bool { return s.Len() == len(elements) }

func (s *BufferExt[T]) PushBack(elements []T, element T) {
	if s.Full(elements) {
		panic("full circular buffer")
	}
	elements[s.write_pos&s.mask(elements)] = element
	s.write_pos++
}

func (s *BufferExt[T]) PushFront(elements []T, element T) {
	if s.Full(elements) {
		panic("full circular buffer")
	}
	s.read_pos--
	elements[s.read_pos&s.mask(elements)] = element
}

func (s *BufferExt[T]) Front(elements []T) T {
	return *s.FrontRef(elements)
}

func (s *BufferExt[T]) FrontRef(elements []T) *T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	return &elements[s.read_pos&s.mask(elements)]
}

func (s *BufferExt[T]) Back(elements []T) T {
	return *s.BackRef(elements)
}

func (s *BufferExt[T]) BackRef(elements []T) *T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	return &elements[(s.write_pos-1)&s.mask(elements)]
}

func (s *BufferExt[T]) Index(elements []T, pos int) T {
	return *s.IndexRef(elements, pos)
}

func (s *BufferExt[T]) IndexRef(elements []T, pos int) *T {
	if pos < 0 {
		panic("circular buffer index < 0")
	}
	if pos >= s.Len() {
		panic("circular buffer index out of range")
	}
	return &elements[(s.read_pos+uint(pos))&s.mask(elements)]
}

func (s *BufferExt[T]) PopFront(elements []T) T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	offset := s.read_pos & s.mask(elements)
	element := elements[offset]
	var empty T
	elements[offset] = empty // do not have dangling references in unused parts of buffer
	s.read_pos++
	return element
}

func (s *BufferExt[T]) PopBack(elements []T) T {
	if s.write_pos == s.read_pos {
		panic("empty circular buffer")
	}
	s.write_pos--
	offset := s.write_pos & s.mask(elements)
	element := elements[offset]
	var empty T
	elements[offset] = empty
	return element
}

// RemoveAt keeps order of the remaining elements.
func (s *BufferExt[T]) RemoveAt(elements []T, pos int) T {
	element := s.Index(elements, pos)
	for i := pos; i+1 < s.Len(); i++ {
		*s.IndexRef(elements, i) = s.Index(elements, i+1)
	}
	s.PopBack(elements)
	return element
}

func (s *BufferExt[T]) Clear(elements []T) {
	var empty T
	for s.Len() != 0 {
		elements[s.read_pos&s.mask(elements)] = empty
		s.read_pos++
	}
	s.read_pos = 0
	s.write_pos = 0
}
