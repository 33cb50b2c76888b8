// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package bloom

import (
	"math"

	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/sddrerrors"
)

// Segmented is a filter transmitted in B pieces across several adverts.
// A receiver starts from all ones (everything matches, pFalse = 1) and
// tightens pFalse as each segment arrives.
type Segmented struct {
	*Filter

	sizes     []int
	offsets   []int
	filled    *bitbuffer.Buffer
	numFilled int
}

// NewSegmented splits M into B equal segments.
func NewSegmented(n int, m int, k int, b int, allOnes bool) (*Segmented, error) {
	if b < 1 || m%b != 0 {
		return nil, sddrerrors.ErrSegmentsMismatch
	}
	sizes := make([]int, b)
	for i := range sizes {
		sizes[i] = m / b
	}
	return NewSegmentedSizes(n, k, sizes, allOnes)
}

// NewSegmentedSizes uses explicit segment sizes, M is their sum.
func NewSegmentedSizes(n int, k int, sizes []int, allOnes bool) (*Segmented, error) {
	if len(sizes) == 0 {
		return nil, sddrerrors.ErrSegmentsMismatch
	}
	offsets := make([]int, len(sizes))
	m := 0
	for i, s := range sizes {
		if s <= 0 {
			return nil, sddrerrors.ErrSegmentsMismatch
		}
		offsets[i] = m
		m += s
	}
	f, err := New(n, m, k)
	if err != nil {
		return nil, err
	}
	s := &Segmented{
		Filter:  f,
		sizes:   append([]int(nil), sizes...),
		offsets: offsets,
		filled:  bitbuffer.New(len(sizes)),
	}
	if allOnes {
		f.bits.SetAll(true)
		f.pFalse = 1
	}
	return s, nil
}

func (s *Segmented) B() int { return len(s.sizes) }

func (s *Segmented) SegmentSize(segment int) int { return s.sizes[segment] }

func (s *Segmented) IsFilled(segment int) bool { return s.filled.Get(segment) }

func (s *Segmented) Filled() int { return s.numFilled }

// SetSegment copies received segment bits from src at srcOffset.
// Returns factor by which pFalse decreased, exactly 1 for a repeated segment.
func (s *Segmented) SetSegment(segment int, src []byte, srcOffset int) float64 {
	size := s.sizes[segment]
	s.bits.CopyFrom(src, srcOffset, s.offsets[segment], size)
	if s.filled.GetThenSet(segment) {
		return 1
	}
	s.numFilled++
	fraction := float64(size) / float64(s.m)
	base := 1 - math.Exp(-float64(s.k)*float64(s.n)/float64(s.m))
	delta := math.Pow(base, fraction*float64(s.k))
	s.pFalse *= delta
	return delta
}

// GetSegment writes segment bits into dst at dstOffset.
func (s *Segmented) GetSegment(segment int, dst []byte, dstOffset int) {
	s.bits.CopyTo(dst, dstOffset, s.offsets[segment], s.sizes[segment])
}

// ResetPFalse returns accumulated pFalse and starts accumulating from 1 again,
// so each evaluation applies only the evidence gathered since the previous one.
func (s *Segmented) ResetPFalse() float64 {
	p := s.pFalse
	s.pFalse = 1
	return p
}
