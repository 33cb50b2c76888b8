// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/safecast"
	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
)

// MaxK is limited by the number of 32-bit words in a SHA-256 digest.
const MaxK = sha256.Size / 4

// Filter is a bloom filter sized for N expected items.
// Each item is hashed together with a prefix, so the same link value
// produces unrelated bit positions under different key exchanges.
type Filter struct {
	n      int
	m      int
	k      int
	bits   *bitbuffer.Buffer
	pFalse float64
}

// ComputePFalse returns (1 - e^(-K*N/M))^K.
func ComputePFalse(n int, m int, k int) float64 {
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
}

func validate(m int, k int) error {
	if k < 1 || k > MaxK {
		return sddrerrors.ErrTooManyHashes
	}
	if m < 1 {
		return sddrerrors.ErrSegmentsMismatch
	}
	return nil
}

func New(n int, m int, k int) (*Filter, error) {
	if err := validate(m, k); err != nil {
		return nil, err
	}
	return &Filter{n: n, m: m, k: k, bits: bitbuffer.New(m), pFalse: ComputePFalse(n, m, k)}, nil
}

// NewFromBytes copies ceil(m/8) bytes of received filter bits.
func NewFromBytes(n int, m int, k int, data []byte) (*Filter, error) {
	if err := validate(m, k); err != nil {
		return nil, err
	}
	return &Filter{n: n, m: m, k: k, bits: bitbuffer.FromBytes(m, data), pFalse: ComputePFalse(n, m, k)}, nil
}

// NewFromWindow builds filter from length bits of src starting at bit offset, M = length.
func NewFromWindow(n int, k int, src []byte, offset int, length int) (*Filter, error) {
	f, err := New(n, length, k)
	if err != nil {
		return nil, err
	}
	f.bits.CopyFrom(src, offset, 0, length)
	return f, nil
}

func (f *Filter) N() int { return f.n }

func (f *Filter) M() int { return f.m }

func (f *Filter) K() int { return f.k }

func (f *Filter) PFalse() float64 { return f.pFalse }

func (f *Filter) Bits() *bitbuffer.Buffer { return f.bits }

// Bytes returns the filter storage, not a copy.
func (f *Filter) Bytes() []byte { return f.bits.Bytes() }

func (f *Filter) indices(prefix []byte, item []byte) [MaxK]int {
	h := sha256.New()
	_, _ = h.Write(prefix)
	_, _ = h.Write(item)
	var digest [sha256.Size]byte
	h.Sum(digest[:0])
	var result [MaxK]int
	for i := 0; i < f.k; i++ {
		result[i] = int(binary.LittleEndian.Uint32(digest[i*4:]) % safecast.Cast[uint32](f.m))
	}
	return result
}

func (f *Filter) Add(prefix []byte, item []byte) {
	idx := f.indices(prefix, item)
	for _, i := range idx[:f.k] {
		f.bits.Set(i)
	}
}

func (f *Filter) Query(prefix []byte, item []byte) bool {
	idx := f.indices(prefix, item)
	for _, i := range idx[:f.k] {
		if !f.bits.Get(i) {
			return false
		}
	}
	return true
}

// AddRandom sets K*count random bits, so filters with fewer real
// members look as loaded as full ones.
func (f *Filter) AddRandom(rnd sddrrand.Rand, count int) {
	for i := 0; i < count*f.k; i++ {
		f.bits.Set(sddrrand.Intn(rnd, f.m))
	}
}
