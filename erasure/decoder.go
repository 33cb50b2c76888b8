// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

import (
	"github.com/hrissan/sddr/bitbuffer"
)

// Decoder collects symbols in any order, duplicates are ignored.
// Any K distinct symbols recover the data.
type Decoder struct {
	matrix      *Matrix
	symbols     []byte
	received    *bitbuffer.Buffer
	numReceived int
	decoded     bool
	data        []byte
}

func NewDecoder(matrix *Matrix) *Decoder {
	return &Decoder{
		matrix:   matrix,
		symbols:  make([]byte, matrix.N()*matrix.w),
		received: bitbuffer.New(matrix.N()),
		data:     make([]byte, matrix.k*matrix.w),
	}
}

func (d *Decoder) Matrix() *Matrix { return d.matrix }

// SetSymbol stores symbol i (first W bytes of symbol) and reports CanDecode.
func (d *Decoder) SetSymbol(i int, symbol []byte) bool {
	if i < 0 || i >= d.matrix.N() {
		return d.CanDecode()
	}
	if !d.received.GetThenSet(i) {
		w := d.matrix.w
		copy(d.symbols[i*w:(i+1)*w], symbol[:w])
		d.numReceived++
	}
	return d.CanDecode()
}

func (d *Decoder) NumReceived() int { return d.numReceived }

func (d *Decoder) IsReceived(i int) bool { return d.received.Get(i) }

func (d *Decoder) CanDecode() bool { return d.numReceived >= d.matrix.k }

func (d *Decoder) IsDecoded() bool { return d.decoded }

// Decode returns K*W data bytes (cached after the first success),
// or false if fewer than K symbols were received.
func (d *Decoder) Decode() ([]byte, bool) {
	if d.decoded {
		return d.data, true
	}
	if !d.CanDecode() {
		return nil, false
	}
	mx := d.matrix
	chosen := make([]int, 0, mx.k)
	for i := 0; i < mx.N() && len(chosen) < mx.k; i++ {
		if d.received.Get(i) {
			chosen = append(chosen, i)
		}
	}
	if chosen[mx.k-1] == mx.k-1 { // all data symbols present
		copy(d.data, d.symbols[:mx.k*mx.w])
		d.decoded = true
		return d.data, true
	}
	elements := make([]uint64, mx.k)
	for pi := range mx.parts {
		p := &mx.parts[pi]
		sub := make([][]uint64, mx.k)
		for r, i := range chosen {
			sub[r] = append([]uint64(nil), mx.row(p, i)...)
			elements[r] = getElement(d.symbols[i*mx.w+p.offset:], p.width)
		}
		inv, ok := invert(p.f, sub)
		if !ok { // impossible for MDS code, kept to avoid returning garbage
			return nil, false
		}
		for r := 0; r < mx.k; r++ {
			var v uint64
			for c, coef := range inv[r] {
				v ^= p.f.mul(coef, elements[c])
			}
			putElement(d.data[r*mx.w+p.offset:], p.width, v)
		}
	}
	d.decoded = true
	return d.data, true
}

func (d *Decoder) Reset() {
	d.received.SetAll(false)
	d.numReceived = 0
	d.decoded = false
}
