// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

// Encoder produces K+M symbols of W bytes from K*W bytes of data.
// Symbols 0..K-1 are the data itself.
type Encoder struct {
	matrix  *Matrix
	symbols []byte
}

func NewEncoder(matrix *Matrix) *Encoder {
	return &Encoder{
		matrix:  matrix,
		symbols: make([]byte, matrix.N()*matrix.w),
	}
}

func (e *Encoder) Matrix() *Matrix { return e.matrix }

// Encode panics if len(data) != K*W.
func (e *Encoder) Encode(data []byte) {
	mx := e.matrix
	if len(data) != mx.k*mx.w {
		panic("erasure: encode data size must be K*W")
	}
	copy(e.symbols, data)
	elements := make([]uint64, mx.k)
	for pi := range mx.parts {
		p := &mx.parts[pi]
		for c := 0; c < mx.k; c++ {
			elements[c] = getElement(data[c*mx.w+p.offset:], p.width)
		}
		for r, coding := range p.coding {
			var v uint64
			for c, coef := range coding {
				v ^= p.f.mul(coef, elements[c])
			}
			putElement(e.symbols[(mx.k+r)*mx.w+p.offset:], p.width, v)
		}
	}
}

// Symbol returns W bytes of symbol i, aliasing encoder storage.
func (e *Encoder) Symbol(i int) []byte {
	w := e.matrix.w
	return e.symbols[i*w : (i+1)*w]
}
