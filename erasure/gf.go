// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

// field is GF(2^w) for w in {8, 16, 32}, elements held in uint64.
// Symbols are short (at most a few dozen bytes per advert), so plain
// shift-and-add multiplication is fast enough and needs no tables.
type field struct {
	bits uint
	poly uint64 // includes the x^w term
}

var (
	gf8  = field{bits: 8, poly: 0x11d}
	gf16 = field{bits: 16, poly: 0x1100b}
	gf32 = field{bits: 32, poly: 0x100400007}
)

func fieldForWidth(widthBytes int) field {
	switch widthBytes {
	case 1:
		return gf8
	case 2:
		return gf16
	case 4:
		return gf32
	}
	panic("erasure: unsupported part width")
}

// size returns number of field elements.
func (f field) size() uint64 { return 1 << f.bits }

func (f field) mul(a uint64, b uint64) uint64 {
	var r uint64
	top := uint64(1) << f.bits
	for b != 0 {
		if b&1 != 0 {
			r ^= a
		}
		b >>= 1
		a <<= 1
		if a&top != 0 {
			a ^= f.poly
		}
	}
	return r
}

func (f field) pow(a uint64, e uint64) uint64 {
	r := uint64(1)
	for e != 0 {
		if e&1 != 0 {
			r = f.mul(r, a)
		}
		a = f.mul(a, a)
		e >>= 1
	}
	return r
}

// inv panics on zero, callers never invert zero pivots.
func (f field) inv(a uint64) uint64 {
	if a == 0 {
		panic("erasure: inverse of zero")
	}
	return f.pow(a, f.size()-2)
}

func (f field) div(a uint64, b uint64) uint64 {
	return f.mul(a, f.inv(b))
}
