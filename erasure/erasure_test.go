// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
)

func TestFieldInverse(t *testing.T) {
	rnd := sddrrand.NewSeeded(5)
	for _, f := range []field{gf8, gf16, gf32} {
		for i := 0; i < 200; i++ {
			a := sddrrand.Uint64(rnd) & (f.size() - 1)
			if a == 0 {
				continue
			}
			require.Equal(t, uint64(1), f.mul(a, f.inv(a)), "w=%d a=%x", f.bits, a)
			b := sddrrand.Uint64(rnd) & (f.size() - 1)
			require.Equal(t, f.mul(a, b), f.mul(b, a))
			require.Less(t, f.mul(a, b), f.size())
		}
	}
}

func TestCodingRowsShape(t *testing.T) {
	for _, f := range []field{gf8, gf16, gf32} {
		coding := codingRows(f, 4, 10)
		require.Len(t, coding, 10)
		for _, v := range coding[0] {
			require.Equal(t, uint64(1), v)
		}
		for _, row := range coding[1:] {
			require.Equal(t, uint64(1), row[0])
		}
	}
}

func TestPartSplit(t *testing.T) {
	mx, err := NewMatrix(2, 3, 7)
	require.NoError(t, err)
	var widths []int
	for _, p := range mx.parts {
		widths = append(widths, p.width)
	}
	require.Equal(t, []int{4, 2, 1}, widths)
}

func TestMatrixTooLarge(t *testing.T) {
	_, err := NewMatrix(100, 200, 1)
	require.ErrorIs(t, err, sddrerrors.ErrMatrixTooLarge)
	_, err = NewMatrix(100, 200, 2)
	require.NoError(t, err)
	_, err = NewMatrix(1, 1, 0)
	require.ErrorIs(t, err, sddrerrors.ErrInvalidSymbolSize)
}

func roundTrip(t *testing.T, rnd sddrrand.Rand, k int, m int, w int) {
	mx, err := NewMatrix(k, m, w)
	require.NoError(t, err)
	data := make([]byte, k*w)
	rnd.Read(data)
	enc := NewEncoder(mx)
	enc.Encode(data)
	for i := 0; i < k; i++ {
		require.Equal(t, data[i*w:(i+1)*w], enc.Symbol(i))
	}

	dec := NewDecoder(mx)
	order := make([]int, mx.N())
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := sddrrand.Intn(rnd, i+1)
		order[i], order[j] = order[j], order[i]
	}
	for n, i := range order[:k] {
		_, ok := dec.Decode()
		require.False(t, ok)
		can := dec.SetSymbol(i, enc.Symbol(i))
		require.Equal(t, n == k-1, can)
		require.False(t, dec.SetSymbol(i, enc.Symbol(i)) && n < k-1, "duplicate must not count")
	}
	got, ok := dec.Decode()
	require.True(t, ok)
	require.True(t, dec.IsDecoded())
	require.Equal(t, data, got)

	dec.Reset()
	require.False(t, dec.CanDecode())
	require.False(t, dec.IsDecoded())
	require.Equal(t, 0, dec.NumReceived())
}

func TestRoundTrip(t *testing.T) {
	rnd := sddrrand.NewSeeded(11)
	for i := 0; i < 10; i++ {
		roundTrip(t, rnd, 4, 136, 8)
		roundTrip(t, rnd, 6, 128, 8)
		roundTrip(t, rnd, 3, 20, 7)
		roundTrip(t, rnd, 5, 30, 1)
		roundTrip(t, rnd, 1, 3, 2)
	}
}

func TestEverySubsetDecodes(t *testing.T) {
	rnd := sddrrand.NewSeeded(13)
	for _, c := range []struct{ k, m, w int }{{4, 3, 1}, {4, 3, 2}, {4, 3, 7}, {3, 4, 4}} {
		mx, err := NewMatrix(c.k, c.m, c.w)
		require.NoError(t, err)
		data := make([]byte, c.k*c.w)
		rnd.Read(data)
		enc := NewEncoder(mx)
		enc.Encode(data)
		subsets := 0
		for set := uint(0); set < 1<<mx.N(); set++ {
			if bits.OnesCount(set) != c.k {
				continue
			}
			subsets++
			dec := NewDecoder(mx)
			for i := 0; i < mx.N(); i++ {
				if set&(1<<i) != 0 {
					dec.SetSymbol(i, enc.Symbol(i))
				}
			}
			got, ok := dec.Decode()
			require.True(t, ok, "k=%d m=%d w=%d set=%b", c.k, c.m, c.w, set)
			require.Equal(t, data, got, "k=%d m=%d w=%d set=%b", c.k, c.m, c.w, set)
		}
		require.Equal(t, 35, subsets) // C(7,4) == C(7,3)
	}
}

func TestParityOnly(t *testing.T) {
	rnd := sddrrand.NewSeeded(12)
	mx, err := NewMatrix(4, 8, 8)
	require.NoError(t, err)
	data := make([]byte, 32)
	rnd.Read(data)
	enc := NewEncoder(mx)
	enc.Encode(data)
	dec := NewDecoder(mx)
	for i := 8; i < 12; i++ {
		dec.SetSymbol(i, enc.Symbol(i))
	}
	got, ok := dec.Decode()
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestSymbolSize(t *testing.T) {
	require.Equal(t, 8, SymbolSize(256, 239))
	w := SymbolSize(384, 239)
	require.Zero(t, 48%w)
	require.Less(t, w, 48)
}
