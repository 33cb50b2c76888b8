// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package bitbuffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/bitbuffer"
)

func TestLSBFirst(t *testing.T) {
	b := bitbuffer.New(16)
	b.Set(0)
	b.Set(9)
	require.Equal(t, []byte{0x01, 0x02}, b.Bytes())
	require.True(t, b.Get(9))
	require.False(t, b.Get(8))
	require.Equal(t, "1000000001000000", b.String())
	require.Equal(t, "0102", b.Hex())
}

func TestGetThenSet(t *testing.T) {
	b := bitbuffer.New(10)
	require.False(t, b.GetThenSet(7))
	require.True(t, b.GetThenSet(7))
	require.Equal(t, 1, b.Count())
}

func TestSetAllCountIgnoresPadding(t *testing.T) {
	b := bitbuffer.New(13)
	b.SetAll(true)
	require.Equal(t, 13, b.Count())
	b.SetValue(3, false)
	require.Equal(t, 12, b.Count())
	b.SetAll(false)
	require.Equal(t, 0, b.Count())
}

func TestUintRoundTripUnaligned(t *testing.T) {
	b := bitbuffer.New(64)
	b.SetAll(true)
	b.PutUint(3, 8, 0x5A)
	require.Equal(t, uint64(0x5A), b.Uint(3, 8))
	require.True(t, b.Get(2))
	require.True(t, b.Get(11))
	b.PutUint(17, 40, 0x12_3456_789A)
	require.Equal(t, uint64(0x12_3456_789A), b.Uint(17, 40))
	require.Equal(t, uint64(0x5A), b.Uint(3, 8))
}

func TestCopyDoesNotReadPastSource(t *testing.T) {
	// src has exactly the bytes needed, any read past it panics
	src := []byte{0xF0}
	dst := make([]byte, 2)
	bitbuffer.Copy(dst, 5, src, 4, 4)
	require.Equal(t, []byte{0xE0, 0x01}, dst)
}

func TestCopyToFrom(t *testing.T) {
	b := bitbuffer.FromBytes(24, []byte{0xAB, 0xCD, 0xEF})
	out := make([]byte, 3)
	b.CopyTo(out, 0, 4, 16)
	require.Equal(t, []byte{0xDA, 0xFC, 0x00}, out)

	c := bitbuffer.New(24)
	c.CopyFrom(out, 0, 4, 16)
	require.Equal(t, []byte{0xA0, 0xCD, 0x0F}, c.Bytes())
}

func FuzzCopy(f *testing.F) {
	f.Add([]byte{1, 2, 3, 4, 5, 6}, []byte{9, 8, 7, 6, 5, 4}, uint8(3), uint8(5), uint8(30))
	f.Fuzz(func(t *testing.T, src []byte, dst []byte, srcOffset uint8, dstOffset uint8, length uint8) {
		srcBits := len(src) * 8
		dstBits := len(dst) * 8
		so, do, n := int(srcOffset), int(dstOffset), int(length)
		if so+n > srcBits || do+n > dstBits {
			return
		}
		mirror := make([]bool, dstBits)
		for i := range mirror {
			mirror[i] = dst[i/8]&(1<<(i%8)) != 0
		}
		for i := 0; i < n; i++ {
			mirror[do+i] = src[(so+i)/8]&(1<<((so+i)%8)) != 0
		}
		out := append([]byte{}, dst...)
		bitbuffer.Copy(out, do, src, so, n)
		for i, want := range mirror {
			if (out[i/8]&(1<<(i%8)) != 0) != want {
				t.Fatalf("bit %d mismatch", i)
			}
		}
	})
}
