// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package namecodec_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/namecodec"
	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
)

func masked(data []byte, bits int) []byte {
	result := append([]byte(nil), data[:(bits+7)/8]...)
	if rem := bits & 7; rem != 0 {
		result[len(result)-1] &= byte(0xFF >> (8 - rem))
	}
	return result
}

func TestRoundTrip(t *testing.T) {
	rnd := sddrrand.NewSeeded(3)
	for _, bits := range []int{1, 7, 8, 13, 14, 64, 1723} {
		data := make([]byte, (bits+7)/8)
		rnd.Read(data)
		name := namecodec.Encode(data, bits)
		require.Len(t, name, namecodec.EncodedLen(bits))
		require.True(t, utf8.ValidString(name))
		require.NotContains(t, name, "\x00")

		decoded, err := namecodec.Decode(name, bits)
		require.NoError(t, err)
		require.Equal(t, masked(data, bits), decoded, "bits=%d", bits)
	}
}

func TestZeroGroups(t *testing.T) {
	data := make([]byte, 216) // 1723 bits, all zero
	name := namecodec.Encode(data, 1723)
	require.Len(t, name, 247)
	require.True(t, utf8.ValidString(name))
	decoded, err := namecodec.Decode(name, 1723)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDecodeRejects(t *testing.T) {
	_, err := namecodec.Decode("abc", 64)
	require.ErrorIs(t, err, sddrerrors.WarnNameLength)

	name := []byte(namecodec.Encode([]byte{0xFF}, 8))
	name[0] = 0x00
	_, err = namecodec.Decode(string(name), 8)
	require.ErrorIs(t, err, sddrerrors.WarnNameEncoding)

	name[0] = 0xE0
	_, err = namecodec.Decode(string(name), 8)
	require.ErrorIs(t, err, sddrerrors.WarnNameEncoding)
}

func FuzzRoundTrip(f *testing.F) {
	f.Add([]byte{0, 0, 1, 0x80}, uint16(30))
	f.Fuzz(func(t *testing.T, data []byte, bits uint16) {
		n := int(bits) % (len(data)*8 + 1)
		name := namecodec.Encode(data, n)
		if !utf8.ValidString(name) || len(name) != namecodec.EncodedLen(n) {
			t.FailNow()
		}
		decoded, err := namecodec.Decode(name, n)
		if err != nil {
			t.FailNow()
		}
		if n != 0 {
			require.Equal(t, masked(data, n), decoded)
		}
	})
}
