// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package namecodec packs arbitrary bits into a string that is valid UTF-8,
// so a binary payload survives being stored as a device name.
//
// Input is cut into 7-bit groups (bit 0 of the input is bit 0 of the first
// group). A non-zero group is a single byte 0xxxxxxx. A zero group would be
// a NUL byte, so it is written together with the following group as the
// two-byte sequence 110000Gx 10xxxxxx, where the 7 x bits are the next group.
// The final group is padded with ones, and there is always at least one
// padding bit, so the encoded length depends only on the input length.
package namecodec

import (
	"fmt"

	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/sddrerrors"
)

const groupBits = 7

func numGroups(bits int) int { return bits/groupBits + 1 }

// EncodedLen is the length in bytes of Encode output for bits input bits.
func EncodedLen(bits int) int { return numGroups(bits) }

func group(src *bitbuffer.Buffer, g int) byte {
	offset := g * groupBits
	width := min(groupBits, src.Len()-offset)
	value := byte(0)
	if width > 0 {
		value = byte(src.Uint(offset, width))
	}
	if width < groupBits {
		value |= byte(0x7F) << max(width, 0) & 0x7F
	}
	return value
}

// Encode the first bits bits of data.
func Encode(data []byte, bits int) string {
	src := bitbuffer.FromBytes(bits, data)
	groups := numGroups(bits)
	out := make([]byte, 0, groups)
	for g := 0; g < groups; g++ {
		v := group(src, g)
		if v != 0 {
			out = append(out, v)
			continue
		}
		// last group always carries a padding one, so g+1 exists here
		g++
		next := group(src, g)
		out = append(out, 0xC2|next>>6, 0x80|next&0x3F)
	}
	return string(out)
}

// Decode reverses Encode, returning ceil(bits/8) bytes.
func Decode(name string, bits int) ([]byte, error) {
	if len(name) != EncodedLen(bits) {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", sddrerrors.WarnNameLength, len(name), EncodedLen(bits))
	}
	dst := bitbuffer.New(numGroups(bits) * groupBits)
	put := func(g int, v byte) {
		dst.PutUint(g*groupBits, groupBits, uint64(v))
	}
	g := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c&0x80 == 0:
			if c == 0 {
				return nil, fmt.Errorf("%w: NUL at %d", sddrerrors.WarnNameEncoding, i)
			}
			put(g, c)
			g++
		case c&0xFE == 0xC2 && i+1 < len(name) && name[i+1]&0xC0 == 0x80:
			i++
			put(g, 0)
			put(g+1, (c&1)<<6|name[i]&0x3F)
			g += 2
		default:
			return nil, fmt.Errorf("%w: byte %#x at %d", sddrerrors.WarnNameEncoding, c, i)
		}
	}
	result := make([]byte, (bits+7)/8)
	dst.CopyTo(result, 0, 0, bits)
	return result, nil
}
