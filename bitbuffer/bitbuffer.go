// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package bitbuffer

import (
	"encoding/binary"
	"encoding/hex"
	"math/bits"
	"strings"
)

// Bit i lives in byte i/8 at position i%8 (LSB-first).
// Adverts are packed at arbitrary bit offsets, so all layouts in this module
// go through this package.

type Buffer struct {
	bits int
	data []byte
}

func bytesFor(numBits int) int {
	return (numBits + 7) / 8
}

func New(numBits int) *Buffer {
	if numBits < 0 {
		panic("bitbuffer: negative size")
	}
	return &Buffer{bits: numBits, data: make([]byte, bytesFor(numBits))}
}

// FromBytes copies data, missing trailing bytes are zero.
func FromBytes(numBits int, data []byte) *Buffer {
	b := New(numBits)
	copy(b.data, data)
	return b
}

func (b *Buffer) Len() int { return b.bits }

func (b *Buffer) LenBytes() int { return len(b.data) }

// Bytes returns underlying storage, not a copy.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Get(i int) bool {
	b.check(i)
	return b.data[i>>3]&(1<<(i&7)) != 0
}

func (b *Buffer) Set(i int) {
	b.check(i)
	b.data[i>>3] |= 1 << (i & 7)
}

func (b *Buffer) SetValue(i int, value bool) {
	b.check(i)
	if value {
		b.data[i>>3] |= 1 << (i & 7)
	} else {
		b.data[i>>3] &^= 1 << (i & 7)
	}
}

// GetThenSet returns previous value of bit i.
func (b *Buffer) GetThenSet(i int) bool {
	prev := b.Get(i)
	b.data[i>>3] |= 1 << (i & 7)
	return prev
}

// SetByte fills every byte with value, including bits past Len().
func (b *Buffer) SetByte(value byte) {
	for i := range b.data {
		b.data[i] = value
	}
}

// SetAll keeps bits past Len() zero, so equal buffers have equal Bytes().
func (b *Buffer) SetAll(value bool) {
	if !value {
		b.SetByte(0)
		return
	}
	b.SetByte(0xFF)
	if rem := b.bits & 7; rem != 0 {
		b.data[len(b.data)-1] = byte(0xFF >> (8 - rem))
	}
}

// Count returns number of set bits among the first Len() bits.
func (b *Buffer) Count() int {
	n := 0
	full := b.bits / 8
	for _, v := range b.data[:full] {
		n += bits.OnesCount8(v)
	}
	if rem := b.bits & 7; rem != 0 {
		n += bits.OnesCount8(b.data[full] & byte(0xFF>>(8-rem)))
	}
	return n
}

// CopyFrom copies length bits from src starting at srcOffset into this buffer at offset.
func (b *Buffer) CopyFrom(src []byte, srcOffset int, offset int, length int) {
	b.checkRange(offset, length)
	Copy(b.data, offset, src, srcOffset, length)
}

// CopyTo copies length bits starting at offset into dst at dstOffset.
func (b *Buffer) CopyTo(dst []byte, dstOffset int, offset int, length int) {
	b.checkRange(offset, length)
	Copy(dst, dstOffset, b.data, offset, length)
}

// PutUint writes the low width bits of value at offset, width <= 64.
func (b *Buffer) PutUint(offset int, width int, value uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], value)
	b.CopyFrom(tmp[:], 0, offset, width)
}

func (b *Buffer) Uint(offset int, width int) uint64 {
	var tmp [8]byte
	b.CopyTo(tmp[:], 0, offset, width)
	return binary.LittleEndian.Uint64(tmp[:])
}

// String is bit 0 first, for diagnostics.
func (b *Buffer) String() string {
	var sb strings.Builder
	sb.Grow(b.bits)
	for i := 0; i < b.bits; i++ {
		if b.Get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (b *Buffer) Hex() string {
	return hex.EncodeToString(b.data)
}

func (b *Buffer) check(i int) {
	if i < 0 || i >= b.bits {
		panic("bitbuffer: index out of range")
	}
}

func (b *Buffer) checkRange(offset int, length int) {
	if offset < 0 || length < 0 || offset+length > b.bits {
		panic("bitbuffer: range out of bounds")
	}
}

// Copy copies length bits between arbitrary bit offsets. Destination bits
// outside the range are preserved. Source bytes past the last bit read are never touched.
func Copy(dst []byte, dstOffset int, src []byte, srcOffset int, length int) {
	for length > 0 {
		dstBit := dstOffset & 7
		amount := min(8-dstBit, length)
		value := readBits(src, srcOffset, amount)
		mask := byte(0xFF>>(8-amount)) << dstBit
		d := &dst[dstOffset>>3]
		*d = *d&^mask | (value<<dstBit)&mask
		dstOffset += amount
		srcOffset += amount
		length -= amount
	}
}

// returns amount (<= 8) bits starting at pos, in the low bits of result
func readBits(src []byte, pos int, amount int) byte {
	i, bit := pos>>3, pos&7
	value := src[i] >> bit
	if 8-bit < amount {
		value |= src[i+1] << (8 - bit)
	}
	return value & byte(0xFF>>(8-amount))
}
