// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/hrissan/sddr/sddrrand"
)

// Address is a rotating 6-byte radio address made of two 3-byte halves.
// Each half carries a 4-bit checksum in the low nibble of its last byte,
// so receivers can tell participating devices from the rest of the air.
//
// On rotation the old first half becomes the new second half, which lets
// a peer that saw the old address link the new one (see IsShift).
type Address [Size]byte

const (
	Size = 6
	Half = Size / 2
)

// Bit of byte 0 used to carry the parity (Y) of a compressed public key.
const YMask = 0x20

var ErrParse = errors.New("address must be 6 colon separated hex bytes")

// checksum over one half: all nibbles except the one it is stored in
func computeChecksum(part []byte) byte {
	var sum byte
	last := len(part) - 1
	for _, b := range part[:last] {
		sum += b>>4 + b&0x0F
	}
	sum += part[last] >> 4
	return sum & 0x0F
}

func setChecksum(part []byte) {
	last := len(part) - 1
	part[last] = part[last]&0xF0 | computeChecksum(part)
}

func verify(part []byte) bool {
	return part[len(part)-1]&0x0F == computeChecksum(part)
}

func forcePartial(a *Address, value byte, mask byte) {
	a[0] = a[0]&^mask | value&mask
}

// Generate returns random address with valid checksums.
func Generate(rnd sddrrand.Rand) Address {
	return GenerateWithPartial(rnd, 0, 0)
}

// GenerateWithPartial returns random address with bits of byte 0 selected
// by mask forced to value.
func GenerateWithPartial(rnd sddrrand.Rand, value byte, mask byte) Address {
	var a Address
	rnd.Read(a[:])
	forcePartial(&a, value, mask)
	setChecksum(a[:Half])
	setChecksum(a[Half:])
	return a
}

func (a Address) Shift(rnd sddrrand.Rand) Address {
	return a.ShiftWithPartial(rnd, 0, 0)
}

// ShiftWithPartial moves the first half into the second half and draws a
// fresh first half (with forced partial bits), never returning a itself.
func (a Address) ShiftWithPartial(rnd sddrrand.Rand, value byte, mask byte) Address {
	var n Address
	copy(n[Half:], a[:Half])
	for {
		rnd.Read(n[:Half])
		forcePartial(&n, value, mask)
		setChecksum(n[:Half])
		if n != a {
			return n
		}
	}
}

// Unshift moves the second half back to the first, zeroing the rest.
func (a Address) Unshift() Address {
	var n Address
	copy(n[:Half], a[Half:])
	return n
}

// IsShift reports whether a could be the result of shifting previous.
func (a Address) IsShift(previous Address) bool {
	return [Half]byte(a[Half:]) == [Half]byte(previous[:Half])
}

func (a Address) VerifyChecksum() bool {
	return verify(a[:Half]) && verify(a[Half:])
}

// Swap reverses byte order (radio stacks store addresses little-endian).
func (a Address) Swap() Address {
	var n Address
	for i := range a {
		n[i] = a[Size-1-i]
	}
	return n
}

func (a Address) PartialValue(mask byte) byte {
	return a[0] & mask
}

// Y returns the key parity bit carried in the address.
func (a Address) Y() byte {
	return a.PartialValue(YMask) >> 5
}

// FirstHalf is the half that becomes SecondHalf of the next address.
func (a Address) FirstHalf() [Half]byte { return [Half]byte(a[:Half]) }

func (a Address) SecondHalf() [Half]byte { return [Half]byte(a[Half:]) }

func (a Address) String() string {
	var sb strings.Builder
	sb.Grow(Size * 3)
	for i, b := range a {
		if i != 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

func Parse(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != Size {
		return a, ErrParse
	}
	for i, p := range parts {
		if len(p) != 2 {
			return a, ErrParse
		}
		if _, err := hex.Decode(a[i:i+1], []byte(p)); err != nil {
			return a, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	return a, nil
}
