// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package sddrrand

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
)

// Addresses, keys and filter padding all draw from here,
// so tests can make every discovery cycle reproducible.

type Rand interface {
	Read(data []byte)
}

type cryptoRand struct {
}

func (c *cryptoRand) Read(data []byte) {
	if _, err := rand.Read(data); err != nil {
		panic("failed to read crypto rand: " + err.Error())
	}
}

// fixedRand never repeats a previous Read, otherwise
// address shifting (which loops until the value changes) would spin.
type fixedRand struct {
	counter byte
}

func (c *fixedRand) Read(data []byte) {
	for i := range data {
		data[i] = c.counter
		c.counter++
	}
}

type seededRand struct {
	src *mrand.ChaCha8
}

func (c *seededRand) Read(data []byte) {
	_, _ = c.src.Read(data) // never fails
}

func CryptoRand() Rand {
	return &cryptoRand{}
}

func FixedRand() Rand {
	return &fixedRand{}
}

// NewSeeded is deterministic for the same seed, not safe for concurrent use.
func NewSeeded(seed uint64) Rand {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &seededRand{src: mrand.NewChaCha8(s)}
}

func Uint32(r Rand) uint32 {
	var b [4]byte
	r.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func Uint64(r Rand) uint64 {
	var b [8]byte
	r.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Intn returns value in [0, n), n must be > 0.
// Modulo bias is irrelevant for our uses (bit positions, jitter).
func Intn(r Rand, n int) int {
	if n <= 0 {
		panic("sddrrand: Intn argument must be > 0")
	}
	return int(Uint64(r) % uint64(n))
}

// Between returns value in [lo, hi] inclusive.
func Between(r Rand, lo int, hi int) int {
	if hi < lo {
		panic("sddrrand: Between with hi < lo")
	}
	return lo + Intn(r, hi-lo+1)
}

// Reader adapts Rand to io.Reader for crypto APIs.
func Reader(r Rand) interface{ Read([]byte) (int, error) } {
	return reader{r: r}
}

type reader struct {
	r Rand
}

func (rd reader) Read(data []byte) (int, error) {
	rd.r.Read(data)
	return len(data), nil
}
