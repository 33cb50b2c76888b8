// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package circular_test

import (
	"testing"

	"github.com/hrissan/sddr/circular"
)

const fuzzMaxLength = 16

func FuzzCircularBuffer(f *testing.F) {
	f.Add([]byte{1, 1, 2, 3, 4, 1, 5, 1, 1, 0, 2, 2, 4})
	f.Fuzz(func(t *testing.T, commands []byte) {
		var storage [fuzzMaxLength]byte
		cbe := circular.BufferExt[byte]{}
		cb := circular.Buffer[byte]{}
		var mirror []byte
		for i, c := range commands {
			if cb.Len() != len(mirror) || cb.Len() != cbe.Len() {
				t.FailNow()
			}
			a, b := cb.Slices()
			if string(append(append([]byte{}, a...), b...)) != string(mirror) {
				t.FailNow()
			}
			for pos, value := range cb.All() {
				if mirror[pos] != value {
					t.FailNow()
				}
			}
			if cb.Len() != 0 && (cb.Front() != mirror[0] || cb.Back() != mirror[len(mirror)-1] ||
				cbe.Front(storage[:]) != mirror[0] || cbe.Back(storage[:]) != mirror[len(mirror)-1]) {
				t.FailNow()
			}
			for offset, value := range mirror {
				if cb.Index(offset) != value {
					t.FailNow()
				}
				if cbe.Index(storage[:], offset) != value {
					t.FailNow()
				}
			}
			switch c {
			case 0:
				cb.Clear()
				cbe.Clear(storage[:])
				mirror = mirror[:0]
			case 1:
				if cb.Len() < fuzzMaxLength {
					cb.PushBack(byte(i))
					cbe.PushBack(storage[:], byte(i))
					mirror = append(mirror, byte(i))
				}
			case 2:
				if cb.Len() < fuzzMaxLength {
					cb.PushFront(byte(i))
					cbe.PushFront(storage[:], byte(i))
					mirror = append([]byte{byte(i)}, mirror...)
				}
			case 3:
				if cb.Len() != 0 {
					value1 := cb.PopFront()
					value2 := cbe.PopFront(storage[:])
					value := mirror[0]
					mirror = mirror[1:]
					if value1 != value || value2 != value {
						t.FailNow()
					}
				}
			case 4:
				if cb.Len() != 0 {
					value1 := cb.PopBack()
					value2 := cbe.PopBack(storage[:])
					value := mirror[len(mirror)-1]
					mirror = mirror[:len(mirror)-1]
					if value1 != value || value2 != value {
						t.FailNow()
					}
				}
			case 5:
				if cb.Len() != 0 {
					pos := i % cb.Len()
					value := cbe.RemoveAt(storage[:], pos)
					if value != mirror[pos] {
						t.FailNow()
					}
					mirror = append(mirror[:pos], mirror[pos+1:]...)
					cb.Clear()
					for _, m := range mirror {
						cb.PushBack(m)
					}
				}
			default:
				cb.Reserve(int(c)) // widening
				// no reserve on BufferExt
			}
		}
	})
}
