// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

import (
	"math"

	"github.com/hrissan/sddr/bloom"
)

// SymbolSize picks bytes per symbol for sending keyBits of key material in
// adverts of advertBits payload bits, each advert carrying one symbol and
// half of a K=1 bloom filter over 256 items. It minimizes the number of
// adverts needed to decode the key plus reach 5% false positive rate
// twice over; ties go to the smaller symbol.
func SymbolSize(keyBits int, advertBits int) int {
	keyBytes := keyBits / 8
	best, bestTotal := 0, math.MaxInt
	for w := 1; w < keyBytes; w++ {
		if keyBytes%w != 0 {
			continue
		}
		bloomBits := 2 * (advertBits - 8*w)
		if bloomBits <= 0 {
			continue
		}
		p := bloom.ComputePFalse(256, bloomBits, 1)
		total := keyBytes/w + int(math.Ceil(2*math.Log(0.05)/math.Log(p)))
		if total < bestTotal {
			best, bestTotal = w, total
		}
	}
	if best == 0 {
		return keyBytes
	}
	return best
}
