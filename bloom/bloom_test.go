// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package bloom_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/bloom"
	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
)

func TestNoFalseNegatives(t *testing.T) {
	f, err := bloom.New(256, 1108, 3)
	require.NoError(t, err)
	prefix := []byte("prefix")
	for i := 0; i < 256; i++ {
		f.Add(prefix, []byte(fmt.Sprintf("item-%d", i)))
	}
	for i := 0; i < 256; i++ {
		require.True(t, f.Query(prefix, []byte(fmt.Sprintf("item-%d", i))))
	}
}

func TestPrefixSeparatesItems(t *testing.T) {
	f, err := bloom.New(1, 4096, 4)
	require.NoError(t, err)
	f.Add([]byte("a"), []byte("value"))
	require.True(t, f.Query([]byte("a"), []byte("value")))
	require.False(t, f.Query([]byte("b"), []byte("value")))
}

func TestComputePFalse(t *testing.T) {
	want := math.Pow(1-math.Exp(-3.0*256/1108), 3)
	assert.InDelta(t, want, bloom.ComputePFalse(256, 1108, 3), 1e-12)
	f, err := bloom.New(256, 1108, 3)
	require.NoError(t, err)
	assert.InDelta(t, want, f.PFalse(), 1e-12)
}

func TestTooManyHashes(t *testing.T) {
	_, err := bloom.New(1, 100, 9)
	require.ErrorIs(t, err, sddrerrors.ErrTooManyHashes)
}

func TestAddRandomLoad(t *testing.T) {
	f, err := bloom.New(256, 100_000, 2)
	require.NoError(t, err)
	f.AddRandom(sddrrand.NewSeeded(7), 100)
	// collisions are rare at this size
	assert.InDelta(t, 200, f.Bits().Count(), 3)
}

func TestWindowAndBytes(t *testing.T) {
	f, err := bloom.New(4, 37, 2)
	require.NoError(t, err)
	f.Add(nil, []byte("x"))

	advert := bitbuffer.New(64)
	advert.CopyFrom(f.Bytes(), 0, 11, 37)

	g, err := bloom.NewFromWindow(4, 2, advert.Bytes(), 11, 37)
	require.NoError(t, err)
	require.Equal(t, f.Bytes(), g.Bytes())
	require.True(t, g.Query(nil, []byte("x")))

	h, err := bloom.NewFromBytes(4, 37, 2, f.Bytes())
	require.NoError(t, err)
	require.True(t, h.Query(nil, []byte("x")))
}

func TestSegmentedEqualSplit(t *testing.T) {
	_, err := bloom.NewSegmented(256, 101, 1, 2, false)
	require.ErrorIs(t, err, sddrerrors.ErrSegmentsMismatch)
	_, err = bloom.NewSegmentedSizes(256, 1, nil, false)
	require.ErrorIs(t, err, sddrerrors.ErrSegmentsMismatch)
}

func TestSegmentedTransfer(t *testing.T) {
	sizes := []int{111, 175}
	sender, err := bloom.NewSegmentedSizes(256, 1, sizes, false)
	require.NoError(t, err)
	prefix := []byte{1, 2, 3}
	sender.Add(prefix, []byte("link"))
	sender.AddRandom(sddrrand.NewSeeded(1), 255)

	receiver, err := bloom.NewSegmentedSizes(256, 1, sizes, true)
	require.NoError(t, err)
	require.Equal(t, 1.0, receiver.PFalse())
	require.Equal(t, 286, receiver.M())
	require.True(t, receiver.Query(prefix, []byte("other")))

	total := 1.0
	for s := 0; s < receiver.B(); s++ {
		buf := make([]byte, 32)
		sender.GetSegment(s, buf, 5)
		delta := receiver.SetSegment(s, buf, 5)
		require.Less(t, delta, 1.0)
		total *= delta
		require.Equal(t, 1.0, receiver.SetSegment(s, buf, 5))
		require.True(t, receiver.IsFilled(s))
	}
	require.Equal(t, 2, receiver.Filled())
	require.Equal(t, sender.Bytes(), receiver.Bytes())
	assert.InDelta(t, bloom.ComputePFalse(256, 286, 1), total, 1e-12)
	require.True(t, receiver.Query(prefix, []byte("link")))

	assert.InDelta(t, total, receiver.ResetPFalse(), 1e-12)
	require.Equal(t, 1.0, receiver.PFalse())
}

func TestSegmentedAllOnesQueriesTrue(t *testing.T) {
	s, err := bloom.NewSegmented(256, 200, 1, 2, true)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.True(t, s.Query(nil, []byte{byte(i)}))
	}
	require.Equal(t, 100, s.SegmentSize(1))
}
