// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package safecast

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// a cast is lossless exactly when both values print the same
func testCast[Result Integer, Arg Integer](t *testing.T, arg Arg) {
	_, err := TryCast[Result](arg)
	good := fmt.Sprint(arg) == fmt.Sprint(Result(arg))
	if (err == nil) != good {
		t.Errorf("TryCast of %v to %T: err=%v, printed cast %v", arg, Result(0), err, Result(arg))
	}
}

func testCasts[Arg Integer](t *testing.T, arg Arg) {
	testCast[int](t, arg)
	testCast[int8](t, arg)
	testCast[int16](t, arg)
	testCast[int32](t, arg)
	testCast[int64](t, arg)
	testCast[uint](t, arg)
	testCast[uint8](t, arg)
	testCast[uint16](t, arg)
	testCast[uint32](t, arg)
	testCast[uint64](t, arg)
	testCast[uintptr](t, arg)
}

func FuzzCast(f *testing.F) {
	f.Add(int64(-1), uint64(1<<40), int8(-128), uint8(255))
	f.Fuzz(func(t *testing.T, arg1 int64, arg2 uint64, arg3 int8, arg4 uint8) {
		testCasts(t, arg1)
		testCasts(t, arg2)
		testCasts(t, arg3)
		testCasts(t, arg4)
	})
}

func TestCastPanics(t *testing.T) {
	require.Equal(t, uint32(1643), Cast[uint32](1643))
	require.PanicsWithValue(t, ErrIntegerOverflowSign.Error(), func() { Cast[uint32](-1) })
	require.PanicsWithValue(t, ErrIntegerOverflow.Error(), func() { Cast[uint8](300) })
}
