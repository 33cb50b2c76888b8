// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package sddrerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/sddrerrors"
)

func TestFatalThroughWrapping(t *testing.T) {
	err := fmt.Errorf("radio: %w", sddrerrors.ErrInvalidConfirmScheme)
	require.True(t, sddrerrors.IsFatal(err))
	require.ErrorIs(t, err, sddrerrors.ErrInvalidConfirmScheme)
	require.False(t, sddrerrors.IsFatal(sddrerrors.WarnAdvertChecksum))
	require.False(t, sddrerrors.IsFatal(errors.New("plain")))
	require.False(t, sddrerrors.IsFatal(nil))

	var e *sddrerrors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, -101, e.Code())
	require.Equal(t, "sddr (fatal): -101 confirm scheme not supported by radio version", e.Error())
	require.Equal(t, "sddr (warning): -240 malformed medium frame", sddrerrors.WarnMediumFrame.Error())
}
