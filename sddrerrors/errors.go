// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package sddrerrors

import (
	"errors"
	"fmt"
)

// Errors on the receive path are static, we do not allocate
// for each malformed advert.

type Error struct {
	fatal bool
	code  int
	text  string
}

func (e *Error) Error() string {
	if e.fatal {
		return fmt.Sprintf("sddr (fatal): %d %s", e.code, e.text)
	}
	return fmt.Sprintf("sddr (warning): %d %s", e.code, e.text)
}

func (e *Error) Fatal() bool { return e.fatal }

func (e *Error) Code() int { return e.code }

func NewFatal(code int, text string) error {
	return &Error{
		fatal: true,
		code:  code,
		text:  text,
	}
}

func NewWarning(code int, text string) error {
	return &Error{
		fatal: false,
		code:  code,
		text:  text,
	}
}

// IsFatal reports whether err (or anything it wraps) is a fatal sddr error.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.fatal
	}
	return false
}

// configuration, returned from constructors
var ErrUnsupportedCurve = NewFatal(-100, "unsupported key exchange curve")
var ErrInvalidConfirmScheme = NewFatal(-101, "confirm scheme not supported by radio version")
var ErrInvalidVersion = NewFatal(-102, "unknown radio version")
var ErrSegmentsMismatch = NewFatal(-103, "bloom filter segments do not add up to filter size")
var ErrTooManyHashes = NewFatal(-104, "bloom filter supports at most 8 hash functions")
var ErrMatrixTooLarge = NewFatal(-105, "erasure code matrix does not fit field size")
var ErrInvalidSymbolSize = NewFatal(-106, "erasure code symbol size must be positive")
var ErrInvalidMemoryScheme = NewFatal(-107, "unknown memory scheme")
var ErrInvalidPolicyScheme = NewFatal(-108, "unknown hysteresis scheme")

// receive path, dropped input
var WarnAdvertChecksum = NewWarning(-200, "advert from address with invalid checksum")
var WarnAdvertLength = NewWarning(-201, "advert has unexpected length")
var WarnAdvertHeader = NewWarning(-202, "advert header does not match")
var WarnAdvertNumber = NewWarning(-203, "advert number out of range")
var WarnHandshakeLength = NewWarning(-210, "handshake message has unexpected length")
var WarnHandshakeAllZero = NewWarning(-211, "handshake message is all zeros")
var WarnInvalidPublicKey = NewWarning(-212, "remote public key is not a valid point")
var WarnHandshakeUnsupported = NewWarning(-213, "active handshake is not supported by radio version")
var WarnNameLength = NewWarning(-220, "remote name has unexpected length")
var WarnNameEncoding = NewWarning(-221, "remote name failed to decode")
var WarnPSIFrame = NewWarning(-230, "malformed PSI message frame")
var WarnMediumFrame = NewWarning(-240, "malformed medium frame")
