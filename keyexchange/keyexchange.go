// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package keyexchange

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
)

// Public values travel compressed: one prefix byte (0x02 | Y parity) and X.
// Adverts carry only X, the parity bit rides in the rotating address.

const derivationInfo = "sddr link value"

type Curve struct {
	name     string
	keyBytes int
	nist     ecdh.Curve     // nil for x25519
	point    elliptic.Curve // for decompression
}

var curves = []Curve{
	{name: "p256", keyBytes: 32, nist: ecdh.P256(), point: elliptic.P256()},
	{name: "p384", keyBytes: 48, nist: ecdh.P384(), point: elliptic.P384()},
	{name: "x25519", keyBytes: curve25519.PointSize},
}

// CurveByName accepts p256, p384 and x25519.
func CurveByName(name string) (Curve, error) {
	for _, c := range curves {
		if c.name == name {
			return c, nil
		}
	}
	return Curve{}, fmt.Errorf("%w: %q", sddrerrors.ErrUnsupportedCurve, name)
}

// CurveByKeyBits maps the legacy key size setting, 256 prefers p256.
func CurveByKeyBits(bits int) (Curve, error) {
	for _, c := range curves {
		if c.keyBytes*8 == bits {
			return c, nil
		}
	}
	return Curve{}, fmt.Errorf("%w: %d bit keys", sddrerrors.ErrUnsupportedCurve, bits)
}

func (c Curve) Name() string { return c.name }

func (c Curve) KeyBytes() int { return c.keyBytes }

func (c Curve) KeyBits() int { return c.keyBytes * 8 }

// CompressedSize is KeyBytes plus prefix.
func (c Curve) CompressedSize() int { return c.keyBytes + 1 }

// Exchange is an immutable ephemeral key pair, rotation creates a new one,
// so it can be shared with the handshake listener without locking.
type Exchange struct {
	curve      Curve
	nistKey    *ecdh.PrivateKey
	x25519Key  []byte
	compressed []byte
}

func (c Curve) Generate(rnd sddrrand.Rand) (*Exchange, error) {
	e := &Exchange{curve: c}
	if c.nist == nil {
		e.x25519Key = make([]byte, curve25519.ScalarSize)
		rnd.Read(e.x25519Key)
		pub, err := curve25519.X25519(e.x25519Key, curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		e.compressed = append([]byte{0x02}, pub...)
		return e, nil
	}
	key, err := c.nist.GenerateKey(sddrrand.Reader(rnd))
	if err != nil {
		return nil, err
	}
	e.nistKey = key
	uncompressed := key.PublicKey().Bytes() // 04 || X || Y
	x := uncompressed[1 : 1+c.keyBytes]
	y := uncompressed[1+c.keyBytes:]
	e.compressed = append([]byte{0x02 | y[len(y)-1]&1}, x...)
	return e, nil
}

func (e *Exchange) Curve() Curve { return e.curve }

// Compressed returns prefix || X, callers must not modify it.
func (e *Exchange) Compressed() []byte { return e.compressed }

func (e *Exchange) PublicX() []byte { return e.compressed[1:] }

func (e *Exchange) PublicY() byte { return e.compressed[0] & 1 }

// SharedSecret derives the link value shared with the owner of remote X and Y parity.
func (e *Exchange) SharedSecret(remoteX []byte, remoteY byte) (linkvalue.LinkValue, error) {
	if len(remoteX) != e.curve.keyBytes {
		return nil, sddrerrors.WarnInvalidPublicKey
	}
	compressed := make([]byte, 0, e.curve.CompressedSize())
	compressed = append(compressed, 0x02|remoteY&1)
	compressed = append(compressed, remoteX...)
	return e.SharedSecretCompressed(compressed)
}

func (e *Exchange) SharedSecretCompressed(remote []byte) (linkvalue.LinkValue, error) {
	if len(remote) != e.curve.CompressedSize() || remote[0]&^1 != 0x02 {
		return nil, sddrerrors.WarnInvalidPublicKey
	}
	var shared []byte
	if e.curve.nist == nil {
		s, err := curve25519.X25519(e.x25519Key, remote[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sddrerrors.WarnInvalidPublicKey, err)
		}
		shared = s
	} else {
		x, y := elliptic.UnmarshalCompressed(e.curve.point, remote)
		if x == nil {
			return nil, sddrerrors.WarnInvalidPublicKey
		}
		uncompressed := make([]byte, 1+2*e.curve.keyBytes)
		uncompressed[0] = 4
		x.FillBytes(uncompressed[1 : 1+e.curve.keyBytes])
		y.FillBytes(uncompressed[1+e.curve.keyBytes:])
		pub, err := e.curve.nist.NewPublicKey(uncompressed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sddrerrors.WarnInvalidPublicKey, err)
		}
		s, err := e.nistKey.ECDH(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sddrerrors.WarnInvalidPublicKey, err)
		}
		shared = s
	}
	out := make(linkvalue.LinkValue, e.curve.keyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(derivationInfo)), out); err != nil {
		return nil, err
	}
	return out, nil
}
