// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package udpmedium

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/hrissan/sddr/address"
)

type kind uint8

const (
	kindAdvert kind = iota + 1
	kindScanResponse
	kindNameRequest
	kindNameReply
	kindConnect
	kindAccept
	kindRefuse
	kindData
	kindClose
	kindLast = kindClose
)

// frame is one datagram. To and Session are empty for broadcasts.
type frame struct {
	Kind    kind   `cbor:"1,keyasint"`
	From    []byte `cbor:"2,keyasint"`
	To      []byte `cbor:"3,keyasint,omitempty"`
	Session []byte `cbor:"4,keyasint,omitempty"`
	Seq     uint32 `cbor:"5,keyasint,omitempty"`
	Data    []byte `cbor:"6,keyasint,omitempty"`
	Name    string `cbor:"7,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("udpmedium: cbor encoder: " + err.Error())
	}
	decOpts := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic("udpmedium: cbor decoder: " + err.Error())
	}
}

func newFrame(k kind, from address.Address) frame {
	return frame{Kind: k, From: from[:]}
}

func (f *frame) withSession(session uuid.UUID) *frame {
	f.Session = session[:]
	return f
}

func (f *frame) withTo(to address.Address) *frame {
	f.To = to[:]
	return f
}

func (f *frame) from() address.Address { return address.Address(f.From) }

func (f *frame) to() (address.Address, bool) {
	if len(f.To) != address.Size {
		return address.Address{}, false
	}
	return address.Address(f.To), true
}

func (f *frame) session() uuid.UUID {
	if len(f.Session) != len(uuid.UUID{}) {
		return uuid.Nil
	}
	return uuid.UUID(f.Session)
}

func encodeFrame(f *frame) ([]byte, error) {
	return encMode.Marshal(f)
}

func decodeFrame(datagram []byte) (frame, error) {
	var f frame
	if err := decMode.Unmarshal(datagram, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Kind == 0 || f.Kind > kindLast {
		return frame{}, fmt.Errorf("%w: unknown kind %d", ErrBadFrame, f.Kind)
	}
	if len(f.From) != address.Size {
		return frame{}, fmt.Errorf("%w: sender address of %d bytes", ErrBadFrame, len(f.From))
	}
	if len(f.To) != 0 && len(f.To) != address.Size {
		return frame{}, fmt.Errorf("%w: target address of %d bytes", ErrBadFrame, len(f.To))
	}
	if len(f.Session) != 0 && len(f.Session) != len(uuid.UUID{}) {
		return frame{}, fmt.Errorf("%w: session of %d bytes", ErrBadFrame, len(f.Session))
	}
	return f, nil
}
