// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package radio implements the encounter detection radios. Every version
// drives an Adapter, owns its rotating address and key exchange, tracks
// remote devices across their rotations and reports them as encounters
// once a shared secret is established.
package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/sddrerrors"
)

type Action uint8

const (
	ActionDiscover Action = iota
	ActionChangeEpoch
)

func (a Action) String() string {
	switch a {
	case ActionDiscover:
		return "discover"
	case ActionChangeEpoch:
		return "change_epoch"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

type ActionInfo struct {
	Action Action
	Wait   time.Duration // never negative
}

// Radio is driven by a single loop goroutine, except SetAdvertisedSet and
// SetListenSet which may be called from anywhere.
type Radio interface {
	SetAdvertisedSet(set []linkvalue.LinkValue)
	SetListenSet(set []linkvalue.LinkValue)

	Initialize(ctx context.Context) error
	NextAction(now time.Time) ActionInfo
	Discover(ctx context.Context) ([]events.DiscoverEvent, error)
	ChangeEpoch(ctx context.Context) error
	// Handshake returns every device that has shaken hands and is confirmed,
	// not only those from ids.
	Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error)
	DeviceEvent(id events.DeviceID, now time.Time, rssiInterval time.Duration) (events.EncounterEvent, bool)
	DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool)

	// Close stops the listener, if any.
	Close() error
}

// New validates opts and constructs the radio of opts.Radio.Version.
func New(opts *options.Options, adapter Adapter) (Radio, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var r Radio
	var err error
	switch opts.Radio.Version {
	case options.BT2:
		r, err = NewBT2(opts, adapter)
	case options.BT2NR:
		r, err = NewBT2NR(opts, adapter)
	case options.BT2PSI:
		r, err = NewBT2PSI(opts, adapter, nil)
	case options.BT4:
		r, err = NewBT4(opts, adapter)
	case options.BT4AR:
		r, err = NewBT4AR(opts, adapter)
	default:
		return nil, sddrerrors.ErrInvalidVersion
	}
	if err != nil {
		return nil, err
	}
	r.SetAdvertisedSet(opts.Advertised)
	r.SetListenSet(opts.Listen)
	return r, nil
}
