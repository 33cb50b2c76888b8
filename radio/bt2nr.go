// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/bloom"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/namecodec"
	"github.com/hrissan/sddr/options"
)

const (
	bt2nrNameBits        = 1723 // fits the 248 byte name once 7-bit encoded
	bt2nrBloomK          = 3
	bt2nrDiscoverPeriods = 8
	bt2nrNameTimeout     = 2500 * time.Millisecond
	bt2nrYBit            = 1
	bt2nrKeyStart        = 2
)

// BT2NR carries its key and filter in the device name, which peers read
// with a remote name request after discovery. No confirmation is possible.
type BT2NR struct {
	base

	bloomM   int
	exchange *keyexchange.Exchange

	devices *device.Map[*device.Device]
}

var _ Radio = (*BT2NR)(nil)

func NewBT2NR(opts *options.Options, adapter Adapter) (*BT2NR, error) {
	r := &BT2NR{}
	if err := r.init(opts, adapter); err != nil {
		return nil, err
	}
	r.bloomM = bt2nrNameBits - bt2nrKeyStart - r.curve.KeyBits()
	if r.bloomM <= 0 {
		return nil, fmt.Errorf("key of %d bits does not fit name", r.curve.KeyBits())
	}
	var err error
	if r.exchange, err = r.curve.Generate(r.rnd); err != nil {
		return nil, err
	}
	r.devices = device.NewMap[*device.Device]()
	return r, nil
}

func (r *BT2NR) Initialize(ctx context.Context) error {
	addr := address.Generate(r.rnd)
	if err := r.adapter.SetAddress(addr); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	r.changeName()
	r.stats.RadioStarted(r.version.FullName(), addr)
	return nil
}

func (r *BT2NR) Close() error { return nil }

func (r *BT2NR) Discover(ctx context.Context) ([]events.DiscoverEvent, error) {
	if r.opts.Radio.Memory == options.MemoryNone {
		r.devices.Clear()
	}
	var discovered []events.DiscoverEvent
	err := r.adapter.Inquiry(ctx, bt2nrDiscoverPeriods, func(res ScanResult) {
		now := r.clock.Now()
		d, ok := r.devices.Get(res.Address)
		if !ok {
			d = r.newDevice(res.Address)
			r.devices.Add(d)
		}
		d.AddRSSI(now, res.RSSI)
		discovered = append(discovered, events.DiscoverEvent{Time: now, ID: d.ID(), RSSI: res.RSSI})
		r.addRecent(d)
	})
	if err != nil {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}
		r.stats.MediumError("inquiry", err)
	}
	r.scheduleDiscover(bt2DiscoverInterval, bt2DiscoverJitter)
	return discovered, nil
}

func (r *BT2NR) ChangeEpoch(ctx context.Context) error {
	exchange, err := r.curve.Generate(r.rnd)
	if err != nil {
		return err
	}
	r.exchange = exchange
	addr := r.adapter.Address().Shift(r.rnd)
	if err := r.adapter.SetAddress(addr); err != nil {
		r.stats.MediumError("set_address", err)
	}
	r.changeName()
	r.scheduleEpoch()
	r.stats.EpochChanged(addr, r.epoch)
	return nil
}

// Handshake reads the name of every device, as long as there is time
// before the next action.
func (r *BT2NR) Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error) {
	for _, id := range ids {
		if r.timeUntilNextAction() < handshakeBudget {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d, ok := r.devices.GetByID(id)
		if !ok {
			continue
		}
		name, err := r.adapter.ReadRemoteName(ctx, d.Address(), bt2nrNameTimeout)
		if err == nil {
			err = r.processName(d, name)
		}
		r.stats.Handshake("name", d.Address(), err)
		d.SetShakenHands(true)
	}
	return encountered(r.devices.All()), nil
}

func (r *BT2NR) DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	r.devices.RemoveByID(id)
	return r.forget(id, now)
}

func (r *BT2NR) generateName() string {
	keyBits := r.curve.KeyBits()
	payload := bitbuffer.New(bt2nrNameBits)
	payload.SetValue(bt2nrYBit, r.exchange.PublicY() != 0) // bit 0 is the version, 0
	payload.CopyFrom(r.exchange.PublicX(), 0, bt2nrKeyStart, keyBits)

	f, err := bloom.New(bloomN, r.bloomM, bt2nrBloomK)
	if err != nil {
		panic(err)
	}
	r.fillBloomFilter(f, r.exchange.PublicX(), false)
	payload.CopyFrom(f.Bytes(), 0, bt2nrKeyStart+keyBits, r.bloomM)
	return namecodec.Encode(payload.Bytes(), bt2nrNameBits)
}

func (r *BT2NR) changeName() {
	if err := r.adapter.SetName(r.generateName()); err != nil {
		r.stats.MediumError("set_name", err)
	}
}

func (r *BT2NR) processName(d *device.Device, name string) error {
	data, err := namecodec.Decode(name, bt2nrNameBits)
	if err != nil {
		return err
	}
	keyBits := r.curve.KeyBits()
	payload := bitbuffer.FromBytes(bt2nrNameBits, data)
	var remoteY byte
	if payload.Get(bt2nrYBit) {
		remoteY = 1
	}
	remoteX := make([]byte, r.curve.KeyBytes())
	payload.CopyTo(remoteX, 0, bt2nrKeyStart, keyBits)
	r.deriveSecret(d, r.exchange, remoteX, remoteY)

	f, err := bloom.NewFromWindow(bloomN, bt2nrBloomK, data, bt2nrKeyStart+keyBits, r.bloomM)
	if err != nil {
		return err
	}
	r.updateMatching(d, f, remoteX, f.PFalse())
	return nil
}
