// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"bytes"
	"context"
	"crypto/aes"
	"fmt"
	"math"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
)

const (
	bt4arScanInterval = 60 * time.Second
	irkSize           = 16
	hashSize          = 3
)

// pFalse of one hash match on a random address
var bt4arPFalse = math.Pow(2, -8*hashSize)

// BT4AR advertises resolvable private addresses, the identity key being
// the first advertised link value. Peers listening for that value resolve
// the address, no key exchange or payload is involved.
type BT4AR struct {
	base

	devices *device.Map[*device.Device]
}

var _ Radio = (*BT4AR)(nil)

func NewBT4AR(opts *options.Options, adapter Adapter) (*BT4AR, error) {
	r := &BT4AR{}
	if err := r.init(opts, adapter); err != nil {
		return nil, err
	}
	r.devices = device.NewMap[*device.Device]()
	return r, nil
}

func (r *BT4AR) Initialize(ctx context.Context) error {
	if err := r.adapter.SetConnectable(false); err != nil {
		r.stats.MediumError("set_connectable", err)
	}
	addr, err := r.changeAddress()
	if err != nil {
		return err
	}
	r.stats.RadioStarted(r.version.FullName(), addr)
	return nil
}

func (r *BT4AR) Close() error { return nil }

func (r *BT4AR) Discover(ctx context.Context) ([]events.DiscoverEvent, error) {
	if r.opts.Radio.Memory == options.MemoryNone {
		r.devices.Clear()
	}
	var discovered []events.DiscoverEvent
	err := r.adapter.Scan(ctx, bt4ScanWindow, func(res ScanResult) {
		now := r.clock.Now()
		d, ok := r.devices.Get(res.Address)
		if !ok {
			d = r.newDevice(res.Address)
			r.devices.Add(d)
			r.resolve(d)
		}
		d.AddRSSI(now, res.RSSI)
		discovered = append(discovered, events.DiscoverEvent{Time: now, ID: d.ID(), RSSI: res.RSSI})
		r.addRecent(d)
	})
	if err != nil {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}
		r.stats.MediumError("scan", err)
	}
	r.scheduleDiscover(bt4arScanInterval, 0)
	return discovered, nil
}

func (r *BT4AR) ChangeEpoch(ctx context.Context) error {
	addr, err := r.changeAddress()
	if err != nil {
		return err
	}
	r.scheduleEpoch()
	r.stats.EpochChanged(addr, r.epoch)
	return nil
}

// Handshake has nothing to exchange, resolution happens on discovery.
func (r *BT4AR) Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error) {
	for _, id := range ids {
		if d, ok := r.devices.GetByID(id); ok {
			d.SetShakenHands(true)
		}
	}
	return encountered(r.devices.All()), ctx.Err()
}

func (r *BT4AR) DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	r.devices.RemoveByID(id)
	return r.forget(id, now)
}

// changeAddress advertises a fresh resolvable address with an empty payload.
func (r *BT4AR) changeAddress() (address.Address, error) {
	addr, err := resolvableAddress(r.identityKey(), address.Generate(r.rnd))
	if err != nil {
		return addr, err
	}
	if err := r.adapter.SetAddress(addr); err != nil {
		r.stats.MediumError("set_address", err)
	}
	if err := r.adapter.SetAdvert(nil); err != nil {
		r.stats.MediumError("set_advert", err)
	}
	return addr, nil
}

func (r *BT4AR) identityKey() []byte {
	irk := make([]byte, irkSize)
	if set := r.advertisedSet(); len(set) != 0 {
		copy(irk, set[0])
	}
	return irk
}

// resolve keeps listen values whose identity key produced the address.
// Every resolved value becomes a secret shared with the device.
func (r *BT4AR) resolve(d *device.Device) {
	addr := d.Address()
	r.updateFiltered(d, func(v linkvalue.LinkValue) bool {
		irk := make([]byte, irkSize)
		copy(irk, v)
		ok, err := resolvesTo(irk, addr)
		return err == nil && ok
	})
	for _, v := range d.Matching() {
		r.addSecret(d, linkvalue.NewConfirmedSecret(v, linkvalue.ConfirmNone))
	}
}

func (r *BT4AR) updateFiltered(d *device.Device, keep func(v linkvalue.LinkValue) bool) {
	before := len(d.Matching())
	d.FilterMatching(keep, bt4arPFalse)
	if len(d.Matching()) != before {
		r.stats.MatchingUpdated(d.ID(), len(d.Matching()), d.MatchingPFalse())
	}
}

// addressHash encrypts the random half, padded to one block with PKCS#7.
func addressHash(irk []byte, random []byte) ([]byte, error) {
	block, err := aes.NewCipher(irk)
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	var plain [aes.BlockSize]byte
	n := copy(plain[:], random)
	for i := n; i < aes.BlockSize; i++ {
		plain[i] = byte(aes.BlockSize - n)
	}
	var out [aes.BlockSize]byte
	block.Encrypt(out[:], plain[:])
	return out[aes.BlockSize-hashSize:], nil
}

// resolvableAddress replaces the first half of addr with the hash of the second.
func resolvableAddress(irk []byte, addr address.Address) (address.Address, error) {
	hash, err := addressHash(irk, addr[address.Half:])
	if err != nil {
		return address.Address{}, err
	}
	copy(addr[:hashSize], hash)
	return addr, nil
}

func resolvesTo(irk []byte, addr address.Address) (bool, error) {
	hash, err := addressHash(irk, addr[address.Half:])
	if err != nil {
		return false, err
	}
	return bytes.Equal(hash, addr[:hashSize]), nil
}
