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
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/sddrerrors"
)

const (
	bt2EIRBytes          = 240
	bt2EIRLength         = 239  // first byte, length of the rest
	bt2EIRType           = 0xFF // manufacturer specific data
	bt2HeaderBits        = 16
	bt2DiscoverInterval  = 60 * time.Second
	bt2DiscoverJitter    = time.Second
	bt2InquiryPeriods    = 8
	bt2BloomK            = 4
	bt2DuplicateSlack    = 3 // in discovery intervals, subtracted from ADV_N
	bt2SameEpochSlack    = 3
	bt2VersionBit        = bt2HeaderBits
	bt2AdvertNumberStart = bt2VersionBit + 1
)

type bt2Epoch struct {
	lastAdvertNum  int
	lastAdvertTime time.Time
	remoteX        []byte
	remoteY        byte
}

type bt2Device struct {
	*device.Device
	epoch *bt2Epoch // only the latest epoch is kept
}

// BT2 puts the whole key and one filter into every extended inquiry
// response, so a single response is enough to derive the secret.
type BT2 struct {
	base

	advertN int
	numBits int
	bloomM  int

	exchange  *keyexchange.Exchange
	advertNum int

	devices *device.Map[*bt2Device]
}

var _ Radio = (*BT2)(nil)

func NewBT2(opts *options.Options, adapter Adapter) (*BT2, error) {
	r := &BT2{}
	if err := r.init(opts, adapter); err != nil {
		return nil, err
	}
	r.advertN = int((opts.Radio.EpochInterval + bt2DiscoverInterval - 1) / bt2DiscoverInterval)
	r.numBits = bitLen(r.advertN)
	r.bloomM = (bt2EIRLength-1)*8 - 1 - r.numBits - r.curve.KeyBits()
	if r.bloomM <= 0 {
		return nil, fmt.Errorf("%w: key of %d bits does not fit response", sddrerrors.ErrSegmentsMismatch, r.curve.KeyBits())
	}
	var err error
	if r.exchange, err = r.curve.Generate(r.rnd); err != nil {
		return nil, err
	}
	r.devices = device.NewMap[*bt2Device]()
	return r, nil
}

func (r *BT2) Initialize(ctx context.Context) error {
	addr := address.GenerateWithPartial(r.rnd, r.exchange.PublicY()<<5, address.YMask)
	if err := r.adapter.SetAddress(addr); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	r.changeAdvert()
	r.stats.RadioStarted(r.version.FullName(), addr)
	return nil
}

func (r *BT2) Close() error { return nil }

func (r *BT2) Discover(ctx context.Context) ([]events.DiscoverEvent, error) {
	if r.opts.Radio.Memory == options.MemoryNone {
		r.devices.Clear()
	}
	r.changeAdvert()
	var discovered []events.DiscoverEvent
	err := r.adapter.Inquiry(ctx, bt2InquiryPeriods, func(res ScanResult) {
		r.processResponse(&discovered, res)
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

func (r *BT2) ChangeEpoch(ctx context.Context) error {
	exchange, err := r.curve.Generate(r.rnd)
	if err != nil {
		return err
	}
	r.advertNum = 0
	r.exchange = exchange
	addr := r.adapter.Address().ShiftWithPartial(r.rnd, exchange.PublicY()<<5, address.YMask)
	if err := r.adapter.SetAddress(addr); err != nil {
		r.stats.MediumError("set_address", err)
	}
	r.changeAdvert()
	if r.confirm.Type.Has(linkvalue.ConfirmPassive) {
		for d := range r.devices.All() {
			if d.epoch != nil {
				r.deriveSecret(d.Device, exchange, d.epoch.remoteX, d.epoch.remoteY)
			}
		}
	}
	r.scheduleEpoch()
	r.stats.EpochChanged(addr, r.epoch)
	return nil
}

// Handshake has nothing to exchange, confirmation is passive only.
func (r *BT2) Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error) {
	for _, id := range ids {
		if d, ok := r.devices.GetByID(id); ok {
			d.SetShakenHands(true)
		}
	}
	return encountered(r.devices.All()), ctx.Err()
}

func (r *BT2) DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	r.devices.RemoveByID(id)
	return r.forget(id, now)
}

func (r *BT2) prefix(advertNum int, publicX []byte) []byte {
	return prefixFor(advertNum, r.numBits, publicX, r.curve.KeyBits())
}

func (r *BT2) generateAdvert(advertNum int) []byte {
	keyBits := r.curve.KeyBits()
	advert := bitbuffer.New(bt2EIRBytes * 8)
	advert.PutUint(0, 8, bt2EIRLength)
	advert.PutUint(8, 8, bt2EIRType)
	offset := bt2AdvertNumberStart // version bit stays 0
	advert.PutUint(offset, r.numBits, uint64(advertNum))
	offset += r.numBits
	advert.CopyFrom(r.exchange.PublicX(), 0, offset, keyBits)
	offset += keyBits

	f, err := bloom.New(bloomN, r.bloomM, bt2BloomK)
	if err != nil {
		panic(err)
	}
	r.fillBloomFilter(f, r.prefix(advertNum, r.exchange.PublicX()), true)
	advert.CopyFrom(f.Bytes(), 0, offset, r.bloomM)
	return advert.Bytes()
}

func (r *BT2) changeAdvert() {
	if r.advertNum >= r.advertN {
		return
	}
	if err := r.adapter.SetAdvert(r.generateAdvert(r.advertNum)); err != nil {
		r.stats.MediumError("set_advert", err)
	}
	r.advertNum++
}

func (r *BT2) processResponse(discovered *[]events.DiscoverEvent, res ScanResult) {
	now := r.clock.Now()
	switch {
	case !res.Address.VerifyChecksum():
		r.stats.AdvertRejected("eir", res.Address, sddrerrors.WarnAdvertChecksum)
		return
	case len(res.Data) != bt2EIRBytes:
		r.stats.AdvertRejected("eir", res.Address, sddrerrors.WarnAdvertLength)
		return
	case res.Data[0] != bt2EIRLength || res.Data[1] != bt2EIRType:
		r.stats.AdvertRejected("eir", res.Address, sddrerrors.WarnAdvertHeader)
		return
	}
	d, ok := r.devices.Get(res.Address)
	if !ok {
		d = &bt2Device{Device: r.newDevice(res.Address)}
		r.devices.Add(d)
	}
	d.AddRSSI(now, res.RSSI)
	*discovered = append(*discovered, events.DiscoverEvent{Time: now, ID: d.ID(), RSSI: res.RSSI})
	r.addRecent(d.Device)
	r.processAdvert(d, now, res.Data)
}

func (r *BT2) processAdvert(d *bt2Device, now time.Time, data []byte) bool {
	keyBits := r.curve.KeyBits()
	advert := bitbuffer.FromBytes(bt2EIRBytes*8, data)
	offset := bt2AdvertNumberStart
	advertNum := int(advert.Uint(offset, r.numBits))
	offset += r.numBits
	if advertNum >= r.advertN {
		r.stats.AdvertRejected("eir", d.Address(), sddrerrors.WarnAdvertNumber)
		return false
	}

	isNew := true
	if e := d.epoch; e != nil {
		elapsed := now.Sub(e.lastAdvertTime)
		switch {
		case e.lastAdvertNum == advertNum:
			if elapsed < time.Duration(r.advertN-bt2DuplicateSlack)*bt2DiscoverInterval {
				r.stats.AdvertProcessed(d.ID(), advertNum, "duplicate")
				return false
			}
		case e.lastAdvertNum < advertNum:
			if elapsed < time.Duration(advertNum-e.lastAdvertNum+bt2SameEpochSlack)*bt2DiscoverInterval {
				isNew = false
			}
		}
	}
	if isNew {
		e := &bt2Epoch{
			lastAdvertNum:  advertNum,
			lastAdvertTime: now,
			remoteX:        make([]byte, r.curve.KeyBytes()),
			remoteY:        d.Address().Y(),
		}
		advert.CopyTo(e.remoteX, 0, offset, keyBits)
		d.epoch = e
		r.deriveSecret(d.Device, r.exchange, e.remoteX, e.remoteY)
		r.stats.AdvertProcessed(d.ID(), advertNum, "new_epoch")
	} else {
		r.stats.AdvertProcessed(d.ID(), advertNum, "same_epoch")
	}
	offset += keyBits

	f, err := bloom.NewFromWindow(bloomN, bt2BloomK, data, offset, r.bloomM)
	if err != nil {
		panic(err)
	}
	prefix := r.prefix(advertNum, d.epoch.remoteX)
	r.updateMatching(d.Device, f, prefix, f.PFalse())
	// the filter that delivered the key proves nothing about the secret
	if r.confirm.Type.Has(linkvalue.ConfirmPassive) && !isNew {
		if n := d.ConfirmPassive(f, prefix, r.confirm.Threshold, f.PFalse()); n != 0 {
			r.stats.SharedSecretAdded(d.ID(), true, linkvalue.ConfirmPassive)
		}
	}
	return true
}
