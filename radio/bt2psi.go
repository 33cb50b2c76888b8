// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/sddrerrors"
)

const (
	bt2psiConnectTimeout = 5 * time.Second
	bt2psiIOTimeout      = 30 * time.Second
)

// BT2PSI discovers with plain inquiry, then connects to every device to
// exchange keys and run private set intersection in both directions.
type BT2PSI struct {
	base

	psi      PSI
	exchange *keyexchange.Exchange
	// read by the listener
	current atomic.Pointer[keyexchange.Exchange]

	devices *device.Map[*device.Device]

	// addresses handshaken with during the current discovery cycle, in
	// either direction
	sessionsMu sync.Mutex
	sessions   map[address.Address]struct{}

	listenResults chan listenResult
	listener      *listenLoop
}

var _ Radio = (*BT2PSI)(nil)

// NewBT2PSI uses NopPSI when psi is nil.
func NewBT2PSI(opts *options.Options, adapter Adapter, psi PSI) (*BT2PSI, error) {
	r := &BT2PSI{psi: psi}
	if r.psi == nil {
		r.psi = NopPSI{}
	}
	if err := r.init(opts, adapter); err != nil {
		return nil, err
	}
	var err error
	if r.exchange, err = r.curve.Generate(r.rnd); err != nil {
		return nil, err
	}
	r.current.Store(r.exchange)
	r.devices = device.NewMap[*device.Device]()
	r.sessions = map[address.Address]struct{}{}
	r.listenResults = make(chan listenResult, listenBacklog)
	return r, nil
}

func (r *BT2PSI) Initialize(ctx context.Context) error {
	addr := address.Generate(r.rnd)
	if err := r.adapter.SetAddress(addr); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	if err := r.adapter.SetConnectable(true); err != nil {
		r.stats.MediumError("set_connectable", err)
	}
	r.listener = startListener(ctx, r.stats, r.adapter, r.serveHandshake)
	r.stats.RadioStarted(r.version.FullName(), addr)
	return nil
}

func (r *BT2PSI) Close() error {
	r.listener.stop()
	return nil
}

func (r *BT2PSI) Discover(ctx context.Context) ([]events.DiscoverEvent, error) {
	if r.opts.Radio.Memory == options.MemoryNone {
		r.devices.Clear()
	}
	r.sessionsMu.Lock()
	clear(r.sessions)
	r.sessionsMu.Unlock()

	var discovered []events.DiscoverEvent
	err := r.adapter.Inquiry(ctx, bt2InquiryPeriods, func(res ScanResult) {
		now := r.clock.Now()
		if !res.Address.VerifyChecksum() {
			r.stats.AdvertRejected("eir", res.Address, sddrerrors.WarnAdvertChecksum)
			return
		}
		d := r.deviceFor(res.Address)
		d.AddRSSI(now, res.RSSI)
		discovered = append(discovered, events.DiscoverEvent{Time: now, ID: d.ID(), RSSI: res.RSSI})
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

func (r *BT2PSI) ChangeEpoch(ctx context.Context) error {
	exchange, err := r.curve.Generate(r.rnd)
	if err != nil {
		return err
	}
	r.exchange = exchange
	r.current.Store(exchange)
	addr := r.adapter.Address().Shift(r.rnd)
	if err := r.adapter.SetAddress(addr); err != nil {
		r.stats.MediumError("set_address", err)
	}
	r.scheduleEpoch()
	r.stats.EpochChanged(addr, r.epoch)
	return nil
}

func (r *BT2PSI) Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error) {
	r.drainListenResults()

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d, ok := r.devices.GetByID(id)
		if !ok {
			continue
		}
		if !d.IsConfirmed() && r.handshakeScheme() == linkvalue.ConfirmActive {
			if r.timeUntilNextAction() < handshakeBudget {
				break
			}
			if r.startSession(d.Address()) {
				r.connectHandshake(ctx, d)
			}
		}
		d.SetShakenHands(true)
	}
	return encountered(r.devices.All()), nil
}

func (r *BT2PSI) DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	r.devices.RemoveByID(id)
	return r.forget(id, now)
}

func (r *BT2PSI) deviceFor(addr address.Address) *device.Device {
	d, ok := r.devices.Get(addr)
	if !ok {
		d = r.newDevice(addr)
		r.devices.Add(d)
	}
	r.addRecent(d)
	return d
}

// startSession returns false if addr was already handshaken with since
// the last discovery.
func (r *BT2PSI) startSession(addr address.Address) bool {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	if _, ok := r.sessions[addr]; ok {
		return false
	}
	r.sessions[addr] = struct{}{}
	return true
}

// exchangeKeys sends our compressed key first when initiator.
func (r *BT2PSI) exchangeKeys(conn Conn, local *keyexchange.Exchange, initiator bool) ([]byte, error) {
	remote := make([]byte, r.curve.CompressedSize())
	if initiator {
		if err := conn.Send(local.Compressed(), bt2psiIOTimeout); err != nil {
			return nil, err
		}
		return remote, conn.Recv(remote, bt2psiIOTimeout)
	}
	if err := conn.Recv(remote, bt2psiIOTimeout); err != nil {
		return nil, err
	}
	return remote, conn.Send(local.Compressed(), bt2psiIOTimeout)
}

func (r *BT2PSI) connectHandshake(ctx context.Context, d *device.Device) {
	conn, err := r.adapter.Connect(ctx, d.Address(), bt2psiConnectTimeout)
	if err != nil {
		r.stats.Handshake("connect", d.Address(), err)
		return
	}
	defer func() { _ = conn.Close() }()
	local := r.exchange
	remote, err := r.exchangeKeys(conn, local, true)
	if err != nil {
		r.stats.Handshake("connect", d.Address(), err)
		return
	}
	r.addActiveSecret(d, local, remote)
	r.stats.Handshake("connect", d.Address(), nil)

	intersection, known, err := r.psi.Client(ctx, conn, r.listenSet())
	if err == nil {
		err = r.psi.Server(ctx, conn, r.advertisedSet())
	}
	r.stats.Handshake("psi", d.Address(), err)
	if err != nil {
		return
	}
	if known {
		r.restrictMatching(d, intersection)
	}
	conn.WaitClose(bt2psiIOTimeout)
}

func (r *BT2PSI) addActiveSecret(d *device.Device, local *keyexchange.Exchange, remote []byte) {
	v, err := local.SharedSecretCompressed(remote)
	if err != nil {
		r.stats.Handshake("active", d.Address(), err)
		return
	}
	r.addSecret(d, linkvalue.NewConfirmedSecret(v, linkvalue.ConfirmActive))
}

// restrictMatching keeps only the intersection, which is exact.
func (r *BT2PSI) restrictMatching(d *device.Device, intersection []linkvalue.LinkValue) {
	before := len(d.Matching())
	d.FilterMatching(func(v linkvalue.LinkValue) bool {
		return linkvalue.Contains(intersection, v)
	}, 0)
	if len(d.Matching()) != before {
		r.stats.MatchingUpdated(d.ID(), len(d.Matching()), d.MatchingPFalse())
	}
}

// serveHandshake runs on the listener goroutine, roles are mirrored.
func (r *BT2PSI) serveHandshake(ctx context.Context, conn Conn) {
	addr := conn.RemoteAddress()
	r.sessionsMu.Lock()
	r.sessions[addr] = struct{}{}
	r.sessionsMu.Unlock()

	local := r.current.Load()
	remote, err := r.exchangeKeys(conn, local, false)
	if err != nil {
		r.stats.Handshake("accept", addr, err)
		return
	}
	res := listenResult{addr: addr, message: remote, local: local}
	err = r.psi.Server(ctx, conn, r.advertisedSet())
	if err == nil {
		res.intersection, res.psiDone, err = r.psi.Client(ctx, conn, r.listenSet())
	}
	r.stats.Handshake("psi", addr, err)
	if err != nil {
		res.psiDone = false
	}
	select {
	case r.listenResults <- res:
		r.stats.Handshake("accept", addr, nil)
	default:
		r.stats.Handshake("accept", addr, errListenBacklog)
	}
}

func (r *BT2PSI) drainListenResults() {
	for {
		select {
		case res := <-r.listenResults:
			d := r.deviceFor(res.addr)
			r.addActiveSecret(d, res.local, res.message)
			if res.psiDone {
				r.restrictMatching(d, res.intersection)
			}
			d.SetShakenHands(true)
		default:
			return
		}
	}
}
