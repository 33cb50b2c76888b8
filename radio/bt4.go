// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/bloom"
	"github.com/hrissan/sddr/circular"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/erasure"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/sddrerrors"
)

const (
	bt4AdvertBytes  = 31
	bt4ScanInterval = 13500 * time.Millisecond
	bt4ScanJitter   = time.Second
	bt4ScanWindow   = 1500 * time.Millisecond
	bt4BloomK       = 1
	bt4BloomB       = 2 // adverts per segmented filter

	bt4ActiveBloomM = 1108
	bt4ActiveBloomK = 3

	bt4ConnectTimeout = 2 * time.Second
	bt4IOTimeout      = time.Second

	// advert and scan response both arrive every scan, so the same-epoch
	// window is counted in half scan intervals
	bt4SameEpochSlack = 6
)

type bt4Bloom struct {
	num    int
	filter *bloom.Segmented
}

type bt4Epoch struct {
	lastAdvertNum  int
	lastAdvertTime time.Time

	decoder *erasure.Decoder
	// local keys to combine with the remote key once it is decoded
	exchanges []*keyexchange.Exchange
	remoteY   byte

	blooms         []bt4Bloom
	decodeBloomNum int
}

type bt4Device struct {
	*device.Device
	// holds at most 3 between pushEpoch and processEpochs, the length must be a power of two
	epochStorage [4]bt4Epoch
	epochs       circular.BufferExt[bt4Epoch]
}

func (d *bt4Device) pushEpoch(e bt4Epoch) *bt4Epoch {
	if d.epochs.Full(d.epochStorage[:]) {
		d.epochs.PopFront(d.epochStorage[:])
	}
	d.epochs.PushBack(d.epochStorage[:], e)
	return d.epochs.BackRef(d.epochStorage[:])
}

// BT4 sends its key as erasure coded symbols, one per 31-byte advert (and
// one per scan response), each advert also carrying one segment of a
// filter over the advertised link values. Any K consecutive adverts,
// even across an epoch change, decode the key.
type BT4 struct {
	base

	advertN     int // distinct adverts per epoch
	numBits     int // bits of advert number
	symbolW     int
	codeK       int
	codeM       int
	segmentBits int

	matrix      *erasure.Matrix
	encoder     *erasure.Encoder
	prevSymbols []byte
	exchange    *keyexchange.Exchange

	advertNum      int
	advertBloom    *bloom.Segmented
	advertBloomNum int

	devices          *device.Map[*bt4Device]
	allowConnections bool

	snapshot      atomic.Pointer[handshakeSnapshot]
	listenResults chan listenResult
	listener      *listenLoop
}

var _ Radio = (*BT4)(nil)

func NewBT4(opts *options.Options, adapter Adapter) (*BT4, error) {
	r := &BT4{}
	if err := r.init(opts, adapter); err != nil {
		return nil, err
	}
	keyBits := r.curve.KeyBits()
	scans := int((opts.Radio.EpochInterval + bt4ScanInterval - 1) / bt4ScanInterval)
	r.advertN = 2 * scans
	r.numBits = bitLen(r.advertN)
	advertBits := bt4AdvertBytes*8 - 1 - r.numBits
	r.symbolW = erasure.SymbolSize(keyBits, advertBits)
	r.codeK = r.curve.KeyBytes() / r.symbolW
	r.codeM = r.advertN - r.codeK
	r.segmentBits = advertBits - 8*r.symbolW
	if r.codeM < 0 || r.segmentBits-8*r.symbolW <= 0 {
		return nil, fmt.Errorf("%w: key of %d bits does not fit adverts", sddrerrors.ErrSegmentsMismatch, keyBits)
	}
	var err error
	if r.matrix, err = erasure.NewMatrix(r.codeK, r.codeM+2*(r.codeK-1), r.symbolW); err != nil {
		return nil, err
	}
	r.encoder = erasure.NewEncoder(r.matrix)
	r.prevSymbols = make([]byte, (r.codeK-1)*r.symbolW)
	if r.exchange, err = r.curve.Generate(r.rnd); err != nil {
		return nil, err
	}
	r.encoder.Encode(r.exchange.PublicX())
	r.advertBloomNum = -1
	r.devices = device.NewMap[*bt4Device]()
	r.allowConnections = true
	r.listenResults = make(chan listenResult, listenBacklog)
	return r, nil
}

func (r *BT4) Initialize(ctx context.Context) error {
	addr := address.GenerateWithPartial(r.rnd, r.exchange.PublicY()<<5, address.YMask)
	if err := r.adapter.SetAddress(addr); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	r.changeAdvert()
	r.stats.RadioStarted(r.version.FullName(), addr)
	if r.confirm.Type.Has(linkvalue.ConfirmActive) {
		r.listener = startListener(ctx, r.stats, r.adapter, r.serveHandshake)
	}
	return nil
}

func (r *BT4) Close() error {
	r.listener.stop()
	r.listener = nil
	return nil
}

func (r *BT4) Discover(ctx context.Context) ([]events.DiscoverEvent, error) {
	if r.opts.Radio.Memory == options.MemoryNone {
		r.devices.Clear()
	}
	r.changeAdvert()
	var discovered []events.DiscoverEvent
	err := r.adapter.Scan(ctx, bt4ScanWindow, func(res ScanResult) {
		r.processScanResult(&discovered, res)
	})
	if err != nil {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}
		r.stats.MediumError("scan", err)
	}
	r.scheduleDiscover(bt4ScanInterval, bt4ScanJitter)
	return discovered, nil
}

func (r *BT4) ChangeEpoch(ctx context.Context) error {
	exchange, err := r.curve.Generate(r.rnd)
	if err != nil {
		return err
	}
	r.advertNum = 0
	w := r.symbolW
	for k := 0; k < r.codeK-1; k++ {
		copy(r.prevSymbols[k*w:], r.encoder.Symbol(r.codeK+r.codeM+k))
	}
	r.exchange = exchange
	r.encoder.Encode(exchange.PublicX())

	addr := r.adapter.Address().ShiftWithPartial(r.rnd, exchange.PublicY()<<5, address.YMask)
	if err := r.adapter.SetAddress(addr); err != nil {
		r.stats.MediumError("set_address", err)
	}
	if r.confirm.Type.Has(linkvalue.ConfirmPassive) {
		for d := range r.devices.All() {
			if d.epochs.Len() == 0 {
				continue
			}
			e := d.epochs.BackRef(d.epochStorage[:])
			if e.decoder.IsDecoded() {
				remoteX, _ := e.decoder.Decode()
				r.deriveSecret(d.Device, exchange, remoteX, e.remoteY)
			} else {
				e.exchanges = append(e.exchanges, exchange)
			}
		}
	}
	r.publishHandshake()
	r.scheduleEpoch()
	r.stats.EpochChanged(addr, r.epoch)
	return nil
}

func (r *BT4) Handshake(ctx context.Context, ids []events.DeviceID) ([]events.DeviceID, error) {
	r.drainListenResults()

	for _, id := range ids {
		d, ok := r.devices.GetByID(id)
		if !ok {
			continue
		}
		if !d.IsConfirmed() && r.handshakeScheme() == linkvalue.ConfirmActive {
			if r.timeUntilNextAction() < handshakeBudget {
				break
			}
			r.allowConnections = false
			r.setConnectable()
			r.connectHandshake(ctx, d)
			r.allowConnections = true
			r.setConnectable()
		}
		d.SetShakenHands(true)
	}
	return encountered(r.devices.All()), ctx.Err()
}

func (r *BT4) DoneWithDevice(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	r.devices.RemoveByID(id)
	return r.forget(id, now)
}

// advertConnectable is whether peers may connect for an active handshake.
func (r *BT4) advertConnectable() bool {
	switch r.confirm.Type {
	case linkvalue.ConfirmActive:
		return r.allowConnections
	case linkvalue.ConfirmHybrid:
		return r.allowConnections && !r.handshakeScheme().Has(linkvalue.ConfirmPassive)
	}
	return false
}

func (r *BT4) setConnectable() {
	if err := r.adapter.SetConnectable(r.advertConnectable()); err != nil {
		r.stats.MediumError("set_connectable", err)
	}
}

func (r *BT4) newAdvertBloom(bloomNum int, allOnes bool) *bloom.Segmented {
	sizes := make([]int, bt4BloomB)
	for i := range sizes {
		sizes[i] = r.segmentBits
		if bloomNum*bt4BloomB+i < r.codeK-1 {
			sizes[i] -= 8 * r.symbolW // room for the previous epoch symbol
		}
	}
	f, err := bloom.NewSegmentedSizes(bloomN, bt4BloomK, sizes, allOnes)
	if err != nil {
		panic(fmt.Sprintf("segment sizes checked at construction: %v", err))
	}
	return f
}

func (r *BT4) generateAdvert(advertNum int) []byte {
	w := r.symbolW
	advert := bitbuffer.New(bt4AdvertBytes * 8)
	offset := 1 // version bit, always 0 for mobile nodes
	advert.PutUint(offset, r.numBits, uint64(advertNum))
	offset += r.numBits
	advert.CopyFrom(r.encoder.Symbol(advertNum), 0, offset, 8*w)
	offset += 8 * w
	if advertNum < r.codeK-1 {
		advert.CopyFrom(r.prevSymbols[advertNum*w:], 0, offset, 8*w)
		offset += 8 * w
	}
	bloomNum := advertNum / bt4BloomB
	if advertNum%bt4BloomB == 0 || bloomNum != r.advertBloomNum {
		r.advertBloom = r.newAdvertBloom(bloomNum, false)
		prefix := prefixFor(bloomNum, r.numBits, r.exchange.PublicX(), r.curve.KeyBits())
		r.fillBloomFilter(r.advertBloom, prefix, true)
		r.advertBloomNum = bloomNum
	}
	r.advertBloom.GetSegment(advertNum%bt4BloomB, advert.Bytes(), offset)
	return advert.Bytes()
}

func (r *BT4) changeAdvert() {
	r.publishHandshake()
	if r.advertNum >= r.advertN {
		return // last unique advert repeats until the epoch changes
	}
	if err := r.adapter.SetAdvert(r.generateAdvert(r.advertNum)); err != nil {
		r.stats.MediumError("set_advert", err)
	}
	r.advertNum++
	if err := r.adapter.SetScanResponse(r.generateAdvert(r.advertNum)); err != nil {
		r.stats.MediumError("set_scan_response", err)
	}
	r.advertNum++
	r.setConnectable()
}

func (r *BT4) deviceFor(addr address.Address) *bt4Device {
	d, ok := r.devices.Get(addr)
	if !ok {
		d = &bt4Device{Device: r.newDevice(addr)}
		r.devices.Add(d)
	}
	r.addRecent(d.Device)
	return d
}

func (r *BT4) processScanResult(discovered *[]events.DiscoverEvent, res ScanResult) {
	now := r.clock.Now()
	if !res.Address.VerifyChecksum() {
		r.stats.AdvertRejected("advert", res.Address, sddrerrors.WarnAdvertChecksum)
		return
	}
	if len(res.Data) != bt4AdvertBytes {
		r.stats.AdvertRejected("advert", res.Address, sddrerrors.WarnAdvertLength)
		return
	}
	d := r.deviceFor(res.Address)
	d.AddRSSI(now, res.RSSI)
	*discovered = append(*discovered, events.DiscoverEvent{Time: now, ID: d.ID(), RSSI: res.RSSI})
	r.processAdvert(d, now, res.Data)
	r.processEpochs(d)
}

func (r *BT4) processAdvert(d *bt4Device, now time.Time, data []byte) bool {
	w := r.symbolW
	advert := bitbuffer.FromBytes(bt4AdvertBytes*8, data)
	offset := 1 // version bit ignored
	advertNum := int(advert.Uint(offset, r.numBits))
	offset += r.numBits
	if advertNum >= r.codeK+r.codeM {
		r.stats.AdvertRejected("advert", d.Address(), sddrerrors.WarnAdvertNumber)
		return false
	}

	var cur *bt4Epoch
	isNew := true
	if d.epochs.Len() != 0 {
		cur = d.epochs.BackRef(d.epochStorage[:])
		elapsed := now.Sub(cur.lastAdvertTime)
		switch {
		case cur.lastAdvertNum == advertNum || cur.lastAdvertNum == advertNum+1:
			if elapsed < time.Duration(r.advertN/2)*bt4ScanInterval {
				r.stats.AdvertProcessed(d.ID(), advertNum, "duplicate")
				return false
			}
		case cur.lastAdvertNum < advertNum:
			slack := advertNum - cur.lastAdvertNum + bt4SameEpochSlack
			if elapsed < time.Duration(slack)*bt4ScanInterval/2 {
				isNew = false
			}
		}
	}
	if isNew {
		cur = d.pushEpoch(bt4Epoch{
			lastAdvertNum:  advertNum,
			lastAdvertTime: now,
			decoder:        erasure.NewDecoder(r.matrix),
			exchanges:      []*keyexchange.Exchange{r.exchange},
			remoteY:        d.Address().Y(),
			decodeBloomNum: -1,
		})
		r.stats.AdvertProcessed(d.ID(), advertNum, "new_epoch")
	} else {
		r.stats.AdvertProcessed(d.ID(), advertNum, "same_epoch")
	}
	var prev *bt4Epoch // the epoch before cur, if still tracked
	if n := d.epochs.Len(); n > 1 {
		prev = d.epochs.IndexRef(d.epochStorage[:], n-2)
	}

	symbol := make([]byte, w)
	advert.CopyTo(symbol, 0, offset, 8*w)
	cur.decoder.SetSymbol(advertNum, symbol)
	offset += 8 * w
	if advertNum < r.codeK-1 {
		if prev != nil && !prev.decoder.IsDecoded() {
			advert.CopyTo(symbol, 0, offset, 8*w)
			prev.decoder.SetSymbol(advertNum+r.codeK+r.codeM, symbol)
		}
		offset += 8 * w
	}

	bloomNum := advertNum / bt4BloomB
	if len(cur.blooms) == 0 || cur.blooms[len(cur.blooms)-1].num != bloomNum {
		cur.blooms = append(cur.blooms, bt4Bloom{num: bloomNum, filter: r.newAdvertBloom(bloomNum, true)})
	}
	cur.blooms[len(cur.blooms)-1].filter.SetSegment(advertNum%bt4BloomB, advert.Bytes(), offset)
	return true
}

func (r *BT4) processEpochs(d *bt4Device) {
	storage := d.epochStorage[:]
	for i := 0; i < d.epochs.Len(); {
		e := d.epochs.IndexRef(storage, i)
		if !e.decoder.IsDecoded() && e.decoder.CanDecode() {
			if remoteX, ok := e.decoder.Decode(); ok {
				r.stats.EpochDecoded(d.ID(), e.decoder.NumReceived())
				if len(e.blooms) != 0 {
					e.decodeBloomNum = e.blooms[len(e.blooms)-1].num
				}
				if !r.confirm.Type.Has(linkvalue.ConfirmActive) {
					for _, local := range e.exchanges {
						r.deriveSecret(d.Device, local, remoteX, e.remoteY)
					}
				}
				e.exchanges = nil
			}
		}
		if e.decoder.IsDecoded() && len(e.blooms) != 0 {
			remoteX, _ := e.decoder.Decode()
			r.evaluateBlooms(d, e, remoteX)
		}
		last := i == d.epochs.Len()-1
		if !last && (e.decoder.IsDecoded() || d.epochs.Len() > 2) {
			d.epochs.RemoveAt(storage, i)
			continue
		}
		i++
	}
}

// evaluateBlooms applies evidence gathered since the previous evaluation,
// then drops filters that can no longer change.
func (r *BT4) evaluateBlooms(d *bt4Device, e *bt4Epoch, remoteX []byte) {
	lastNum := e.blooms[len(e.blooms)-1].num
	kept := e.blooms[:0]
	for _, bl := range e.blooms {
		if bl.filter.PFalse() != 1 {
			prefix := prefixFor(bl.num, r.numBits, remoteX, r.curve.KeyBits())
			delta := bl.filter.ResetPFalse()
			r.updateMatching(d.Device, bl.filter, prefix, delta)
			if r.confirm.Type.Has(linkvalue.ConfirmPassive) && bl.num > e.decodeBloomNum {
				if n := d.ConfirmPassive(bl.filter, prefix, r.confirm.Threshold, delta); n != 0 {
					r.stats.SharedSecretAdded(d.ID(), true, linkvalue.ConfirmPassive)
				}
			}
		}
		if bl.num == lastNum && !bl.filter.IsFilled(bt4BloomB-1) {
			kept = append(kept, bl)
		}
	}
	clear(e.blooms[len(kept):])
	e.blooms = kept
}

func (r *BT4) activeMessageSize() int {
	return r.curve.CompressedSize() + (bt4ActiveBloomM+7)/8
}

// publishHandshake rebuilds the message the listener answers with.
func (r *BT4) publishHandshake() {
	if !r.confirm.Type.Has(linkvalue.ConfirmActive) {
		return
	}
	r.snapshot.Store(&handshakeSnapshot{local: r.exchange, message: r.activeMessage(r.exchange)})
}

// activeMessage is the full compressed key followed by a filter keyed by it.
// Passive secrets are never included, the peer confirms directly.
func (r *BT4) activeMessage(local *keyexchange.Exchange) []byte {
	f, err := bloom.New(bloomN, bt4ActiveBloomM, bt4ActiveBloomK)
	if err != nil {
		panic(err)
	}
	r.fillBloomFilter(f, local.Compressed(), false)
	message := make([]byte, 0, r.activeMessageSize())
	message = append(message, local.Compressed()...)
	return append(message, f.Bytes()...)
}

func (r *BT4) processActiveHandshake(message []byte, d *bt4Device, local *keyexchange.Exchange) {
	if len(message) != r.activeMessageSize() {
		r.stats.Handshake("active", d.Address(), sddrerrors.WarnHandshakeLength)
		return
	}
	remote := message[:r.curve.CompressedSize()]
	if v, err := local.SharedSecretCompressed(remote); err != nil {
		r.stats.Handshake("active", d.Address(), err)
	} else {
		r.addSecret(d.Device, linkvalue.NewConfirmedSecret(v, linkvalue.ConfirmActive))
	}
	f, err := bloom.NewFromBytes(bloomN, bt4ActiveBloomM, bt4ActiveBloomK, message[len(remote):])
	if err != nil {
		panic(err)
	}
	r.updateMatching(d.Device, f, remote, f.PFalse())
}

func (r *BT4) connectHandshake(ctx context.Context, d *bt4Device) {
	conn, err := r.adapter.Connect(ctx, d.Address(), bt4ConnectTimeout)
	if err != nil {
		r.stats.Handshake("connect", d.Address(), err)
		return
	}
	defer func() { _ = conn.Close() }()
	snap := r.snapshot.Load()
	if err := conn.Send(snap.message, bt4IOTimeout); err != nil {
		r.stats.Handshake("connect", d.Address(), err)
		return
	}
	remote := make([]byte, len(snap.message))
	if err := conn.Recv(remote, bt4IOTimeout); err != nil {
		r.stats.Handshake("connect", d.Address(), err)
		return
	}
	if allZero(remote) {
		r.stats.Handshake("connect", d.Address(), sddrerrors.WarnHandshakeAllZero)
		return
	}
	r.processActiveHandshake(remote, d, snap.local)
	r.stats.Handshake("connect", d.Address(), nil)
}

// serveHandshake runs on the listener goroutine.
func (r *BT4) serveHandshake(ctx context.Context, conn Conn) {
	addr := conn.RemoteAddress()
	if !addr.VerifyChecksum() {
		r.stats.Handshake("accept", addr, sddrerrors.WarnAdvertChecksum)
		return
	}
	snap := r.snapshot.Load()
	remote := make([]byte, len(snap.message))
	if err := conn.Recv(remote, bt4IOTimeout); err != nil {
		r.stats.Handshake("accept", addr, err)
		return
	}
	if allZero(remote) {
		r.stats.Handshake("accept", addr, sddrerrors.WarnHandshakeAllZero)
		return
	}
	if err := conn.Send(snap.message, bt4IOTimeout); err != nil {
		r.stats.Handshake("accept", addr, err)
		return
	}
	select {
	case r.listenResults <- listenResult{addr: addr, message: remote, local: snap.local}:
		r.stats.Handshake("accept", addr, nil)
	default:
		r.stats.Handshake("accept", addr, errListenBacklog)
	}
	conn.WaitClose(bt4IOTimeout)
}

func (r *BT4) drainListenResults() {
	for {
		select {
		case res := <-r.listenResults:
			d := r.deviceFor(res.addr)
			r.processActiveHandshake(res.message, d, res.local)
			d.SetShakenHands(true)
		default:
			return
		}
	}
}
