// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"iter"
	"math/bits"
	"slices"
	"sync"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/bitbuffer"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/intrusive"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/sddrrand"
	"github.com/hrissan/sddr/stats"
)

const (
	bloomN        = 256 // load every advertised filter is padded to
	bloomNPassive = 128 // slots reserved for passive confirmation

	firstDiscoverDelay = 10 * time.Second
	// Hybrid falls back to passive confirmation above this many recent devices
	hybridPassiveAbove = 128
	// handshakes are not started closer than this to the next action
	handshakeBudget = 2 * time.Second
)

// filterAdder is implemented by bloom.Filter and bloom.Segmented.
type filterAdder interface {
	Add(prefix []byte, item []byte)
	AddRandom(rnd sddrrand.Rand, count int)
}

// base is shared by all radio versions. Only the advertised and listen sets
// are accessed concurrently, everything else belongs to the loop goroutine.
type base struct {
	version options.Version
	opts    *options.Options
	rnd     sddrrand.Rand
	stats   stats.Stats
	clock   clock.Clock
	adapter Adapter
	confirm options.ConfirmScheme
	curve   keyexchange.Curve

	setsMu     sync.Mutex
	advertised []linkvalue.LinkValue
	listen     []linkvalue.LinkValue

	recent map[events.DeviceID]*device.Device
	nextID events.DeviceID

	nextDiscover    time.Time
	nextChangeEpoch time.Time
	epoch           int
}

func (b *base) init(opts *options.Options, adapter Adapter) error {
	curve, err := keyexchange.CurveByName(opts.Radio.Curve)
	if err != nil {
		return err
	}
	now := opts.Clock.Now()
	b.version = opts.Radio.Version
	b.opts = opts
	b.rnd = opts.Rnd
	b.stats = opts.Stats
	b.clock = opts.Clock
	b.adapter = adapter
	b.confirm = opts.ConfirmScheme()
	b.curve = curve
	b.recent = map[events.DeviceID]*device.Device{}
	b.nextDiscover = now.Add(firstDiscoverDelay)
	b.nextChangeEpoch = now.Add(opts.Radio.EpochInterval)
	return nil
}

func cloneSet(set []linkvalue.LinkValue) []linkvalue.LinkValue {
	result := make([]linkvalue.LinkValue, 0, len(set))
	for _, v := range set {
		result = append(result, v.Clone())
	}
	return result
}

func (b *base) SetAdvertisedSet(set []linkvalue.LinkValue) {
	set = cloneSet(set)
	b.setsMu.Lock()
	defer b.setsMu.Unlock()
	b.advertised = set
}

func (b *base) SetListenSet(set []linkvalue.LinkValue) {
	set = cloneSet(set)
	b.setsMu.Lock()
	defer b.setsMu.Unlock()
	b.listen = set
}

// sets are replaced as a whole, never modified, so returned slices are safe to keep
func (b *base) advertisedSet() []linkvalue.LinkValue {
	b.setsMu.Lock()
	defer b.setsMu.Unlock()
	return b.advertised
}

func (b *base) listenSet() []linkvalue.LinkValue {
	b.setsMu.Lock()
	defer b.setsMu.Unlock()
	return b.listen
}

func (b *base) newDevice(addr address.Address) *device.Device {
	id := b.nextID
	b.nextID++
	d := device.New(id, addr, b.listenSet())
	b.stats.DeviceDiscovered(id, d.Address())
	return d
}

func (b *base) addRecent(d *device.Device) { b.recent[d.ID()] = d }

func (b *base) removeRecent(id events.DeviceID) { delete(b.recent, id) }

func (b *base) NextAction(now time.Time) ActionInfo {
	next := ActionInfo{Action: ActionDiscover}
	at := b.nextDiscover
	if b.nextChangeEpoch.Before(b.nextDiscover) {
		next.Action = ActionChangeEpoch
		at = b.nextChangeEpoch
	}
	next.Wait = max(at.Sub(now), 0)
	return next
}

func (b *base) timeUntilNextAction() time.Duration {
	return b.NextAction(b.clock.Now()).Wait
}

// scheduleDiscover moves the next discovery by interval ± jitter.
func (b *base) scheduleDiscover(interval time.Duration, jitter time.Duration) {
	offset := time.Duration(0)
	if jitter > 0 {
		ms := int(jitter / time.Millisecond)
		offset = time.Duration(sddrrand.Between(b.rnd, -ms, ms)) * time.Millisecond
	}
	b.nextDiscover = b.nextDiscover.Add(interval + offset)
}

func (b *base) scheduleEpoch() {
	b.nextChangeEpoch = b.nextChangeEpoch.Add(b.opts.Radio.EpochInterval)
	b.epoch++
}

func (b *base) handshakeScheme() linkvalue.Confirm {
	if b.confirm.Type != linkvalue.ConfirmHybrid {
		return b.confirm.Type
	}
	if len(b.recent) > hybridPassiveAbove {
		return linkvalue.ConfirmPassive
	}
	return linkvalue.ConfirmActive
}

func (b *base) DeviceEvent(id events.DeviceID, now time.Time, rssiInterval time.Duration) (events.EncounterEvent, bool) {
	d, ok := b.recent[id]
	if !ok {
		return events.EncounterEvent{}, false
	}
	return d.EncounterInfo(now, rssiInterval)
}

// forget produces the final event of a device, the caller removes it from
// its own device map. Devices dropped by the no-memory scheme are still
// recent, so they get their final event too.
func (b *base) forget(id events.DeviceID, now time.Time) (events.EncounterEvent, bool) {
	d, ok := b.recent[id]
	if !ok {
		return events.EncounterEvent{}, false
	}
	b.removeRecent(id)
	b.stats.DeviceRemoved(id)
	return d.ExpiredInfo(now), true
}

type trackedDevice interface {
	device.Tracked
	ShakenHands() bool
	IsConfirmed() bool
}

// encountered lists devices that have shaken hands and are confirmed, sorted.
func encountered[D trackedDevice](all iter.Seq[D]) []events.DeviceID {
	var result []events.DeviceID
	for d := range all {
		if d.ShakenHands() && d.IsConfirmed() {
			result = append(result, d.ID())
		}
	}
	slices.Sort(result)
	return result
}

func (b *base) addSecret(d *device.Device, s linkvalue.SharedSecret) {
	if d.AddSharedSecret(s) {
		b.stats.SharedSecretAdded(d.ID(), s.Confirmed, s.ConfirmedBy)
	}
}

// deriveSecret adds the secret of a passive exchange, confirmed right away
// only when no confirmation is required.
func (b *base) deriveSecret(d *device.Device, local *keyexchange.Exchange, remoteX []byte, remoteY byte) {
	v, err := local.SharedSecret(remoteX, remoteY)
	if err != nil {
		b.stats.Handshake("derive", d.Address(), err)
		return
	}
	b.addSecret(d, linkvalue.NewSharedSecret(v, b.confirm.Type == linkvalue.ConfirmNone))
}

func (b *base) updateMatching(d *device.Device, filter device.Querier, prefix []byte, pFalseDelta float64) {
	before := len(d.Matching())
	d.UpdateMatching(filter, prefix, pFalseDelta)
	if len(d.Matching()) != before {
		b.stats.MatchingUpdated(d.ID(), len(d.Matching()), d.MatchingPFalse())
	}
}

type passiveCandidate struct {
	pFalse    float64
	value     linkvalue.LinkValue
	heapIndex int
}

// passiveSecrets selects up to limit unconfirmed-or-passive secrets of recent
// devices with the lowest pFalse. Actively confirmed secrets need no help.
func (b *base) passiveSecrets(limit int) []linkvalue.LinkValue {
	heap := intrusive.NewBounded[passiveCandidate](func(a, b *passiveCandidate) bool {
		return a.pFalse > b.pFalse
	}, limit)
	ids := make([]events.DeviceID, 0, len(b.recent))
	for id := range b.recent {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		for _, s := range b.recent[id].SharedSecrets() {
			if s.ConfirmedBy == linkvalue.ConfirmActive {
				continue
			}
			c := &passiveCandidate{pFalse: s.PFalse, value: s.Value}
			heap.Offer(c, &c.heapIndex)
		}
	}
	drained := heap.Drain()
	result := make([]linkvalue.LinkValue, 0, len(drained))
	for _, c := range slices.Backward(drained) {
		result = append(result, c.value)
	}
	return result
}

// fillBloomFilter inserts advertised values, then (when includePassive)
// the best passive secrets, then random entries so every filter carries
// the same load.
func (b *base) fillBloomFilter(f filterAdder, prefix []byte, includePassive bool) {
	passive := b.confirm.Type.Has(linkvalue.ConfirmPassive)
	maxAdvert := bloomN
	if passive {
		maxAdvert = bloomN - bloomNPassive
	}
	numAdvert := 0
	for _, v := range b.advertisedSet() {
		if numAdvert == maxAdvert {
			break
		}
		f.Add(prefix, v)
		numAdvert++
	}
	numRandom := maxAdvert - numAdvert
	if includePassive && passive {
		secrets := b.passiveSecrets(bloomNPassive)
		for _, v := range secrets {
			f.Add(prefix, v)
		}
		numRandom += bloomNPassive - len(secrets)
	}
	f.AddRandom(b.rnd, numRandom)
}

// bitLen is the number of bits needed to store advert numbers below n.
func bitLen(n int) int { return bits.Len(uint(n)) }

// prefixFor is number (width bits, low bit first) followed by publicX.
func prefixFor(number int, width int, publicX []byte, keyBits int) []byte {
	p := bitbuffer.New(width + keyBits)
	p.PutUint(0, width, uint64(number))
	p.CopyFrom(publicX, 0, width, keyBits)
	return p.Bytes()
}
