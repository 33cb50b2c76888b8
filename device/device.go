// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package device

import (
	"sync"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/circular"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
)

// Querier is a membership filter, plain and segmented bloom filters both qualify.
type Querier interface {
	Query(prefix []byte, item []byte) bool
}

// Device is what one radio knows about one peer across address rotations.
//
// The matching set starts as the listen set and only shrinks as filter
// evidence arrives. Shared secrets are candidates derived from key
// exchanges, confirmed either directly (active handshake) or by
// accumulating filter evidence (passive). Secrets have their own lock,
// everything else belongs to the discovery loop.
type Device struct {
	id      events.DeviceID
	address address.Address

	matching        []linkvalue.LinkValue
	matchingPFalse  float64
	matchingUpdated bool

	rssi           circular.Buffer[events.RSSIEvent]
	reported       bool
	lastReportTime time.Time
	shakenHands    bool

	mu              sync.Mutex
	secrets         []linkvalue.SharedSecret
	secretsToReport []linkvalue.SharedSecret
	confirmed       bool
}

func New(id events.DeviceID, addr address.Address, listen []linkvalue.LinkValue) *Device {
	d := &Device{
		id:             id,
		address:        addr,
		matching:       make([]linkvalue.LinkValue, 0, len(listen)),
		matchingPFalse: 1,
	}
	for _, v := range listen {
		d.matching = append(d.matching, v.Clone())
	}
	return d
}

func (d *Device) ID() events.DeviceID { return d.id }

func (d *Device) Address() address.Address { return d.address }

func (d *Device) SetAddress(addr address.Address) { d.address = addr }

// Matching returns current matching set, callers must not modify it.
func (d *Device) Matching() []linkvalue.LinkValue { return d.matching }

func (d *Device) MatchingPFalse() float64 { return d.matchingPFalse }

func (d *Device) AddRSSI(now time.Time, rssi int8) {
	d.rssi.PushBack(events.RSSIEvent{Time: now, RSSI: rssi})
}

func (d *Device) SetShakenHands(v bool) { d.shakenHands = v }

func (d *Device) ShakenHands() bool { return d.shakenHands }

// UpdateMatching removes values the filter rejects. pFalseDelta always
// accumulates, the updated flag is raised only if the set shrank.
func (d *Device) UpdateMatching(filter Querier, prefix []byte, pFalseDelta float64) {
	d.FilterMatching(func(v linkvalue.LinkValue) bool {
		return filter.Query(prefix, v)
	}, pFalseDelta)
}

// FilterMatching is UpdateMatching with an arbitrary predicate.
func (d *Device) FilterMatching(keep func(v linkvalue.LinkValue) bool, pFalseDelta float64) {
	before := len(d.matching)
	kept := d.matching[:0]
	for _, v := range d.matching {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	clear(d.matching[len(kept):])
	d.matching = kept
	if len(kept) != before {
		d.matchingUpdated = true
	}
	d.matchingPFalse *= pFalseDelta
}

// AddSharedSecret deduplicates by value. Returns true if the secret was new
// or promoted an existing unconfirmed one.
func (d *Device) AddSharedSecret(s linkvalue.SharedSecret) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.secrets {
		existing := &d.secrets[i]
		if !existing.Value.Equal(s.Value) {
			continue
		}
		if existing.Confirmed || !s.Confirmed {
			return false
		}
		existing.Confirmed = true
		existing.ConfirmedBy = s.ConfirmedBy
		existing.PFalse = s.PFalse
		d.confirmed = true
		d.secretsToReport = append(d.secretsToReport, *existing)
		return true
	}
	d.secrets = append(d.secrets, s)
	if s.Confirmed {
		d.confirmed = true
		d.secretsToReport = append(d.secretsToReport, s)
	}
	return true
}

// ConfirmPassive tests unconfirmed candidates above threshold against filter.
// A hit multiplies pFalse by pFalseDelta and confirms once it falls to
// threshold, a miss resets pFalse to 1. Returns number of newly confirmed.
func (d *Device) ConfirmPassive(filter Querier, prefix []byte, threshold float64, pFalseDelta float64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	confirmed := 0
	for i := range d.secrets {
		s := &d.secrets[i]
		if s.Confirmed || s.PFalse <= threshold {
			continue
		}
		if !filter.Query(prefix, s.Value) {
			s.PFalse = 1
			continue
		}
		s.PFalse *= pFalseDelta
		if s.PFalse <= threshold {
			s.Confirmed = true
			s.ConfirmedBy = linkvalue.ConfirmPassive
			d.confirmed = true
			d.secretsToReport = append(d.secretsToReport, *s)
			confirmed++
		}
	}
	return confirmed
}

// SharedSecrets returns a snapshot.
func (d *Device) SharedSecrets() []linkvalue.SharedSecret {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]linkvalue.SharedSecret(nil), d.secrets...)
}

func (d *Device) IsConfirmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confirmed
}

func (d *Device) flushRSSI() []events.RSSIEvent {
	if d.rssi.Len() == 0 {
		return nil
	}
	result := make([]events.RSSIEvent, 0, d.rssi.Len())
	for d.rssi.Len() != 0 {
		result = append(result, d.rssi.PopFront())
	}
	return result
}

// EncounterInfo reports what changed since the previous report. Nothing is
// reported until the device is confirmed and has gone through a handshake.
// RSSI alone is reported at most once per rssiInterval.
func (d *Device) EncounterInfo(now time.Time, rssiInterval time.Duration) (events.EncounterEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reportRSSI := d.rssi.Len() != 0 && now.Sub(d.lastReportTime) > rssiInterval
	hasNews := len(d.secretsToReport) != 0 || d.matchingUpdated || reportRSSI
	if !d.confirmed || !d.shakenHands || !hasNews {
		return events.EncounterEvent{}, false
	}
	ev := events.EncounterEvent{
		Type:    events.EncounterStarted,
		Time:    now,
		ID:      d.id,
		Address: d.address.String(),
	}
	if d.reported {
		ev.Type = events.EncounterUpdated
	}
	if d.matchingUpdated || !d.reported { // first report always carries the set
		ev.Matching = append([]linkvalue.LinkValue(nil), d.matching...)
		ev.MatchingSetUpdated = true
		d.matchingUpdated = false
	}
	if len(d.secretsToReport) != 0 {
		ev.SharedSecrets = d.secretsToReport
		ev.SharedSecretsUpdated = true
		d.secretsToReport = nil
	}
	ev.RSSIEvents = d.flushRSSI()
	d.reported = true
	d.lastReportTime = now
	return ev, true
}

// ExpiredInfo is the final report, carrying remaining RSSI samples.
func (d *Device) ExpiredInfo(now time.Time) events.EncounterEvent {
	return events.EncounterEvent{
		Type:       events.EncounterEnded,
		Time:       now,
		ID:         d.id,
		Address:    d.address.String(),
		RSSIEvents: d.flushRSSI(),
	}
}
