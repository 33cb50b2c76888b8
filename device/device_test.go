// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package device_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/device"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/sddrrand"
)

// acceptFilter matches values starting with one of the allowed bytes.
type acceptFilter struct {
	allowed []byte
}

func (f acceptFilter) Query(prefix []byte, item []byte) bool {
	return len(item) != 0 && bytes.IndexByte(f.allowed, item[0]) >= 0
}

func values(first ...byte) []linkvalue.LinkValue {
	var result []linkvalue.LinkValue
	for _, b := range first {
		result = append(result, linkvalue.LinkValue{b, 0xAA})
	}
	return result
}

func TestUpdateMatchingMonotone(t *testing.T) {
	d := device.New(1, address.Address{}, values(1, 2, 3, 4))
	d.UpdateMatching(acceptFilter{allowed: []byte{1, 2, 3, 4}}, nil, 0.5)
	require.Len(t, d.Matching(), 4)
	require.Equal(t, 0.5, d.MatchingPFalse())

	d.UpdateMatching(acceptFilter{allowed: []byte{1, 3}}, nil, 0.5)
	require.Equal(t, values(1, 3), d.Matching())

	// a permissive filter never brings values back
	d.UpdateMatching(acceptFilter{allowed: []byte{1, 2, 3, 4}}, nil, 0.5)
	require.Equal(t, values(1, 3), d.Matching())
	require.Equal(t, 0.125, d.MatchingPFalse())
}

func TestAddSharedSecretPromotes(t *testing.T) {
	d := device.New(1, address.Address{}, nil)
	v := linkvalue.LinkValue{9}
	require.True(t, d.AddSharedSecret(linkvalue.NewSharedSecret(v, false)))
	require.False(t, d.IsConfirmed())
	require.False(t, d.AddSharedSecret(linkvalue.NewSharedSecret(v, false)))

	require.True(t, d.AddSharedSecret(linkvalue.NewConfirmedSecret(v, linkvalue.ConfirmActive)))
	require.True(t, d.IsConfirmed())
	secrets := d.SharedSecrets()
	require.Len(t, secrets, 1)
	require.True(t, secrets[0].Confirmed)
	require.Equal(t, linkvalue.ConfirmActive, secrets[0].ConfirmedBy)
	require.False(t, d.AddSharedSecret(linkvalue.NewConfirmedSecret(v, linkvalue.ConfirmActive)))
}

func TestConfirmPassive(t *testing.T) {
	d := device.New(1, address.Address{}, nil)
	hit := linkvalue.LinkValue{1}
	miss := linkvalue.LinkValue{2}
	d.AddSharedSecret(linkvalue.NewSharedSecret(hit, false))
	d.AddSharedSecret(linkvalue.NewSharedSecret(miss, false))
	filter := acceptFilter{allowed: []byte{1}}

	require.Equal(t, 0, d.ConfirmPassive(filter, nil, 0.05, 0.3))
	require.Equal(t, 1, d.ConfirmPassive(filter, nil, 0.05, 0.1)) // 0.3*0.1 <= 0.05
	require.True(t, d.IsConfirmed())

	secrets := d.SharedSecrets()
	require.True(t, secrets[0].Confirmed)
	require.Equal(t, linkvalue.ConfirmPassive, secrets[0].ConfirmedBy)
	require.InDelta(t, 0.03, secrets[0].PFalse, 1e-12)
	require.False(t, secrets[1].Confirmed)
	require.Equal(t, 1.0, secrets[1].PFalse)

	// confirmed secret is never multiplied again
	require.Equal(t, 0, d.ConfirmPassive(filter, nil, 0.05, 0.1))
	require.InDelta(t, 0.03, d.SharedSecrets()[0].PFalse, 1e-12)
}

func TestConfirmPassiveMissResets(t *testing.T) {
	d := device.New(1, address.Address{}, nil)
	v := linkvalue.LinkValue{1}
	d.AddSharedSecret(linkvalue.NewSharedSecret(v, false))
	d.ConfirmPassive(acceptFilter{allowed: []byte{1}}, nil, 0.01, 0.5)
	require.Equal(t, 0.5, d.SharedSecrets()[0].PFalse)
	d.ConfirmPassive(acceptFilter{}, nil, 0.01, 0.5)
	require.Equal(t, 1.0, d.SharedSecrets()[0].PFalse)
}

func TestEncounterInfo(t *testing.T) {
	start := time.Unix(1000, 0)
	d := device.New(5, address.Address{1, 2, 3, 4, 5, 6}, values(1, 2))
	d.AddRSSI(start, -50)

	_, ok := d.EncounterInfo(start, time.Minute)
	require.False(t, ok, "unconfirmed")

	d.AddSharedSecret(linkvalue.NewConfirmedSecret(linkvalue.LinkValue{7}, linkvalue.ConfirmActive))
	_, ok = d.EncounterInfo(start, time.Minute)
	require.False(t, ok, "no handshake yet")

	d.SetShakenHands(true)
	ev, ok := d.EncounterInfo(start, time.Minute)
	require.True(t, ok)
	require.Equal(t, events.EncounterStarted, ev.Type)
	require.Equal(t, events.DeviceID(5), ev.ID)
	require.Equal(t, "01:02:03:04:05:06", ev.Address)
	require.True(t, ev.SharedSecretsUpdated)
	require.Len(t, ev.SharedSecrets, 1)
	require.True(t, ev.MatchingSetUpdated)
	require.Len(t, ev.RSSIEvents, 1)

	_, ok = d.EncounterInfo(start.Add(time.Second), time.Minute)
	require.False(t, ok, "nothing new")

	d.AddRSSI(start.Add(2*time.Second), -60)
	_, ok = d.EncounterInfo(start.Add(2*time.Second), time.Minute)
	require.False(t, ok, "rssi only within interval")

	ev, ok = d.EncounterInfo(start.Add(2*time.Minute), time.Minute)
	require.True(t, ok)
	require.Equal(t, events.EncounterUpdated, ev.Type)
	require.False(t, ev.MatchingSetUpdated)
	require.False(t, ev.SharedSecretsUpdated)
	require.Len(t, ev.RSSIEvents, 1)

	d.UpdateMatching(acceptFilter{allowed: []byte{2}}, nil, 0.5)
	ev, ok = d.EncounterInfo(start.Add(3*time.Minute), time.Minute)
	require.True(t, ok)
	require.True(t, ev.MatchingSetUpdated)
	require.Equal(t, values(2), ev.Matching)

	d.AddRSSI(start.Add(4*time.Minute), -70)
	end := d.ExpiredInfo(start.Add(5 * time.Minute))
	require.Equal(t, events.EncounterEnded, end.Type)
	require.Len(t, end.RSSIEvents, 1)
}

func TestFirstReportCarriesMatching(t *testing.T) {
	start := time.Unix(1000, 0)
	d := device.New(6, address.Address{6, 5, 4, 3, 2, 1}, values(1, 2))
	d.AddSharedSecret(linkvalue.NewConfirmedSecret(linkvalue.LinkValue{9}, linkvalue.ConfirmActive))
	d.SetShakenHands(true)

	ev, ok := d.EncounterInfo(start, time.Minute)
	require.True(t, ok)
	require.Equal(t, events.EncounterStarted, ev.Type)
	require.True(t, ev.MatchingSetUpdated, "set never shrank, still reported once")
	require.Equal(t, values(1, 2), ev.Matching)

	d.AddSharedSecret(linkvalue.NewConfirmedSecret(linkvalue.LinkValue{10}, linkvalue.ConfirmActive))
	ev, ok = d.EncounterInfo(start.Add(time.Second), time.Minute)
	require.True(t, ok)
	require.Equal(t, events.EncounterUpdated, ev.Type)
	require.False(t, ev.MatchingSetUpdated)
	require.Empty(t, ev.Matching)
}

type tracked struct {
	*device.Device
}

func TestMapShiftedLookup(t *testing.T) {
	rnd := sddrrand.NewSeeded(4)
	m := device.NewMap[tracked]()
	a := address.Generate(rnd)
	d := tracked{device.New(1, a, nil)}
	m.Add(d)

	got, ok := m.Get(a)
	require.True(t, ok)
	require.Equal(t, d.Device, got.Device)

	shifted := a.Shift(rnd)
	got, ok = m.Get(shifted)
	require.True(t, ok)
	require.Equal(t, shifted, got.Address())
	_, ok = m.Get(a)
	require.False(t, ok, "old address no longer maps")

	shifted2 := shifted.Shift(rnd)
	got, ok = m.Get(shifted2)
	require.True(t, ok)
	require.Equal(t, events.DeviceID(1), got.ID())

	_, ok = m.Get(address.Generate(rnd))
	require.False(t, ok)

	got, ok = m.GetByID(1)
	require.True(t, ok)
	require.Equal(t, shifted2, got.Address())

	require.True(t, m.Remove(shifted2))
	require.Equal(t, 0, m.Len())
	_, ok = m.Get(shifted2.Shift(rnd))
	require.False(t, ok)
}

func TestMapRemoveByIDAndAll(t *testing.T) {
	rnd := sddrrand.NewSeeded(5)
	m := device.NewMap[tracked]()
	for i := 0; i < 5; i++ {
		m.Add(tracked{device.New(events.DeviceID(i), address.Generate(rnd), nil)})
	}
	require.True(t, m.RemoveByID(3))
	require.False(t, m.RemoveByID(3))
	seen := map[events.DeviceID]bool{}
	for d := range m.All() {
		seen[d.ID()] = true
	}
	require.Len(t, seen, 4)
	require.False(t, seen[3])
	m.Clear()
	require.Equal(t, 0, m.Len())
}
