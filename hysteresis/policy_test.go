// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package hysteresis_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/hysteresis"
	"github.com/hrissan/sddr/stats"
)

var t0 = time.Unix(10_000, 0)

func sighting(id events.DeviceID, rssi int8) []events.DiscoverEvent {
	return []events.DiscoverEvent{{Time: t0, ID: id, RSSI: rssi}}
}

func TestSecondSightingEncounters(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.MinStartTime = 0
	p := hysteresis.New(cfg, nil)

	hs, newly := p.Discovered(t0, sighting(1, -50))
	require.Empty(t, hs)
	require.Equal(t, []hysteresis.Sighting{{ID: 1, Time: t0}}, newly)

	hs, newly = p.Discovered(t0.Add(time.Minute), sighting(1, -50))
	require.Equal(t, []events.DeviceID{1}, hs)
	require.Empty(t, newly)
	require.True(t, p.IsEncountered(1))

	hs, _ = p.Discovered(t0.Add(2*time.Minute), sighting(1, -99))
	require.Equal(t, []events.DeviceID{1}, hs, "encountered devices always handshake")
}

func TestWeakSignalDoesNotCount(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.MinStartTime = 0
	p := hysteresis.New(cfg, nil)
	for i := 0; i < 5; i++ {
		hs, _ := p.Discovered(t0.Add(time.Duration(i)*time.Minute), sighting(2, -90))
		require.Empty(t, hs)
	}
}

func TestMinStartTime(t *testing.T) {
	p := hysteresis.New(hysteresis.DefaultConfig(), nil)
	p.Discovered(t0, sighting(1, -50))
	hs, _ := p.Discovered(t0.Add(time.Minute), sighting(1, -50))
	require.Empty(t, hs)
	hs, _ = p.Discovered(t0.Add(2*time.Minute), sighting(1, -50))
	require.Equal(t, []events.DeviceID{1}, hs)
}

func TestExpiry(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.MinStartTime = 0
	p := hysteresis.New(cfg, nil)
	p.Discovered(t0, sighting(1, -50))
	p.Discovered(t0, sighting(2, -50))
	p.Discovered(t0, sighting(2, -50))
	require.True(t, p.IsEncountered(2))

	require.Empty(t, p.CheckExpired(t0.Add(5*time.Minute)))
	expired := p.CheckExpired(t0.Add(6 * time.Minute))
	require.Equal(t, []hysteresis.Sighting{{ID: 1, Time: t0}}, expired)

	hs, newly := p.Discovered(t0.Add(7*time.Minute), sighting(1, -50))
	require.Empty(t, hs)
	require.Len(t, newly, 1, "expired device starts over")

	expired = p.CheckExpired(t0.Add(11 * time.Minute))
	require.Equal(t, []hysteresis.Sighting{{ID: 2, Time: t0}}, expired)
}

func TestImmediate(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.Scheme = hysteresis.Immediate
	p := hysteresis.New(cfg, nil)
	hs, _ := p.Discovered(t0, sighting(3, -99))
	require.Equal(t, []events.DeviceID{3}, hs)
	require.Equal(t, 1, p.Len(), "immediate still remembers devices")
}

func TestImmediateNoMem(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.Scheme = hysteresis.ImmediateNoMem
	p := hysteresis.New(cfg, nil)
	evs := []events.DiscoverEvent{{ID: 4}, {ID: 3}, {ID: 4}}
	hs, newly := p.Discovered(t0, evs)
	require.Equal(t, []events.DeviceID{3, 4}, hs)
	require.Len(t, newly, 3)
	require.Equal(t, 0, p.Len())
	require.Empty(t, p.CheckExpired(t0.Add(time.Hour)))
}

func TestEncounteredInsertsUnknown(t *testing.T) {
	p := hysteresis.New(hysteresis.DefaultConfig(), nil)
	p.Encountered(t0, []events.DeviceID{9})
	require.True(t, p.IsEncountered(9))
	hs, newly := p.Discovered(t0.Add(time.Second), sighting(9, -99))
	require.Equal(t, []events.DeviceID{9}, hs)
	require.Empty(t, newly)
}

func TestSchemeText(t *testing.T) {
	for _, s := range []hysteresis.Scheme{hysteresis.Standard, hysteresis.Immediate, hysteresis.ImmediateNoMem} {
		var parsed hysteresis.Scheme
		require.NoError(t, parsed.UnmarshalText([]byte(s.String())))
		require.Equal(t, s, parsed)
	}
}

func TestSightingTimes(t *testing.T) {
	p := hysteresis.New(hysteresis.DefaultConfig(), nil)
	_, ok := p.StartTime(7)
	require.False(t, ok)

	p.Discovered(t0, sighting(7, -50))
	p.Discovered(t0.Add(time.Minute), sighting(7, -50))
	start, ok := p.StartTime(7)
	require.True(t, ok)
	require.Equal(t, t0, start)
	last, ok := p.LastTime(7)
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Minute), last)

	p.CheckExpired(t0.Add(time.Hour))
	_, ok = p.LastTime(7)
	require.False(t, ok)
}

type transitions struct {
	stats.NopStats
	got []string
}

func (r *transitions) PolicyTransition(id events.DeviceID, transition string, at time.Time) {
	r.got = append(r.got, fmt.Sprintf("%d %s %s", id, transition, at.Sub(t0)))
}

func TestTransitionsReported(t *testing.T) {
	cfg := hysteresis.DefaultConfig()
	cfg.MinStartTime = 0
	rec := &transitions{}
	p := hysteresis.New(cfg, rec)

	p.Discovered(t0, sighting(1, -50))
	p.Discovered(t0.Add(time.Minute), sighting(1, -50))
	p.Discovered(t0.Add(time.Minute), sighting(2, -50))
	p.Encountered(t0.Add(time.Minute), []events.DeviceID{1, 3})
	require.Equal(t, []string{"1 start 1m0s", "3 start 1m0s"}, rec.got)

	rec.got = nil
	p.CheckExpired(t0.Add(time.Minute + cfg.MaxStartTime + time.Second))
	require.Equal(t, []string{"2 drop 1m0s"}, rec.got)

	rec.got = nil
	p.CheckExpired(t0.Add(time.Minute + cfg.EndTime + time.Second))
	require.ElementsMatch(t, []string{"1 end 1m0s", "3 end 1m0s"}, rec.got)
}
