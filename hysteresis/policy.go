// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package hysteresis

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/stats"
)

// Policy decides when a discovered device becomes an encounter worth a
// handshake, and when it has been gone long enough to be forgotten.
//
//	Discovered --(seen enough, long enough, or Immediate)--> Encountered
//	Discovered --(unseen > MaxStartTime)--> removed
//	Encountered --(unseen > EndTime)--> removed

type Scheme uint8

const (
	Standard       Scheme = 0
	Immediate      Scheme = 1
	ImmediateNoMem Scheme = 3
)

func (s Scheme) String() string {
	switch s {
	case Standard:
		return "standard"
	case Immediate:
		return "immediate"
	case ImmediateNoMem:
		return "immediate-nomem"
	}
	return fmt.Sprintf("scheme(%d)", uint8(s))
}

func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "standard":
		return Standard, nil
	case "immediate":
		return Immediate, nil
	case "immediate-nomem", "immediatenomem":
		return ImmediateNoMem, nil
	}
	return 0, fmt.Errorf("unknown hysteresis scheme %q", s)
}

func (s Scheme) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scheme) UnmarshalText(text []byte) error {
	v, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Config struct {
	Scheme        Scheme        `yaml:"scheme"`
	MinStartTime  time.Duration `yaml:"min_start_time"`
	MaxStartTime  time.Duration `yaml:"max_start_time"`
	StartSeen     int           `yaml:"start_seen"`
	EndTime       time.Duration `yaml:"end_time"`
	RSSIThreshold int8          `yaml:"rssi_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Scheme:        Standard,
		MinStartTime:  2 * time.Minute,
		MaxStartTime:  5 * time.Minute,
		StartSeen:     2,
		EndTime:       10 * time.Minute,
		RSSIThreshold: -85,
	}
}

type state uint8

const (
	stateDiscovered state = iota
	stateEncountered
)

type deviceInfo struct {
	firstTime time.Time
	lastTime  time.Time
	seen      int
	state     state
}

// Sighting is a device with the time that matters for the caller:
// first sighting for newly discovered, last sighting for expired.
type Sighting struct {
	ID   events.DeviceID
	Time time.Time
}

type Policy struct {
	cfg     Config
	stats   stats.Stats
	devices map[events.DeviceID]*deviceInfo
}

// New reports state transitions to st, nil means no reporting.
func New(cfg Config, st stats.Stats) *Policy {
	if st == nil {
		st = stats.NopStats{}
	}
	return &Policy{cfg: cfg, stats: st, devices: map[events.DeviceID]*deviceInfo{}}
}

func (p *Policy) Config() Config { return p.cfg }

func (p *Policy) Len() int { return len(p.devices) }

// Discovered processes one discovery cycle. Returns sorted unique IDs to
// handshake and devices seen for the first time.
func (p *Policy) Discovered(now time.Time, discovered []events.DiscoverEvent) (toHandshake []events.DeviceID, newly []Sighting) {
	for _, ev := range discovered {
		if p.cfg.Scheme == ImmediateNoMem {
			newly = append(newly, Sighting{ID: ev.ID, Time: now})
			toHandshake = append(toHandshake, ev.ID)
			continue
		}
		info, ok := p.devices[ev.ID]
		if !ok {
			info = &deviceInfo{firstTime: now, state: stateDiscovered}
			p.devices[ev.ID] = info
			newly = append(newly, Sighting{ID: ev.ID, Time: now})
		}
		info.lastTime = now
		if ev.RSSI > p.cfg.RSSIThreshold {
			info.seen++
		}
		switch info.state {
		case stateDiscovered:
			longEnough := info.seen >= p.cfg.StartSeen && info.lastTime.Sub(info.firstTime) >= p.cfg.MinStartTime
			if longEnough || p.cfg.Scheme == Immediate {
				info.state = stateEncountered
				toHandshake = append(toHandshake, ev.ID)
				p.stats.PolicyTransition(ev.ID, "start", now)
			}
		case stateEncountered:
			toHandshake = append(toHandshake, ev.ID)
		}
	}
	slices.Sort(toHandshake)
	return slices.Compact(toHandshake), newly
}

// Encountered promotes devices confirmed externally, inserting unknown ones.
func (p *Policy) Encountered(now time.Time, ids []events.DeviceID) {
	for _, id := range ids {
		if info, ok := p.devices[id]; ok {
			if info.state != stateEncountered {
				info.state = stateEncountered
				p.stats.PolicyTransition(id, "start", now)
			}
			continue
		}
		p.devices[id] = &deviceInfo{firstTime: now, lastTime: now, state: stateEncountered}
		p.stats.PolicyTransition(id, "start", now)
	}
}

func (p *Policy) IsEncountered(id events.DeviceID) bool {
	info, ok := p.devices[id]
	return ok && info.state == stateEncountered
}

// CheckExpired removes and returns devices unseen for too long, with their last sighting time.
func (p *Policy) CheckExpired(now time.Time) []Sighting {
	var expired []Sighting
	for id, info := range p.devices {
		limit, transition := p.cfg.MaxStartTime, "drop"
		if info.state == stateEncountered {
			limit, transition = p.cfg.EndTime, "end"
		}
		if now.Sub(info.lastTime) > limit {
			expired = append(expired, Sighting{ID: id, Time: info.lastTime})
			delete(p.devices, id)
			p.stats.PolicyTransition(id, transition, info.lastTime)
		}
	}
	slices.SortFunc(expired, func(a, b Sighting) int { return int(a.ID) - int(b.ID) })
	return expired
}

func (p *Policy) StartTime(id events.DeviceID) (time.Time, bool) {
	info, ok := p.devices[id]
	if !ok {
		return time.Time{}, false
	}
	return info.firstTime, true
}

func (p *Policy) LastTime(id events.DeviceID) (time.Time, bool) {
	info, ok := p.devices[id]
	if !ok {
		return time.Time{}, false
	}
	return info.lastTime, true
}
