// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package events

import (
	"fmt"
	"time"

	"github.com/hrissan/sddr/linkvalue"
)

// DeviceID is assigned sequentially per radio when a device is first seen.
type DeviceID int32

type DiscoverEvent struct {
	Time time.Time `json:"time"`
	ID   DeviceID  `json:"id"`
	RSSI int8      `json:"rssi"`
}

type RSSIEvent struct {
	Time time.Time `json:"time"`
	RSSI int8      `json:"rssi"`
}

type EncounterType uint8

const (
	EncounterStarted            EncounterType = 0
	EncounterUpdated            EncounterType = 1
	EncounterEnded              EncounterType = 2
	EncounterUnconfirmedStarted EncounterType = 3
)

func (t EncounterType) String() string {
	switch t {
	case EncounterStarted:
		return "started"
	case EncounterUpdated:
		return "updated"
	case EncounterEnded:
		return "ended"
	case EncounterUnconfirmedStarted:
		return "unconfirmed_started"
	}
	return fmt.Sprintf("encounter(%d)", uint8(t))
}

func ParseEncounterType(s string) (EncounterType, error) {
	switch s {
	case "started":
		return EncounterStarted, nil
	case "updated":
		return EncounterUpdated, nil
	case "ended":
		return EncounterEnded, nil
	case "unconfirmed_started":
		return EncounterUnconfirmedStarted, nil
	}
	return 0, fmt.Errorf("unknown encounter type %q", s)
}

func (t EncounterType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EncounterType) UnmarshalText(text []byte) error {
	v, err := ParseEncounterType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// EncounterEvent is the only output of the system.
// Matching and SharedSecrets are included only when the corresponding
// Updated flag is set, otherwise they are unchanged since the previous report.
type EncounterEvent struct {
	Type                 EncounterType            `json:"type"`
	Time                 time.Time                `json:"time"`
	ID                   DeviceID                 `json:"id"`
	Address              string                   `json:"address,omitempty"`
	RSSIEvents           []RSSIEvent              `json:"rssi,omitempty"`
	Matching             []linkvalue.LinkValue    `json:"matching,omitempty"`
	MatchingSetUpdated   bool                     `json:"matching_set_updated"`
	SharedSecrets        []linkvalue.SharedSecret `json:"shared_secrets,omitempty"`
	SharedSecretsUpdated bool                     `json:"shared_secrets_updated"`
}

func (e *EncounterEvent) String() string {
	return fmt.Sprintf("%s id=%d addr=%s time=%s rssi=%d matching=%d(updated=%v) secrets=%d(updated=%v)",
		e.Type, e.ID, e.Address, e.Time.Format(time.RFC3339), len(e.RSSIEvents),
		len(e.Matching), e.MatchingSetUpdated, len(e.SharedSecrets), e.SharedSecretsUpdated)
}
