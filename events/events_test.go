// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/events"
)

func TestEncounterEventJSON(t *testing.T) {
	ev := events.EncounterEvent{
		Type: events.EncounterUnconfirmedStarted,
		Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ID:   3,
	}
	data, err := json.Marshal(&ev)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"unconfirmed_started","time":"2024-01-01T00:00:00Z","id":3,
		"matching_set_updated":false,"shared_secrets_updated":false}`, string(data))
	require.Equal(t, "encounter(9)", events.EncounterType(9).String())
	require.Contains(t, ev.String(), "unconfirmed_started id=3")
}

func TestEncounterTypeRoundTrip(t *testing.T) {
	for _, typ := range []events.EncounterType{events.EncounterStarted, events.EncounterUpdated,
		events.EncounterEnded, events.EncounterUnconfirmedStarted} {
		data, err := json.Marshal(&events.EncounterEvent{Type: typ, ID: 7})
		require.NoError(t, err)
		var back events.EncounterEvent
		require.NoError(t, json.Unmarshal(data, &back))
		require.Equal(t, typ, back.Type)
		require.Equal(t, events.DeviceID(7), back.ID)
	}
	var typ events.EncounterType
	require.Error(t, typ.UnmarshalText([]byte("encounter(9)")))
}
