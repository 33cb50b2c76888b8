package stats

import (
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
)

// NopStats is for tests and benchmarks.
type NopStats struct{}

var _ Stats = NopStats{}

func (NopStats) RadioStarted(string, address.Address)                      {}
func (NopStats) EpochChanged(address.Address, int)                         {}
func (NopStats) AdvertRejected(string, address.Address, error)             {}
func (NopStats) AdvertProcessed(events.DeviceID, int, string)              {}
func (NopStats) EpochDecoded(events.DeviceID, int)                         {}
func (NopStats) SharedSecretAdded(events.DeviceID, bool, linkvalue.Confirm) {}
func (NopStats) MatchingUpdated(events.DeviceID, int, float64)             {}
func (NopStats) Handshake(string, address.Address, error)                  {}
func (NopStats) DeviceDiscovered(events.DeviceID, address.Address)         {}
func (NopStats) DeviceRemoved(events.DeviceID)                             {}
func (NopStats) PolicyTransition(events.DeviceID, string, time.Time)        {}
func (NopStats) ControllerAction(string, time.Duration)                    {}
func (NopStats) Encounter(*events.EncounterEvent)                          {}
func (NopStats) MediumError(string, error)                                 {}
