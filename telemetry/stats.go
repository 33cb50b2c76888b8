package telemetry

import (
	"strconv"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/stats"
)

// StatsMetrics counts every event and forwards it to the wrapped Stats.
type StatsMetrics struct {
	next stats.Stats
	m    *Metrics
}

var _ stats.Stats = (*StatsMetrics)(nil)

func NewStatsMetrics(next stats.Stats, m *Metrics) *StatsMetrics {
	if next == nil {
		next = stats.NopStats{}
	}
	return &StatsMetrics{next: next, m: m}
}

func (s *StatsMetrics) RadioStarted(version string, addr address.Address) {
	s.next.RadioStarted(version, addr)
}

func (s *StatsMetrics) EpochChanged(addr address.Address, epoch int) {
	s.m.epochs.Inc()
	s.next.EpochChanged(addr, epoch)
}

func (s *StatsMetrics) AdvertRejected(kind string, addr address.Address, err error) {
	s.m.adverts.WithLabelValues("rejected").Inc()
	s.next.AdvertRejected(kind, addr, err)
}

func (s *StatsMetrics) AdvertProcessed(id events.DeviceID, advertNum int, outcome string) {
	s.m.adverts.WithLabelValues(outcome).Inc()
	s.next.AdvertProcessed(id, advertNum, outcome)
}

func (s *StatsMetrics) EpochDecoded(id events.DeviceID, numReceived int) {
	s.next.EpochDecoded(id, numReceived)
}

func (s *StatsMetrics) SharedSecretAdded(id events.DeviceID, confirmed bool, by linkvalue.Confirm) {
	s.m.secrets.WithLabelValues(by.String(), strconv.FormatBool(confirmed)).Inc()
	s.next.SharedSecretAdded(id, confirmed, by)
}

func (s *StatsMetrics) MatchingUpdated(id events.DeviceID, remaining int, pFalse float64) {
	s.next.MatchingUpdated(id, remaining, pFalse)
}

func (s *StatsMetrics) Handshake(kind string, addr address.Address, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	s.m.handshakes.WithLabelValues(kind, result).Inc()
	s.next.Handshake(kind, addr, err)
}

func (s *StatsMetrics) DeviceDiscovered(id events.DeviceID, addr address.Address) {
	s.m.discovered.Inc()
	s.m.tracked.Inc()
	s.next.DeviceDiscovered(id, addr)
}

func (s *StatsMetrics) DeviceRemoved(id events.DeviceID) {
	s.m.tracked.Dec()
	s.next.DeviceRemoved(id)
}

func (s *StatsMetrics) PolicyTransition(id events.DeviceID, transition string, at time.Time) {
	s.next.PolicyTransition(id, transition, at)
}

func (s *StatsMetrics) ControllerAction(action string, wait time.Duration) {
	s.next.ControllerAction(action, wait)
}

func (s *StatsMetrics) Encounter(ev *events.EncounterEvent) {
	s.m.encounters.WithLabelValues(ev.Type.String()).Inc()
	s.next.Encounter(ev)
}

func (s *StatsMetrics) MediumError(op string, err error) {
	s.m.mediumErrors.WithLabelValues(op).Inc()
	s.next.MediumError(op, err)
}
