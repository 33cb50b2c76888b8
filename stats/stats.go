package stats

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
)

// Stats receives every notable event, so the core never logs directly.
// Link values and secrets are never passed here, only their metadata.
type Stats interface {
	// radio layer
	RadioStarted(version string, addr address.Address)
	EpochChanged(addr address.Address, epoch int)
	// kind: advert, eir, name
	AdvertRejected(kind string, addr address.Address, err error)
	// outcome: duplicate, same_epoch, new_epoch
	AdvertProcessed(id events.DeviceID, advertNum int, outcome string)
	EpochDecoded(id events.DeviceID, numReceived int)
	SharedSecretAdded(id events.DeviceID, confirmed bool, by linkvalue.Confirm)
	MatchingUpdated(id events.DeviceID, remaining int, pFalse float64)
	// kind: connect, accept, name, psi, derive, active; err == nil means success
	Handshake(kind string, addr address.Address, err error)
	DeviceDiscovered(id events.DeviceID, addr address.Address)
	DeviceRemoved(id events.DeviceID)

	// policy layer
	// transition: start, end, drop (expired before it was encountered)
	PolicyTransition(id events.DeviceID, transition string, at time.Time)

	// controller layer
	ControllerAction(action string, wait time.Duration)
	Encounter(ev *events.EncounterEvent)

	// medium layer
	MediumError(op string, err error)
}

type StatsLog struct {
	log          *zap.Logger
	level        atomic.Int32
	printAdverts atomic.Bool
	printDevices atomic.Bool
}

var _ Stats = (*StatsLog)(nil)

func NewStatsLog(log *zap.Logger) *StatsLog {
	return &StatsLog{log: log.Named("sddr")}
}

func NewStatsLogVerbose(log *zap.Logger) *StatsLog {
	s := NewStatsLog(log)
	s.level.Store(1)
	s.printAdverts.Store(true)
	s.printDevices.Store(true)
	return s
}

// SetLevel: < 0 silences warnings, > 0 enables per-cycle debug output.
func (s *StatsLog) SetLevel(level int32) { s.level.Store(level) }

func (s *StatsLog) SetPrintAdverts(v bool) { s.printAdverts.Store(v) }

func (s *StatsLog) SetPrintDevices(v bool) { s.printDevices.Store(v) }

func (s *StatsLog) RadioStarted(version string, addr address.Address) {
	s.log.Info("radio started", zap.String("version", version), zap.Stringer("addr", addr))
}

func (s *StatsLog) EpochChanged(addr address.Address, epoch int) {
	if s.level.Load() <= 0 {
		return
	}
	s.log.Debug("epoch changed", zap.Stringer("addr", addr), zap.Int("epoch", epoch))
}

func (s *StatsLog) AdvertRejected(kind string, addr address.Address, err error) {
	if !s.printAdverts.Load() {
		return
	}
	s.log.Debug("advert rejected", zap.String("kind", kind), zap.Stringer("addr", addr), zap.Error(err))
}

func (s *StatsLog) AdvertProcessed(id events.DeviceID, advertNum int, outcome string) {
	if !s.printAdverts.Load() {
		return
	}
	s.log.Debug("advert", zap.Int32("id", int32(id)), zap.Int("num", advertNum), zap.String("outcome", outcome))
}

func (s *StatsLog) EpochDecoded(id events.DeviceID, numReceived int) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("epoch decoded", zap.Int32("id", int32(id)), zap.Int("received", numReceived))
}

func (s *StatsLog) SharedSecretAdded(id events.DeviceID, confirmed bool, by linkvalue.Confirm) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("shared secret", zap.Int32("id", int32(id)), zap.Bool("confirmed", confirmed), zap.Stringer("by", by))
}

func (s *StatsLog) MatchingUpdated(id events.DeviceID, remaining int, pFalse float64) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("matching updated", zap.Int32("id", int32(id)), zap.Int("remaining", remaining), zap.Float64("p_false", pFalse))
}

func (s *StatsLog) Handshake(kind string, addr address.Address, err error) {
	if err == nil {
		if s.level.Load() > 0 {
			s.log.Debug("handshake", zap.String("kind", kind), zap.Stringer("addr", addr))
		}
		return
	}
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("handshake failed", zap.String("kind", kind), zap.Stringer("addr", addr), zap.Error(err))
}

func (s *StatsLog) DeviceDiscovered(id events.DeviceID, addr address.Address) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("device discovered", zap.Int32("id", int32(id)), zap.Stringer("addr", addr))
}

func (s *StatsLog) DeviceRemoved(id events.DeviceID) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("device removed", zap.Int32("id", int32(id)))
}

func (s *StatsLog) PolicyTransition(id events.DeviceID, transition string, at time.Time) {
	if !s.printDevices.Load() {
		return
	}
	s.log.Debug("policy", zap.Int32("id", int32(id)), zap.String("transition", transition), zap.Time("at", at))
}

func (s *StatsLog) ControllerAction(action string, wait time.Duration) {
	if s.level.Load() <= 0 {
		return
	}
	s.log.Debug("next action", zap.String("action", action), zap.Duration("wait", wait))
}

func (s *StatsLog) Encounter(ev *events.EncounterEvent) {
	s.log.Info("encounter",
		zap.Stringer("type", ev.Type),
		zap.Int32("id", int32(ev.ID)),
		zap.String("addr", ev.Address),
		zap.Time("time", ev.Time),
		zap.Int("rssi_events", len(ev.RSSIEvents)),
		zap.Int("matching", len(ev.Matching)),
		zap.Bool("matching_updated", ev.MatchingSetUpdated),
		zap.Int("shared_secrets", len(ev.SharedSecrets)),
		zap.Bool("shared_secrets_updated", ev.SharedSecretsUpdated))
}

func (s *StatsLog) MediumError(op string, err error) {
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("medium error", zap.String("op", op), zap.Error(err))
}
