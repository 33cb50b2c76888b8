package telemetry_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/stats"
	"github.com/hrissan/sddr/telemetry"
)

// countingStats checks that events are forwarded.
type countingStats struct {
	stats.NopStats
	encounters int
}

func (c *countingStats) Encounter(*events.EncounterEvent) { c.encounters++ }

func TestStatsMetricsCountsAndForwards(t *testing.T) {
	m := telemetry.NewMetrics()
	next := &countingStats{}
	s := telemetry.NewStatsMetrics(next, m)
	addr := address.Address{1, 2, 3, 4, 5, 6}

	s.DeviceDiscovered(1, addr)
	s.DeviceDiscovered(2, addr)
	s.DeviceRemoved(1)
	s.AdvertProcessed(2, 5, "duplicate")
	s.AdvertRejected("eir", addr, errors.New("checksum"))
	s.SharedSecretAdded(2, true, linkvalue.ConfirmPassive)
	s.Handshake("connect", addr, nil)
	s.Handshake("connect", addr, errors.New("timeout"))
	s.EpochChanged(addr, 1)
	s.Encounter(&events.EncounterEvent{Type: events.EncounterStarted})

	require.Equal(t, 1, next.encounters)
	count, err := testutil.GatherAndCount(m.Registry,
		"sddr_adverts_total", "sddr_devices_discovered_total", "sddr_devices_tracked",
		"sddr_shared_secrets_total", "sddr_handshakes_total", "sddr_encounter_events_total",
		"sddr_epochs_total")
	require.NoError(t, err)
	require.Equal(t, 9, count)

	body := scrape(t, m)
	require.Contains(t, body, `sddr_devices_discovered_total 2`)
	require.Contains(t, body, `sddr_devices_tracked 1`)
	require.Contains(t, body, `sddr_adverts_total{outcome="duplicate"} 1`)
	require.Contains(t, body, `sddr_adverts_total{outcome="rejected"} 1`)
	require.Contains(t, body, `sddr_shared_secrets_total{confirmed="true",scheme="passive"} 1`)
	require.Contains(t, body, `sddr_handshakes_total{kind="connect",result="failed"} 1`)
	require.Contains(t, body, `sddr_encounter_events_total{type="started"} 1`)
	require.Contains(t, body, `sddr_epochs_total 1`)
}

func TestInstrument(t *testing.T) {
	m := telemetry.NewMetrics()
	h := m.Instrument("healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, scrape(t, m), `sddr_http_requests_total{op="healthz",status="4xx"} 1`)
}

func scrape(t *testing.T, m *telemetry.Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
