package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hrissan/sddr/controller"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/telemetry"
)

type encountersResponse struct {
	Total  int                     `json:"total"`
	Events []events.EncounterEvent `json:"events"`
}

func newRouter(metrics *telemetry.Metrics, log *encounterLog, ctrl *controller.Controller) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Handle("/metrics", metrics.MetricsHandler())
	r.Method(http.MethodGet, "/healthz", metrics.Instrument("healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ctrl.Running() {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})))
	r.Method(http.MethodGet, "/encounters", metrics.Instrument("encounters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recent, total := log.snapshot()
		if s := r.URL.Query().Get("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil || limit < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			if limit < len(recent) {
				recent = recent[len(recent)-limit:]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(encountersResponse{Total: total, Events: recent})
	})))
	return r
}
