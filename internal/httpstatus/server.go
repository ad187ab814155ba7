// Package httpstatus exposes a build invocation's health and metrics over
// HTTP: a liveness probe, a worker-slot snapshot, and a Prometheus
// /metrics endpoint. Grounded on noisefs's announce-webui router/subrouter
// shape (gorilla/mux).
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgecore/forge/internal/coord"
	"github.com/forgecore/forge/internal/metrics"
)

// SlotSnapshot is the JSON-serializable view of one worker slot exposed
// by /slots.
type SlotSnapshot struct {
	ID     int32  `json:"id"`
	Status string `json:"status"`
}

// Server exposes build status over HTTP for external monitoring, wired
// into the orchestrator's lifecycle rather than a free-standing process.
type Server struct {
	Orchestrator *coord.Orchestrator
	Metrics      *metrics.Registry
	Slots        func() []*coord.Slot
}

// Router builds the mux.Router serving /healthz, /slots, and /metrics.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/slots", s.handleSlots).Methods(http.MethodGet)
	if s.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	var snapshots []SlotSnapshot
	if s.Slots != nil {
		for _, slot := range s.Slots() {
			snapshots = append(snapshots, SlotSnapshot{ID: int32(slot.ID), Status: slot.Status().String()})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshots)
}
