// Package ops is the operator-facing HTTP surface, deliberately separate
// from the read API's gin router: /healthz for liveness probes, /metrics
// for scraping, and /debug/data-status for a quick per-trader coverage
// check. Kept on gorilla/mux in the teacher's own handler style, not gin,
// the same split the teacher draws between its public API router and its
// internal versioning/ops handlers.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/observability"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/gorilla/mux"
)

// Handlers groups every operator-only endpoint.
type Handlers struct {
	store     *state.Store
	metrics   *observability.MetricsCollector
	reporter  *persistence.Reporter
	startedAt time.Time
}

// NewHandlers wires the ops handlers against process state and the
// database-backed metrics/gap-status sinks.
func NewHandlers(store *state.Store, metrics *observability.MetricsCollector, reporter *persistence.Reporter) *Handlers {
	return &Handlers{store: store, metrics: metrics, reporter: reporter, startedAt: time.Now()}
}

// RegisterRoutes mounts the ops endpoints on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.HandleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/debug/data-status/{address}", h.HandleDataStatus).Methods(http.MethodGet)
}

// HandleHealthz reports process liveness and tracked-trader count. It
// never depends on the database so it stays answerable during a Postgres
// outage, per the "ingestion is never fatal" principle.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  time.Since(h.startedAt).Seconds(),
		"tracked_traders": h.store.Count(),
	})
}

// HandleMetrics returns the most recently recorded counter/gauge/histogram
// samples for this service.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	recent, err := h.metrics.Recent(ctx, 200)
	if err != nil {
		http.Error(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recent)
}

// HandleDataStatus reports snapshot coverage and open gaps for one
// address over the trailing 24h, for an operator spot-checking ingestion
// health without a dashboard.
func (h *Handlers) HandleDataStatus(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	normalized, err := hyperliquid.NormalizeAddress(address)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	status, err := h.reporter.Status(ctx, normalized, from, to)
	if err != nil {
		http.Error(w, "failed to compute data status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
