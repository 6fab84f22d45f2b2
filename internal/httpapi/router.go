// Package httpapi exposes the operational surface of the decision loop:
// health, phase status, cumulative stats, recent activity, last decisions
// and the metrics scrape endpoint.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gridmind/gridmind/internal/observability"
	"github.com/gridmind/gridmind/internal/orchestrator"
)

// API wires the orchestrator's read-only views into HTTP handlers.
type API struct {
	orc     *orchestrator.Orchestrator
	metrics *observability.Metrics
	log     *slog.Logger
}

// New builds the API. Metrics may be nil; the scrape route is then omitted.
func New(orc *orchestrator.Orchestrator, metrics *observability.Metrics, lg *slog.Logger) *API {
	if lg == nil {
		lg = slog.Default()
	}
	return &API{orc: orc, metrics: metrics, log: lg}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.health).Methods("GET")
	r.HandleFunc("/status", a.status).Methods("GET")
	r.HandleFunc("/activity", a.activity).Methods("GET")
	r.HandleFunc("/decisions", a.decisions).Methods("GET")
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler()).Methods("GET")
	}
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Phases map[string]orchestrator.PhaseStatus `json:"phases"`
	Stats  orchestrator.Stats                  `json:"stats"`
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Phases: a.orc.PhaseStatuses(),
		Stats:  a.orc.Stats(),
	})
}

// activity returns the trailing activity log. ?limit=N bounds the tail,
// default 50.
func (a *API) activity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, a.orc.Activity().Tail(limit))
}

func (a *API) decisions(w http.ResponseWriter, _ *http.Request) {
	last := a.orc.LastResult()
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle":      last.Cycle,
		"startedAt":  last.StartedAt,
		"decisions":  last.Decisions,
		"executions": last.Executions,
		"failures":   last.Failures,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
