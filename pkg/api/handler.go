// Package api serves the indexer status and execution plan inspection endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/sink"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// StatusProvider is implemented by *sink.Sink.
type StatusProvider interface {
	Status() sink.Status
}

// Planner is implemented by *dispatcher.Dispatcher.
type Planner interface {
	Describe(era task.Era) ([]dispatcher.PlannedTask, error)
}

// Handler serves the status and plan endpoints.
type Handler struct {
	log     logrus.FieldLogger
	network string
	status  StatusProvider
	planner Planner
	tasks   *perf.Aggregator
	phases  *perf.Aggregator
}

// NewHandler returns a handler reading from the sink and the dispatcher.
func NewHandler(log logrus.FieldLogger, network string, status StatusProvider, planner Planner, tasks, phases *perf.Aggregator) *Handler {
	return &Handler{
		log:     log.WithField("component", "api"),
		network: network,
		status:  status,
		planner: planner,
		tasks:   tasks,
		phases:  phases,
	}
}

// RegisterRoutes adds the API routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", h.getStatus)
	mux.HandleFunc("GET /api/v1/plan/{era}", h.getPlan)
}

// StatStatus is the accumulated duration of one task or phase.
type StatStatus struct {
	Name    string `json:"name"`
	TotalMs int64  `json:"total_ms"`
	Count   int64  `json:"count"`
	MeanUs  int64  `json:"mean_us"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Network string      `json:"network"`
	Sink    sink.Status `json:"sink"`
	// Tasks and Phases cover the current epoch so far.
	Tasks  []StatStatus `json:"tasks"`
	Phases []StatStatus `json:"phases"`
}

// PlanResponse is returned by GET /api/v1/plan/{era}.
type PlanResponse struct {
	Era   string                   `json:"era"`
	Tasks []dispatcher.PlannedTask `json:"tasks"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Era   string `json:"era,omitempty"`
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Network: h.network,
		Sink:    h.status.Status(),
		Tasks:   stats(h.tasks),
		Phases:  stats(h.phases),
	})
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("era")

	era, err := task.ParseEra(name)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown era", Era: name})

		return
	}

	planned, err := h.planner.Describe(era)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Era: name})

		return
	}

	h.writeJSON(w, http.StatusOK, PlanResponse{Era: era.String(), Tasks: planned})
}

func stats(a *perf.Aggregator) []StatStatus {
	out := []StatStatus{}

	if a == nil {
		return out
	}

	for _, s := range a.Snapshot() {
		out = append(out, StatStatus{
			Name:    s.Name,
			TotalMs: s.Total.Milliseconds(),
			Count:   s.Count,
			MeanUs:  s.Mean().Microseconds(),
		})
	}

	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

// NewServer returns an HTTP server for the handler's routes.
func NewServer(addr string, h *Handler) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 120 * time.Second,
	}
}
