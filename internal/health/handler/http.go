// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 2 * time.Second

const (
	statusUp   = "UP"
	statusDown = "DOWN"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StorePinger is implemented by the revocation store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is implemented by the route classifier.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler reports process liveness and dependency readiness. Nil dependencies are skipped.
type Handler struct {
	db     Pinger
	store  StorePinger
	policy PolicyChecker
}

// New returns a Handler.
func New(db Pinger, store StorePinger, policy PolicyChecker) *Handler {
	return &Handler{db: db, store: store, policy: policy}
}

// Routes returns the probe router, mounted at /actuator/health.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.liveness)
	r.Get("/ready", h.readiness)
	return r
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, healthResponse{Status: statusUp})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := map[string]func(context.Context) error{}
	if h.db != nil {
		checks["db"] = h.db.PingContext
	}
	if h.store != nil {
		checks["redis"] = h.store.Ping
	}
	if h.policy != nil {
		checks["policy"] = h.policy.HealthCheck
	}

	resp := healthResponse{Status: statusUp, Components: make(map[string]componentStatus, len(checks))}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			log.Printf("health: %s check failed: %v", name, err)
			resp.Status = statusDown
			resp.Components[name] = componentStatus{Status: statusDown, Error: err.Error()}
			continue
		}
		resp.Components[name] = componentStatus{Status: statusUp}
	}
	status := http.StatusOK
	if resp.Status == statusDown {
		status = http.StatusServiceUnavailable
	}
	writeHealth(w, status, resp)
}

func writeHealth(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
