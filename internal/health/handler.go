package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"student-records/internal/httputil"
	"student-records/internal/metrics"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	checks  []Check
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(logger *slog.Logger, m *metrics.Metrics, checks ...Check) *Handler {
	return &Handler{checks: checks, logger: logger, metrics: m}
}

// Names lists the dependencies probed by Ready.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name)
	}
	return names
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready probes every dependency concurrently.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
		healthy = true
	)

	var g errgroup.Group
	for _, c := range h.checks {
		c := c
		g.Go(func() error {
			start := time.Now()
			err := c.Ping(ctx)
			h.metrics.Health.RecordDependencyCheck(ctx, c.Name, time.Since(start), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.WarnContext(ctx, "dependency not ready", "dependency", c.Name, "error", err)
				results[c.Name] = err.Error()
				healthy = false
				return nil
			}
			results[c.Name] = "ok"
			return nil
		})
	}
	g.Wait()

	if !healthy {
		httputil.RespondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Checks: results})
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ready", Checks: results})
}
