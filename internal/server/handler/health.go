package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/api"
)

const probeTimeout = 3 * time.Second

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	oracle OracleService
	probes map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. probes are named dependency
// checks (database, redis, object storage) run on every request.
func NewHealthHandler(oracle OracleService, probes map[string]func(context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{oracle: oracle, probes: probes, logger: logger}
}

// HealthCheck reports the owner, registry size, registered roles and the
// state of each dependency. A failing dependency answers 503 "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s := h.oracle.Health()
	out := api.Health{
		Status:      "ok",
		Owner:       s.Owner,
		Identifiers: s.Identifiers,
		Pending:     s.Pending,
		Roles:       s.Roles,
		Archive:     s.Archive,
		Timestamp:   time.Now().UTC(),
	}

	status := http.StatusOK
	if checks, ok := h.runProbes(r.Context()); len(checks) > 0 {
		out.Checks = checks
		if !ok {
			out.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	api.WriteJSON(w, status, out)
}

func (h *HealthHandler) runProbes(ctx context.Context) (map[string]string, bool) {
	if len(h.probes) == 0 {
		return nil, true
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		checks  = make(map[string]string, len(h.probes))
	)
	for name, probe := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := probe(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[name] = "ok"
				return
			}
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = err.Error()
			healthy = false
		}()
	}
	wg.Wait()
	return checks, healthy
}
