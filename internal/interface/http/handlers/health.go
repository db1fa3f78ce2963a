package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheckFunc is a single named dependency probe. It returns an error if
// the dependency is unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregate health of the service.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler serves liveness and readiness endpoints backed by named
// dependency checks run in parallel.
type HealthHandler struct {
	mu      sync.RWMutex
	version string
	timeout time.Duration
	checks  map[string]HealthCheckFunc
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		version: version,
		timeout: 5 * time.Second,
		checks:  make(map[string]HealthCheckFunc),
		logger:  logger,
	}
}

// AddCheck registers a named dependency probe.
func (h *HealthHandler) AddCheck(name string, check HealthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs all registered probes in parallel and aggregates the result.
func (h *HealthHandler) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			err := check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status.Healthy = false
				status.Checks[name] = err.Error()
			} else {
				status.Checks[name] = "ok"
			}
		}(name, check)
	}
	wg.Wait()

	return status
}

// ServeHTTP handles GET /healthz.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", "checks", status.Checks)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
