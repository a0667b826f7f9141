// Package health exposes liveness and readiness endpoints over the service's
// hard dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const checkTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Manager runs registered checks on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

type result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Run probes every dependency and reports per-check results; ok is false when
// any check fails.
func (m *Manager) Run(ctx context.Context) (map[string]result, bool) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	out := make(map[string]result, len(checkers))
	ok := true
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			ok = false
			out[c.Name()] = result{Status: "unhealthy", Error: err.Error()}
			m.logger.Warn("health check failed", zap.String("check", c.Name()), zap.Error(err))
			continue
		}
		out[c.Name()] = result{Status: "healthy"}
	}
	return out, ok
}

// RegisterRoutes mounts /healthz (liveness, always 200 while the process
// runs) and /readyz (readiness, 503 when any dependency check fails).
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results, ok := m.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[bool]string{true: "ready", false: "unavailable"}[ok],
			"checks": results,
		})
	})
}
