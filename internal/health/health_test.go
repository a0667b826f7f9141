package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestReadyzReportsPerCheckStatus(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(CheckFunc{CheckName: "postgres", Fn: func(context.Context) error { return nil }})
	m.Register(CheckFunc{CheckName: "redis", Fn: func(context.Context) error { return errors.New("refused") }})

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":{"status":"healthy"}`)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestReadyzHealthy(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(CheckFunc{CheckName: "postgres", Fn: func(context.Context) error { return nil }})

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzAlwaysOK(t *testing.T) {
	mux := http.NewServeMux()
	NewManager(nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
