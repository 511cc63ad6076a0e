package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func runHealth(t *testing.T, p Pinger) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 3, MaxConns: 20} }
	if err := healthHandler(p, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, body := runHealth(t, fakePinger{})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatal("expected pool stats in body")
	}
	if pool["max_conns"] != float64(20) {
		t.Errorf("expected max_conns 20, got %v", pool["max_conns"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec, body := runHealth(t, fakePinger{err: errors.New("dial tcp: connection refused")})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	if body["error"] != "database unreachable" {
		t.Errorf("driver error should not leak, got %v", body["error"])
	}
}
