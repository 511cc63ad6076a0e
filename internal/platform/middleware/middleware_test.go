package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if RequestIDFrom(c) == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(okHandler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(okHandler)(c)

	if got := rec.Header().Get(RequestIDHeader); got == "bad id with spaces" || got == "" {
		t.Errorf("expected generated id, got %q", got)
	}
}

func TestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  string
	}{
		{"ok", okHandler, `"level":"info"`, `"status":200`},
		{"client error", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "nope") }, `"level":"warn"`, `"status":404`},
		{"server error", func(echo.Context) error { return errors.New("boom") }, `"level":"error"`, `"status":500`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/x", nil), httptest.NewRecorder())

			_ = Logger(logger)(tt.handler)(c)

			out := buf.String()
			if !strings.Contains(out, tt.level) || !strings.Contains(out, tt.status) {
				t.Errorf("expected %s and %s in %s", tt.level, tt.status, out)
			}
		})
	}
}

func TestLogger_RecordsInternalCause(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := Logger(zerolog.New(&buf))(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(errors.New("pool closed"))
	})
	_ = h(c)

	if !strings.Contains(buf.String(), "pool closed") {
		t.Errorf("expected internal cause in log, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Error("expected panic value to be logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	if err := Recovery(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
