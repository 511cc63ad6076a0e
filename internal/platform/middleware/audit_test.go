package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/platform/auth"
)

func TestAudit_LogsPatientDataAccess(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	recordID := uuid.New()
	accountID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/doctor/appointments/"+recordID.String()+"/cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{
		AccountID: accountID,
		Roles:     []auth.Role{auth.RoleDoctor},
	}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(recordID.String())

	err := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	checks := map[string]interface{}{
		"type":      "phi_access",
		"user_id":   accountID.String(),
		"action":    "create",
		"resource":  "doctor/appointments/cancel",
		"record_id": recordID.String(),
		"status":    float64(200),
		"level":     "info",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, entry[k])
		}
	}
}

func TestAudit_DeniedAccessLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil), httptest.NewRecorder())

	err := Audit(zerolog.New(&buf))(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "required role: ADMIN")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("bad log line: %v", err)
	}
	if entry["level"] != "warn" || entry["status"] != float64(403) {
		t.Errorf("expected warn/403, got %v/%v", entry["level"], entry["status"])
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil), httptest.NewRecorder())

	_ = Audit(zerolog.New(&buf))(okHandler)(c)

	if buf.Len() != 0 {
		t.Errorf("expected no audit line, got %s", buf.String())
	}
}

func TestIsAuditablePath(t *testing.T) {
	tests := map[string]bool{
		"/api/v1/patients/me":          true,
		"/api/v1/doctor/prescriptions": true,
		"/api/v1/admin":                true,
		"/api/v1/patientsx":            false,
		"/api/v1/auth/signup":          false,
		"/health":                      false,
	}
	for path, want := range tests {
		if got := isAuditablePath(path); got != want {
			t.Errorf("isAuditablePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestExtractResource(t *testing.T) {
	id := uuid.NewString()
	tests := map[string]string{
		"/api/v1/patients/me/messages/contact/" + id: "patients/me/messages/contact",
		"/api/v1/admin/users/" + id:                  "admin/users",
		"/api/v1/":                                   "unknown",
	}
	for path, want := range tests {
		if got := extractResource(path); got != want {
			t.Errorf("extractResource(%q) = %q, want %q", path, got, want)
		}
	}
}
