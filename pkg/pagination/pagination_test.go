package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextWithQuery(""))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Values(t *testing.T) {
	p := FromContext(contextWithQuery("?limit=5&offset=10"))
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("expected 5/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	p := FromContext(contextWithQuery("?limit=1000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_InvalidValues(t *testing.T) {
	p := FromContext(contextWithQuery("?limit=abc&offset=-3"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit, got %d", p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		params  Params
		hasMore bool
	}{
		{"first page of many", 50, Params{Limit: 20, Offset: 0}, true},
		{"last page", 50, Params{Limit: 20, Offset: 40}, false},
		{"exact fit", 20, Params{Limit: 20, Offset: 0}, false},
		{"empty", 0, Params{Limit: 20, Offset: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse([]string{}, tt.total, tt.params)
			if resp.HasMore != tt.hasMore {
				t.Errorf("expected has_more %v, got %v", tt.hasMore, resp.HasMore)
			}
			if resp.Limit != tt.params.Limit || resp.Offset != tt.params.Offset || resp.Total != tt.total {
				t.Errorf("unexpected envelope %+v", resp)
			}
		})
	}
}
