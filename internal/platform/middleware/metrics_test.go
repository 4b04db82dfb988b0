package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/carewatch/carewatch/internal/platform/metrics"
)

func TestMetrics_RecordsRequest(t *testing.T) {
	m := metrics.NewManager()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/alerts")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Metrics(m)
	h := mw(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "carewatch_http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected carewatch_http_requests_total to be registered after a request")
	}
}

func TestMetrics_UsesErrorStatus(t *testing.T) {
	m := metrics.NewManager()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/alerts/:id")

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	mw := Metrics(m)
	h := mw(handler)
	err := h(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
}
