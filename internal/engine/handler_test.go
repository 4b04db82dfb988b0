package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/risk"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	fx := newFixture(t)
	h := NewHandler(fx.engine, fx.store, zerolog.Nop())
	return h, fx, echo.New()
}

func TestHandler_Evaluate(t *testing.T) {
	h, fx, e := newTestHandler(t)
	patient := uuid.New()
	fx.store.Put(sickSnapshot(patient))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(patient.String())
	if err := h.Evaluate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var profile risk.RiskProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatal(err)
	}
	if profile.PatientID != patient || len(profile.Scores) == 0 {
		t.Errorf("profile = %+v", profile)
	}
}

func TestHandler_Evaluate_UnknownPatient(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.Evaluate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 HTTPError, got %v", err)
	}
}

func TestHandler_Evaluate_BadID(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.Evaluate(c); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestHandler_PutSnapshotTriggersBackgroundRun(t *testing.T) {
	h, fx, e := newTestHandler(t)
	patient := uuid.New()

	body := `{"age": 82, "vitals": {"systolic_bp": 195, "oxygen_saturation": 86},
		"history": {"diagnoses": ["chf"], "medications": ["m1"]}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patient.String())

	if err := h.PutSnapshot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	// The background run eventually opens the critical vitals alert.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		open, _ := fx.alertRepo.OpenByPatient(c.Request().Context(), patient)
		for _, a := range open {
			if a.RuleID == "critical_vitals" {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("background evaluation never fired critical_vitals")
}

func TestHandler_ScoreHistoryPagination(t *testing.T) {
	h, fx, e := newTestHandler(t)
	patient := uuid.New()
	fx.store.Put(healthySnapshot(patient))
	for i := 0; i < 3; i++ {
		if _, err := fx.engine.GeneratePredictions(context.Background(), patient); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=2", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(patient.String())
	if err := h.ScoreHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []risk.RiskScore `json:"data"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("page size = %d, want 2", len(resp.Data))
	}
	if resp.Total < 3 {
		t.Errorf("total = %d, want at least 3", resp.Total)
	}
}
