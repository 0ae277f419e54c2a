package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/usecase"
)

type stubTrigger struct {
	err     error
	running bool
	fired   []domain.Frequency
}

func (s *stubTrigger) FireAsync(cadence domain.Frequency, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.fired = append(s.fired, cadence)
	return nil
}

func (s *stubTrigger) Running() bool { return s.running }

type stubStore struct {
	report domain.RunReport
	found  bool
	err    error
}

func (s stubStore) Latest(context.Context) (domain.RunReport, bool, error) {
	return s.report, s.found, s.err
}

func serve(t *testing.T, h *Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestTriggerRunAccepted(t *testing.T) {
	trigger := &stubTrigger{}
	h := NewHandler(trigger, nil, nil, logging.Discard())

	rec := serve(t, h, http.MethodPost, "/runs?cadence=weekly")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(trigger.fired) != 1 || trigger.fired[0] != domain.FrequencyWeekly {
		t.Fatalf("unexpected fires: %v", trigger.fired)
	}

	rec = serve(t, h, http.MethodPost, "/runs")
	if rec.Code != http.StatusAccepted || trigger.fired[1] != domain.FrequencyDaily {
		t.Fatalf("default cadence should be daily, got %d %v", rec.Code, trigger.fired)
	}
}

func TestTriggerRunConflict(t *testing.T) {
	h := NewHandler(&stubTrigger{err: usecase.ErrRunInProgress}, nil, nil, logging.Discard())

	rec := serve(t, h, http.MethodPost, "/runs?cadence=daily")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestTriggerRunBadCadence(t *testing.T) {
	for _, cadence := range []string{"hourly", "never"} {
		h := NewHandler(&stubTrigger{}, nil, nil, logging.Discard())
		rec := serve(t, h, http.MethodPost, "/runs?cadence="+cadence)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("cadence %s: expected 400, got %d", cadence, rec.Code)
		}
	}
}

func TestLatestRun(t *testing.T) {
	start := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)
	store := stubStore{found: true, report: domain.RunReport{
		RunID: "r1", Cadence: domain.FrequencyDaily, Status: domain.RunCompleted,
		StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		Total: 2, Sent: 1, Failed: 1,
		Failures: []domain.Failure{{RecipientID: "u2", Cause: domain.CauseQuota, Error: "429"}},
	}}
	h := NewHandler(&stubTrigger{}, store, nil, logging.Discard())

	rec := serve(t, h, http.MethodGet, "/runs/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view reportView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.RunID != "r1" || view.DurationMillis != 1500 || len(view.Failures) != 1 || view.Failures[0].Cause != "quota" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestLatestRunNotFoundAndError(t *testing.T) {
	h := NewHandler(&stubTrigger{}, stubStore{}, nil, logging.Discard())
	if rec := serve(t, h, http.MethodGet, "/runs/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	h = NewHandler(&stubTrigger{}, stubStore{err: errors.New("db")}, nil, logging.Discard())
	if rec := serve(t, h, http.MethodGet, "/runs/latest"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "newsdigest_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewHandler(&stubTrigger{running: true}, nil, reg, logging.Discard())

	rec := serve(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"running":true`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "newsdigest_test_total 1") {
		t.Fatalf("unexpected metrics response %d %s", rec.Code, rec.Body.String())
	}
}

func TestServerShutdownStopsListener(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler(), logging.Discard())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen returned %v after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}
