// Package httpapi exposes the operator endpoints: manual trigger, latest run
// report, health and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/usecase"
)

const contentTypeJSON = "application/json; charset=utf-8"

// RunTrigger is the part of the schedule trigger the API drives.
type RunTrigger interface {
	FireAsync(cadence domain.Frequency, source string) error
	Running() bool
}

// Handler serves the operator API.
type Handler struct {
	trigger  RunTrigger
	reports  ports.ReportStore
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler builds the API. reports and gatherer may be nil.
func NewHandler(trigger RunTrigger, reports ports.ReportStore, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	return &Handler{
		trigger:  trigger,
		reports:  reports,
		gatherer: gatherer,
		logger:   logger.With("component", "httpapi"),
	}
}

// Routes mounts every endpoint on a chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.health)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.triggerRun)
		r.Get("/latest", h.latestRun)
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type triggerResponse struct {
	Status  string `json:"status"`
	Cadence string `json:"cadence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	cadence, err := domain.ParseFrequency(r.URL.Query().Get("cadence"))
	if err != nil || cadence == domain.FrequencyNever {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cadence must be daily or weekly"})
		return
	}

	if err := h.trigger.FireAsync(cadence, usecase.SourceManual); err != nil {
		if errors.Is(err, usecase.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("manual trigger failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "trigger failed"})
		return
	}

	h.logger.Info("manual run accepted", "cadence", string(cadence), "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted", Cadence: string(cadence)})
}

type failureView struct {
	RecipientID string `json:"recipientId"`
	Address     string `json:"address"`
	Cause       string `json:"cause"`
	Error       string `json:"error"`
}

type reportView struct {
	RunID           string        `json:"runId"`
	Cadence         string        `json:"cadence"`
	Trigger         string        `json:"trigger"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	FinishedAt      time.Time     `json:"finishedAt"`
	DurationMillis  int64         `json:"durationMs"`
	Total           int           `json:"total"`
	Sent            int           `json:"sent"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	ContentItems    int           `json:"contentItems"`
	ContentDegraded bool          `json:"contentDegraded"`
	Warnings        []string      `json:"warnings"`
	Failures        []failureView `json:"failures"`
}

func (h *Handler) latestRun(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run history disabled"})
		return
	}

	report, found, err := h.reports.Latest(r.Context())
	if err != nil {
		h.logger.Error("load latest run", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load run history"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no runs recorded"})
		return
	}

	writeJSON(w, http.StatusOK, toView(report))
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": h.trigger.Running()})
}

func toView(r domain.RunReport) reportView {
	view := reportView{
		RunID:           r.RunID,
		Cadence:         string(r.Cadence),
		Trigger:         r.Trigger,
		Status:          string(r.Status),
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		DurationMillis:  r.Duration().Milliseconds(),
		Total:           r.Total,
		Sent:            r.Sent,
		Failed:          r.Failed,
		Skipped:         r.Skipped,
		ContentItems:    r.ContentItems,
		ContentDegraded: r.ContentDegraded,
		Warnings:        append([]string{}, r.Warnings...),
		Failures:        make([]failureView, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		view.Failures = append(view.Failures, failureView{
			RecipientID: f.RecipientID,
			Address:     f.Address,
			Cause:       string(f.Cause),
			Error:       f.Error,
		})
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Server runs the API until Shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "http_server"),
	}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
