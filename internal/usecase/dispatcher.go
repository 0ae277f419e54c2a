package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const (
	defaultFetchTimeout    = 8 * time.Second
	defaultDeliveryTimeout = 8 * time.Second
)

// DispatcherDeps wires all driven adapters into the digest run.
type DispatcherDeps struct {
	Directory ports.RecipientDirectory
	Source    ports.ContentSource
	Renderer  ports.DigestRenderer
	Mailer    ports.Mailer
	Sink      ports.ReportSink
	Logger    *slog.Logger

	// Clock and NewRunID are overridable for tests.
	Clock    func() time.Time
	NewRunID func() string
}

// DispatcherConfig tunes a run.
type DispatcherConfig struct {
	Workers         int
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	MaxItems        int
	Language        string
	From            string
}

// RunRequest names the cadence being served and what started the run.
type RunRequest struct {
	Cadence domain.Frequency
	Trigger string
}

// Dispatcher drives one digest run: a single content fetch, then an isolated
// render-and-deliver unit per recipient.
type Dispatcher struct {
	directory ports.RecipientDirectory
	source    ports.ContentSource
	renderer  ports.DigestRenderer
	mailer    ports.Mailer
	sink      ports.ReportSink
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string
	cfg       DispatcherConfig
}

// NewDispatcher constructs the run orchestrator.
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = domain.DefaultNewsCount
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	return &Dispatcher{
		directory: deps.Directory,
		source:    deps.Source,
		renderer:  deps.Renderer,
		mailer:    deps.Mailer,
		sink:      deps.Sink,
		logger:    logger.With("component", "dispatcher"),
		now:       clock,
		newRunID:  newRunID,
		cfg:       cfg,
	}
}

// Run executes one run to completion and returns its finalized report. It
// never returns an error: a directory failure yields a failed report, every
// other problem is recorded per recipient or as a warning.
func (d *Dispatcher) Run(ctx context.Context, req RunRequest) domain.RunReport {
	if req.Cadence == "" {
		req.Cadence = domain.FrequencyDaily
	}
	if req.Trigger == "" {
		req.Trigger = "manual"
	}

	started := d.now()
	runID := d.newRunID()
	logger := d.logger.With("run_id", runID, "cadence", string(req.Cadence), "trigger", req.Trigger)
	builder := domain.NewReportBuilder(runID, req.Cadence, req.Trigger, started)

	logger.Info("digest run started")

	batch := d.fetchContent(ctx, started, builder, logger)

	recipients, err := d.listRecipients(ctx, req.Cadence)
	if err != nil {
		logger.Error("recipient directory unavailable, run aborted", "error", err)
		builder.Fail(err)
		return d.finish(ctx, builder, logger)
	}
	if len(recipients) == 0 {
		logger.Info("no recipients for cadence")
		return d.finish(ctx, builder, logger)
	}

	for _, outcome := range d.deliverAll(ctx, req.Cadence, batch, recipients, logger) {
		builder.Add(outcome)
	}

	return d.finish(ctx, builder, logger)
}

func (d *Dispatcher) fetchContent(ctx context.Context, day time.Time, builder *domain.ReportBuilder, logger *slog.Logger) (batch domain.ContentBatch) {
	batch = domain.EmptyBatch(day)
	if d.source == nil {
		builder.Warn("no content source configured")
		return batch
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()

	fetched, err := d.safeFetch(fetchCtx, ports.FetchRequest{
		MaxItems: d.cfg.MaxItems,
		Language: d.cfg.Language,
		Day:      day,
	})
	if err != nil {
		var fetchErr *domain.ContentFetchError
		if !errors.As(err, &fetchErr) {
			err = &domain.ContentFetchError{Err: err}
		}
		logger.Warn("content fetch failed, sending empty digests", "error", err)
		builder.Degrade(err)
		return batch
	}

	builder.SetContent(fetched.Len())
	logger.Debug("content fetched", "items", fetched.Len())
	return fetched
}

func (d *Dispatcher) safeFetch(ctx context.Context, req ports.FetchRequest) (batch domain.ContentBatch, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("content source panic: %v", p)
		}
	}()
	return d.source.FetchTop(ctx, req)
}

func (d *Dispatcher) listRecipients(ctx context.Context, cadence domain.Frequency) ([]domain.RecipientProfile, error) {
	if d.directory == nil {
		return nil, &domain.DirectoryError{Err: errors.New("no recipient directory configured")}
	}
	recipients, err := d.directory.ListRecipients(ctx, cadence)
	if err != nil {
		var dirErr *domain.DirectoryError
		if !errors.As(err, &dirErr) {
			err = &domain.DirectoryError{Err: err}
		}
		return nil, err
	}
	return recipients, nil
}

// deliverAll processes recipients on a bounded pool. Each unit writes only its
// own slot, so outcome order equals recipient order for any pool size.
func (d *Dispatcher) deliverAll(ctx context.Context, cadence domain.Frequency, batch domain.ContentBatch, recipients []domain.RecipientProfile, logger *slog.Logger) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, len(recipients))

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		if ctx.Err() != nil {
			outcomes[i] = domain.Skipped(recipient, domain.SkipCancelled)
			continue
		}
		g.Go(func() error {
			outcomes[i] = d.deliverOne(ctx, cadence, batch, recipient, logger)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// deliverOne is the per-recipient isolation boundary: whatever happens in
// here, including a panic, ends as exactly one outcome.
func (d *Dispatcher) deliverOne(ctx context.Context, cadence domain.Frequency, batch domain.ContentBatch, recipient domain.RecipientProfile, logger *slog.Logger) (outcome domain.DeliveryOutcome) {
	started := d.now()
	logger = logger.With("recipient_id", recipient.ID)

	defer func() {
		if p := recover(); p != nil {
			outcome = domain.DeliveryOutcome{
				RecipientID: recipient.ID,
				Address:     recipient.Address(),
				Status:      domain.StatusFailed,
				Cause:       domain.CausePanic,
				Error:       fmt.Sprintf("panic: %v", p),
				Duration:    d.now().Sub(started),
			}
			logger.Error("recipient unit panicked", "panic", p)
		}
	}()

	if ctx.Err() != nil {
		return domain.Skipped(recipient, domain.SkipCancelled)
	}
	if reason, skip := skipReason(recipient, cadence); skip {
		logger.Debug("recipient skipped", "reason", string(reason))
		return domain.Skipped(recipient, reason)
	}

	digest, err := d.renderer.Render(batch, recipient, cadence)
	if err != nil {
		var renderErr *domain.RenderError
		if !errors.As(err, &renderErr) {
			err = &domain.RenderError{RecipientID: recipient.ID, Err: err}
		}
		logger.Warn("render failed", "error", err)
		return domain.Failed(recipient, err, d.now().Sub(started))
	}

	// In-flight attempts outlive run cancellation and end on their own deadline.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DeliveryTimeout)
	defer cancel()

	receipt, err := d.mailer.Send(attemptCtx, ports.Message{
		From:    d.cfg.From,
		To:      digest.Address,
		Subject: digest.Subject,
		HTML:    digest.HTML,
		Text:    digest.Text,
	})
	took := d.now().Sub(started)
	if err != nil {
		outcome = domain.Failed(recipient, err, took)
		logger.Warn("delivery failed", "cause", string(outcome.Cause), "error", err, "duration", took)
		return outcome
	}

	logger.Debug("digest sent", "message_id", receipt.MessageID, "duration", took)
	return domain.Sent(recipient, receipt.MessageID, took)
}

func skipReason(r domain.RecipientProfile, cadence domain.Frequency) (domain.SkipReason, bool) {
	if !r.EmailNotifications {
		return domain.SkipOptedOut, true
	}
	if r.Address() == "" {
		return domain.SkipNoAddress, true
	}
	frequency := r.Frequency
	if frequency == "" {
		frequency = domain.FrequencyDaily
	}
	if frequency != cadence {
		return domain.SkipFrequency, true
	}
	return "", false
}

func (d *Dispatcher) finish(ctx context.Context, builder *domain.ReportBuilder, logger *slog.Logger) domain.RunReport {
	report := builder.Finalize(d.now())

	logger.Info("digest run finished",
		"status", string(report.Status),
		"total", report.Total,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"content_items", report.ContentItems,
		"content_degraded", report.ContentDegraded,
		"duration", report.Duration(),
	)

	if d.sink != nil {
		if err := d.sink.Publish(context.WithoutCancel(ctx), report); err != nil {
			logger.Debug("report publish incomplete", "error", err)
		}
	}
	return report
}
