package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// FanOutSink hands a report to every sink in order. A failing or panicking
// sink is logged and never stops the others.
type FanOutSink struct {
	sinks  []ports.ReportSink
	logger *slog.Logger
}

var _ ports.ReportSink = (*FanOutSink)(nil)

// NewFanOutSink keeps the non-nil sinks in the given order.
func NewFanOutSink(logger *slog.Logger, sinks ...ports.ReportSink) *FanOutSink {
	kept := make([]ports.ReportSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanOutSink{sinks: kept, logger: logger.With("component", "report_sink")}
}

// Publish returns the joined errors of all failing sinks.
func (f *FanOutSink) Publish(ctx context.Context, report domain.RunReport) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := publishSafely(ctx, sink, report); err != nil {
			f.logger.Error("report sink failed", "sink", fmt.Sprintf("%T", sink), "run_id", report.RunID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func publishSafely(ctx context.Context, sink ports.ReportSink, report domain.RunReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panic: %v", p)
		}
	}()
	return sink.Publish(ctx, report)
}

// LogSink writes the run summary and each failure to the operator log.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.ReportSink = (*LogSink)(nil)

// NewLogSink returns a sink that writes to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "run_report")}
}

// Publish logs at warn level when the run failed or any recipient failed.
func (s *LogSink) Publish(ctx context.Context, report domain.RunReport) error {
	level := slog.LevelInfo
	if report.Status == domain.RunFailed || report.Failed > 0 {
		level = slog.LevelWarn
	}

	s.logger.Log(ctx, level, "run report",
		"run_id", report.RunID,
		"cadence", string(report.Cadence),
		"trigger", report.Trigger,
		"status", string(report.Status),
		"error", report.Error,
		"total", report.Total,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"content_items", report.ContentItems,
		"content_degraded", report.ContentDegraded,
		"warnings", report.Warnings,
		"duration", report.Duration(),
	)
	for _, f := range report.Failures {
		s.logger.Warn("recipient failed",
			"run_id", report.RunID,
			"recipient_id", f.RecipientID,
			"address", f.Address,
			"cause", string(f.Cause),
			"error", f.Error,
		)
	}
	return nil
}
