package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

var (
	_ ports.ReportSink  = (*Store)(nil)
	_ ports.ReportStore = (*Store)(nil)
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var runColumns = []string{
	"run_id", "cadence", "trigger_source", "status", "error", "started_at", "finished_at",
	"total", "sent", "failed", "skipped", "content_items", "content_degraded", "failures", "warnings",
}

type runRow struct {
	RunID           string `db:"run_id"`
	Cadence         string `db:"cadence"`
	Trigger         string `db:"trigger_source"`
	Status          string `db:"status"`
	Error           string `db:"error"`
	StartedAt       string `db:"started_at"`
	FinishedAt      string `db:"finished_at"`
	Total           int    `db:"total"`
	Sent            int    `db:"sent"`
	Failed          int    `db:"failed"`
	Skipped         int    `db:"skipped"`
	ContentItems    int    `db:"content_items"`
	ContentDegraded bool   `db:"content_degraded"`
	Failures        string `db:"failures"`
	Warnings        string `db:"warnings"`
}

type failureRecord struct {
	RecipientID string `json:"recipient_id"`
	Address     string `json:"address"`
	Cause       string `json:"cause"`
	Error       string `json:"error"`
}

// Publish persists a finalized run report into digest_runs.
func (s *Store) Publish(ctx context.Context, report domain.RunReport) error {
	failures := make([]failureRecord, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, failureRecord{
			RecipientID: f.RecipientID,
			Address:     f.Address,
			Cause:       string(f.Cause),
			Error:       f.Error,
		})
	}
	rawFailures, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}
	warnings := report.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	rawWarnings, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	query, args, err := s.sb.Insert("digest_runs").
		Columns(runColumns...).
		Values(
			report.RunID, string(report.Cadence), report.Trigger, string(report.Status), report.Error,
			report.StartedAt.UTC().Format(timeLayout), report.FinishedAt.UTC().Format(timeLayout),
			report.Total, report.Sent, report.Failed, report.Skipped, report.ContentItems, report.ContentDegraded,
			string(rawFailures), string(rawWarnings),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}
	return nil
}

// Latest returns the most recently started run, if any.
func (s *Store) Latest(ctx context.Context) (domain.RunReport, bool, error) {
	query, args, err := s.sb.Select(runColumns...).
		From("digest_runs").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.RunReport{}, false, fmt.Errorf("build query: %w", err)
	}

	var row runRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunReport{}, false, nil
		}
		return domain.RunReport{}, false, fmt.Errorf("query latest run: %w", err)
	}

	report, err := row.toReport()
	if err != nil {
		return domain.RunReport{}, false, err
	}
	return report, true, nil
}

func (row runRow) toReport() (domain.RunReport, error) {
	started, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("parse started_at: %w", err)
	}
	finished, err := time.Parse(timeLayout, row.FinishedAt)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("parse finished_at: %w", err)
	}

	var failures []failureRecord
	if err := json.Unmarshal([]byte(row.Failures), &failures); err != nil {
		return domain.RunReport{}, fmt.Errorf("decode failures: %w", err)
	}
	var warnings []string
	if err := json.Unmarshal([]byte(row.Warnings), &warnings); err != nil {
		return domain.RunReport{}, fmt.Errorf("decode warnings: %w", err)
	}

	report := domain.RunReport{
		RunID:           row.RunID,
		Cadence:         domain.Frequency(row.Cadence),
		Trigger:         row.Trigger,
		Status:          domain.RunStatus(row.Status),
		Error:           row.Error,
		StartedAt:       started,
		FinishedAt:      finished,
		Total:           row.Total,
		Sent:            row.Sent,
		Failed:          row.Failed,
		Skipped:         row.Skipped,
		ContentItems:    row.ContentItems,
		ContentDegraded: row.ContentDegraded,
		Warnings:        warnings,
	}
	for _, f := range failures {
		report.Failures = append(report.Failures, domain.Failure{
			RecipientID: f.RecipientID,
			Address:     f.Address,
			Cause:       domain.FailureCause(f.Cause),
			Error:       f.Error,
		})
	}
	return report, nil
}
