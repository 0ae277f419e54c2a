package domain

import (
	"time"
)

// OutcomeStatus is the terminal state of one recipient within a run.
type OutcomeStatus string

const (
	StatusSent    OutcomeStatus = "sent"
	StatusFailed  OutcomeStatus = "failed"
	StatusSkipped OutcomeStatus = "skipped"
)

// SkipReason explains a skipped outcome.
type SkipReason string

const (
	SkipOptedOut  SkipReason = "opted_out"
	SkipNoAddress SkipReason = "no_address"
	SkipFrequency SkipReason = "frequency"
	SkipCancelled SkipReason = "cancelled"
)

// DeliveryOutcome records what happened to a single recipient.
type DeliveryOutcome struct {
	RecipientID string
	Address     string
	Status      OutcomeStatus
	Reason      SkipReason
	Cause       FailureCause
	Error       string
	MessageID   string
	Duration    time.Duration
}

// Sent builds a successful outcome.
func Sent(r RecipientProfile, messageID string, took time.Duration) DeliveryOutcome {
	return DeliveryOutcome{RecipientID: r.ID, Address: r.Address(), Status: StatusSent, MessageID: messageID, Duration: took}
}

// Skipped builds a skipped outcome.
func Skipped(r RecipientProfile, reason SkipReason) DeliveryOutcome {
	return DeliveryOutcome{RecipientID: r.ID, Address: r.Address(), Status: StatusSkipped, Reason: reason}
}

// Failed builds a failed outcome, classifying err.
func Failed(r RecipientProfile, err error, took time.Duration) DeliveryOutcome {
	o := DeliveryOutcome{RecipientID: r.ID, Address: r.Address(), Status: StatusFailed, Duration: took}
	if err != nil {
		o.Cause = ClassifyFailure(err)
		o.Error = err.Error()
	}
	return o
}

// RunStatus is the overall result of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Failure is one entry in the report's failure list.
type Failure struct {
	RecipientID string
	Address     string
	Cause       FailureCause
	Error       string
}

// RunReport is the finalized, read-only summary of a run.
type RunReport struct {
	RunID           string
	Cadence         Frequency
	Trigger         string
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          RunStatus
	Error           string
	Total           int
	Sent            int
	Failed          int
	Skipped         int
	ContentItems    int
	ContentDegraded bool
	Failures        []Failure
	Warnings        []string
	Outcomes        []DeliveryOutcome
}

// Duration is the wall time between start and finish.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns the number of outcomes with the given status.
func (r RunReport) Count(status OutcomeStatus) int {
	switch status {
	case StatusSent:
		return r.Sent
	case StatusFailed:
		return r.Failed
	case StatusSkipped:
		return r.Skipped
	default:
		return 0
	}
}

// ReportBuilder accumulates outcomes during a run. It is not safe for
// concurrent use; the dispatcher feeds it from a single goroutine.
type ReportBuilder struct {
	report RunReport
}

// NewReportBuilder starts a report for a run.
func NewReportBuilder(runID string, cadence Frequency, trigger string, startedAt time.Time) *ReportBuilder {
	return &ReportBuilder{report: RunReport{
		RunID:     runID,
		Cadence:   cadence,
		Trigger:   trigger,
		StartedAt: startedAt,
		Status:    RunCompleted,
	}}
}

// SetContent records the size of the shared batch.
func (b *ReportBuilder) SetContent(items int) {
	b.report.ContentItems = items
}

// Degrade marks the content fetch as failed.
func (b *ReportBuilder) Degrade(err error) {
	b.report.ContentDegraded = true
	if err != nil {
		b.Warn(err.Error())
	}
}

// Warn adds a run-level note that does not fail the run.
func (b *ReportBuilder) Warn(msg string) {
	b.report.Warnings = append(b.report.Warnings, msg)
}

// Add appends an outcome in processing order.
func (b *ReportBuilder) Add(o DeliveryOutcome) {
	b.report.Total++
	switch o.Status {
	case StatusSent:
		b.report.Sent++
	case StatusFailed:
		b.report.Failed++
		b.report.Failures = append(b.report.Failures, Failure{
			RecipientID: o.RecipientID,
			Address:     o.Address,
			Cause:       o.Cause,
			Error:       o.Error,
		})
	case StatusSkipped:
		b.report.Skipped++
	}
	b.report.Outcomes = append(b.report.Outcomes, o)
}

// Fail turns the report into the degenerate report of an aborted run.
// Outcomes gathered so far are dropped; an aborted run delivers nothing.
func (b *ReportBuilder) Fail(err error) {
	b.report.Status = RunFailed
	if err != nil {
		b.report.Error = err.Error()
	}
	b.report.Total, b.report.Sent, b.report.Failed, b.report.Skipped = 0, 0, 0, 0
	b.report.Failures = nil
	b.report.Outcomes = nil
}

// Finalize stamps the finish time and returns an independent copy.
func (b *ReportBuilder) Finalize(finishedAt time.Time) RunReport {
	r := b.report
	r.FinishedAt = finishedAt
	r.Failures = append([]Failure(nil), b.report.Failures...)
	r.Warnings = append([]string(nil), b.report.Warnings...)
	r.Outcomes = append([]DeliveryOutcome(nil), b.report.Outcomes...)
	return r
}
