package ports

import (
	"context"
	"time"

	"NewsDigest/internal/domain"
)

// RecipientDirectory lists the subscribers a run should consider.
type RecipientDirectory interface {
	ListRecipients(ctx context.Context, cadence domain.Frequency) ([]domain.RecipientProfile, error)
}

// FetchRequest bounds a single content fetch.
type FetchRequest struct {
	MaxItems int
	Language string
	Day      time.Time
}

// ContentSource pulls the shared batch of headlines for a run.
type ContentSource interface {
	FetchTop(ctx context.Context, req FetchRequest) (domain.ContentBatch, error)
}

// DigestRenderer builds one recipient's document from the shared batch.
type DigestRenderer interface {
	Render(batch domain.ContentBatch, recipient domain.RecipientProfile, cadence domain.Frequency) (domain.RenderedDigest, error)
}

// Message is one outbound digest email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Receipt carries the provider-assigned message identifier.
type Receipt struct {
	MessageID string
}

// Mailer delivers a single message through an external provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// ReportSink receives finalized run reports (logs, metrics, history, alerts).
type ReportSink interface {
	Publish(ctx context.Context, report domain.RunReport) error
}

// ReportStore reads back persisted run history.
type ReportStore interface {
	Latest(ctx context.Context) (domain.RunReport, bool, error)
}

// Scheduler controls when runs are triggered.
type Scheduler interface {
	Register(name, spec string, job func(time.Time)) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
