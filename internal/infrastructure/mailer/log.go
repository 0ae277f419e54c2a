package mailer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"NewsDigest/internal/ports"
)

// Log writes messages to the logger instead of sending them. Used for local
// runs and dry runs.
type Log struct {
	logger *slog.Logger
}

var _ ports.Mailer = (*Log)(nil)

// NewLog returns a mailer that only logs.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "log_mailer")}
}

// Send logs the envelope and returns a synthetic "log-" message id.
func (l *Log) Send(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ports.Receipt{}, err
	}
	id := "log-" + uuid.NewString()
	l.logger.Info("digest email",
		"message_id", id,
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"html_bytes", len(msg.HTML),
		"text_bytes", len(msg.Text),
	)
	return ports.Receipt{MessageID: id}, nil
}
