package mailer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Throttled spaces sends out to stay under the provider's request rate.
type Throttled struct {
	next    ports.Mailer
	limiter *rate.Limiter
}

var _ ports.Mailer = (*Throttled)(nil)

// NewThrottled wraps next with a token bucket. A non-positive rate disables
// throttling.
func NewThrottled(next ports.Mailer, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send waits for a token inside the attempt's deadline, then delegates.
func (t *Throttled) Send(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return ports.Receipt{}, domain.NewDeliveryError(domain.CauseQuota, fmt.Errorf("rate limit wait: %w", err))
	}
	return t.next.Send(ctx, msg)
}
