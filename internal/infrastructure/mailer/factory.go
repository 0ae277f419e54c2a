package mailer

import (
	"fmt"
	"log/slog"
	"net/http"

	"NewsDigest/internal/config"
	"NewsDigest/internal/ports"
)

// New selects the provider named in configuration and wraps it in the rate limiter.
func New(cfg config.DeliveryConfig, logger *slog.Logger) (ports.Mailer, error) {
	var base ports.Mailer
	switch cfg.Provider {
	case "resend", "":
		var client *http.Client
		if cfg.Timeout > 0 {
			client = &http.Client{Timeout: 2 * cfg.Timeout}
		}
		base = NewResend(cfg.Resend, client)
	case "smtp":
		base = NewSMTP(cfg.SMTP)
	case "log":
		base = NewLog(logger)
	default:
		return nil, fmt.Errorf("unknown delivery provider %q", cfg.Provider)
	}
	return NewThrottled(base, cfg.RatePerSecond, cfg.Burst), nil
}
