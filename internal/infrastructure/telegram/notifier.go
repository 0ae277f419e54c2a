// Package telegram alerts operators about digest runs that need attention.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const (
	apiBase         = "https://api.telegram.org"
	maxListedFailed = 10
)

// Notifier posts run summaries to a Telegram chat via the bot API.
type Notifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

var _ ports.ReportSink = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(cfg config.TelegramConfig, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  apiBase,
		client:   client,
	}
}

// Enabled reports whether both bot token and chat are configured.
func (n *Notifier) Enabled() bool {
	return n.botToken != "" && n.chatID != ""
}

// Publish alerts only on runs that aborted, lost recipients or served
// degraded content. Clean runs stay quiet.
func (n *Notifier) Publish(ctx context.Context, report domain.RunReport) error {
	if !needsAttention(report) {
		return nil
	}
	if !n.Enabled() {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", Summary(report))
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func needsAttention(r domain.RunReport) bool {
	return r.Status == domain.RunFailed || r.Failed > 0 || r.ContentDegraded
}

// Summary renders a plain-text digest of the run for operators.
func Summary(r domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s digest run %s: %s\n", r.Cadence, r.RunID, r.Status)
	fmt.Fprintf(&b, "trigger=%s duration=%s\n", r.Trigger, r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "sent=%d failed=%d skipped=%d total=%d\n", r.Sent, r.Failed, r.Skipped, r.Total)
	if r.ContentDegraded {
		b.WriteString("content degraded: digests went out without articles\n")
	}
	for i, f := range r.Failures {
		if i == maxListedFailed {
			fmt.Fprintf(&b, "... and %d more\n", len(r.Failures)-maxListedFailed)
			break
		}
		fmt.Fprintf(&b, "- %s <%s> %s: %s\n", f.RecipientID, f.Address, f.Cause, f.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
