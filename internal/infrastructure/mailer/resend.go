// Package mailer implements the outbound delivery capability for digests.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const resendEndpoint = "https://api.resend.com/emails"

// Resend sends messages through the Resend HTTP API.
type Resend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ ports.Mailer = (*Resend)(nil)

// NewResend builds a client from configuration. Per-attempt deadlines come
// from the caller's context; the client timeout is only a backstop.
func NewResend(cfg config.ResendConfig, client *http.Client) *Resend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = resendEndpoint
	}
	return &Resend{endpoint: endpoint, apiKey: cfg.APIKey, client: client}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send posts the message and returns the Resend email id.
func (r *Resend) Send(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
	if r.apiKey == "" {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("resend api key is not configured")}
	}

	body, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("marshal resend payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return ports.Receipt{}, domain.NewDeliveryError(domain.CauseProvider, fmt.Errorf("resend request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ports.Receipt{}, domain.NewDeliveryError(domain.CauseProvider, fmt.Errorf("read resend response: %w", err))
	}

	var payload resendResponse
	_ = json.Unmarshal(raw, &payload)

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail := strings.TrimSpace(payload.Message)
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return ports.Receipt{}, &domain.DeliveryError{
			Cause: causeForStatus(resp.StatusCode),
			Err:   fmt.Errorf("resend returned %s: %s", resp.Status, detail),
		}
	}

	if payload.ID == "" {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("resend response has no id")}
	}
	return ports.Receipt{MessageID: payload.ID}, nil
}

func causeForStatus(code int) domain.FailureCause {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.CauseQuota
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.CauseTimeout
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return domain.CauseRejected
	default:
		return domain.CauseProvider
	}
}
