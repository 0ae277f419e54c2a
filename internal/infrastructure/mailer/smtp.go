package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// SMTP sends multipart (HTML + text) messages through an SMTP relay.
type SMTP struct {
	relay  relay
	domain string
	now    func() time.Time
}

var _ ports.Mailer = (*SMTP)(nil)

// relay hands an encoded message to the next hop. Deliver must return once
// ctx is done.
type relay interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// NewSMTP builds a relay client. Secure selects implicit TLS (port 465);
// otherwise STARTTLS is used when the relay advertises it.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	return newSMTPWithRelay(&smtpRelay{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:        cfg.Host,
		auth:        auth,
		implicitTLS: cfg.Secure,
		tlsConfig:   &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}, cfg.Host)
}

func newSMTPWithRelay(r relay, host string) *SMTP {
	if host == "" {
		host = "localhost"
	}
	return &SMTP{relay: r, domain: host, now: time.Now}
}

// Send builds the MIME message and hands it to the relay. The whole SMTP
// conversation is bounded by ctx.
func (s *SMTP) Send(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("parse from address: %w", err)}
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseRejected, Err: fmt.Errorf("parse recipient address: %w", err)}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)
	builder := enmime.Builder().
		From(from.Name, from.Address).
		To(to.Name, to.Address).
		Subject(msg.Subject).
		Date(s.now()).
		Header("Message-Id", messageID).
		HTML([]byte(msg.HTML))
	if msg.Text != "" {
		builder = builder.Text([]byte(msg.Text))
	}

	part, err := builder.Build()
	if err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("build message: %w", err)}
	}
	var raw bytes.Buffer
	if err := part.Encode(&raw); err != nil {
		return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseProvider, Err: fmt.Errorf("encode message: %w", err)}
	}

	if err := s.relay.Deliver(ctx, from.Address, []string{to.Address}, raw.Bytes()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ports.Receipt{}, domain.NewDeliveryError(domain.CauseTimeout, errors.Join(ctxErr, err))
		}
		return ports.Receipt{}, domain.NewDeliveryError(smtpCause(err), err)
	}

	return ports.Receipt{MessageID: strings.Trim(messageID, "<>")}, nil
}

// smtpCause maps SMTP reply codes: 5xx rejects the recipient, 452 means the
// relay is over quota, everything else is a provider problem.
func smtpCause(err error) domain.FailureCause {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 452:
			return domain.CauseQuota
		case tpErr.Code >= 500:
			return domain.CauseRejected
		}
	}
	return domain.CauseProvider
}

// smtpRelay speaks SMTP over a connection whose lifetime is tied to the
// caller's context.
type smtpRelay struct {
	addr        string
	host        string
	auth        smtp.Auth
	implicitTLS bool
	tlsConfig   *tls.Config
}

// Deliver runs one SMTP transaction. The connection is closed when ctx ends.
func (r *smtpRelay) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.addr, err)
	}
	defer raw.Close()

	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		if err := raw.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	conn := raw
	if r.implicitTLS {
		conn = tls.Client(raw, r.tlsConfig)
	}

	client, err := smtp.NewClient(conn, r.host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !r.implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(r.tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if r.auth != nil {
		if err := client.Auth(r.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
