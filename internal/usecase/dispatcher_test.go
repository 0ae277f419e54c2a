package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/render"
)

type harness struct {
	directory *fakeDirectory
	source    *fakeSource
	mailer    *fakeMailer
	sink      *recordingSink
	renderer  ports.DigestRenderer
	cfg       DispatcherConfig
}

func newHarness(t *testing.T, recipients ...domain.RecipientProfile) *harness {
	t.Helper()
	renderer, err := render.New()
	require.NoError(t, err)
	return &harness{
		directory: &fakeDirectory{recipients: recipients},
		source:    &fakeSource{items: []domain.ContentItem{{Title: "A"}, {Title: "B"}}},
		mailer:    &fakeMailer{},
		sink:      &recordingSink{},
		renderer:  renderer,
		cfg:       DispatcherConfig{From: "onboarding@resend.dev", DeliveryTimeout: time.Second},
	}
}

func (h *harness) dispatcher() *Dispatcher {
	var seq atomic.Int32
	return NewDispatcher(DispatcherDeps{
		Directory: h.directory,
		Source:    h.source,
		Renderer:  h.renderer,
		Mailer:    h.mailer,
		Sink:      h.sink,
		Logger:    logging.Discard(),
		NewRunID:  func() string { return fmt.Sprintf("run-%d", seq.Add(1)) },
	}, h.cfg)
}

func (h *harness) run(t *testing.T) domain.RunReport {
	t.Helper()
	return h.dispatcher().Run(context.Background(), RunRequest{Cadence: domain.FrequencyDaily, Trigger: SourceManual})
}

func statuses(r domain.RunReport) []domain.OutcomeStatus {
	out := make([]domain.OutcomeStatus, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out = append(out, o.Status)
	}
	return out
}

func TestRunExampleScenario(t *testing.T) {
	t.Parallel()

	optedOut := optedIn("z", "z@z")
	optedOut.EmailNotifications = false
	h := newHarness(t, optedIn("x", "x@x"), optedIn("blank", ""), optedOut)

	report := h.run(t)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []domain.OutcomeStatus{domain.StatusSent, domain.StatusSkipped, domain.StatusSkipped}, statuses(report))
	assert.Equal(t, "msg-x@x", report.Outcomes[0].MessageID)
	assert.Equal(t, domain.SkipNoAddress, report.Outcomes[1].Reason)
	assert.Equal(t, domain.SkipOptedOut, report.Outcomes[2].Reason)
	assert.Equal(t, 1, h.mailer.calls())
	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, 2, report.ContentItems)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, h.sink.count())
}

func TestRunDeliveryTimeoutIsFailedOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("x", "x@x"))
	h.mailer.send = func(context.Context, ports.Message) (ports.Receipt, error) {
		return ports.Receipt{}, context.DeadlineExceeded
	}

	report := h.run(t)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, domain.CauseTimeout, report.Failures[0].Cause)
	assert.Equal(t, "x@x", report.Failures[0].Address)
}

func TestRunHungDeliveryIsBoundedByTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("slow", "slow@x"), optedIn("fast", "fast@x"))
	h.cfg.DeliveryTimeout = 30 * time.Millisecond
	h.mailer.send = func(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
		if msg.To == "slow@x" {
			<-ctx.Done()
			return ports.Receipt{}, ctx.Err()
		}
		return ports.Receipt{MessageID: "ok"}, nil
	}

	report := h.run(t)

	assert.Equal(t, []domain.OutcomeStatus{domain.StatusFailed, domain.StatusSent}, statuses(report))
	assert.Equal(t, domain.CauseTimeout, report.Outcomes[0].Cause)
}

func TestRunFailureNeverSuppressesLaterSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("x", "x@x"), optedIn("y", "y@y"))
	h.mailer.send = func(_ context.Context, msg ports.Message) (ports.Receipt, error) {
		if msg.To == "x@x" {
			return ports.Receipt{}, &domain.DeliveryError{Cause: domain.CauseRejected, Err: errors.New("mailbox unavailable")}
		}
		return ports.Receipt{MessageID: "id-y"}, nil
	}

	report := h.run(t)

	assert.Equal(t, []domain.OutcomeStatus{domain.StatusFailed, domain.StatusSent}, statuses(report))
	assert.Equal(t, domain.CauseRejected, report.Outcomes[0].Cause)
	assert.Equal(t, "id-y", report.Outcomes[1].MessageID)
}

func TestRunContentFailureDegradesButDelivers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("x", "x@x"), optedIn("y", "y@y"))
	h.source.err = &domain.ContentFetchError{Source: "newsapi", Err: errors.New("503")}

	report := h.run(t)

	assert.True(t, report.ContentDegraded)
	assert.Equal(t, 0, report.ContentItems)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "newsapi")
	assert.Equal(t, 2, report.Sent)
	require.Equal(t, 2, h.mailer.calls())
	assert.Contains(t, h.mailer.sent[0].HTML, render.Placeholder)
}

func TestRunFetchesContentOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("a", "a@x"), optedIn("b", "b@x"), optedIn("c", "c@x"))
	h.cfg.Workers = 3

	h.run(t)

	assert.Equal(t, int32(1), h.source.calls.Load())
	assert.Equal(t, int32(1), h.directory.calls.Load())
}

func TestRunDirectoryFailureAbortsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.directory.err = errors.New("connection refused")

	report := h.run(t)

	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Contains(t, report.Error, "connection refused")
	assert.Zero(t, report.Total)
	assert.Zero(t, h.mailer.calls())
	assert.Equal(t, 1, h.sink.count())
}

func TestRunEmptyDirectoryIsValid(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	report := h.run(t)

	assert.Equal(t, domain.RunCompleted, report.Status)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Outcomes)
}

func TestRunOutcomeCountEqualsRecipientsInOrder(t *testing.T) {
	t.Parallel()

	var recipients []domain.RecipientProfile
	for i := 0; i < 40; i++ {
		r := optedIn(fmt.Sprintf("u%02d", i), fmt.Sprintf("u%02d@x", i))
		switch i % 4 {
		case 1:
			r.EmailNotifications = false
		case 2:
			r.Email = "  "
		}
		recipients = append(recipients, r)
	}
	h := newHarness(t, recipients...)
	h.cfg.Workers = 8
	h.mailer.send = func(_ context.Context, msg ports.Message) (ports.Receipt, error) {
		if msg.To == "u03@x" || msg.To == "u07@x" {
			return ports.Receipt{}, errors.New("boom")
		}
		return ports.Receipt{MessageID: msg.To}, nil
	}

	report := h.run(t)

	require.Len(t, report.Outcomes, len(recipients))
	assert.Equal(t, len(recipients), report.Sent+report.Failed+report.Skipped)
	for i, o := range report.Outcomes {
		assert.Equal(t, recipients[i].ID, o.RecipientID)
	}
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 20, report.Skipped)
	assert.Equal(t, 18, report.Sent)
}

func TestRunOptedOutNeverReachesMailer(t *testing.T) {
	t.Parallel()

	out := optedIn("z", "z@z")
	out.EmailNotifications = false
	h := newHarness(t, out, out, out)

	report := h.run(t)

	assert.Zero(t, h.mailer.calls())
	assert.Equal(t, 3, report.Skipped)
}

func TestRunSkipsFrequencyMismatch(t *testing.T) {
	t.Parallel()

	weekly := optedIn("w", "w@x")
	weekly.Frequency = domain.FrequencyWeekly
	h := newHarness(t, weekly)

	report := h.run(t)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, domain.SkipFrequency, report.Outcomes[0].Reason)
}

func TestRunRecoversRecipientPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("x", "x@x"), optedIn("y", "y@y"))
	h.mailer.send = func(_ context.Context, msg ports.Message) (ports.Receipt, error) {
		if msg.To == "x@x" {
			panic("provider sdk bug")
		}
		return ports.Receipt{MessageID: "ok"}, nil
	}

	report := h.run(t)

	assert.Equal(t, []domain.OutcomeStatus{domain.StatusFailed, domain.StatusSent}, statuses(report))
	assert.Equal(t, domain.CausePanic, report.Outcomes[0].Cause)
	assert.Contains(t, report.Outcomes[0].Error, "provider sdk bug")
}

type failingRenderer struct{}

func (failingRenderer) Render(domain.ContentBatch, domain.RecipientProfile, domain.Frequency) (domain.RenderedDigest, error) {
	return domain.RenderedDigest{}, errors.New("template broke")
}

func TestRunRenderFailureIsFailedOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("x", "x@x"))
	h.renderer = failingRenderer{}

	report := h.run(t)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, domain.CauseRender, report.Failures[0].Cause)
	assert.Zero(t, h.mailer.calls())
}

func TestRunCancellationSkipsRemainingRecipients(t *testing.T) {
	t.Parallel()

	h := newHarness(t, optedIn("a", "a@x"), optedIn("b", "b@x"), optedIn("c", "c@x"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attemptErr error
	h.mailer.send = func(attemptCtx context.Context, _ ports.Message) (ports.Receipt, error) {
		cancel()
		attemptErr = attemptCtx.Err()
		return ports.Receipt{MessageID: "ok"}, nil
	}

	report := h.dispatcher().Run(ctx, RunRequest{Cadence: domain.FrequencyDaily, Trigger: SourceCron})

	require.NoError(t, attemptErr, "in-flight attempt must survive run cancellation")
	assert.Equal(t, []domain.OutcomeStatus{domain.StatusSent, domain.StatusSkipped, domain.StatusSkipped}, statuses(report))
	assert.Equal(t, domain.SkipCancelled, report.Outcomes[1].Reason)
	assert.Equal(t, domain.SkipCancelled, report.Outcomes[2].Reason)
	assert.Equal(t, 1, h.mailer.calls())
}

func TestRunUsesRecipientItemLimit(t *testing.T) {
	t.Parallel()

	r := optedIn("x", "x@x")
	r.NewsCount = 1
	h := newHarness(t, r)

	h.run(t)

	require.Equal(t, 1, h.mailer.calls())
	assert.Contains(t, h.mailer.sent[0].Text, "A")
	assert.NotContains(t, h.mailer.sent[0].Text, "2. B")
	assert.Equal(t, "Daily News Update", h.mailer.sent[0].Subject)
	assert.Equal(t, "onboarding@resend.dev", h.mailer.sent[0].From)
}
