package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

type fakeDirectory struct {
	recipients []domain.RecipientProfile
	err        error
	calls      atomic.Int32
}

func (f *fakeDirectory) ListRecipients(_ context.Context, _ domain.Frequency) ([]domain.RecipientProfile, error) {
	f.calls.Add(1)
	return f.recipients, f.err
}

type fakeSource struct {
	items []domain.ContentItem
	err   error
	calls atomic.Int32
}

func (f *fakeSource) FetchTop(_ context.Context, req ports.FetchRequest) (domain.ContentBatch, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.ContentBatch{}, f.err
	}
	return domain.NewContentBatch(f.items, req.Day), nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []ports.Message
	send func(ctx context.Context, msg ports.Message) (ports.Receipt, error)
}

func (f *fakeMailer) Send(ctx context.Context, msg ports.Message) (ports.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.send != nil {
		return f.send(ctx, msg)
	}
	return ports.Receipt{MessageID: "msg-" + msg.To}, nil
}

func (f *fakeMailer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMailer) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	reports []domain.RunReport
	err     error
	panics  bool
}

func (s *recordingSink) Publish(_ context.Context, report domain.RunReport) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

type fakeDriver struct {
	mu      sync.Mutex
	jobs    map[string]func(time.Time)
	specs   map[string]string
	started bool
	stopped bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{jobs: map[string]func(time.Time){}, specs: map[string]string{}}
}

func (d *fakeDriver) Register(name, spec string, job func(time.Time)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs[name] = job
	d.specs[name] = spec
	return nil
}

func (d *fakeDriver) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDriver) fire(name string) {
	d.mu.Lock()
	job := d.jobs[name]
	d.mu.Unlock()
	job(time.Now())
}

func optedIn(id, addr string) domain.RecipientProfile {
	return domain.RecipientProfile{ID: id, Username: id, Email: addr, EmailNotifications: true, Frequency: domain.FrequencyDaily}
}
