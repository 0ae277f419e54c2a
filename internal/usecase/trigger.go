package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// ErrRunInProgress is returned when a trigger arrives while a run of the same
// cadence is active.
var ErrRunInProgress = errors.New("digest run already in progress")

// Trigger sources recorded on run reports.
const (
	SourceCron   = "cron"
	SourceManual = "manual"
)

// Runner executes one digest run.
type Runner interface {
	Run(ctx context.Context, req RunRequest) domain.RunReport
}

// Schedule binds a cron expression to the cadence it serves.
type Schedule struct {
	Name    string
	Cron    string
	Cadence domain.Frequency
}

// Trigger owns one run flag per cadence. Scheduled ticks and manual requests
// for a cadence claim the same flag, so two runs of one cadence never overlap
// while a daily and a weekly run may proceed side by side.
type Trigger struct {
	runner    Runner
	driver    ports.Scheduler
	schedules []Schedule
	logger    *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	active  map[domain.Frequency]bool
	baseCtx context.Context
}

// NewTrigger wires the cron-like driver with the dispatcher.
func NewTrigger(runner Runner, driver ports.Scheduler, schedules []Schedule, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Trigger{
		runner:    runner,
		driver:    driver,
		schedules: append([]Schedule(nil), schedules...),
		logger:    logger.With("component", "trigger"),
		active:    make(map[domain.Frequency]bool),
		baseCtx:   context.Background(),
	}
}

// Running reports whether any run is currently active.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) > 0
}

// RunningCadence reports whether a run of cadence is currently active.
func (t *Trigger) RunningCadence(cadence domain.Frequency) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[cadence]
}

func (t *Trigger) claim(cadence domain.Frequency) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[cadence] {
		return false
	}
	t.active[cadence] = true
	return true
}

func (t *Trigger) release(cadence domain.Frequency) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, cadence)
}

// Fire runs synchronously unless a run of the same cadence is active, in which
// case it logs the skipped trigger and returns ErrRunInProgress.
func (t *Trigger) Fire(ctx context.Context, cadence domain.Frequency, source string) (domain.RunReport, error) {
	if !t.claim(cadence) {
		t.logger.Warn("trigger skipped, run in progress", "cadence", string(cadence), "source", source)
		return domain.RunReport{}, ErrRunInProgress
	}
	t.wg.Add(1)
	defer t.wg.Done()
	return t.run(ctx, cadence, source)
}

// FireAsync claims the cadence flag and executes the run in the background on
// the trigger's own context, so the caller (an HTTP request) may return at once.
func (t *Trigger) FireAsync(cadence domain.Frequency, source string) error {
	if !t.claim(cadence) {
		t.logger.Warn("trigger skipped, run in progress", "cadence", string(cadence), "source", source)
		return ErrRunInProgress
	}
	ctx := t.context()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_, _ = t.run(ctx, cadence, source)
	}()
	return nil
}

// run expects the cadence flag to be held and always releases it.
func (t *Trigger) run(ctx context.Context, cadence domain.Frequency, source string) (report domain.RunReport, err error) {
	defer t.release(cadence)
	defer func() {
		if p := recover(); p != nil {
			t.logger.Error("digest run panicked", "cadence", string(cadence), "source", source, "panic", p)
			err = fmt.Errorf("digest run panicked: %v", p)
		}
	}()

	report = t.runner.Run(ctx, RunRequest{Cadence: cadence, Trigger: source})
	return report, nil
}

// Start registers every schedule with the driver and starts it.
func (t *Trigger) Start(ctx context.Context) error {
	if t.driver == nil {
		return nil
	}

	t.mu.Lock()
	t.baseCtx = ctx
	t.mu.Unlock()

	for _, schedule := range t.schedules {
		schedule := schedule
		job := func(at time.Time) {
			t.logger.Debug("schedule fired", "schedule", schedule.Name, "at", at)
			_, _ = t.Fire(ctx, schedule.Cadence, SourceCron)
		}
		if err := t.driver.Register(schedule.Name, schedule.Cron, job); err != nil {
			return fmt.Errorf("register schedule %s: %w", schedule.Name, err)
		}
	}

	return t.driver.Start(ctx)
}

// Stop halts the driver and waits for an active run to finish or ctx to end.
func (t *Trigger) Stop(ctx context.Context) error {
	var stopErr error
	if t.driver != nil {
		stopErr = t.driver.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return stopErr
	case <-ctx.Done():
		return errors.Join(stopErr, fmt.Errorf("wait for active run: %w", ctx.Err()))
	}
}

func (t *Trigger) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseCtx
}
