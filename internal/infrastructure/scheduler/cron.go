// Package scheduler drives digest runs from cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"NewsDigest/internal/config"
	"NewsDigest/internal/ports"
)


// CronScheduler fires registered jobs on wall-clock schedules in one timezone.
type CronScheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	location *time.Location
	entries  map[string]cron.EntryID
	running  bool
	logger   *slog.Logger
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating expressions in loc.
func NewCronScheduler(loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With("component", "scheduler")
	adapter := cronLogger{logger: logger}
	return &CronScheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		location: loc,
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

// Register adds a named schedule. Names are unique.
func (c *CronScheduler) Register(name, spec string, job func(time.Time)) error {
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("schedule %s already registered", name)
	}

	id, err := c.cron.AddFunc(spec, func() {
		job(time.Now().In(c.location))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: parse %q: %w", name, spec, err)
	}
	c.entries[name] = id
	c.logger.Info("schedule registered", "name", name, "cron", spec, "timezone", c.location.String())
	return nil
}

// NextRun reports when the named schedule fires next. It is only known once
// the scheduler has started.
func (c *CronScheduler) NextRun(name string) (time.Time, bool) {
	c.mu.Lock()
	id, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := c.cron.Entry(id)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins firing jobs. Cancelling ctx stops the scheduler.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.cron.Start()
	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Stop prevents new firings and waits for in-flight jobs or ctx, whichever
// ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
