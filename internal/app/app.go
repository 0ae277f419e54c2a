package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/httpapi"
	"NewsDigest/internal/infrastructure/mailer"
	"NewsDigest/internal/infrastructure/metrics"
	"NewsDigest/internal/infrastructure/newsapi"
	"NewsDigest/internal/infrastructure/parser"
	"NewsDigest/internal/infrastructure/scheduler"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/infrastructure/telegram"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/render"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.Store
	registry   *prometheus.Registry
	dispatcher *usecase.Dispatcher
	trigger    *usecase.Trigger
	scheduler  *scheduler.CronScheduler
}

// New validates configuration, opens storage and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	renderer, err := render.New()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mail, err := mailer.New(cfg.Delivery, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks := []ports.ReportSink{
		usecase.NewLogSink(baseLogger),
		metrics.NewRecorder(registry),
		store,
	}
	if notifier := telegram.NewNotifier(cfg.Notifications.Telegram, nil); notifier.Enabled() {
		sinks = append(sinks, notifier)
	}

	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Directory: store,
		Source:    newContentSource(cfg.Content, baseLogger),
		Renderer:  renderer,
		Mailer:    mail,
		Sink:      usecase.NewFanOutSink(baseLogger, sinks...),
		Logger:    baseLogger,
	}, usecase.DispatcherConfig{
		Workers:         cfg.Dispatch.Workers,
		FetchTimeout:    cfg.Content.Timeout,
		DeliveryTimeout: cfg.Delivery.Timeout,
		MaxItems:        cfg.Content.MaxItems,
		Language:        cfg.Content.Language,
		From:            cfg.Delivery.From,
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger)
	trigger := usecase.NewTrigger(dispatcher, cron, schedules(cfg.Scheduler), baseLogger)

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		trigger:    trigger,
		scheduler:  cron,
	}, nil
}

func newContentSource(cfg config.ContentConfig, logger *slog.Logger) ports.ContentSource {
	client := &http.Client{Timeout: 2 * cfg.Timeout}
	if cfg.Timeout <= 0 {
		client.Timeout = 30 * time.Second
	}

	registry := scanner.NewRegistry()
	registry.Register(newsapi.NewClient(client))
	registry.Register(parser.NewHeadlineScanner(client))

	return parser.NewStrategySource(registry, cfg.Sources, logger.With("component", "source"))
}

func schedules(cfg config.SchedulerConfig) []usecase.Schedule {
	out := make([]usecase.Schedule, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		cadence, err := domain.ParseFrequency(s.Cadence)
		if err != nil {
			continue
		}
		name := s.Name
		if name == "" {
			name = string(cadence)
		}
		out = append(out, usecase.Schedule{Name: name, Cron: s.Cron, Cadence: cadence})
	}
	return out
}

// Serve runs the scheduler and the operator API until ctx is cancelled, then
// drains the active run.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.trigger.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, s := range a.cfg.Scheduler.Schedules {
		if next, ok := a.scheduler.NextRun(s.Name); ok {
			a.logger.Info("next digest run", "schedule", s.Name, "at", next)
		}
	}

	handler := httpapi.NewHandler(a.trigger, a.store, a.registry, a.logger)
	server := httpapi.NewServer(a.cfg.HTTP.Addr, handler.Routes(), a.logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			runErr = fmt.Errorf("http server: %w", runErr)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return errors.Join(runErr, server.Shutdown(shutdownCtx), a.trigger.Stop(shutdownCtx))
}

// RunOnce performs a single manual run through the overlap guard.
func (a *Application) RunOnce(ctx context.Context, cadence domain.Frequency) (domain.RunReport, error) {
	return a.trigger.Fire(ctx, cadence, usecase.SourceManual)
}

// Store exposes the recipient and run-history storage for maintenance commands.
func (a *Application) Store() *storage.Store {
	return a.store
}

// Close releases storage.
func (a *Application) Close() error {
	return a.store.Close()
}
