// Package main is the entry point for the competency hub service: the
// provider callback webhook plus the periodic proctoring reconciliation job.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caretrack/competency-hub/config"
	"github.com/caretrack/competency-hub/internal/application/eventhandler"
	"github.com/caretrack/competency-hub/internal/application/notify"
	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/notification"
	"github.com/caretrack/competency-hub/internal/infrastructure/external/proctor"
	"github.com/caretrack/competency-hub/internal/infrastructure/messaging"
	"github.com/caretrack/competency-hub/internal/infrastructure/observability"
	"github.com/caretrack/competency-hub/internal/infrastructure/persistence/postgres"
	"github.com/caretrack/competency-hub/internal/infrastructure/persistence/redis"
	"github.com/caretrack/competency-hub/internal/infrastructure/scheduler"
	"github.com/caretrack/competency-hub/internal/infrastructure/scheduler/jobs"
	"github.com/caretrack/competency-hub/internal/infrastructure/service"
	httpserver "github.com/caretrack/competency-hub/internal/interface/http"
	"github.com/caretrack/competency-hub/internal/interface/http/handlers"
	"github.com/caretrack/competency-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Setup(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	log.Info("starting",
		"environment", cfg.App.Environment,
		"debug", cfg.App.Debug,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── PostgreSQL ──────────────────────────────────────────────────────

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL (or DB_HOST/DB_USER) must be set")
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database ready")

	assignments := postgres.NewAssignmentRepository(conn)
	revisions := postgres.NewRevisionRepository(conn)
	agencies := postgres.NewAgencyRepository(conn)
	flags := postgres.NewFlagRepository(conn)

	// ── Redis lock ──────────────────────────────────────────────────────

	var locker jobs.Locker
	var redisClient *redis.Client
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, reconciliation lock is in-process only")
		locker = jobs.NewProcessGuard()
	} else {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   3,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		locker = redis.NewLeaseLock(redisClient)
	}

	// ── Observability ───────────────────────────────────────────────────

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	// ── Core application ────────────────────────────────────────────────

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		Logger:         log,
		EnableMetrics:  true,
	})
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error("event bus close failed", "error", err)
		}
	}()

	detector := reconcile.NewDetector(revisions)
	engine := reconcile.NewEngine(assignments, detector, bus, log)

	var sender notification.Sender
	if cfg.Notifier.Endpoint != "" {
		sender = service.NewHTTPNotifier(service.HTTPNotifierConfig{
			Endpoint:  cfg.Notifier.Endpoint,
			AuthToken: cfg.Notifier.AuthToken,
			Timeout:   cfg.Notifier.Timeout,
			Logger:    log,
		})
	} else {
		log.Warn("no notifier endpoint configured, deliveries will only be logged")
		sender = service.NewNotifierStub(log)
	}

	resolver := notify.NewResolver(agencies, agencies, log)
	dispatcher := notify.NewDispatcher(sender, metrics, log)
	onStatusChanged := eventhandler.NewOnStatusChangedHandler(assignments, detector, resolver, dispatcher, log)
	for _, eventType := range onStatusChanged.EventTypes() {
		if err := bus.Subscribe(eventType, onStatusChanged.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}

	provider := proctor.NewClient(proctor.ClientConfig{
		BaseURL: cfg.Proctor.BaseURL,
		Timeout: cfg.Proctor.RequestTimeout,
		Logger:  log,
	})

	// ── Scheduler ───────────────────────────────────────────────────────

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{Logger: log})

		job := jobs.NewReconcileExamsJob(flags, locker, assignments, agencies, provider, engine, jobs.ReconcileExamsConfig{
			PageSize: cfg.Scheduler.PageSize,
			LockKey:  cfg.Scheduler.LockKey,
			LockTTL:  cfg.Scheduler.LockTTL,
			Logger:   log,
			Metrics:  metrics,
		})
		if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval)); err != nil {
			return fmt.Errorf("register reconciliation job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		log.Info("scheduler started", "reconcile_interval", cfg.Scheduler.ReconcileInterval)
	} else {
		log.Warn("scheduler disabled, statuses reconcile only through the webhook")
	}

	// ── HTTP server ─────────────────────────────────────────────────────

	health := handlers.NewHealthHandler(cfg.App.Version, log)
	health.AddCheck("postgres", conn.Ping)
	if redisClient != nil {
		health.AddCheck("redis", redisClient.Ping)
	}

	deps := httpserver.Dependencies{
		Webhook: handlers.NewWebhookHandler(agencies, assignments, engine, metrics, log),
		Health:  health,
		Logger:  log,
	}
	if metrics != nil {
		deps.Metrics = metrics.Handler()
	}

	server := httpserver.NewServer(httpserver.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}, deps)

	serverErr := server.StartAsync()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// ── Graceful shutdown ───────────────────────────────────────────────

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", "error", err)
		}
	}

	log.Info("stopped")
	return nil
}

// ensure the Redis lease satisfies the job's lock contract
var _ jobs.Locker = (*redis.LeaseLock)(nil)
