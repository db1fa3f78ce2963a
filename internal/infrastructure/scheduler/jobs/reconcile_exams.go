// Package jobs contains the scheduled jobs run by this service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/flag"
	"github.com/caretrack/competency-hub/internal/infrastructure/observability"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCKING
// ══════════════════════════════════════════════════════════════════════════════

// Locker gates a tick so only one instance reconciles at a time. Acquire
// returns a release func and true on success, or false without error when
// another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// ProcessGuard is the in-process Locker used when no Redis is configured. It
// only protects against overlapping ticks within one instance.
type ProcessGuard struct {
	held atomic.Bool
}

// NewProcessGuard creates an in-process lock.
func NewProcessGuard() *ProcessGuard {
	return &ProcessGuard{}
}

// Acquire takes the guard if it is free.
func (g *ProcessGuard) Acquire(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, bool, error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	release := func(context.Context) error {
		g.held.Store(false)
		return nil
	}
	return release, true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE EXAMS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StatusFetcher fetches the provider's raw status for one assignment.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, cred agency.ProviderCredential, courseID string, activityID int64, participantID string) (string, error)
}

// ReconcileExamsConfig contains configuration for ReconcileExamsJob.
type ReconcileExamsConfig struct {
	// PageSize is the keyset page size for candidate listing.
	PageSize int

	// LockKey is the distributed lock key for the tick.
	LockKey string

	// LockTTL bounds how long a crashed holder can block other instances.
	LockTTL time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Metrics records tick and per-item outcomes. Optional.
	Metrics *observability.Metrics
}

// DefaultReconcileExamsConfig returns sensible defaults.
func DefaultReconcileExamsConfig() ReconcileExamsConfig {
	return ReconcileExamsConfig{
		PageSize: 100,
		LockKey:  "locks:reconcile-exams",
		LockTTL:  10 * time.Minute,
	}
}

// ReconcileExamsJob polls the proctoring provider for every in-flight
// proctored exam assignment and applies the resulting verdicts. One provider
// or agency failure skips that item only; a page listing failure aborts the
// tick, since continuing would silently drop the rest of the backlog.
type ReconcileExamsJob struct {
	flags       flag.Repository
	locker      Locker
	assignments assignment.Repository
	agencies    agency.Repository
	provider    StatusFetcher
	engine      *reconcile.Engine
	config      ReconcileExamsConfig
	logger      *slog.Logger
}

// NewReconcileExamsJob creates the reconciliation job.
func NewReconcileExamsJob(
	flags flag.Repository,
	locker Locker,
	assignments assignment.Repository,
	agencies agency.Repository,
	provider StatusFetcher,
	engine *reconcile.Engine,
	config ReconcileExamsConfig,
) *ReconcileExamsJob {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.LockKey == "" {
		config.LockKey = "locks:reconcile-exams"
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Minute
	}

	return &ReconcileExamsJob{
		flags:       flags,
		locker:      locker,
		assignments: assignments,
		agencies:    agencies,
		provider:    provider,
		engine:      engine,
		config:      config,
		logger:      config.Logger.With("job", "reconcile_exams"),
	}
}

// Name implements scheduler.Job.
func (j *ReconcileExamsJob) Name() string {
	return "reconcile_exams"
}

// Description implements scheduler.Job.
func (j *ReconcileExamsJob) Description() string {
	return "Polls the proctoring provider for in-flight proctored exams and reconciles their statuses"
}

// Run executes one reconciliation tick.
func (j *ReconcileExamsJob) Run(ctx context.Context) error {
	start := time.Now()

	// Fail closed: a missing flag row disables the job.
	enabled, err := j.flags.IsEnabled(ctx, flag.KeyExamProctoring)
	if err != nil {
		j.config.Metrics.RecordTick("failed", time.Since(start).Seconds())
		return fmt.Errorf("read proctoring flag: %w", err)
	}
	if !enabled {
		j.logger.Debug("proctoring reconciliation disabled by feature flag")
		j.config.Metrics.RecordTick("disabled", time.Since(start).Seconds())
		return nil
	}

	release, acquired, err := j.locker.Acquire(ctx, j.config.LockKey, j.config.LockTTL)
	if err != nil {
		j.config.Metrics.RecordTick("failed", time.Since(start).Seconds())
		return fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !acquired {
		j.logger.Info("reconcile tick already running elsewhere, skipping")
		j.config.Metrics.RecordTick("skipped", time.Since(start).Seconds())
		return nil
	}
	defer func() {
		// Release with a fresh context so shutdown cancellation cannot leave
		// the lock held for the full TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			j.logger.Error("failed to release reconcile lock", "error", err)
		}
	}()

	processed, err := j.reconcileAll(ctx)
	if err != nil {
		j.config.Metrics.RecordTick("failed", time.Since(start).Seconds())
		return err
	}

	j.logger.Info("reconcile tick completed",
		"processed", processed,
		"duration", time.Since(start).String(),
	)
	j.config.Metrics.RecordTick("completed", time.Since(start).Seconds())
	return nil
}

// reconcileAll walks the candidate backlog page by page.
func (j *ReconcileExamsJob) reconcileAll(ctx context.Context) (int, error) {
	credentials := make(map[string]agency.ProviderCredential)
	var afterID int64
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		page, err := j.assignments.ListProctoredCandidates(ctx, afterID, j.config.PageSize)
		if err != nil {
			return processed, fmt.Errorf("list candidates after id %d: %w", afterID, err)
		}
		if len(page) == 0 {
			return processed, nil
		}

		for _, a := range page {
			afterID = a.ID
			j.reconcileOne(ctx, credentials, a)
			processed++
		}

		if len(page) < j.config.PageSize {
			return processed, nil
		}
	}
}

// reconcileOne checks one assignment against the provider. Failures are
// logged and counted, never propagated: one broken agency or provider hiccup
// must not starve the rest of the backlog.
func (j *ReconcileExamsJob) reconcileOne(ctx context.Context, credentials map[string]agency.ProviderCredential, a *assignment.CompetencyAssignment) {
	cred, ok := credentials[a.AgencyID]
	if !ok {
		ag, err := j.agencies.FindByID(ctx, a.AgencyID)
		if err != nil {
			j.logger.Error("failed to load agency for assignment",
				"assignment_id", a.ID,
				"agency_id", a.AgencyID,
				"error", err,
			)
			j.config.Metrics.RecordItem("agency_error")
			return
		}
		cred = ag.Credential
		credentials[a.AgencyID] = cred
	}

	raw, err := j.provider.FetchStatus(ctx, cred, a.ExamDefinitionID, a.ID, a.SubjectUserID)
	if err != nil {
		j.logger.Error("provider status fetch failed",
			"assignment_id", a.ID,
			"agency_id", a.AgencyID,
			"error", err,
		)
		j.config.Metrics.RecordProviderRequest("error")
		j.config.Metrics.RecordItem("fetch_error")
		return
	}
	j.config.Metrics.RecordProviderRequest("ok")

	outcome, err := j.engine.ApplyProviderStatus(ctx, a, raw)
	if err != nil {
		j.logger.Error("failed to apply provider status",
			"assignment_id", a.ID,
			"provider_status", raw,
			"error", err,
		)
		j.config.Metrics.RecordItem("apply_error")
		return
	}
	j.config.Metrics.RecordItem(string(outcome))
}
