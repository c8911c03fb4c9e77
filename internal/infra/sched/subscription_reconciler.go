package sched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/repository"
	"entitlement-sync/internal/domain/ports/usecase"
	"entitlement-sync/internal/infra/metrics"
	"entitlement-sync/internal/infra/worker"
)

// SubscriptionReconciler periodically walks every profile that references a
// subscription and lets the use case downgrade those the provider has ended.
// It covers expiries and payment failures that never went through Cancel.
type SubscriptionReconciler struct {
	uc        usecase.SubscriptionReconciler
	profiles  repository.ProfileRepository
	interval  time.Duration
	batchSize int
	workers   int
	log       *zerolog.Logger
}

func NewSubscriptionReconciler(uc usecase.SubscriptionReconciler, profiles repository.ProfileRepository, interval time.Duration, batchSize, workers int, logger *zerolog.Logger) *SubscriptionReconciler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "SubscriptionReconciler").Logger()
	return &SubscriptionReconciler{uc: uc, profiles: profiles, interval: interval, batchSize: batchSize, workers: workers, log: &l}
}

// Run blocks until ctx is done, reconciling once per interval.
func (w *SubscriptionReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("workers", w.workers).Msg("starting subscription reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping subscription reconciler")
			return ctx.Err()
		case <-ticker.C:
			checked, downgraded, err := w.RunOnce(ctx)
			metrics.IncReconcileRun(err)
			if err != nil {
				w.log.Error().Err(err).Msg("reconcile pass aborted")
			}
			if downgraded > 0 {
				w.log.Info().Int("checked", checked).Int("downgraded", downgraded).Msg("reconcile pass finished")
			}
		}
	}
}

// RunOnce performs a single full pass, checking each page on a bounded pool.
// Per-profile failures are logged and skipped; only a listing failure or
// cancellation aborts the pass.
func (w *SubscriptionReconciler) RunOnce(ctx context.Context) (checked, downgraded int, err error) {
	var nChecked, nDown atomic.Int64
	counts := func() (int, int) { return int(nChecked.Load()), int(nDown.Load()) }

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			c, d := counts()
			return c, d, err
		}
		page, err := w.profiles.ListWithSubscription(ctx, nil, after, w.batchSize)
		if err != nil {
			c, d := counts()
			return c, d, err
		}

		pool := worker.NewPool(w.workers, w.log)
		pool.Start(ctx)
		var submitErr error
		for _, p := range page {
			if submitErr = pool.Submit(ctx, w.check(p, &nChecked, &nDown)); submitErr != nil {
				break
			}
		}
		pool.Stop()
		if submitErr != nil {
			c, d := counts()
			return c, d, submitErr
		}

		if len(page) < w.batchSize {
			c, d := counts()
			return c, d, nil
		}
		after = page[len(page)-1].ID
	}
}

func (w *SubscriptionReconciler) check(p *model.Profile, nChecked, nDown *atomic.Int64) worker.Task {
	return func(ctx context.Context) error {
		nChecked.Add(1)
		down, err := w.uc.Reconcile(ctx, p)
		metrics.IncReconcileCheck(err)
		if err != nil {
			w.log.Warn().Err(err).Str("user_id", p.ID).Msg("reconcile failed")
			return nil
		}
		if down {
			nDown.Add(1)
			metrics.AddReconcileDowngrades(1)
		}
		return nil
	}
}
