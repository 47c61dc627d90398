package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"checkin-backend/logger"
	"checkin-backend/metrics"
)

// ReconcilerConfig captures the dependencies required to construct a Reconciler.
type ReconcilerConfig struct {
	Store      EventStore
	Ledger     Ledger
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

// Reconciler completes saga-mode events whose credits were interrupted.
type Reconciler struct {
	store      EventStore
	ledger     Ledger
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	metrics    *metrics.CheckInMetrics
}

// ReconcileResult summarises one sweep.
type ReconcileResult struct {
	Scanned  int
	Credited int
	Failed   int
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		store:      cfg.Store,
		ledger:     cfg.Ledger,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		now:        cfg.Now,
		metrics:    metrics.CheckIns(),
	}
}

// Run reapplies credits for every pending event older than the stale window.
// Events that fail stay pending for the next run.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	now := r.now()

	pending, err := r.store.PendingEvents(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return result, fmt.Errorf("load pending check-ins: %w", err)
	}
	result.Scanned = len(pending)

	for idx := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ev := &pending[idx]
		if err := applyCredits(ctx, r.store, r.ledger, ev, r.now(), r.metrics); err != nil {
			result.Failed++
			logger.WithFields(logrus.Fields{
				"event_id": ev.ID,
				"error":    err,
			}).Warn("reconcile check-in credits failed")
			continue
		}
		result.Credited++
	}

	r.metrics.RecordReconciled(result.Credited)
	if result.Scanned > 0 {
		logger.WithFields(logrus.Fields{
			"scanned":  result.Scanned,
			"credited": result.Credited,
			"failed":   result.Failed,
		}).Info("check-in reconciliation finished")
	}
	return result, nil
}
