package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"checkin-backend/checkin"
	"checkin-backend/logger"
)

// Sweeper is satisfied by *checkin.Reconciler.
type Sweeper interface {
	Run(ctx context.Context) (checkin.ReconcileResult, error)
}

// ReconcileScheduler runs the pending-credit sweep on a cron schedule.
type ReconcileScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	spec    string
	timeout time.Duration
	running sync.Mutex
}

// NewReconcileScheduler takes a six-field cron expression (with seconds).
func NewReconcileScheduler(sweeper Sweeper, spec string) *ReconcileScheduler {
	return &ReconcileScheduler{
		cron:    cron.New(cron.WithSeconds()),
		sweeper: sweeper,
		spec:    spec,
		timeout: time.Minute,
	}
}

func (s *ReconcileScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.reconcile); err != nil {
		return err
	}

	s.cron.Start()
	logger.WithFields(logrus.Fields{"schedule": s.spec}).Info("Check-in reconciliation scheduler started")
	return nil
}

func (s *ReconcileScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Check-in reconciliation scheduler stopped")
}

// reconcile skips a tick while the previous sweep is still running.
func (s *ReconcileScheduler) reconcile() {
	if !s.running.TryLock() {
		logger.Warn("Previous check-in reconciliation still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.sweeper.Run(ctx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Error("Check-in reconciliation failed")
	}
}

// TriggerManual runs one sweep immediately.
func (s *ReconcileScheduler) TriggerManual(ctx context.Context) (checkin.ReconcileResult, error) {
	s.running.Lock()
	defer s.running.Unlock()
	return s.sweeper.Run(ctx)
}
