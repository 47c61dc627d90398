package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"checkin-backend/logger"
	"checkin-backend/metrics"
	"checkin-backend/models"
)

// Issuance modes
const (
	ModeAtomic = "atomic"
	ModeSaga   = "saga"
)

// Issuer records accepted check-ins and credits both the user and the
// business exactly once per event.
//
// In atomic mode the store writes the event, the daily count and both
// credits in one transaction. In saga mode the event is written first with
// Credited=false, credits go through the Ledger keyed by event id, and the
// event is flipped to credited; a Reconciler finishes events left pending.
type Issuer struct {
	store   EventStore
	atomic  AtomicStore
	ledger  Ledger
	limiter *Limiter
	now     func() time.Time
	metrics *metrics.CheckInMetrics
}

// NewIssuer uses saga mode when ledger is non-nil; otherwise store must
// implement AtomicStore.
func NewIssuer(store EventStore, ledger Ledger, limiter *Limiter) (*Issuer, error) {
	i := &Issuer{
		store:   store,
		ledger:  ledger,
		limiter: limiter,
		now:     time.Now,
		metrics: metrics.CheckIns(),
	}
	if ledger == nil {
		atomic, ok := store.(AtomicStore)
		if !ok {
			return nil, errors.New("issuer needs a ledger or a store that writes credits atomically")
		}
		i.atomic = atomic
	}
	return i, nil
}

// SetClock overrides the time source.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

func (i *Issuer) Mode() string {
	if i.atomic != nil {
		return ModeAtomic
	}
	return ModeSaga
}

// Issue persists the event for an accepted check-in and applies both credits.
// Losing a race for the same (user, business, day) yields an
// ALREADY_CHECKED_IN_TODAY rejection and writes nothing.
func (i *Issuer) Issue(ctx context.Context, accepted *AcceptedCheckIn) (*models.CheckInEvent, error) {
	if accepted == nil || !accepted.verified {
		return nil, ErrNotVerified
	}

	ev := newEvent(accepted, i.now())
	fields := logrus.Fields{
		"event_id":    ev.ID,
		"user_id":     ev.UserID,
		"business_id": ev.BusinessID,
		"day":         ev.Day,
		"mode":        i.Mode(),
	}

	if i.atomic != nil {
		ev.Credited = true
		ev.CreditedAt = &ev.CreatedAt
		if err := i.atomic.CreateEventWithCredits(ctx, ev, i.limiter.DailyLimit()); err != nil {
			return nil, i.createFailed(err, accepted, fields)
		}
		i.metrics.RecordIssued(ModeAtomic)
		i.metrics.RecordCredited(models.AccountUser, ev.UserPoints)
		i.metrics.RecordCredited(models.AccountBusiness, ev.BusinessPoints)
		logger.WithFields(fields).Info("check-in issued")
		return ev, nil
	}

	if err := i.store.CreateEvent(ctx, ev, i.limiter.DailyLimit()); err != nil {
		return nil, i.createFailed(err, accepted, fields)
	}
	i.metrics.RecordIssued(ModeSaga)

	if err := applyCredits(ctx, i.store, i.ledger, ev, i.now(), i.metrics); err != nil {
		// the event stands; the reconciler retries the credits
		fields["error"] = err
		logger.WithFields(fields).Warn("check-in recorded, credits pending")
		return ev, nil
	}
	logger.WithFields(fields).Info("check-in issued")
	return ev, nil
}

func (i *Issuer) createFailed(err error, accepted *AcceptedCheckIn, fields logrus.Fields) error {
	translated := i.limiter.Translate(err, accepted.BusinessID, accepted.ResetsAt)
	if r, ok := AsRejection(translated); ok {
		i.metrics.RecordRejected(string(r.Reason))
		fields["reason"] = r.Reason
		logger.WithFields(fields).Info("check-in lost issuance race")
		return r
	}
	fields["error"] = err
	logger.WithFields(fields).Error("check-in issuance failed")
	return fmt.Errorf("record check-in: %w", err)
}

// applyCredits credits both parties and marks the event credited. Each credit
// is idempotent, so it is safe to call again for a partially credited event.
func applyCredits(ctx context.Context, store EventStore, ledger Ledger, ev *models.CheckInEvent, now time.Time, m *metrics.CheckInMetrics) error {
	for _, c := range EventCredits(ev) {
		if err := ledger.Credit(ctx, c); err != nil {
			m.RecordCreditFailure(c.AccountKind)
			return fmt.Errorf("credit %s %s: %w", c.AccountKind, c.AccountID, err)
		}
		m.RecordCredited(c.AccountKind, c.Amount)
	}
	if err := store.MarkCredited(ctx, ev.ID, now); err != nil {
		return fmt.Errorf("mark event %s credited: %w", ev.ID, err)
	}
	ev.Credited = true
	ev.CreditedAt = &now
	return nil
}

func newEvent(a *AcceptedCheckIn, now time.Time) *models.CheckInEvent {
	ev := &models.CheckInEvent{
		ID:             uuid.NewString(),
		UserID:         a.UserID,
		BusinessID:     a.BusinessID,
		MissionType:    a.MissionType,
		Method:         a.Method,
		Day:            a.Day,
		DistanceMeters: a.DistanceMeters,
		UserPoints:     a.UserPoints,
		BusinessPoints: a.BusinessPoints,
		Verified:       true,
		CreatedAt:      now.UTC(),
	}
	if a.Location != nil {
		lat, lng, acc := a.Location.Latitude, a.Location.Longitude, a.Location.AccuracyMeters
		ev.Latitude = &lat
		ev.Longitude = &lng
		ev.AccuracyMeters = &acc
	}
	return ev
}
