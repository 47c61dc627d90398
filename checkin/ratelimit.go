package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DayLayout formats the day component of a rate limit key.
const DayLayout = "2006-01-02"

// Limiter enforces one check-in per (user, business) per day and a global
// per-user daily cap. Check is an early read used to reject obvious repeats;
// the authoritative guard is the conditional write in EventStore.CreateEvent,
// whose sentinel errors Translate maps to the same rejections.
type Limiter struct {
	store      EventStore
	dailyLimit int
	loc        *time.Location
}

func NewLimiter(store EventStore, dailyLimit int, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{store: store, dailyLimit: dailyLimit, loc: loc}
}

// DailyLimit is the global per-user cap.
func (l *Limiter) DailyLimit() int {
	return l.dailyLimit
}

// Day returns the day key for t and the instant that day ends.
func (l *Limiter) Day(t time.Time) (string, time.Time) {
	local := t.In(l.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
	return start.Format(DayLayout), start.AddDate(0, 0, 1)
}

// Check returns a *Rejection when either cap is already exhausted for the day.
func (l *Limiter) Check(ctx context.Context, userID, businessID string, now time.Time) error {
	day, resetsAt := l.Day(now)

	done, err := l.store.HasCheckedIn(ctx, userID, businessID, day)
	if err != nil {
		return fmt.Errorf("check existing check-in: %w", err)
	}
	if done {
		return l.alreadyCheckedIn(businessID, resetsAt)
	}

	count, err := l.store.CountForDay(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("count daily check-ins: %w", err)
	}
	if count >= l.dailyLimit {
		return l.limitReached(count, resetsAt)
	}
	return nil
}

// Translate turns store cap sentinels into rejections and passes every other
// error through unchanged.
func (l *Limiter) Translate(err error, businessID string, resetsAt time.Time) error {
	switch {
	case errors.Is(err, ErrDuplicateCheckIn):
		r := l.alreadyCheckedIn(businessID, resetsAt)
		r.Stage = StageRateChecked
		return r
	case errors.Is(err, ErrDailyCapReached):
		r := l.limitReached(l.dailyLimit, resetsAt)
		r.Stage = StageRateChecked
		return r
	}
	return err
}

func (l *Limiter) alreadyCheckedIn(businessID string, resetsAt time.Time) *Rejection {
	r := reject(StageMethodValidated, ReasonAlreadyCheckedIn,
		"already checked in at this business today, next check-in available at %s", resetsAt.Format(time.RFC3339))
	r.Limit = 1
	r.ResetsAt = &resetsAt
	r.ExpectedBusinessID = businessID
	return r
}

func (l *Limiter) limitReached(count int, resetsAt time.Time) *Rejection {
	r := reject(StageMethodValidated, ReasonDailyLimitReached,
		"daily limit of %d check-ins reached (%d today), resets at %s", l.dailyLimit, count, resetsAt.Format(time.RFC3339))
	r.Limit = l.dailyLimit
	r.ResetsAt = &resetsAt
	return r
}
