package checkin

import (
	"context"
	"time"

	"checkin-backend/models"
)

// EventStore persists check-in events. CreateEvent must be a single atomic
// conditional write: it fails with ErrDuplicateCheckIn when the (user,
// business, day) key exists and with ErrDailyCapReached when the user already
// has dailyLimit events that day, and in either case writes nothing.
type EventStore interface {
	HasCheckedIn(ctx context.Context, userID, businessID, day string) (bool, error)
	CountForDay(ctx context.Context, userID, day string) (int, error)
	CreateEvent(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error
	MarkCredited(ctx context.Context, eventID string, at time.Time) error
	PendingEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.CheckInEvent, error)
}

// AtomicStore is implemented by stores that own the point balances and can
// write the event and both credits in one transaction.
type AtomicStore interface {
	CreateEventWithCredits(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error
}

// PolicySource returns the configured policy, or nil when none exists.
type PolicySource interface {
	VerificationPolicy(ctx context.Context, businessID, missionType string) (*models.VerificationPolicy, error)
}

// LocationSource returns the business location, or nil when it is unknown.
type LocationSource interface {
	BusinessLocation(ctx context.Context, businessID string) (*models.BusinessLocation, error)
}

// Credit is one relative increment of a point balance on behalf of an event.
type Credit struct {
	EventID     string
	AccountKind string
	AccountID   string
	Amount      int64
}

// IdempotencyKey identifies the credit across retries.
func (c Credit) IdempotencyKey() string {
	return c.EventID + ":" + c.AccountKind
}

// Ledger applies credits by relative increment. Applying the same credit
// twice must be a no-op.
type Ledger interface {
	Credit(ctx context.Context, c Credit) error
}

// EventCredits returns the user and business credits owed for ev.
func EventCredits(ev *models.CheckInEvent) []Credit {
	return []Credit{
		{EventID: ev.ID, AccountKind: models.AccountUser, AccountID: ev.UserID, Amount: ev.UserPoints},
		{EventID: ev.ID, AccountKind: models.AccountBusiness, AccountID: ev.BusinessID, Amount: ev.BusinessPoints},
	}
}
