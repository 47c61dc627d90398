package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-backend/checkin"
	"checkin-backend/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(id, user, business, day string, createdAt time.Time) *models.CheckInEvent {
	return &models.CheckInEvent{
		ID:             id,
		UserID:         user,
		BusinessID:     business,
		Method:         models.MethodQRScan,
		Day:            day,
		UserPoints:     10,
		BusinessPoints: 5,
		Verified:       true,
		CreatedAt:      createdAt.UTC(),
	}
}

func TestCreateEventGuards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-1", "u1", "b1", "2024-03-10", now), 2))

	err := s.CreateEvent(ctx, testEvent("ev-2", "u1", "b1", "2024-03-10", now), 2)
	assert.ErrorIs(t, err, checkin.ErrDuplicateCheckIn)

	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-3", "u1", "b2", "2024-03-10", now), 2))

	err = s.CreateEvent(ctx, testEvent("ev-4", "u1", "b3", "2024-03-10", now), 2)
	assert.ErrorIs(t, err, checkin.ErrDailyCapReached)

	// the capped event was rolled back
	_, err = s.Event(ctx, "ev-4")
	assert.ErrorIs(t, err, checkin.ErrEventNotFound)

	done, err := s.HasCheckedIn(ctx, "u1", "b1", "2024-03-10")
	require.NoError(t, err)
	assert.True(t, done)

	count, err := s.CountForDay(ctx, "u1", "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// a new day starts fresh
	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-5", "u1", "b1", "2024-03-11", now.Add(24*time.Hour)), 2))
}

func TestCreditIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := checkin.Credit{EventID: "ev-1", AccountKind: models.AccountUser, AccountID: "u1", Amount: 10}
	require.NoError(t, s.Credit(ctx, c))
	require.NoError(t, s.Credit(ctx, c))

	b, err := s.Balance(ctx, models.AccountUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Balance)

	c.EventID = "ev-2"
	require.NoError(t, s.Credit(ctx, c))
	b, err = s.Balance(ctx, models.AccountUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Balance)

	empty, err := s.Balance(ctx, models.AccountBusiness, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Balance)
}

func TestCreateEventWithCredits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	ev := testEvent("ev-1", "u1", "b1", "2024-03-10", now)
	ev.Credited = true
	ev.CreditedAt = &now
	require.NoError(t, s.CreateEventWithCredits(ctx, ev, 5))

	dup := testEvent("ev-2", "u1", "b1", "2024-03-10", now)
	assert.ErrorIs(t, s.CreateEventWithCredits(ctx, dup, 5), checkin.ErrDuplicateCheckIn)

	user, err := s.Balance(ctx, models.AccountUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), user.Balance)
	biz, err := s.Balance(ctx, models.AccountBusiness, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), biz.Balance)
}

func TestPendingAndMarkCredited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-old", "u1", "b1", "2024-03-10", base), 5))
	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-new", "u2", "b1", "2024-03-10", base.Add(10*time.Minute)), 5))

	pending, err := s.PendingEvents(ctx, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ev-old", pending[0].ID)

	require.NoError(t, s.MarkCredited(ctx, "ev-old", base.Add(time.Hour)))
	require.NoError(t, s.MarkCredited(ctx, "ev-old", base.Add(2*time.Hour)))
	assert.ErrorIs(t, s.MarkCredited(ctx, "missing", base), checkin.ErrEventNotFound)

	ev, err := s.Event(ctx, "ev-old")
	require.NoError(t, err)
	assert.True(t, ev.Credited)
	require.NotNil(t, ev.CreditedAt)
	assert.True(t, ev.CreditedAt.Equal(base.Add(time.Hour)))

	pending, err = s.PendingEvents(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ev-new", pending[0].ID)
}

func TestEventsForBusinessAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-1", "u1", "b1", "2024-03-10", base), 5))
	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-2", "u2", "b1", "2024-03-10", base.Add(time.Minute)), 5))
	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-3", "u1", "b1", "2024-03-11", base.Add(24*time.Hour)), 5))
	require.NoError(t, s.CreateEvent(ctx, testEvent("ev-4", "u1", "b2", "2024-03-10", base), 5))
	require.NoError(t, s.MarkCredited(ctx, "ev-1", base))

	all, err := s.EventsForBusiness(ctx, "b1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ev-3", all[0].ID)

	day, err := s.EventsForBusiness(ctx, "b1", "2024-03-10", 10)
	require.NoError(t, err)
	assert.Len(t, day, 2)

	limited, err := s.EventsForBusiness(ctx, "b1", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := s.BusinessStats(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, &models.CheckInStats{
		BusinessID:     "b1",
		TotalCheckIns:  3,
		UniqueUsers:    2,
		UserPoints:     30,
		BusinessPoints: 15,
		PendingCredits: 2,
	}, stats)
}

func TestBusinessConfigUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	loc, err := s.BusinessLocation(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, s.UpsertBusinessLocation(ctx, &models.BusinessLocation{BusinessID: "b1", Name: "Old", Latitude: 1, Longitude: 2}))
	require.NoError(t, s.UpsertBusinessLocation(ctx, &models.BusinessLocation{BusinessID: "b1", Name: "New", Latitude: 3, Longitude: 4}))
	loc, err = s.BusinessLocation(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, &models.BusinessLocation{BusinessID: "b1", Name: "New", Latitude: 3, Longitude: 4}, loc)

	p, err := s.VerificationPolicy(ctx, "b1", "")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.UpsertVerificationPolicy(ctx, &models.VerificationPolicy{BusinessID: "b1", AcceptedMethods: models.AcceptBoth, RadiusMeters: 80}))
	require.NoError(t, s.UpsertVerificationPolicy(ctx, &models.VerificationPolicy{BusinessID: "b1", AcceptedMethods: models.AcceptQROnly}))
	require.NoError(t, s.UpsertVerificationPolicy(ctx, &models.VerificationPolicy{BusinessID: "b1", MissionType: "brunch", AcceptedMethods: models.AcceptGPSOnly, RadiusMeters: 40}))

	p, err = s.VerificationPolicy(ctx, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, models.AcceptQROnly, p.AcceptedMethods)
	assert.Zero(t, p.RadiusMeters)

	p, err = s.VerificationPolicy(ctx, "b1", "brunch")
	require.NoError(t, err)
	assert.Equal(t, models.AcceptGPSOnly, p.AcceptedMethods)
	assert.Equal(t, 40.0, p.RadiusMeters)
}
