package checkin_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"checkin-backend/checkin"
	"checkin-backend/models"
	"checkin-backend/store/sqlite"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *sqlite.Store
	limiter  *checkin.Limiter
	verifier *checkin.Verifier
	issuer   *checkin.Issuer
	service  *checkin.Service
}

// newFixture wires an atomic-mode service over a fresh sqlite database. A
// non-nil ledger switches issuance to saga mode.
func newFixture(t *testing.T, ledger checkin.Ledger) *fixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "checkin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := checkin.DefaultConfig()
	limiter := checkin.NewLimiter(store, cfg.DailyLimit, time.UTC)
	verifier := checkin.NewVerifier(checkin.NewPolicyResolver(store, cfg.DefaultRadiusMeters), store, limiter, cfg)
	verifier.SetClock(func() time.Time { return testNow })

	issuer, err := checkin.NewIssuer(store, ledger, limiter)
	require.NoError(t, err)
	issuer.SetClock(func() time.Time { return testNow })

	return &fixture{
		store:    store,
		limiter:  limiter,
		verifier: verifier,
		issuer:   issuer,
		service:  checkin.NewService(verifier, issuer),
	}
}

func (f *fixture) business(t *testing.T, id, name string, lat, lng float64) {
	t.Helper()
	require.NoError(t, f.store.UpsertBusinessLocation(context.Background(), &models.BusinessLocation{
		BusinessID: id,
		Name:       name,
		Latitude:   lat,
		Longitude:  lng,
	}))
}

func (f *fixture) policy(t *testing.T, businessID, mission, methods string, radius float64) {
	t.Helper()
	require.NoError(t, f.store.UpsertVerificationPolicy(context.Background(), &models.VerificationPolicy{
		BusinessID:      businessID,
		MissionType:     mission,
		AcceptedMethods: methods,
		RadiusMeters:    radius,
	}))
}

func (f *fixture) balance(t *testing.T, kind, id string) int64 {
	t.Helper()
	b, err := f.store.Balance(context.Background(), kind, id)
	require.NoError(t, err)
	return b.Balance
}

func gpsRequest(user, business string, lat, lng, accuracy float64) checkin.Request {
	return checkin.Request{
		UserID:     user,
		BusinessID: business,
		Location:   &models.DeviceLocation{Latitude: lat, Longitude: lng, AccuracyMeters: accuracy},
	}
}

func requireRejection(t *testing.T, err error, reason checkin.Reason) *checkin.Rejection {
	t.Helper()
	r, ok := checkin.AsRejection(err)
	require.True(t, ok, "expected rejection %s, got %v", reason, err)
	require.Equal(t, reason, r.Reason)
	return r
}
