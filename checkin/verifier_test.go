package checkin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-backend/checkin"
	"checkin-backend/geo"
	"checkin-backend/models"
	"checkin-backend/qrpayload"
)

func TestVerifyAcceptsNearbyGPS(t *testing.T) {
	f := newFixture(t, nil)
	f.business(t, "biz_berlin", "Berliner Kaffee", 52.5201, 13.4052)

	accepted, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_berlin", 52.5200, 13.4050, 20))
	require.NoError(t, err)

	assert.Equal(t, models.MethodGPS, accepted.Method)
	assert.Equal(t, "Berliner Kaffee", accepted.BusinessName)
	require.NotNil(t, accepted.DistanceMeters)
	assert.Greater(t, *accepted.DistanceMeters, 15.0)
	assert.Less(t, *accepted.DistanceMeters, 20.0)
	assert.Equal(t, 100.0, *accepted.RadiusMeters)
	assert.Equal(t, "2024-03-10", accepted.Day)
	assert.Equal(t, int64(10), accepted.UserPoints)
	assert.Equal(t, int64(5), accepted.BusinessPoints)
}

func TestVerifyRejectsFarGPS(t *testing.T) {
	f := newFixture(t, nil)
	f.business(t, "biz_berlin", "Berliner Kaffee", 52.5201, 13.4052)

	_, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_berlin", 52.5300, 13.4050, 20))
	r := requireRejection(t, err, checkin.ReasonOutOfRange)

	require.NotNil(t, r.DistanceMeters)
	assert.InDelta(t, 1100, *r.DistanceMeters, 15)
	assert.Equal(t, 100.0, *r.RadiusMeters)
	assert.Equal(t, checkin.StagePolicyResolved, r.Stage)
}

func TestVerifyRadiusBoundary(t *testing.T) {
	const (
		bizLat, bizLng   = 48.8566, 2.3522
		userLat, userLng = 48.8570, 2.3530
	)
	d := geo.Distance(userLat, userLng, bizLat, bizLng)

	t.Run("exactly at radius", func(t *testing.T) {
		f := newFixture(t, nil)
		f.business(t, "biz_paris", "Paris", bizLat, bizLng)
		f.policy(t, "biz_paris", "", models.AcceptGPSOnly, d)

		accepted, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_paris", userLat, userLng, 10))
		require.NoError(t, err)
		assert.Equal(t, d, *accepted.DistanceMeters)
	})

	t.Run("one meter short", func(t *testing.T) {
		f := newFixture(t, nil)
		f.business(t, "biz_paris", "Paris", bizLat, bizLng)
		f.policy(t, "biz_paris", "", models.AcceptGPSOnly, d-1)

		_, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_paris", userLat, userLng, 10))
		r := requireRejection(t, err, checkin.ReasonOutOfRange)
		assert.Equal(t, d, *r.DistanceMeters)
		assert.Equal(t, d-1, *r.RadiusMeters)
	})
}

func TestVerifyHalvesRadiusOnPoorAccuracy(t *testing.T) {
	// roughly 75m north of the business
	const bizLat, bizLng = 40.0, -3.0
	userLat := bizLat + 75.0/111195.0

	f := newFixture(t, nil)
	f.business(t, "biz_madrid", "Madrid", bizLat, bizLng)

	accepted, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_madrid", userLat, bizLng, 50))
	require.NoError(t, err)
	assert.Equal(t, 100.0, *accepted.RadiusMeters)

	_, err = f.verifier.Verify(context.Background(), gpsRequest("user_2", "biz_madrid", userLat, bizLng, 60))
	r := requireRejection(t, err, checkin.ReasonOutOfRange)
	assert.Equal(t, 50.0, *r.RadiusMeters)
	assert.Equal(t, 60.0, *r.AccuracyMeters)
}

type spyLocations struct {
	calls int
}

func (s *spyLocations) BusinessLocation(ctx context.Context, businessID string) (*models.BusinessLocation, error) {
	s.calls++
	return &models.BusinessLocation{BusinessID: businessID, Latitude: 0, Longitude: 0}, nil
}

func TestVerifyQROnlyRejectsGPSWithoutDistance(t *testing.T) {
	f := newFixture(t, nil)
	f.policy(t, "biz_42", "", models.AcceptQROnly, 0)

	spy := &spyLocations{}
	v := checkin.NewVerifier(checkin.NewPolicyResolver(f.store, 100), spy, f.limiter, checkin.DefaultConfig())

	_, err := v.Verify(context.Background(), gpsRequest("user_1", "biz_42", 0, 0, 5))
	r := requireRejection(t, err, checkin.ReasonMethodNotAllowed)

	assert.Equal(t, models.MethodGPS, r.Method)
	assert.Equal(t, models.AcceptQROnly, r.AcceptedMethods)
	assert.Nil(t, r.DistanceMeters)
	assert.Zero(t, spy.calls, "business location must not be consulted")
}

func TestVerifyGPSOnlyRejectsQR(t *testing.T) {
	f := newFixture(t, nil)
	f.policy(t, "biz_42", "", models.AcceptGPSOnly, 0)

	payload, err := qrpayload.Encode("biz_42", "Joe's Cafe")
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), checkin.Request{UserID: "user_1", BusinessID: "biz_42", QRPayload: payload})
	r := requireRejection(t, err, checkin.ReasonMethodNotAllowed)
	assert.Equal(t, models.MethodQRScan, r.Method)
}

func TestVerifyQR(t *testing.T) {
	payload, err := qrpayload.Encode("biz_42", "Joe's Cafe")
	require.NoError(t, err)

	tests := []struct {
		name     string
		business string
		qr       string
		reason   checkin.Reason
	}{
		{name: "matching business", business: "biz_42", qr: payload},
		{name: "other business", business: "biz_7", qr: payload, reason: checkin.ReasonBusinessMismatch},
		{name: "plain text", business: "biz_42", qr: "hello", reason: checkin.ReasonMalformedPayload},
		{name: "broken json", business: "biz_42", qr: `{"type":"business_checkin"`, reason: checkin.ReasonMalformedPayload},
		{name: "foreign json", business: "biz_42", qr: `{"type":"coupon","businessId":"biz_42"}`, reason: checkin.ReasonWrongPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			accepted, err := f.verifier.Verify(context.Background(), checkin.Request{
				UserID:     "user_1",
				BusinessID: tt.business,
				QRPayload:  tt.qr,
			})
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, models.MethodQRScan, accepted.Method)
				assert.Equal(t, "Joe's Cafe", accepted.BusinessName)
				assert.Nil(t, accepted.DistanceMeters)
				return
			}
			requireRejection(t, err, tt.reason)
		})
	}
}

func TestVerifyPrefersQRWhenBothOffered(t *testing.T) {
	f := newFixture(t, nil)
	payload, err := qrpayload.Encode("biz_42", "Joe's Cafe")
	require.NoError(t, err)

	// no stored location, so GPS alone could not succeed
	req := gpsRequest("user_1", "biz_42", 10, 10, 5)
	req.QRPayload = payload

	accepted, err := f.verifier.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.MethodQRScan, accepted.Method)
}

func TestVerifyUnknownBusinessLocation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.verifier.Verify(context.Background(), gpsRequest("user_1", "biz_nowhere", 1, 1, 5))
	requireRejection(t, err, checkin.ReasonLocationUnavailable)
}

func TestVerifyUnusableReadings(t *testing.T) {
	f := newFixture(t, nil)
	f.business(t, "biz_1", "One", 10, 10)

	readings := []*models.DeviceLocation{
		{Latitude: 91, Longitude: 10},
		{Latitude: 10, Longitude: -181},
		{Latitude: 10, Longitude: 10, AccuracyMeters: -1},
	}
	for _, loc := range readings {
		_, err := f.verifier.Verify(context.Background(), checkin.Request{UserID: "user_1", BusinessID: "biz_1", Location: loc})
		requireRejection(t, err, checkin.ReasonUnverifiableLocation)
	}
}

func TestVerifyMissingEvidence(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.verifier.Verify(context.Background(), checkin.Request{UserID: "user_1", BusinessID: "biz_1"})
	r := requireRejection(t, err, checkin.ReasonMissingEvidence)
	assert.Equal(t, checkin.StageReceived, r.Stage)
}

type failingPolicies struct{}

func (failingPolicies) VerificationPolicy(ctx context.Context, businessID, missionType string) (*models.VerificationPolicy, error) {
	return nil, errors.New("connection reset")
}

func TestVerifyInfrastructureErrorIsNotRejection(t *testing.T) {
	f := newFixture(t, nil)
	v := checkin.NewVerifier(checkin.NewPolicyResolver(failingPolicies{}, 100), f.store, f.limiter, checkin.DefaultConfig())

	_, err := v.Verify(context.Background(), gpsRequest("user_1", "biz_1", 1, 1, 5))
	require.Error(t, err)
	assert.False(t, checkin.IsRejection(err, checkin.ReasonOutOfRange))
	_, ok := checkin.AsRejection(err)
	assert.False(t, ok)
}
