package checkin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"checkin-backend/geo"
	"checkin-backend/logger"
	"checkin-backend/metrics"
	"checkin-backend/models"
	"checkin-backend/qrpayload"
)

// Config holds the reward amounts and limits applied to every check-in.
type Config struct {
	UserPoints           int64
	BusinessPoints       int64
	DailyLimit           int
	DefaultRadiusMeters  float64
	LowAccuracyThreshold float64
	Location             *time.Location
}

func DefaultConfig() Config {
	return Config{
		UserPoints:           10,
		BusinessPoints:       5,
		DailyLimit:           5,
		DefaultRadiusMeters:  100,
		LowAccuracyThreshold: 50,
		Location:             time.UTC,
	}
}

// Request is a check-in claim. A request carries a GPS reading, a scanned QR
// string, or both.
type Request struct {
	UserID      string
	BusinessID  string
	MissionType string
	Location    *models.DeviceLocation
	QRPayload   string
}

func RequestFromModel(req models.CheckInRequest) Request {
	return Request{
		UserID:      req.UserID,
		BusinessID:  req.BusinessID,
		MissionType: req.MissionType,
		Location:    req.Location,
		QRPayload:   req.QRPayload,
	}
}

// methods lists the verification methods the request carries evidence for,
// QR first.
func (r Request) methods() []string {
	var out []string
	if strings.TrimSpace(r.QRPayload) != "" {
		out = append(out, models.MethodQRScan)
	}
	if r.Location != nil {
		out = append(out, models.MethodGPS)
	}
	return out
}

// AcceptedCheckIn is a verified check-in ready for issuance. Only Verify
// produces values that Issue accepts.
type AcceptedCheckIn struct {
	UserID         string
	BusinessID     string
	BusinessName   string
	MissionType    string
	Method         string
	Location       *models.DeviceLocation
	DistanceMeters *float64
	RadiusMeters   *float64
	UserPoints     int64
	BusinessPoints int64
	Day            string
	ResetsAt       time.Time
	VerifiedAt     time.Time

	verified bool
}

// Verifier runs the check-in pipeline
// RECEIVED -> POLICY_RESOLVED -> METHOD_VALIDATED -> RATE_CHECKED -> ACCEPTED,
// short-circuiting to a *Rejection at the first failing stage.
type Verifier struct {
	policies  *PolicyResolver
	locations LocationSource
	limiter   *Limiter
	cfg       Config
	now       func() time.Time
	metrics   *metrics.CheckInMetrics
}

func NewVerifier(policies *PolicyResolver, locations LocationSource, limiter *Limiter, cfg Config) *Verifier {
	return &Verifier{
		policies:  policies,
		locations: locations,
		limiter:   limiter,
		cfg:       cfg,
		now:       time.Now,
		metrics:   metrics.CheckIns(),
	}
}

// SetClock overrides the time source.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Verify decides whether req is an acceptable check-in. Rejections are
// returned as *Rejection; any other error is an infrastructure failure.
func (v *Verifier) Verify(ctx context.Context, req Request) (*AcceptedCheckIn, error) {
	accepted, err := v.verify(ctx, req)

	fields := logrus.Fields{
		"user_id":     req.UserID,
		"business_id": req.BusinessID,
		"mission":     req.MissionType,
	}
	if r, ok := AsRejection(err); ok {
		v.metrics.RecordRejected(string(r.Reason))
		fields["reason"] = r.Reason
		fields["stage"] = r.Stage
		logger.WithFields(fields).Info("check-in rejected")
		return nil, err
	}
	if err != nil {
		fields["error"] = err
		logger.WithFields(fields).Error("check-in verification failed")
		return nil, err
	}

	v.metrics.RecordVerified(accepted.Method)
	fields["method"] = accepted.Method
	if accepted.DistanceMeters != nil {
		fields["distance_m"] = math.Round(*accepted.DistanceMeters*10) / 10
	}
	logger.WithFields(fields).Info("check-in verified")
	return accepted, nil
}

func (v *Verifier) verify(ctx context.Context, req Request) (*AcceptedCheckIn, error) {
	now := v.now()

	// RECEIVED
	offered := req.methods()
	if len(offered) == 0 {
		return nil, reject(StageReceived, ReasonMissingEvidence, "request carries neither a location nor a scanned code")
	}

	policy, err := v.policies.Resolve(ctx, req.BusinessID, req.MissionType)
	if err != nil {
		return nil, err
	}

	// POLICY_RESOLVED
	method := ""
	for _, m := range offered {
		if policy.Allows(m) {
			method = m
			break
		}
	}
	if method == "" {
		r := reject(StagePolicyResolved, ReasonMethodNotAllowed,
			"%s check-ins are not accepted here, accepted methods: %s", strings.Join(offered, "/"), policy.AcceptedMethods)
		r.Method = offered[0]
		r.AcceptedMethods = policy.AcceptedMethods
		return nil, r
	}

	accepted := &AcceptedCheckIn{
		UserID:         req.UserID,
		BusinessID:     req.BusinessID,
		MissionType:    req.MissionType,
		Method:         method,
		UserPoints:     v.cfg.UserPoints,
		BusinessPoints: v.cfg.BusinessPoints,
		VerifiedAt:     now,
	}

	switch method {
	case models.MethodGPS:
		err = v.validateGPS(ctx, req, policy, accepted)
	case models.MethodQRScan:
		err = v.validateQR(req, accepted)
	}
	if err != nil {
		return nil, err
	}

	// METHOD_VALIDATED
	if err := v.limiter.Check(ctx, req.UserID, req.BusinessID, now); err != nil {
		return nil, err
	}

	// RATE_CHECKED
	accepted.Day, accepted.ResetsAt = v.limiter.Day(now)
	accepted.verified = true
	return accepted, nil
}

func (v *Verifier) validateGPS(ctx context.Context, req Request, policy ResolvedPolicy, accepted *AcceptedCheckIn) error {
	loc, err := v.locations.BusinessLocation(ctx, req.BusinessID)
	if err != nil {
		return fmt.Errorf("load business location for %s: %w", req.BusinessID, err)
	}
	if loc == nil {
		return reject(StagePolicyResolved, ReasonLocationUnavailable, "business %s has no known location", req.BusinessID)
	}

	reading := req.Location
	if !geo.ValidCoordinates(reading.Latitude, reading.Longitude) ||
		math.IsNaN(reading.AccuracyMeters) || math.IsInf(reading.AccuracyMeters, 0) || reading.AccuracyMeters < 0 {
		return reject(StagePolicyResolved, ReasonUnverifiableLocation, "device location reading is not usable")
	}

	distance := geo.Distance(reading.Latitude, reading.Longitude, loc.Latitude, loc.Longitude)
	if math.IsNaN(distance) {
		return reject(StagePolicyResolved, ReasonUnverifiableLocation, "distance to business %s cannot be computed", req.BusinessID)
	}
	v.metrics.ObserveDistance(distance)

	radius := policy.EffectiveRadius(reading.AccuracyMeters, v.cfg.LowAccuracyThreshold)
	if distance > radius {
		r := reject(StagePolicyResolved, ReasonOutOfRange,
			"you are %.0fm away, check-in requires being within %.0fm", distance, radius)
		r.Method = models.MethodGPS
		r.DistanceMeters = float(distance)
		r.RadiusMeters = float(radius)
		r.AccuracyMeters = float(reading.AccuracyMeters)
		return r
	}

	accepted.BusinessName = loc.Name
	accepted.Location = reading
	accepted.DistanceMeters = float(distance)
	accepted.RadiusMeters = float(radius)
	return nil
}

func (v *Verifier) validateQR(req Request, accepted *AcceptedCheckIn) error {
	payload, err := qrpayload.Decode(req.QRPayload)
	switch {
	case errors.Is(err, qrpayload.ErrWrongPayloadType):
		return reject(StagePolicyResolved, ReasonWrongPayloadType, "scanned code is not a check-in code")
	case err != nil:
		return reject(StagePolicyResolved, ReasonMalformedPayload, "scanned code could not be read")
	}

	if payload.BusinessID != req.BusinessID {
		r := reject(StagePolicyResolved, ReasonBusinessMismatch,
			"scanned code belongs to %q, not to this business", payload.BusinessName)
		r.Method = models.MethodQRScan
		r.ExpectedBusinessID = req.BusinessID
		r.ScannedBusinessID = payload.BusinessID
		return r
	}

	accepted.BusinessName = payload.BusinessName
	return nil
}
