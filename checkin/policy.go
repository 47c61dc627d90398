package checkin

import (
	"context"
	"fmt"
	"strings"

	"checkin-backend/models"
)

// ResolvedPolicy is the verification policy in force for one request.
type ResolvedPolicy struct {
	BusinessID      string
	MissionType     string
	AcceptedMethods string
	RadiusMeters    float64
	Configured      bool
}

// Allows reports whether the policy accepts the given check-in method.
func (p ResolvedPolicy) Allows(method string) bool {
	switch p.AcceptedMethods {
	case models.AcceptBoth:
		return method == models.MethodGPS || method == models.MethodQRScan
	case models.AcceptGPSOnly:
		return method == models.MethodGPS
	case models.AcceptQROnly:
		return method == models.MethodQRScan
	}
	return false
}

// EffectiveRadius halves the radius when the GPS fix is less accurate than
// lowAccuracyMeters.
func (p ResolvedPolicy) EffectiveRadius(accuracyMeters, lowAccuracyMeters float64) float64 {
	if accuracyMeters > lowAccuracyMeters {
		return p.RadiusMeters / 2
	}
	return p.RadiusMeters
}

// PolicyResolver looks up the verification policy for a business and mission.
type PolicyResolver struct {
	source        PolicySource
	defaultRadius float64
}

func NewPolicyResolver(source PolicySource, defaultRadius float64) *PolicyResolver {
	return &PolicyResolver{source: source, defaultRadius: defaultRadius}
}

// Resolve returns the mission-specific policy, falling back to the
// business-wide policy and finally to BOTH methods at the default radius.
func (r *PolicyResolver) Resolve(ctx context.Context, businessID, missionType string) (ResolvedPolicy, error) {
	resolved := ResolvedPolicy{
		BusinessID:      businessID,
		MissionType:     missionType,
		AcceptedMethods: models.AcceptBoth,
		RadiusMeters:    r.defaultRadius,
	}
	if r.source == nil {
		return resolved, nil
	}

	lookups := []string{missionType}
	if missionType != "" {
		lookups = append(lookups, "")
	}
	for _, mission := range lookups {
		policy, err := r.source.VerificationPolicy(ctx, businessID, mission)
		if err != nil {
			return ResolvedPolicy{}, fmt.Errorf("load verification policy for %s: %w", businessID, err)
		}
		if policy == nil {
			continue
		}

		methods, err := NormalizeAcceptedMethods(policy.AcceptedMethods)
		if err != nil {
			return ResolvedPolicy{}, fmt.Errorf("verification policy for %s: %w", businessID, err)
		}
		resolved.AcceptedMethods = methods
		if policy.RadiusMeters > 0 {
			resolved.RadiusMeters = policy.RadiusMeters
		}
		resolved.Configured = true
		return resolved, nil
	}
	return resolved, nil
}

// NormalizeAcceptedMethods canonicalises a stored method set. An empty value
// means BOTH.
func NormalizeAcceptedMethods(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", models.AcceptBoth:
		return models.AcceptBoth, nil
	case models.AcceptGPSOnly, "GPS":
		return models.AcceptGPSOnly, nil
	case models.AcceptQROnly, "QR":
		return models.AcceptQROnly, nil
	}
	return "", fmt.Errorf("unknown accepted methods %q", raw)
}
