package checkin

import (
	"context"

	"checkin-backend/models"
)

// Service couples verification and issuance for callers that do both.
type Service struct {
	Verifier *Verifier
	Issuer   *Issuer
}

func NewService(verifier *Verifier, issuer *Issuer) *Service {
	return &Service{Verifier: verifier, Issuer: issuer}
}

// CheckIn verifies req and, when accepted, issues the dual reward. Retrying a
// successful call is safe: the retry is rejected as ALREADY_CHECKED_IN_TODAY.
func (s *Service) CheckIn(ctx context.Context, req Request) (*models.CheckInEvent, error) {
	accepted, err := s.Verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Issuer.Issue(ctx, accepted)
}
