package checkin

import (
	"errors"
	"fmt"
	"time"
)

// Reason is the machine-readable code of a rejected check-in.
type Reason string

const (
	ReasonMethodNotAllowed     Reason = "METHOD_NOT_ALLOWED"
	ReasonLocationUnavailable  Reason = "BUSINESS_LOCATION_UNAVAILABLE"
	ReasonMalformedPayload     Reason = "MALFORMED_PAYLOAD"
	ReasonWrongPayloadType     Reason = "WRONG_PAYLOAD_TYPE"
	ReasonBusinessMismatch     Reason = "BUSINESS_MISMATCH"
	ReasonMissingEvidence      Reason = "MISSING_EVIDENCE"
	ReasonUnverifiableLocation Reason = "UNVERIFIABLE_LOCATION"
	ReasonOutOfRange           Reason = "OUT_OF_RANGE"
	ReasonAlreadyCheckedIn     Reason = "ALREADY_CHECKED_IN_TODAY"
	ReasonDailyLimitReached    Reason = "DAILY_LIMIT_REACHED"
)

// Stage names the point of the verification pipeline a request reached.
type Stage string

const (
	StageReceived        Stage = "RECEIVED"
	StagePolicyResolved  Stage = "POLICY_RESOLVED"
	StageMethodValidated Stage = "METHOD_VALIDATED"
	StageRateChecked     Stage = "RATE_CHECKED"
	StageAccepted        Stage = "ACCEPTED"
	StageRejected        Stage = "REJECTED"
)

var (
	// ErrDuplicateCheckIn is returned by stores when an event for the same
	// (user, business, day) already exists.
	ErrDuplicateCheckIn = errors.New("check-in already recorded for this user, business and day")
	// ErrDailyCapReached is returned by stores when the user's daily count is at the limit.
	ErrDailyCapReached = errors.New("daily check-in limit reached")
	ErrNotVerified     = errors.New("check-in was not produced by the verifier")
	ErrEventNotFound   = errors.New("check-in event not found")
)

// Rejection is an expected, user-facing refusal of a check-in. It carries
// enough context for a client to explain why the check-in failed.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`

	Method          string   `json:"method,omitempty"`
	AcceptedMethods string   `json:"accepted_methods,omitempty"`
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	AccuracyMeters  *float64 `json:"accuracy_meters,omitempty"`

	ExpectedBusinessID string `json:"expected_business_id,omitempty"`
	ScannedBusinessID  string `json:"scanned_business_id,omitempty"`

	Limit    int        `json:"limit,omitempty"`
	ResetsAt *time.Time `json:"resets_at,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("check-in rejected: %s: %s", r.Reason, r.Message)
}

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRejection reports whether err carries the given reason.
func IsRejection(err error, reason Reason) bool {
	r, ok := AsRejection(err)
	return ok && r.Reason == reason
}

func reject(stage Stage, reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{
		Reason:  reason,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

func float(v float64) *float64 {
	return &v
}
