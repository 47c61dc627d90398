// Package qrpayload encodes and decodes the text shown in a business's
// check-in QR code. The payload is plain JSON and carries no signature, so a
// decoded payload is a hint about which business was scanned, never proof.
package qrpayload

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// CheckInType is the discriminator every check-in payload carries.
const CheckInType = "business_checkin"

var (
	ErrMalformedPayload = errors.New("qr payload is not valid check-in json")
	ErrWrongPayloadType = errors.New("qr payload is not a check-in token")
)

// Payload is the decoded content of a scanned check-in QR code.
type Payload struct {
	Type         string `json:"type"`
	BusinessID   string `json:"businessId"`
	BusinessName string `json:"businessName"`
	Timestamp    int64  `json:"timestamp"`
}

// IssuedAt returns the issuance time embedded in the payload.
func (p Payload) IssuedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Encode builds the payload for a business, stamped with the current time.
func Encode(businessID, businessName string) (string, error) {
	return EncodeAt(businessID, businessName, time.Now())
}

// EncodeAt is Encode with an explicit issuance time.
func EncodeAt(businessID, businessName string, issuedAt time.Time) (string, error) {
	data, err := json.Marshal(Payload{
		Type:         CheckInType,
		BusinessID:   businessID,
		BusinessName: businessName,
		Timestamp:    issuedAt.UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a scanned string. It returns ErrMalformedPayload when the text
// is not a JSON object with a business id and ErrWrongPayloadType when the
// discriminator is not CheckInType.
func Decode(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrMalformedPayload
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.Type != CheckInType {
		return nil, ErrWrongPayloadType
	}
	if p.BusinessID == "" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}
