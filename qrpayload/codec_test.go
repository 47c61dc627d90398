package qrpayload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		id, name string
	}{
		{"biz_42", "Joe's Cafe"},
		{"7f1c2b7e-9d7e-4f57-a0c3-1b2f6f1d7a10", "Bäckerei Müller"},
		{"b", ""},
		{"quote\"id", "name with \"quotes\" and \\ slashes"},
		{"emoji", "☕ & 🍰"},
	}
	for _, tc := range cases {
		raw, err := Encode(tc.id, tc.name)
		require.NoError(t, err)

		p, err := Decode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, tc.id, p.BusinessID)
		assert.Equal(t, tc.name, p.BusinessName)
		assert.Equal(t, CheckInType, p.Type)
	}
}

func TestEncodeIsStableText(t *testing.T) {
	issued := time.UnixMilli(1700000000123)
	raw, err := EncodeAt("biz_42", "Joe's Cafe", issued)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"business_checkin","businessId":"biz_42","businessName":"Joe's Cafe","timestamp":1700000000123}`, raw)

	p, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, p.IssuedAt().Equal(issued))
}

func TestDecodeRejectsForeignText(t *testing.T) {
	cases := map[string]error{
		"":                                   ErrMalformedPayload,
		"hello world":                        ErrMalformedPayload,
		"https://example.com/menu":           ErrMalformedPayload,
		"123":                                ErrMalformedPayload,
		"null":                               ErrMalformedPayload,
		"[1,2,3]":                            ErrMalformedPayload,
		"{not json":                          ErrMalformedPayload,
		`{"type":"business_checkin"}`:        ErrMalformedPayload,
		`{"type":"business_checkin","businessId":7}`: ErrMalformedPayload,
		`{}`:                                 ErrWrongPayloadType,
		`{"type":"coupon","businessId":"b"}`: ErrWrongPayloadType,
		`{"businessId":"biz_42"}`:            ErrWrongPayloadType,
	}
	for raw, want := range cases {
		p, err := Decode(raw)
		assert.Nil(t, p, raw)
		assert.ErrorIs(t, err, want, raw)
	}
}
