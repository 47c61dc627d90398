package models

import (
	"time"
)

// Accepted method sets for a verification policy
const (
	AcceptGPSOnly = "GPS_ONLY"
	AcceptQROnly  = "QR_ONLY"
	AcceptBoth    = "BOTH"
)

// Account kinds that hold point balances
const (
	AccountUser     = "user"
	AccountBusiness = "business"
)

// BusinessLocation is the known position of a business
type BusinessLocation struct {
	BusinessID string  `json:"business_id" db:"business_id" gorm:"primaryKey"`
	Name       string  `json:"name" db:"name"`
	Latitude   float64 `json:"latitude" db:"latitude"`
	Longitude  float64 `json:"longitude" db:"longitude"`
}

// VerificationPolicy is the per (business, mission type) configuration.
// An empty MissionType applies to every mission of the business.
type VerificationPolicy struct {
	BusinessID      string  `json:"business_id" db:"business_id" gorm:"primaryKey"`
	MissionType     string  `json:"mission_type" db:"mission_type" gorm:"primaryKey"`
	AcceptedMethods string  `json:"accepted_methods" db:"accepted_methods"`
	RadiusMeters    float64 `json:"radius_meters" db:"radius_meters"`
}

type UpdateLocationRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type UpdatePolicyRequest struct {
	MissionType     string  `json:"mission_type"`
	AcceptedMethods string  `json:"accepted_methods" binding:"required"`
	RadiusMeters    float64 `json:"radius_meters" binding:"gte=0"`
}

// PointBalance is owned by the account subsystem; check-ins only increment it
type PointBalance struct {
	AccountKind string    `json:"account_kind" db:"account_kind" gorm:"primaryKey"`
	AccountID   string    `json:"account_id" db:"account_id" gorm:"primaryKey"`
	Balance     int64     `json:"balance" db:"balance"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

func (BusinessLocation) TableName() string {
	return "business_locations"
}

func (VerificationPolicy) TableName() string {
	return "verification_policies"
}

func (PointBalance) TableName() string {
	return "point_balances"
}
