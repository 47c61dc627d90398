package models

import (
	"time"
)

// Check-in methods recorded on an event
const (
	MethodQRScan = "QR_SCAN"
	MethodGPS    = "GPS"
)

// CheckInEvent is the immutable record of one accepted check-in
type CheckInEvent struct {
	ID             string     `json:"id" db:"id" gorm:"primaryKey;size:36"`
	UserID         string     `json:"user_id" db:"user_id" gorm:"not null;uniqueIndex:idx_check_in_user_business_day,priority:1;index:idx_check_in_user_day,priority:1"`
	BusinessID     string     `json:"business_id" db:"business_id" gorm:"not null;uniqueIndex:idx_check_in_user_business_day,priority:2;index"`
	MissionType    string     `json:"mission_type,omitempty" db:"mission_type"`
	Method         string     `json:"method" db:"method" gorm:"not null"`
	Day            string     `json:"day" db:"day" gorm:"not null;uniqueIndex:idx_check_in_user_business_day,priority:3;index:idx_check_in_user_day,priority:2"`
	Latitude       *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64   `json:"longitude,omitempty" db:"longitude"`
	DistanceMeters *float64   `json:"distance_meters,omitempty" db:"distance_meters"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty" db:"accuracy_meters"`
	UserPoints     int64      `json:"user_points" db:"user_points"`
	BusinessPoints int64      `json:"business_points" db:"business_points"`
	Verified       bool       `json:"verified" db:"verified"`
	Credited       bool       `json:"credited" db:"credited" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at" gorm:"not null;index"`
	CreditedAt     *time.Time `json:"credited_at,omitempty" db:"credited_at"`
}

func (CheckInEvent) TableName() string {
	return "check_in_events"
}

// DeviceLocation is a reading supplied by the device-location collaborator
type DeviceLocation struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

type CheckInRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	BusinessID  string          `json:"business_id" binding:"required"`
	MissionType string          `json:"mission_type"`
	Location    *DeviceLocation `json:"location"`
	QRPayload   string          `json:"qr_payload"`
}

// CheckInStats summarises the persisted events of one business
type CheckInStats struct {
	BusinessID     string `json:"business_id"`
	TotalCheckIns  int64  `json:"total_check_ins"`
	UniqueUsers    int64  `json:"unique_users"`
	UserPoints     int64  `json:"user_points"`
	BusinessPoints int64  `json:"business_points"`
	PendingCredits int64  `json:"pending_credits"`
}
