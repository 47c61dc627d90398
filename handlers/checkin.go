package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"checkin-backend/checkin"
	"checkin-backend/logger"
	"checkin-backend/models"
)

// CheckinReader is the read-only view of persisted check-in events used by
// stats and history screens.
type CheckinReader interface {
	Event(ctx context.Context, id string) (*models.CheckInEvent, error)
	EventsForBusiness(ctx context.Context, businessID, day string, limit int) ([]models.CheckInEvent, error)
	BusinessStats(ctx context.Context, businessID string) (*models.CheckInStats, error)
}

type CheckinHandler struct {
	service *checkin.Service
	reader  CheckinReader
}

func NewCheckinHandler(service *checkin.Service, reader CheckinReader) *CheckinHandler {
	return &CheckinHandler{service: service, reader: reader}
}

// CheckIn verifies the claim and issues the dual reward.
func (h *CheckinHandler) CheckIn(c *gin.Context) {
	var req models.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	event, err := h.service.CheckIn(c, checkin.RequestFromModel(req))
	if err != nil {
		respondCheckinError(c, err, req)
		return
	}

	message := "Checked in successfully"
	if !event.Credited {
		message = "Checked in successfully, points will be credited shortly"
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": message,
		"checkin": event,
	})
}

// VerifyCheckIn runs verification only so a client can pre-check a claim.
func (h *CheckinHandler) VerifyCheckIn(c *gin.Context) {
	var req models.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	accepted, err := h.service.Verifier.Verify(c, checkin.RequestFromModel(req))
	if err != nil {
		respondCheckinError(c, err, req)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"method":          accepted.Method,
		"business_name":   accepted.BusinessName,
		"distance_meters": accepted.DistanceMeters,
		"radius_meters":   accepted.RadiusMeters,
		"user_points":     accepted.UserPoints,
		"business_points": accepted.BusinessPoints,
		"day":             accepted.Day,
	})
}

func (h *CheckinHandler) GetCheckin(c *gin.Context) {
	event, err := h.reader.Event(c, c.Param("id"))
	if errors.Is(err, checkin.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Check-in not found"})
		return
	}
	if err != nil {
		logger.WithFields(logrus.Fields{"checkin_id": c.Param("id"), "error": err}).Error("Error loading check-in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// GetBusinessCheckins lists check-ins of a business, optionally for one day.
func (h *CheckinHandler) GetBusinessCheckins(c *gin.Context) {
	businessID := c.Param("id")
	day := c.Query("day")
	if day != "" {
		if _, err := time.Parse(checkin.DayLayout, day); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid day, expected YYYY-MM-DD"})
			return
		}
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit, expected 1-500"})
			return
		}
		limit = n
	}

	events, err := h.reader.EventsForBusiness(c, businessID, day, limit)
	if err != nil {
		logger.WithFields(logrus.Fields{"business_id": businessID, "error": err}).Error("Error listing check-ins")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if events == nil {
		events = []models.CheckInEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"checkins": events,
		"count":    len(events),
	})
}

func (h *CheckinHandler) GetBusinessStats(c *gin.Context) {
	businessID := c.Param("id")
	stats, err := h.reader.BusinessStats(c, businessID)
	if err != nil {
		logger.WithFields(logrus.Fields{"business_id": businessID, "error": err}).Error("Error computing check-in stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func respondCheckinError(c *gin.Context, err error, req models.CheckInRequest) {
	if r, ok := checkin.AsRejection(err); ok {
		c.JSON(rejectionStatus(r.Reason), gin.H{
			"success":   false,
			"reason":    r.Reason,
			"message":   r.Message,
			"rejection": r,
		})
		return
	}

	logger.WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"business_id": req.BusinessID,
		"error":       err,
	}).Error("Check-in failed")
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Check-in could not be processed, please retry"})
}

func rejectionStatus(reason checkin.Reason) int {
	switch reason {
	case checkin.ReasonAlreadyCheckedIn:
		return http.StatusConflict
	case checkin.ReasonDailyLimitReached:
		return http.StatusTooManyRequests
	case checkin.ReasonMalformedPayload, checkin.ReasonWrongPayloadType, checkin.ReasonMissingEvidence:
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}
