package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"checkin-backend/checkin"
	"checkin-backend/geo"
	"checkin-backend/logger"
	"checkin-backend/models"
	"checkin-backend/qrpayload"
)

// BusinessStore holds the business-side configuration the verifier reads.
type BusinessStore interface {
	BusinessLocation(ctx context.Context, businessID string) (*models.BusinessLocation, error)
	UpsertBusinessLocation(ctx context.Context, loc *models.BusinessLocation) error
	UpsertVerificationPolicy(ctx context.Context, p *models.VerificationPolicy) error
}

type BusinessHandler struct {
	db BusinessStore
}

func NewBusinessHandler(db BusinessStore) *BusinessHandler {
	return &BusinessHandler{db: db}
}

func (h *BusinessHandler) UpdateLocation(c *gin.Context) {
	businessID := c.Param("id")

	var req models.UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !geo.ValidCoordinates(*req.Latitude, *req.Longitude) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Latitude must be within [-90, 90] and longitude within [-180, 180]"})
		return
	}

	loc := &models.BusinessLocation{
		BusinessID: businessID,
		Name:       strings.TrimSpace(req.Name),
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
	}
	if err := h.db.UpsertBusinessLocation(c, loc); err != nil {
		logger.WithFields(logrus.Fields{"business_id": businessID, "error": err}).Error("Error saving business location")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save business location"})
		return
	}

	logger.WithFields(logrus.Fields{"business_id": businessID}).Info("Business location updated")
	c.JSON(http.StatusOK, loc)
}

func (h *BusinessHandler) UpdatePolicy(c *gin.Context) {
	businessID := c.Param("id")

	var req models.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	methods, err := checkin.NormalizeAcceptedMethods(req.AcceptedMethods)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy := &models.VerificationPolicy{
		BusinessID:      businessID,
		MissionType:     strings.TrimSpace(req.MissionType),
		AcceptedMethods: methods,
		RadiusMeters:    req.RadiusMeters,
	}
	if err := h.db.UpsertVerificationPolicy(c, policy); err != nil {
		logger.WithFields(logrus.Fields{"business_id": businessID, "error": err}).Error("Error saving verification policy")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save verification policy"})
		return
	}

	logger.WithFields(logrus.Fields{
		"business_id": businessID,
		"mission":     policy.MissionType,
		"methods":     policy.AcceptedMethods,
	}).Info("Verification policy updated")
	c.JSON(http.StatusOK, policy)
}

// GetQRCode returns the payload a business displays for customers to scan.
// The name comes from the query or, failing that, the stored location.
func (h *BusinessHandler) GetQRCode(c *gin.Context) {
	businessID := c.Param("id")

	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		loc, err := h.db.BusinessLocation(c, businessID)
		if err != nil {
			logger.WithFields(logrus.Fields{"business_id": businessID, "error": err}).Error("Error loading business")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if loc != nil {
			name = loc.Name
		}
	}

	payload, err := qrpayload.Encode(businessID, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build QR payload"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"business_id":   businessID,
		"business_name": name,
		"qr_data":       payload,
	})
}
