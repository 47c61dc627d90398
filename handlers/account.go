package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"checkin-backend/logger"
	"checkin-backend/models"
)

type BalanceReader interface {
	Balance(ctx context.Context, accountKind, accountID string) (*models.PointBalance, error)
}

type AccountHandler struct {
	db BalanceReader
}

func NewAccountHandler(db BalanceReader) *AccountHandler {
	return &AccountHandler{db: db}
}

// GetBalance reads a user or business point balance.
func (h *AccountHandler) GetBalance(c *gin.Context) {
	kind := c.Param("kind")
	if kind != models.AccountUser && kind != models.AccountBusiness {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Account kind must be user or business"})
		return
	}
	accountID := c.Param("id")

	balance, err := h.db.Balance(c, kind, accountID)
	if err != nil {
		logger.WithFields(logrus.Fields{"account_kind": kind, "account_id": accountID, "error": err}).Error("Error loading balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, balance)
}
