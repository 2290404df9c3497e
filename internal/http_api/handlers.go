package http_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/currency"
)

// CreateChargeRequest represents the JSON body for charge creation. The
// required amount is given either raw (smallest unit) or as a display
// decimal, not both.
type CreateChargeRequest struct {
	Amount        string          `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	TTLSeconds    int             `json:"ttl_seconds" binding:"omitempty,min=1"`
	NotifyURL     string          `json:"notify_url"`
	Metadata      json.RawMessage `json:"metadata"`
}

// ChargeTxResponse is one applied payment transaction.
type ChargeTxResponse struct {
	Hash       string    `json:"hash"`
	From       string    `json:"from,omitempty"`
	Amount     string    `json:"amount"`
	ReceivedAt time.Time `json:"received_at"`
}

// ChargeResponse is the API representation of a charge. Raw amounts are
// decimal strings; display amounts are shifted by the configured decimals.
type ChargeResponse struct {
	ID               string             `json:"id"`
	Address          string             `json:"address"`
	Status           string             `json:"status"`
	Currency         string             `json:"currency"`
	Amount           string             `json:"amount"`
	AmountDisplay    string             `json:"amount_display"`
	Received         string             `json:"received"`
	ReceivedDisplay  string             `json:"received_display"`
	Remaining        string             `json:"remaining"`
	RemainingDisplay string             `json:"remaining_display"`
	Transactions     []ChargeTxResponse `json:"transactions"`
	CreatedAt        time.Time          `json:"created_at"`
	ExpiresAt        time.Time          `json:"expires_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	SweptAt          *time.Time         `json:"swept_at,omitempty"`
	SweepTxHash      string             `json:"sweep_tx_hash,omitempty"`
	NotifyURL        string             `json:"notify_url,omitempty"`
	NotificationSent bool               `json:"notification_sent"`
	Metadata         json.RawMessage    `json:"metadata,omitempty"`
}

// StatusResponse augments the charge with the live ledger view.
type StatusResponse struct {
	Charge           ChargeResponse `json:"charge"`
	Balance          string         `json:"balance"`
	Pending          string         `json:"pending"`
	IsPaid           bool           `json:"is_paid"`
	Remaining        string         `json:"remaining"`
	RemainingDisplay string         `json:"remaining_display"`
}

func (s *HTTPServer) chargeResponse(charge *models.Charge) ChargeResponse {
	remaining := charge.Remaining()
	resp := ChargeResponse{
		ID:               charge.ID,
		Address:          charge.Address,
		Status:           string(charge.Status),
		Currency:         s.symbol,
		Amount:           currency.FormatRaw(charge.Amount),
		AmountDisplay:    currency.ToDisplay(charge.Amount, s.decimals),
		Received:         currency.FormatRaw(charge.Received),
		ReceivedDisplay:  currency.ToDisplay(charge.Received, s.decimals),
		Remaining:        currency.FormatRaw(remaining),
		RemainingDisplay: currency.ToDisplay(remaining, s.decimals),
		Transactions:     []ChargeTxResponse{},
		CreatedAt:        charge.CreatedAt,
		ExpiresAt:        charge.ExpiresAt,
		CompletedAt:      charge.CompletedAt,
		SweptAt:          charge.SweptAt,
		SweepTxHash:      charge.SweepTxHash,
		NotifyURL:        charge.NotifyURL,
		NotificationSent: charge.NotificationSent,
		Metadata:         charge.Metadata,
	}
	for _, tx := range charge.Transactions {
		resp.Transactions = append(resp.Transactions, ChargeTxResponse{
			Hash:       tx.Hash,
			From:       tx.From,
			Amount:     currency.FormatRaw(tx.Amount),
			ReceivedAt: tx.ReceivedAt,
		})
	}
	return resp
}

// createCharge is a handler for POST /api/v1/charges.
func (s *HTTPServer) createCharge(c *gin.Context) {
	var req CreateChargeRequest

	// Parse and validate JSON request body
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debugw("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	if (req.Amount == "") == (req.AmountDisplay == "") {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Exactly one of amount or amount_display is required",
		})
		return
	}

	params := models.CreateChargeParams{
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		NotifyURL: req.NotifyURL,
		Metadata:  req.Metadata,
	}
	var err error
	if req.Amount != "" {
		params.Amount, err = currency.ParseRaw(req.Amount)
	} else {
		params.Amount, err = currency.FromDisplay(req.AmountDisplay, s.decimals)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid amount: " + err.Error(),
		})
		return
	}

	charge, err := s.processor.CreateCharge(c.Request.Context(), params)
	if err != nil {
		s.logger.Errorw("failed to create charge", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, s.chargeResponse(charge))
}

// listCharges is a handler for GET /api/v1/charges. An optional status
// query parameter filters the result.
func (s *HTTPServer) listCharges(c *gin.Context) {
	var statuses []models.ChargeStatus
	if raw := c.Query("status"); raw != "" {
		status := models.ChargeStatus(raw)
		if !models.ValidStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
		statuses = append(statuses, status)
	}

	charges := s.processor.ListCharges(statuses...)
	responses := make([]ChargeResponse, 0, len(charges))
	for _, charge := range charges {
		responses = append(responses, s.chargeResponse(charge))
	}
	c.JSON(http.StatusOK, gin.H{"charges": responses, "count": len(responses)})
}

// getCharge is a handler for GET /api/v1/charges/:id.
func (s *HTTPServer) getCharge(c *gin.Context) {
	charge, err := s.processor.GetCharge(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrChargeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get charge"})
		}
		return
	}
	c.JSON(http.StatusOK, s.chargeResponse(charge))
}

// chargeStatus is a handler for GET /api/v1/charges/:id/status. It
// reconciles the charge against the ledger; with ?sweep=true a fully paid
// charge is swept as a side effect.
func (s *HTTPServer) chargeStatus(c *gin.Context) {
	sweep := c.Query("sweep") == "true"

	report, err := s.processor.CheckStatus(c.Request.Context(), c.Param("id"), sweep)
	if err != nil {
		if errors.Is(err, models.ErrChargeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		} else {
			s.logger.Errorw("status check failed", "charge", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status check failed"})
		}
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Charge:           s.chargeResponse(report.Charge),
		Balance:          currency.FormatRaw(report.Balance),
		Pending:          currency.FormatRaw(report.Pending),
		IsPaid:           report.IsPaid,
		Remaining:        currency.FormatRaw(report.Remaining),
		RemainingDisplay: currency.ToDisplay(report.Remaining, s.decimals),
	})
}

// sweepCharge is a handler for POST /api/v1/charges/:id/sweep.
func (s *HTTPServer) sweepCharge(c *gin.Context) {
	outcome, err := s.processor.SweepCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChargeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "charge not found"})
		case errors.Is(err, models.ErrNothingToSweep):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "nothing to sweep"})
		case errors.Is(err, models.ErrChargeActive):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "charge is still accepting payments"})
		default:
			s.logger.Errorw("sweep failed", "charge", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sweep failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"tx_hash":        outcome.TxHash,
		"amount":         currency.FormatRaw(outcome.Amount),
		"amount_display": currency.ToDisplay(outcome.Amount, s.decimals),
		"swept_at":       outcome.SweptAt,
	})
}

// deleteCharge is a handler for DELETE /api/v1/charges/:id.
func (s *HTTPServer) deleteCharge(c *gin.Context) {
	err := s.processor.DeleteCharge(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChargeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "charge not found"})
		case errors.Is(err, models.ErrChargeNotDeletable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to delete charge"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// cleanupSwept is a handler for POST /api/v1/maintenance/cleanup.
func (s *HTTPServer) cleanupSwept(c *gin.Context) {
	removed, err := s.processor.CleanupSwept()
	if err != nil {
		s.logger.Errorw("cleanup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// health is a liveness probe.
func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
