package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/dealdesk/internal/api/middleware"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealHandler serves deal open, close, and history endpoints.
type DealHandler struct {
	dealSvc *service.DealService
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(dealSvc *service.DealService) *DealHandler {
	return &DealHandler{dealSvc: dealSvc}
}

// OpenDeal godoc
// POST /api/deals
// Body: {"symbol":"BTCUSDT","direction":"up","amount":"100.00","multiplier":10,
//
//	"take_profit":"92000.00","stop_loss":"85000.00"}
//
// take_profit must sit on the profitable side of the current price and
// stop_loss on the losing side (above/below for "up", mirrored for "down");
// a threshold the first tick would fire is rejected with 400.
func (h *DealHandler) OpenDeal(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body struct {
		Symbol     string  `json:"symbol"      binding:"required"`
		Direction  string  `json:"direction"   binding:"required"`
		Amount     string  `json:"amount"      binding:"required"`
		Multiplier int     `json:"multiplier"  binding:"required"`
		TakeProfit *string `json:"take_profit"`
		StopLoss   *string `json:"stop_loss"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal string")
		return
	}

	req := &domain.OpenDealRequest{
		UserID:     userID,
		Symbol:     body.Symbol,
		Direction:  domain.Direction(body.Direction),
		Amount:     amount,
		Multiplier: body.Multiplier,
	}
	if req.TakeProfit, err = parseOptionalDecimal(body.TakeProfit); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_TRIGGER", "take_profit must be a decimal string")
		return
	}
	if req.StopLoss, err = parseOptionalDecimal(body.StopLoss); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_TRIGGER", "stop_loss must be a decimal string")
		return
	}

	deal, err := h.dealSvc.Open(c.Request.Context(), req)
	if err != nil {
		switch {
		case domain.IsValidation(err):
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		case errors.Is(err, domain.ErrInsufficientFunds):
			respondError(c, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS", err.Error())
		case domain.IsTransient(err):
			respondError(c, http.StatusServiceUnavailable, "ERR_SYMBOL_UNAVAILABLE", "no current price for symbol")
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not open deal")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, deal.ToResponse())
}

// CloseDeal godoc
// POST /api/deals/:id/close
//
// Closing a deal that is already closed returns 200 with the stored close
// state: the caller's intent (deal ends up closed) is satisfied either way.
func (h *DealHandler) CloseDeal(c *gin.Context) {
	userID := middleware.GetUserID(c)

	dealID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DEAL_ID", "invalid deal id")
		return
	}

	result, err := h.dealSvc.CloseAtMarket(c.Request.Context(), dealID, userID,
		domain.CloseReasonManual, domain.TriggeredByUser)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDealAlreadyClosed):
			h.respondClosedState(c, dealID, userID)
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_DEAL_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrUnauthorized):
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "this deal does not belong to you")
		case domain.IsTransient(err):
			respondError(c, http.StatusServiceUnavailable, "ERR_PRICE_UNAVAILABLE", "no current price, try again")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not close deal")
		}
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// respondClosedState answers a close request that lost the settlement race
// with the authoritative stored outcome.
func (h *DealHandler) respondClosedState(c *gin.Context, dealID int64, userID uuid.UUID) {
	deal, err := h.dealSvc.GetDeal(c.Request.Context(), dealID, userID)
	if err != nil {
		respondError(c, http.StatusConflict, "ERR_ALREADY_CLOSED", domain.ErrDealAlreadyClosed.Error())
		return
	}
	respondSuccess(c, http.StatusOK, deal.ToResponse())
}

// GetMyDeals godoc
// GET /api/deals/my?page=1&limit=20
func (h *DealHandler) GetMyDeals(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	deals, err := h.dealSvc.ListDeals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch deals")
		return
	}
	out := make([]domain.DealResponse, 0, len(deals))
	for _, d := range deals {
		out = append(out, d.ToResponse())
	}
	respondList(c, out, len(out), page, limit)
}

// GetDealByID godoc
// GET /api/deals/:id
func (h *DealHandler) GetDealByID(c *gin.Context) {
	userID := middleware.GetUserID(c)

	dealID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DEAL_ID", "invalid deal id")
		return
	}

	deal, err := h.dealSvc.GetDeal(c.Request.Context(), dealID, userID)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_DEAL_NOT_FOUND", "deal not found")
		case errors.Is(err, domain.ErrUnauthorized):
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "access denied")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch deal")
		}
		return
	}
	respondSuccess(c, http.StatusOK, deal.ToResponse())
}

// parseOptionalDecimal parses a nullable decimal string field.
func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
