package handler

import (
	"net/http"

	"github.com/evetabi/dealdesk/internal/api/middleware"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/service"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves balance and transaction history endpoints.
type WalletHandler struct {
	dealSvc *service.DealService
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(dealSvc *service.DealService) *WalletHandler {
	return &WalletHandler{dealSvc: dealSvc}
}

// GetBalance godoc
// GET /api/wallet/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	bal, err := h.dealSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_BALANCE_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch balance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"balance":      bal.Balance,
		"free_balance": bal.FreeBalance,
		"total":        bal.Balance.Add(bal.FreeBalance),
		"trades_count": bal.TradesCount,
	})
}

// GetTransactions godoc
// GET /api/wallet/transactions?page=1&limit=20
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	txns, err := h.dealSvc.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch transactions")
		return
	}
	respondList(c, txns, len(txns), page, limit)
}
