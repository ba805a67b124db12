package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/evetabi/dealdesk/internal/service"
	"github.com/gin-gonic/gin"
)

// PriceHandler serves spot price queries.
type PriceHandler struct {
	priceSvc *service.PriceService
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(priceSvc *service.PriceService) *PriceHandler {
	return &PriceHandler{priceSvc: priceSvc}
}

// GetPrice godoc
// GET /api/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	price, err := h.priceSvc.Latest(c.Request.Context(), symbol)
	if err != nil {
		if domain.IsTransient(err) {
			respondError(c, http.StatusServiceUnavailable, "ERR_PRICE_UNAVAILABLE", "no exchange answered")
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch price")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"symbol":    symbol,
		"price":     price,
		"timestamp": time.Now().UTC(),
	})
}
