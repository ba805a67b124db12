package api

import (
	"net/http"

	"github.com/evetabi/dealdesk/internal/api/handler"
	"github.com/evetabi/dealdesk/internal/api/middleware"
	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/service"
	"github.com/evetabi/dealdesk/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	DealSvc  *service.DealService
	PriceSvc *service.PriceService
	Hub      *ws.Hub
	Cfg      *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		payload := gin.H{
			"status":    "ok",
			"exchanges": deps.PriceSvc.ExchangeStatus(),
		}
		if deps.Hub != nil {
			payload["ws_clients"] = deps.Hub.ConnectedCount()
		}
		c.JSON(http.StatusOK, payload)
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	dealH := handler.NewDealHandler(deps.DealSvc)
	walletH := handler.NewWalletHandler(deps.DealSvc)
	priceH := handler.NewPriceHandler(deps.PriceSvc)

	// ── Identity middleware (gateway-injected user id) ───────────────────────
	identityMW := middleware.IdentityMiddleware()

	// ── Rate limiters ─────────────────────────────────────────────────────────
	priceRL := middleware.RateLimitMiddleware(10) // 10 req/s for price queries
	dealRL := middleware.RateLimitMiddleware(30)  // 30 req/s for trading endpoints

	api := r.Group("/api")
	{
		// ── Prices (public) ──────────────────────────────────────────────────
		prices := api.Group("/prices")
		prices.Use(priceRL)
		{
			prices.GET("/:symbol", priceH.GetPrice)
		}

		// ── Identified routes ────────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(identityMW)
		{
			// Deals
			deals := authed.Group("/deals")
			deals.Use(dealRL)
			{
				deals.POST("", dealH.OpenDeal)
				deals.GET("/my", dealH.GetMyDeals)
				deals.GET("/:id", dealH.GetDealByID)
				deals.POST("/:id/close", dealH.CloseDeal)
			}

			// Wallet
			wallet := authed.Group("/wallet")
			{
				wallet.GET("/balance", walletH.GetBalance)
				wallet.GET("/transactions", walletH.GetTransactions)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Production: allow only evetabi.com (and www.)
			allowed := map[string]bool{
				"https://evetabi.com":     true,
				"https://www.evetabi.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
