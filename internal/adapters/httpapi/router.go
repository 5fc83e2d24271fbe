package httpapi

import (
	"net/http"

	"coralcrave-auction-service/internal/ports/inbound"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type RouterParams struct {
	AuctionService inbound.AuctionService
	BidService     inbound.BidService
	Verifier       TokenVerifier
	// WebSocket serves /ws when set
	WebSocket      http.HandlerFunc
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter configures all routes and wraps them with CORS
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger.With().Str("component", "http_api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(authenticate(params.Verifier, logger))

	h := newHandler(params.AuctionService, params.BidService, logger)

	router.GET("/health", h.Health)
	if params.WebSocket != nil {
		router.GET("/ws", gin.WrapF(params.WebSocket))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/bids", h.PlaceBid)

		items := v1.Group("/items")
		{
			items.GET("/:id", h.GetItem)
			items.GET("/:id/bids", h.ListBids)
			items.PUT("/:id/max-bid", requireIdentity, h.SetMaxBid)
			items.POST("/:id/start", requireIdentity, h.StartAuction)
			items.POST("/:id/end", requireIdentity, h.EndAuction)
		}

		sessions := v1.Group("/sessions", requireIdentity)
		{
			sessions.POST("", h.OpenSession)
			sessions.PUT("/:id/status", h.SetSessionStatus)
			sessions.POST("/:id/items", h.CreateItem)
			sessions.GET("/:id/items", h.ListItems)
		}
	}

	return cors.New(cors.Options{
		AllowedOrigins:   params.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)
}
