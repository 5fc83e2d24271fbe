package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type placeBidRequest struct {
	StreamID  uuid.UUID `json:"streamId"`
	ProductID uuid.UUID `json:"productId"`
	Amount    float64   `json:"amount"`
}

type setMaxBidRequest struct {
	StreamID  uuid.UUID `json:"streamId"`
	MaxAmount float64   `json:"maxAmount"`
}

// bidResponse is the success body of the callable bid endpoints
type bidResponse struct {
	OK               bool       `json:"ok"`
	HighestBid       float64    `json:"highestBid"`
	HighestBidderUID *uuid.UUID `json:"highestBidderUid"`
	EndAt            *time.Time `json:"endAt,omitempty"`
}

type openSessionRequest struct {
	Title string `json:"title"`
}

type sessionStatusRequest struct {
	Status shared.SessionStatus `json:"status"`
}

type createItemRequest struct {
	Title             string       `json:"title"`
	StartingPrice     float64      `json:"startingPrice"`
	Mode              auction.Mode `json:"mode"`
	IncrementSchemeID string       `json:"incrementSchemeId"`
}

type startAuctionRequest struct {
	DurationSeconds int `json:"durationSeconds"`
}

type endAuctionResponse struct {
	OK         bool       `json:"ok"`
	Status     string     `json:"status"`
	WinnerID   *uuid.UUID `json:"winnerId,omitempty"`
	FinalPrice *float64   `json:"finalPrice,omitempty"`
}

// Handler serves the callable HTTP API
type Handler struct {
	auctions inbound.AuctionService
	bids     inbound.BidService
	logger   zerolog.Logger
}

func newHandler(auctions inbound.AuctionService, bids inbound.BidService, logger zerolog.Logger) *Handler {
	return &Handler{auctions: auctions, bids: bids, logger: logger}
}

// PlaceBid handles POST /v1/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	placeReq := inbound.PlaceBidRequest{LiveID: req.StreamID, ItemID: req.ProductID, Amount: req.Amount}
	if identity := identityFrom(c); identity != nil {
		placeReq.UserID = &identity.UserID
		placeReq.Username = identity.Username
	}

	result, err := h.bids.PlaceBid(c.Request.Context(), placeReq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBidResponse(result))
}

// SetMaxBid handles PUT /v1/items/:id/max-bid
func (h *Handler) SetMaxBid(c *gin.Context) {
	itemID, ok := pathID(c, shared.ErrItemIDRequired)
	if !ok {
		return
	}
	var req setMaxBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	identity := identityFrom(c)
	result, err := h.bids.SetMaxBid(c.Request.Context(), inbound.SetMaxBidRequest{
		LiveID:    req.StreamID,
		ItemID:    itemID,
		UserID:    &identity.UserID,
		Username:  identity.Username,
		MaxAmount: req.MaxAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBidResponse(result))
}

// GetItem handles GET /v1/items/:id
func (h *Handler) GetItem(c *gin.Context) {
	itemID, ok := pathID(c, shared.ErrItemIDRequired)
	if !ok {
		return
	}
	item, err := h.auctions.GetItem(c.Request.Context(), itemID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ListBids handles GET /v1/items/:id/bids?limit=N, newest first
func (h *Handler) ListBids(c *gin.Context) {
	itemID, ok := pathID(c, shared.ErrItemIDRequired)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, shared.ErrInvalidBidLimit)
			return
		}
		limit = parsed
	}

	bids, err := h.bids.GetBids(c.Request.Context(), itemID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids, "count": len(bids)})
}

// OpenSession handles POST /v1/sessions
func (h *Handler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	session, err := h.auctions.OpenSession(c.Request.Context(), inbound.OpenSessionRequest{
		HostID: identityFrom(c).UserID,
		Title:  req.Title,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// SetSessionStatus handles PUT /v1/sessions/:id/status
func (h *Handler) SetSessionStatus(c *gin.Context) {
	liveID, ok := pathID(c, shared.ErrLiveIDRequired)
	if !ok {
		return
	}
	var req sessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	session, err := h.auctions.SetSessionStatus(c.Request.Context(), inbound.SetSessionStatusRequest{
		LiveID: liveID,
		HostID: identityFrom(c).UserID,
		Status: req.Status,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// CreateItem handles POST /v1/sessions/:id/items
func (h *Handler) CreateItem(c *gin.Context) {
	liveID, ok := pathID(c, shared.ErrLiveIDRequired)
	if !ok {
		return
	}
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	item, err := h.auctions.CreateItem(c.Request.Context(), inbound.CreateItemRequest{
		LiveID:            liveID,
		HostID:            identityFrom(c).UserID,
		Title:             req.Title,
		StartingPrice:     req.StartingPrice,
		Mode:              req.Mode,
		IncrementSchemeID: req.IncrementSchemeID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// ListItems handles GET /v1/sessions/:id/items
func (h *Handler) ListItems(c *gin.Context) {
	liveID, ok := pathID(c, shared.ErrLiveIDRequired)
	if !ok {
		return
	}
	items, err := h.auctions.ListItems(c.Request.Context(), liveID)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []*auction.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// StartAuction handles POST /v1/items/:id/start
func (h *Handler) StartAuction(c *gin.Context) {
	itemID, ok := pathID(c, shared.ErrItemIDRequired)
	if !ok {
		return
	}
	var req startAuctionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}
	item, err := h.auctions.StartAuction(c.Request.Context(), inbound.StartAuctionRequest{
		ItemID:   itemID,
		HostID:   identityFrom(c).UserID,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// EndAuction handles POST /v1/items/:id/end
func (h *Handler) EndAuction(c *gin.Context) {
	itemID, ok := pathID(c, shared.ErrItemIDRequired)
	if !ok {
		return
	}
	result, err := h.auctions.EndAuction(c.Request.Context(), inbound.EndAuctionRequest{
		ItemID: itemID,
		HostID: identityFrom(c).UserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, endAuctionResponse{
		OK:         true,
		Status:     result.Status,
		WinnerID:   result.WinnerID,
		FinalPrice: result.FinalPrice,
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "auction-service"})
}

func pathID(c *gin.Context, invalid error) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, invalid)
		return uuid.Nil, false
	}
	return id, true
}

func toBidResponse(result *inbound.BidResult) bidResponse {
	return bidResponse{
		OK:               true,
		HighestBid:       result.Amount,
		HighestBidderUID: result.LeadingBidderID,
		EndAt:            result.EndAt,
	}
}
