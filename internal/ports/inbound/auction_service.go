package inbound

import (
	"context"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// AuctionService defines the interface for item lifecycle operations
type AuctionService interface {
	// OpenSession creates a live session owned by the host
	OpenSession(ctx context.Context, req OpenSessionRequest) (*shared.Session, error)

	// SetSessionStatus records the broadcast status reported by the video subsystem
	SetSessionStatus(ctx context.Context, req SetSessionStatusRequest) (*shared.Session, error)

	// CreateItem queues a new item under a live session
	CreateItem(ctx context.Context, req CreateItemRequest) (*auction.Item, error)

	// GetItem retrieves an item by ID
	GetItem(ctx context.Context, itemID uuid.UUID) (*auction.Item, error)

	// ListItems retrieves the items of a live session
	ListItems(ctx context.Context, liveID uuid.UUID) ([]*auction.Item, error)

	// StartAuction starts the timer of a queued item
	StartAuction(ctx context.Context, req StartAuctionRequest) (*auction.Item, error)

	// EndAuction ends a running item on behalf of the host
	EndAuction(ctx context.Context, req EndAuctionRequest) (*shared.AuctionEndResult, error)

	// ExpireAuction closes an item whose deadline passed
	ExpireAuction(ctx context.Context, itemID uuid.UUID) (*shared.AuctionEndResult, error)
}

// BidService defines the interface for bid operations
type BidService interface {
	// PlaceBid validates and commits a bid intent
	PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidResult, error)

	// SetMaxBid stores a standing maximum and runs automatic counter-bidding
	SetMaxBid(ctx context.Context, req SetMaxBidRequest) (*BidResult, error)

	// GetBids retrieves the most recent bids for an item, newest first
	GetBids(ctx context.Context, itemID uuid.UUID, limit int) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest bid for an item
	GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bid.Bid, error)
}

// request to open a live session
type OpenSessionRequest struct {
	HostID uuid.UUID `json:"host_id"`
	Title  string    `json:"title"`
}

// request to change the broadcast status of a session
type SetSessionStatusRequest struct {
	LiveID uuid.UUID            `json:"live_id"`
	HostID uuid.UUID            `json:"host_id"`
	Status shared.SessionStatus `json:"status"`
}

// request to queue an item
type CreateItemRequest struct {
	LiveID            uuid.UUID    `json:"live_id"`
	HostID            uuid.UUID    `json:"host_id"`
	Title             string       `json:"title"`
	StartingPrice     float64      `json:"starting_price"`
	Mode              auction.Mode `json:"mode"`
	IncrementSchemeID string       `json:"increment_scheme_id"`
}

// request to start an item timer; a zero Duration uses the configured default for the mode
type StartAuctionRequest struct {
	ItemID   uuid.UUID     `json:"item_id"`
	HostID   uuid.UUID     `json:"host_id"`
	Duration time.Duration `json:"duration"`
}

// request to end an item early
type EndAuctionRequest struct {
	ItemID uuid.UUID `json:"item_id"`
	HostID uuid.UUID `json:"host_id"`
}

// request to place a bid; a nil UserID means the caller is not authenticated
type PlaceBidRequest struct {
	LiveID   uuid.UUID  `json:"stream_id"`
	ItemID   uuid.UUID  `json:"product_id"`
	UserID   *uuid.UUID `json:"user_id"`
	Username string     `json:"username"`
	Amount   float64    `json:"amount"`
}

// request to set a standing maximum bid
type SetMaxBidRequest struct {
	LiveID    uuid.UUID  `json:"stream_id"`
	ItemID    uuid.UUID  `json:"product_id"`
	UserID    *uuid.UUID `json:"user_id"`
	Username  string     `json:"username"`
	MaxAmount float64    `json:"max_amount"`
}

// BidResult is the committed outcome of a bid intent
type BidResult struct {
	ItemID            uuid.UUID  `json:"item_id"`
	Amount            float64    `json:"amount"`
	LeadingBidderID   *uuid.UUID `json:"leading_bidder_id"`
	LeadingBidderName string     `json:"leading_bidder_name"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	Version           int64      `json:"version"`
	// Bids holds every record written by the commit, user bid first
	Bids []*bid.Bid `json:"bids"`
}
