package outbound

import (
	"context"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// SessionRepository defines the interface for live session data operations
type SessionRepository interface {
	// Create creates a new live session
	Create(ctx context.Context, session *shared.Session) error

	// GetByID retrieves a live session by ID
	GetByID(ctx context.Context, id uuid.UUID) (*shared.Session, error)

	// UpdateStatus sets the broadcast status of a session
	UpdateStatus(ctx context.Context, id uuid.UUID, status shared.SessionStatus) error
}

// ItemRepository defines the interface for auction item data operations
type ItemRepository interface {
	// Create stores a new item at version 0
	Create(ctx context.Context, item *auction.Item) error

	// GetByID retrieves an item together with its current version
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Item, error)

	// ListByLive retrieves the items of a live session in creation order
	ListByLive(ctx context.Context, liveID uuid.UUID) ([]*auction.Item, error)

	// ListRunning retrieves every item currently accepting bids
	ListRunning(ctx context.Context) ([]*auction.Item, error)

	// CommitItem atomically appends newBids and overwrites the item, but only if the
	// stored version still equals expectedVersion. On success item.Version is
	// expectedVersion+1. A mismatch returns shared.ErrVersionConflict and writes nothing.
	CommitItem(ctx context.Context, item *auction.Item, expectedVersion int64, newBids []*bid.Bid) error
}

// BidRepository defines the interface for bid data operations.
// Bids are written only through ItemRepository.CommitItem.
type BidRepository interface {
	// GetByItemID retrieves the most recent bids for an item, newest first
	GetByItemID(ctx context.Context, itemID uuid.UUID, limit int) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest bid for an item
	GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bid.Bid, error)
}

// ProxyBidRepository defines the interface for standing maximum bids
type ProxyBidRepository interface {
	// Upsert creates or replaces the proxy bid of (item, user)
	Upsert(ctx context.Context, proxy *bid.ProxyBid) error

	// Get retrieves the proxy bid of a user on an item
	Get(ctx context.Context, itemID, userID uuid.UUID) (*bid.ProxyBid, error)

	// GetByItemID retrieves all proxy bids on an item
	GetByItemID(ctx context.Context, itemID uuid.UUID) ([]*bid.ProxyBid, error)
}

// Store groups the repositories of one backing store
type Store interface {
	Sessions() SessionRepository
	Items() ItemRepository
	Bids() BidRepository
	ProxyBids() ProxyBidRepository
	Close() error
}
