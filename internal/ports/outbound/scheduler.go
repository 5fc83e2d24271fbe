package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"coralcrave-auction-service/internal/domain/shared"
)

// ExpiryScheduler fires item expiry once endAt has passed
type ExpiryScheduler interface {
	// Schedule arms (or re-arms) the expiry of an item at endAt
	Schedule(ctx context.Context, itemID uuid.UUID, endAt time.Time) error

	// Cancel disarms a pending expiry
	Cancel(ctx context.Context, itemID uuid.UUID) error
}

// ExpiryHandler is called by the scheduler when an item deadline passes
type ExpiryHandler interface {
	ExpireAuction(ctx context.Context, itemID uuid.UUID) (*shared.AuctionEndResult, error)
}
