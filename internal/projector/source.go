package projector

import (
	"context"
	"errors"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"

	"github.com/google/uuid"
)

// ErrSourceClosed is reported when a watch ends without being cancelled
var ErrSourceClosed = errors.New("projector: store subscription closed")

// ChangeKind tells what happened to a document in a watched feed
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// BidChange is one document change in the recent-bids feed
type BidChange struct {
	Kind ChangeKind
	Bid  *bid.Bid
}

// ItemEvent carries either a fresh item snapshot or a watch error
type ItemEvent struct {
	Item *auction.Item
	Err  error
}

// BidEvent carries a batch of bid changes or a watch error
type BidEvent struct {
	Changes []BidChange
	Err     error
}

// Source opens live watches on the store. Channels are closed once ctx is
// cancelled; closing earlier means the watch was lost.
type Source interface {
	WatchItem(ctx context.Context, itemID uuid.UUID) (<-chan ItemEvent, error)
	WatchBids(ctx context.Context, itemID uuid.UUID, limit int) (<-chan BidEvent, error)
}

// BidOutcome is the committed result returned for a bid intent
type BidOutcome struct {
	HighestBid      float64
	HighestBidderID *uuid.UUID
}

// BidClient submits bid intents to the committer
type BidClient interface {
	PlaceBid(ctx context.Context, liveID, itemID uuid.UUID, amount float64) (*BidOutcome, error)
	SetMaxBid(ctx context.Context, liveID, itemID uuid.UUID, maxAmount float64) (*BidOutcome, error)
}
