package bid

import (
	"time"

	"github.com/google/uuid"
)

// Source tells whether a bid came from the user or from their proxy maximum
type Source string

const (
	SourceUser Source = "user"
	SourceAuto Source = "auto"
)

// Bid represents one accepted raise on an auction item. Bids are never updated.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	ItemID    uuid.UUID `json:"item_id"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// New creates a bid record stamped at ts
func New(itemID, userID uuid.UUID, username string, amount float64, ts time.Time, source Source) *Bid {
	return &Bid{
		ID:        uuid.New(),
		ItemID:    itemID,
		UserID:    userID,
		Username:  username,
		Amount:    amount,
		Timestamp: ts,
		Source:    source,
	}
}

// IsAuto returns true if the bid was generated from a proxy maximum
func (b *Bid) IsAuto() bool {
	return b.Source == SourceAuto
}

// ProxyBid is the standing maximum a user authorizes for automatic counter-bids.
// There is at most one per (item, user).
type ProxyBid struct {
	ItemID    uuid.UUID `json:"item_id"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	MaxAmount float64   `json:"max_amount"`
	UpdatedAt time.Time `json:"updated_at"`
}
