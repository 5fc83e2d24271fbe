package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuctionSold is emitted once per sold item for the order subsystem
type AuctionSold struct {
	ItemID     uuid.UUID `json:"item_id"`
	LiveID     uuid.UUID `json:"live_id"`
	WinnerID   uuid.UUID `json:"winner_id"`
	WinnerName string    `json:"winner_name"`
	FinalPrice float64   `json:"final_price"`
	SoldAt     time.Time `json:"sold_at"`
}

// OrderPublisher hands sold items to the payment/order subsystem
type OrderPublisher interface {
	PublishAuctionSold(ctx context.Context, event AuctionSold) error
	Close() error
}
