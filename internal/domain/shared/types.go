package shared

import "github.com/google/uuid"

// AuctionEndResult represents the result of closing an auction item
type AuctionEndResult struct {
	ItemID     uuid.UUID
	LiveID     uuid.UUID
	WinnerID   *uuid.UUID
	FinalPrice *float64
	Status     string
	// Rescheduled is set when the deadline moved past the expiry check
	Rescheduled bool
}

// Identity is the authenticated caller of an operation
type Identity struct {
	UserID   uuid.UUID
	Username string
}
