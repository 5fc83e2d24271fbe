package auction

import (
	"time"

	"github.com/google/uuid"

	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"
)

// Status represents the lifecycle state of an auction item
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSold    Status = "sold"
	StatusUnsold  Status = "unsold"
)

// Mode distinguishes regular items from short speed auctions
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeSpeed   Mode = "speed"
)

// Item represents one item up for bid within a live session
type Item struct {
	ID                uuid.UUID  `json:"id"`
	LiveID            uuid.UUID  `json:"live_id"`
	Title             string     `json:"title"`
	StartingPrice     float64    `json:"starting_price"`
	CurrentPrice      float64    `json:"current_price"`
	Status            Status     `json:"status"`
	Mode              Mode       `json:"mode"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	LeadingBidderID   *uuid.UUID `json:"leading_bidder_id,omitempty"`
	LeadingBidderName string     `json:"leading_bidder_name,omitempty"`
	WinnerID          *uuid.UUID `json:"winner_id,omitempty"`
	IncrementSchemeID string     `json:"increment_scheme_id"`
	Extensions        int        `json:"extensions"`
	LastBidAt         *time.Time `json:"last_bid_at,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewItem creates a queued item priced at startingPrice
func NewItem(liveID uuid.UUID, title string, startingPrice float64, mode Mode, schemeID string, now time.Time) (*Item, error) {
	if liveID == uuid.Nil {
		return nil, shared.ErrLiveIDRequired
	}
	if title == "" {
		return nil, shared.ErrTitleRequired
	}
	if startingPrice <= 0 {
		return nil, shared.ErrInvalidPrice
	}
	if mode == "" {
		mode = ModeClassic
	}
	return &Item{
		ID:                uuid.New(),
		LiveID:            liveID,
		Title:             title,
		StartingPrice:     startingPrice,
		CurrentPrice:      startingPrice,
		Status:            StatusQueued,
		Mode:              mode,
		IncrementSchemeID: schemeID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsRunning returns true if the item is accepting bids
func (i *Item) IsRunning() bool {
	return i.Status == StatusRunning
}

// IsTerminal returns true once the item is sold or unsold
func (i *Item) IsTerminal() bool {
	return i.Status == StatusSold || i.Status == StatusUnsold
}

// IsSpeed returns true for speed auctions
func (i *Item) IsSpeed() bool {
	return i.Mode == ModeSpeed
}

// HasLeader returns true if someone holds the current price
func (i *Item) HasLeader() bool {
	return i.LeadingBidderID != nil
}

// IsLeader reports whether userID holds the current price
func (i *Item) IsLeader(userID uuid.UUID) bool {
	return i.LeadingBidderID != nil && *i.LeadingBidderID == userID
}

// Expired reports whether the deadline has passed at now
func (i *Item) Expired(now time.Time) bool {
	return i.EndAt != nil && !now.Before(*i.EndAt)
}

// TimeLeft returns max(0, endAt-now), zero when the item is not running
func (i *Item) TimeLeft(now time.Time) time.Duration {
	if !i.IsRunning() || i.EndAt == nil {
		return 0
	}
	left := i.EndAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Start moves a queued item to running with a deadline duration from now
func (i *Item) Start(now time.Time, duration time.Duration) error {
	if i.Status != StatusQueued {
		if i.IsTerminal() {
			return shared.ErrItemAlreadyClosed
		}
		return shared.ErrItemNotQueued
	}
	if duration <= 0 {
		return shared.ErrInvalidDuration
	}
	endAt := now.Add(duration)
	i.Status = StatusRunning
	i.EndAt = &endAt
	i.UpdatedAt = now
	return nil
}

// Close ends a running item: sold to the leader if there is one, otherwise unsold
func (i *Item) Close(now time.Time) error {
	if i.IsTerminal() {
		return shared.ErrItemAlreadyClosed
	}
	if !i.IsRunning() {
		return shared.ErrItemNotRunning
	}
	if i.HasLeader() {
		winner := *i.LeadingBidderID
		i.Status = StatusSold
		i.WinnerID = &winner
	} else {
		i.Status = StatusUnsold
	}
	i.EndAt = nil
	i.UpdatedAt = now
	return nil
}

// ApplyBid moves the price and leader to an accepted bid
func (i *Item) ApplyBid(b *bid.Bid) {
	leader := b.UserID
	at := b.Timestamp
	i.CurrentPrice = b.Amount
	i.LeadingBidderID = &leader
	i.LeadingBidderName = b.Username
	i.LastBidAt = &at
	i.UpdatedAt = at
}

// NextBidTimestamp returns a server timestamp strictly after the last accepted bid
func (i *Item) NextBidTimestamp(now time.Time) time.Time {
	if i.LastBidAt != nil && !now.After(*i.LastBidAt) {
		return i.LastBidAt.Add(time.Microsecond)
	}
	return now
}

// Extend pushes the deadline by d and counts the extension
func (i *Item) Extend(d time.Duration) {
	if i.EndAt == nil {
		return
	}
	endAt := i.EndAt.Add(d)
	i.EndAt = &endAt
	i.Extensions++
}

// Clone returns a deep copy safe to mutate during a commit attempt
func (i *Item) Clone() *Item {
	c := *i
	if i.EndAt != nil {
		t := *i.EndAt
		c.EndAt = &t
	}
	if i.LeadingBidderID != nil {
		id := *i.LeadingBidderID
		c.LeadingBidderID = &id
	}
	if i.WinnerID != nil {
		id := *i.WinnerID
		c.WinnerID = &id
	}
	if i.LastBidAt != nil {
		t := *i.LastBidAt
		c.LastBidAt = &t
	}
	return &c
}
