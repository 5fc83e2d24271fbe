package shared

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the broadcast state reported by the video subsystem
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

// Session represents a live broadcast under which items are auctioned
type Session struct {
	ID        uuid.UUID     `json:"id"`
	HostID    uuid.UUID     `json:"host_id"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsLive returns true if bids may be taken under this session
func (s *Session) IsLive() bool {
	return s.Status == SessionLive
}
