package broadcaster

import (
	"context"
	"sync"
	"time"

	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalBroadcaster delivers item events to subscribers of this process only.
// It is used when Redis is disabled.
type LocalBroadcaster struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]map[string]chan outbound.Event // itemID -> clientID -> channel
	closed bool
	logger zerolog.Logger
}

type LocalBroadcasterParams struct {
	Logger zerolog.Logger
}

func NewLocalBroadcaster(params LocalBroadcasterParams) *LocalBroadcaster {
	return &LocalBroadcaster{
		items:  make(map[uuid.UUID]map[string]chan outbound.Event),
		logger: params.Logger.With().Str("component", "local_broadcaster").Logger(),
	}
}

// Subscribe subscribes a client to events for a specific item
func (l *LocalBroadcaster) Subscribe(ctx context.Context, itemID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.items[itemID] == nil {
		l.items[itemID] = make(map[string]chan outbound.Event)
	}
	l.items[itemID][clientID] = eventChan
	return nil
}

// Unsubscribe unsubscribes a client from events for a specific item
func (l *LocalBroadcaster) Unsubscribe(ctx context.Context, itemID uuid.UUID, clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.items[itemID], clientID)
	if len(l.items[itemID]) == 0 {
		delete(l.items, itemID)
	}
	return nil
}

// Publish hands the event to every subscriber without blocking. A subscriber
// whose channel is full misses the event.
func (l *LocalBroadcaster) Publish(ctx context.Context, itemID uuid.UUID, event outbound.Event) error {
	event = stamp(event)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil
	}
	for clientID, ch := range l.items[itemID] {
		select {
		case ch <- event:
		default:
			l.logger.Warn().Str("client_id", clientID).Str("item_id", itemID.String()).Msg("Local channel full for client, dropping event")
		}
	}
	return nil
}

// GetSubscribers returns the clients subscribed to an item
func (l *LocalBroadcaster) GetSubscribers(ctx context.Context, itemID uuid.UUID) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	subscribers := make([]string, 0, len(l.items[itemID]))
	for clientID := range l.items[itemID] {
		subscribers = append(subscribers, clientID)
	}
	return subscribers, nil
}

func (l *LocalBroadcaster) IsSubscribed(ctx context.Context, itemID uuid.UUID, clientID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.items[itemID][clientID]
	return ok
}

// Close drops every subscription
func (l *LocalBroadcaster) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.items = make(map[uuid.UUID]map[string]chan outbound.Event)
	return nil
}

func stamp(event outbound.Event) outbound.Event {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	return event
}
