package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelName returns the pub/sub channel carrying the events of an item
func ChannelName(itemID uuid.UUID) string {
	return fmt.Sprintf("auction:%s", itemID.String())
}

// RedisBroadcaster fans item events out across service instances over Redis
// pub/sub. Each client gets one PubSub connection shared by all of its items.
type RedisBroadcaster struct {
	client      *redis.Client
	subscribers map[string]chan outbound.Event // clientID -> local channel
	pubsubs     map[string]*redis.PubSub       // clientID -> pubsub instance
	clientItems map[string]map[uuid.UUID]bool  // clientID -> itemID -> subscribed
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logger      zerolog.Logger
}

type RedisBroadcasterParams struct {
	RedisClient *redis.Client
	Logger      zerolog.Logger
}

func NewRedisBroadcaster(params RedisBroadcasterParams) *RedisBroadcaster {
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBroadcaster{
		client:      params.RedisClient,
		subscribers: make(map[string]chan outbound.Event),
		pubsubs:     make(map[string]*redis.PubSub),
		clientItems: make(map[string]map[uuid.UUID]bool),
		ctx:         ctx,
		cancel:      cancel,
		logger:      params.Logger.With().Str("component", "redis_broadcaster").Logger(),
	}
}

// Subscribe subscribes a client to events for a specific item
func (r *RedisBroadcaster) Subscribe(ctx context.Context, itemID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clientItems[clientID][itemID] {
		r.logger.Debug().
			Str("client_id", clientID).
			Str("item_id", itemID.String()).
			Msg("Client already subscribed to item")
		return nil
	}

	if r.subscribers[clientID] == nil {
		r.subscribers[clientID] = eventChan
	}
	if r.clientItems[clientID] == nil {
		r.clientItems[clientID] = make(map[uuid.UUID]bool)
	}

	pubsub, exists := r.pubsubs[clientID]
	if !exists {
		pubsub = r.client.Subscribe(ctx)
		r.pubsubs[clientID] = pubsub
		go r.listen(pubsub, clientID, r.subscribers[clientID])
	}

	if err := pubsub.Subscribe(ctx, ChannelName(itemID)); err != nil {
		r.logger.Error().Err(err).Str("client_id", clientID).Str("item_id", itemID.String()).Msg("Failed to subscribe to Redis channel")
		return fmt.Errorf("failed to subscribe to item %s: %w", itemID, err)
	}
	r.clientItems[clientID][itemID] = true

	r.logger.Info().
		Str("client_id", clientID).
		Str("item_id", itemID.String()).
		Msg("Client subscribed to item via Redis")
	return nil
}

// Unsubscribe unsubscribes a client from events for a specific item.
// The client's channel is never closed here; the client owns it.
func (r *RedisBroadcaster) Unsubscribe(ctx context.Context, itemID uuid.UUID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, exists := r.clientItems[clientID]
	if !exists || !items[itemID] {
		return nil
	}
	delete(items, itemID)

	pubsub := r.pubsubs[clientID]
	if len(items) == 0 {
		delete(r.clientItems, clientID)
		delete(r.subscribers, clientID)
		delete(r.pubsubs, clientID)
		if pubsub != nil {
			if err := pubsub.Close(); err != nil {
				r.logger.Error().Err(err).Str("client_id", clientID).Msg("Error closing Redis pubsub for client")
			}
		}
	} else if pubsub != nil {
		if err := pubsub.Unsubscribe(ctx, ChannelName(itemID)); err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Str("item_id", itemID.String()).Msg("Error unsubscribing from Redis channel")
		}
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("item_id", itemID.String()).
		Msg("Client unsubscribed from item")
	return nil
}

// Publish publishes an event to all subscribers of an item via Redis
func (r *RedisBroadcaster) Publish(ctx context.Context, itemID uuid.UUID, event outbound.Event) error {
	event = stamp(event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.Publish(ctx, ChannelName(itemID), payload)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	r.logger.Debug().
		Str("event_type", string(event.Type)).
		Str("item_id", itemID.String()).
		Int64("subscriber_count", result.Val()).
		Msg("Published event to item")

	return nil
}

// GetSubscribers returns the local clients subscribed to an item
func (r *RedisBroadcaster) GetSubscribers(ctx context.Context, itemID uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subscribers []string
	for clientID, items := range r.clientItems {
		if items[itemID] {
			subscribers = append(subscribers, clientID)
		}
	}

	return subscribers, nil
}

func (r *RedisBroadcaster) IsSubscribed(ctx context.Context, itemID uuid.UUID, clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.clientItems[clientID][itemID]
}

// listen forwards Redis messages to the client's local channel until the
// pubsub is closed or the broadcaster shuts down
func (r *RedisBroadcaster) listen(pubsub *redis.PubSub, clientID string, localChan chan outbound.Event) {
	ch := pubsub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event outbound.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to unmarshal Redis message for client")
				continue
			}

			select {
			case localChan <- event:
			default:
				r.logger.Warn().Str("client_id", clientID).Msg("Local channel full for client, dropping event")
			}

		case <-r.ctx.Done():
			return
		}
	}
}

// Close stops all listeners and closes the Redis client
func (r *RedisBroadcaster) Close() error {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, pubsub := range r.pubsubs {
		if err := pubsub.Close(); err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("Error closing Redis pubsub for client")
		}
	}
	r.pubsubs = make(map[string]*redis.PubSub)
	r.subscribers = make(map[string]chan outbound.Event)
	r.clientItems = make(map[string]map[uuid.UUID]bool)

	return r.client.Close()
}
