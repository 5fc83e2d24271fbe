package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// ExpirationsKey is the sorted set of pending expiries, scored by deadline in
// unix milliseconds
const ExpirationsKey = "auction:expirations"

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 10
	retryDelay          = time.Second
)

// AuctionScheduler keeps item deadlines in a Redis sorted set and polls it,
// so any instance can close an item armed by another
type AuctionScheduler struct {
	redis        *redis.Client
	handler      outbound.ExpiryHandler
	clock        clockwork.Clock
	pollInterval time.Duration
	batchSize    int64
	logger       zerolog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           conc.WaitGroup
}

type AuctionSchedulerParams struct {
	RedisClient  *redis.Client
	Handler      outbound.ExpiryHandler
	Clock        clockwork.Clock
	PollInterval time.Duration
	Logger       zerolog.Logger
}

func NewAuctionScheduler(params AuctionSchedulerParams) *AuctionScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pollInterval := params.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &AuctionScheduler{
		redis:        params.RedisClient,
		handler:      params.Handler,
		clock:        clock,
		pollInterval: pollInterval,
		batchSize:    defaultBatchSize,
		logger:       params.Logger.With().Str("component", "auction_scheduler").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Schedule arms (or re-arms) the expiry of an item at endAt
func (s *AuctionScheduler) Schedule(ctx context.Context, itemID uuid.UUID, endAt time.Time) error {
	err := s.redis.ZAdd(ctx, ExpirationsKey, redis.Z{
		Score:  float64(endAt.UnixMilli()),
		Member: itemID.String(),
	}).Err()
	if err != nil {
		s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("Failed to schedule auction")
		return fmt.Errorf("failed to schedule auction: %w", err)
	}

	s.logger.Debug().
		Str("item_id", itemID.String()).
		Time("end_at", endAt).
		Msg("Auction scheduled for expiration")

	return nil
}

// Cancel disarms a pending expiry
func (s *AuctionScheduler) Cancel(ctx context.Context, itemID uuid.UUID) error {
	if err := s.redis.ZRem(ctx, ExpirationsKey, itemID.String()).Err(); err != nil {
		return fmt.Errorf("failed to cancel auction expiry: %w", err)
	}
	return nil
}

// Start begins the polling loop
func (s *AuctionScheduler) Start() {
	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("Starting auction scheduler")
	s.wg.Go(s.schedulerLoop)
}

// Stop stops polling and waits for in-flight expiries
func (s *AuctionScheduler) Stop() {
	s.logger.Info().Msg("Stopping auction scheduler")
	s.cancel()
	s.wg.Wait()
}

func (s *AuctionScheduler) schedulerLoop() {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.checkExpiredAuctions()
		case <-s.ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped")
			return
		}
	}
}

// checkExpiredAuctions claims due items and expires each one in its own goroutine.
// ZREM is the claim: only the instance that removes the member handles it.
func (s *AuctionScheduler) checkExpiredAuctions() {
	now := s.clock.Now().UnixMilli()

	due, err := s.redis.ZRangeByScore(s.ctx, ExpirationsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: s.batchSize,
	}).Result()
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Failed to get expired auctions")
		}
		return
	}

	for _, member := range due {
		itemID, err := uuid.Parse(member)
		if err != nil {
			s.logger.Error().Err(err).Str("item_id", member).Msg("Invalid item ID in schedule")
			s.redis.ZRem(s.ctx, ExpirationsKey, member)
			continue
		}

		claimed, err := s.redis.ZRem(s.ctx, ExpirationsKey, member).Result()
		if err != nil || claimed == 0 {
			continue
		}

		s.wg.Go(func() { s.expire(itemID) })
	}
}

func (s *AuctionScheduler) expire(itemID uuid.UUID) {
	result, err := s.handler.ExpireAuction(s.ctx, itemID)
	if err != nil {
		if !expirySettled(err) && s.ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("item_id", itemID.String()).Msg("Auction expiry failed, retrying")
			if err := s.Schedule(s.ctx, itemID, s.clock.Now().Add(retryDelay)); err != nil {
				s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("Failed to re-arm auction expiry")
			}
			return
		}
		s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("Failed to expire auction")
		return
	}

	logExpiry(s.logger, result)
}

// expirySettled reports whether a failed expiry leaves nothing to retry: the
// item is gone, already closed or not running. Any other failure keeps the
// expiry armed.
func expirySettled(err error) bool {
	switch shared.CodeOf(err) {
	case shared.CodeFailedPrecondition, shared.CodeNotFound, shared.CodeInvalidArgument:
		return true
	default:
		return false
	}
}

func logExpiry(logger zerolog.Logger, result *shared.AuctionEndResult) {
	if result.Rescheduled {
		return
	}
	event := logger.Info().Str("item_id", result.ItemID.String()).Str("status", result.Status)
	if result.WinnerID != nil {
		event = event.Str("winner_id", result.WinnerID.String())
	}
	if result.FinalPrice != nil {
		event = event.Float64("final_price", *result.FinalPrice)
	}
	event.Msg("Auction ended successfully")
}
