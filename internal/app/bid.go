package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/increment"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultMaxCommitAttempts = 5
	defaultMaxAutoBidRounds  = 50
	defaultBidLimit          = 20
)

// AntiSnipeSettings controls deadline extension for bids landing near the end of speed items
type AntiSnipeSettings struct {
	Enabled       bool
	Window        time.Duration
	Extension     time.Duration
	MaxExtensions int
}

// BidSettings tunes the committer
type BidSettings struct {
	MaxCommitAttempts int
	MaxAutoBidRounds  int
	AntiSnipe         AntiSnipeSettings
}

// BidService implements the bid use cases
type BidService struct {
	sessionRepo outbound.SessionRepository
	itemRepo    outbound.ItemRepository
	bidRepo     outbound.BidRepository
	proxyRepo   outbound.ProxyBidRepository
	broadcaster outbound.Broadcaster
	scheduler   outbound.ExpiryScheduler
	increments  *increment.Registry
	clock       clockwork.Clock
	settings    BidSettings
	logger      zerolog.Logger
}

type BidServiceParams struct {
	SessionRepo outbound.SessionRepository
	ItemRepo    outbound.ItemRepository
	BidRepo     outbound.BidRepository
	ProxyRepo   outbound.ProxyBidRepository
	Broadcaster outbound.Broadcaster
	Scheduler   outbound.ExpiryScheduler
	Increments  *increment.Registry
	Clock       clockwork.Clock
	Settings    BidSettings
	Logger      zerolog.Logger
}

// NewBidService creates a new bid service
func NewBidService(params BidServiceParams) *BidService {
	if params.Clock == nil {
		params.Clock = clockwork.NewRealClock()
	}
	if params.Increments == nil {
		params.Increments, _ = increment.NewRegistry(increment.DefaultLadder())
	}
	if params.Settings.MaxCommitAttempts <= 0 {
		params.Settings.MaxCommitAttempts = defaultMaxCommitAttempts
	}
	if params.Settings.MaxAutoBidRounds <= 0 {
		params.Settings.MaxAutoBidRounds = defaultMaxAutoBidRounds
	}
	if params.Settings.AntiSnipe.Extension <= 0 {
		params.Settings.AntiSnipe.Extension = params.Settings.AntiSnipe.Window
	}
	return &BidService{
		sessionRepo: params.SessionRepo,
		itemRepo:    params.ItemRepo,
		bidRepo:     params.BidRepo,
		proxyRepo:   params.ProxyRepo,
		broadcaster: params.Broadcaster,
		scheduler:   params.Scheduler,
		increments:  params.Increments,
		clock:       params.Clock,
		settings:    params.Settings,
		logger:      params.Logger.With().Str("component", "bid_service").Logger(),
	}
}

// decideFunc mutates a working copy of the item and returns the bids to append
type decideFunc func(item *auction.Item, ladder increment.Ladder, proxies []*bid.ProxyBid, now time.Time) ([]*bid.Bid, error)

// PlaceBid validates a bid intent and commits it together with any automatic counter-bids
func (s *BidService) PlaceBid(ctx context.Context, req inbound.PlaceBidRequest) (*inbound.BidResult, error) {
	if req.UserID == nil || *req.UserID == uuid.Nil {
		s.logger.Warn().Str("item_id", req.ItemID.String()).Msg("Rejected unauthenticated bid")
		return nil, shared.ErrUnauthenticated
	}
	if err := validateIDs(req.LiveID, req.ItemID); err != nil {
		return nil, err
	}
	if !validAmount(req.Amount) {
		s.logger.Warn().Float64("amount", req.Amount).Msg("Invalid bid amount")
		return nil, shared.ErrInvalidAmount
	}

	userID := *req.UserID
	amount := increment.Round(req.Amount)

	s.logger.Debug().
		Str("item_id", req.ItemID.String()).
		Str("user_id", userID.String()).
		Float64("amount", amount).
		Msg("Attempting to place bid")

	if err := s.requireLiveSession(ctx, req.LiveID); err != nil {
		return nil, err
	}

	result, err := s.commit(ctx, req.LiveID, req.ItemID, func(item *auction.Item, ladder increment.Ladder, proxies []*bid.ProxyBid, now time.Time) ([]*bid.Bid, error) {
		if err := checkBiddable(item, now); err != nil {
			return nil, err
		}
		if !ladder.Meets(amount, item.CurrentPrice) {
			s.logger.Info().
				Str("item_id", item.ID.String()).
				Float64("current_price", item.CurrentPrice).
				Float64("minimum_bid", ladder.MinimumBid(item.CurrentPrice)).
				Float64("amount", amount).
				Msg("Bid too low")
			return nil, shared.ErrBidTooLow
		}

		userBid := bid.New(item.ID, userID, req.Username, amount, item.NextBidTimestamp(now), bid.SourceUser)
		item.ApplyBid(userBid)

		bids := append([]*bid.Bid{userBid}, runProxies(item, proxies, ladder, now, s.settings.MaxAutoBidRounds)...)
		s.applyAntiSnipe(item, now)
		return bids, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_id", req.ItemID.String()).
		Str("user_id", userID.String()).
		Float64("amount", amount).
		Float64("current_price", result.Amount).
		Int("auto_bids", len(result.Bids)-1).
		Msg("Bid placed")

	return result, nil
}

// SetMaxBid stores the caller's standing maximum and lets it counter-bid immediately
func (s *BidService) SetMaxBid(ctx context.Context, req inbound.SetMaxBidRequest) (*inbound.BidResult, error) {
	if req.UserID == nil || *req.UserID == uuid.Nil {
		return nil, shared.ErrUnauthenticated
	}
	if err := validateIDs(req.LiveID, req.ItemID); err != nil {
		return nil, err
	}
	if !validAmount(req.MaxAmount) {
		return nil, shared.ErrInvalidAmount
	}
	userID := *req.UserID
	maxAmount := increment.Round(req.MaxAmount)

	if err := s.requireLiveSession(ctx, req.LiveID); err != nil {
		return nil, err
	}

	item, err := s.loadItem(ctx, req.LiveID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if err := checkBiddable(item, s.clock.Now()); err != nil {
		return nil, err
	}
	ladder := s.increments.Lookup(item.IncrementSchemeID)
	if !item.IsLeader(userID) && !ladder.Meets(maxAmount, item.CurrentPrice) {
		return nil, shared.ErrMaxBidTooLow
	}

	proxy := &bid.ProxyBid{
		ItemID:    req.ItemID,
		UserID:    userID,
		Username:  req.Username,
		MaxAmount: maxAmount,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.proxyRepo.Upsert(ctx, proxy); err != nil {
		s.logger.Error().Err(err).Str("item_id", req.ItemID.String()).Msg("Failed to store max bid")
		return nil, fmt.Errorf("store max bid: %w", err)
	}

	s.logger.Info().
		Str("item_id", req.ItemID.String()).
		Str("user_id", userID.String()).
		Float64("max_amount", maxAmount).
		Msg("Max bid stored")

	return s.commit(ctx, req.LiveID, req.ItemID, func(item *auction.Item, ladder increment.Ladder, proxies []*bid.ProxyBid, now time.Time) ([]*bid.Bid, error) {
		if err := checkBiddable(item, now); err != nil {
			return nil, err
		}
		bids := runProxies(item, proxies, ladder, now, s.settings.MaxAutoBidRounds)
		if len(bids) > 0 {
			s.applyAntiSnipe(item, now)
		}
		return bids, nil
	})
}

// GetBids retrieves the most recent bids for an item, newest first
func (s *BidService) GetBids(ctx context.Context, itemID uuid.UUID, limit int) ([]*bid.Bid, error) {
	if itemID == uuid.Nil {
		return nil, shared.ErrItemIDRequired
	}
	if limit < 0 {
		return nil, shared.ErrInvalidBidLimit
	}
	if limit == 0 {
		limit = defaultBidLimit
	}
	return s.bidRepo.GetByItemID(ctx, itemID, limit)
}

// GetHighestBid retrieves the highest bid for an item
func (s *BidService) GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bid.Bid, error) {
	if itemID == uuid.Nil {
		return nil, shared.ErrItemIDRequired
	}
	return s.bidRepo.GetHighestBid(ctx, itemID)
}

/*
commit runs the optimistic concurrency loop:
 1. read the item and its version
 2. let decide mutate a working copy
 3. write bids and item only if the version is unchanged
 4. on a version conflict re-read and decide again, up to MaxCommitAttempts
*/
func (s *BidService) commit(ctx context.Context, liveID, itemID uuid.UUID, decide decideFunc) (*inbound.BidResult, error) {
	for attempt := 1; attempt <= s.settings.MaxCommitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrCommitAborted, err)
		}

		current, err := s.loadItem(ctx, liveID, itemID)
		if err != nil {
			return nil, err
		}
		proxies, err := s.proxyRepo.GetByItemID(ctx, itemID)
		if err != nil {
			return nil, s.storeError("load max bids", err)
		}

		working := current.Clone()
		ladder := s.increments.Lookup(working.IncrementSchemeID)
		newBids, err := decide(working, ladder, proxies, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if len(newBids) == 0 {
			return toBidResult(current, nil), nil
		}

		err = s.itemRepo.CommitItem(ctx, working, current.Version, newBids)
		if errors.Is(err, shared.ErrVersionConflict) {
			s.logger.Debug().
				Str("item_id", itemID.String()).
				Int64("version", current.Version).
				Int("attempt", attempt).
				Msg("Version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, s.storeError("commit bid", err)
		}

		s.afterCommit(ctx, current, working, newBids)
		return toBidResult(working, newBids), nil
	}

	s.logger.Warn().
		Str("item_id", itemID.String()).
		Int("attempts", s.settings.MaxCommitAttempts).
		Msg("Giving up after repeated version conflicts")
	return nil, shared.ErrCommitAborted
}

// afterCommit pushes the committed change and re-arms the expiry when the deadline moved
func (s *BidService) afterCommit(ctx context.Context, before, after *auction.Item, newBids []*bid.Bid) {
	if after.Extensions > before.Extensions && after.EndAt != nil && s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, after.ID, *after.EndAt); err != nil {
			s.logger.Error().Err(err).Str("item_id", after.ID.String()).Msg("Failed to re-arm extended auction")
		} else {
			s.logger.Info().
				Str("item_id", after.ID.String()).
				Time("end_at", *after.EndAt).
				Int("extensions", after.Extensions).
				Msg("Auction extended")
		}
	}

	if s.broadcaster == nil {
		return
	}
	for _, b := range newBids {
		if err := s.broadcaster.Publish(ctx, after.ID, bidPlacedEvent(b)); err != nil {
			s.logger.Error().Err(err).Str("bid_id", b.ID.String()).Msg("Failed to broadcast bid event")
		}
	}
	if err := s.broadcaster.Publish(ctx, after.ID, itemEvent(outbound.EventTypeItemUpdated, after)); err != nil {
		s.logger.Error().Err(err).Str("item_id", after.ID.String()).Msg("Failed to broadcast item update")
	}
}

// applyAntiSnipe extends a speed item whose accepted bid landed within the window
func (s *BidService) applyAntiSnipe(item *auction.Item, now time.Time) {
	cfg := s.settings.AntiSnipe
	if !cfg.Enabled || !item.IsSpeed() || item.EndAt == nil || cfg.Window <= 0 {
		return
	}
	if item.Extensions >= cfg.MaxExtensions {
		return
	}
	if item.TimeLeft(now) <= cfg.Window {
		item.Extend(cfg.Extension)
	}
}

func (s *BidService) requireLiveSession(ctx context.Context, liveID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, liveID)
	if err != nil {
		if errors.Is(err, shared.ErrSessionNotFound) {
			return shared.ErrSessionNotFound
		}
		return s.storeError("load session", err)
	}
	if !session.IsLive() {
		return shared.ErrSessionNotLive
	}
	return nil
}

func (s *BidService) loadItem(ctx context.Context, liveID, itemID uuid.UUID) (*auction.Item, error) {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, shared.ErrItemNotFound) {
			return nil, shared.ErrItemNotFound
		}
		return nil, s.storeError("load item", err)
	}
	if item.LiveID != liveID {
		return nil, shared.ErrItemNotFound
	}
	return item, nil
}

// storeError surfaces store timeouts as retryable and everything else as internal
func (s *BidService) storeError(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("Store operation failed")
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", shared.ErrCommitAborted, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkBiddable(item *auction.Item, now time.Time) error {
	if !item.IsRunning() {
		return shared.ErrItemNotRunning
	}
	if item.Expired(now) {
		return shared.ErrAuctionEnded
	}
	return nil
}

func validateIDs(liveID, itemID uuid.UUID) error {
	if liveID == uuid.Nil {
		return shared.ErrLiveIDRequired
	}
	if itemID == uuid.Nil {
		return shared.ErrItemIDRequired
	}
	return nil
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsNaN(amount) && !math.IsInf(amount, 0)
}

func toBidResult(item *auction.Item, bids []*bid.Bid) *inbound.BidResult {
	return &inbound.BidResult{
		ItemID:            item.ID,
		Amount:            item.CurrentPrice,
		LeadingBidderID:   item.LeadingBidderID,
		LeadingBidderName: item.LeadingBidderName,
		EndAt:             item.EndAt,
		Version:           item.Version,
		Bids:              bids,
	}
}
