package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/increment"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultAuctionDuration = 60 * time.Second
	defaultSpeedDuration   = 15 * time.Second

	defaultSoldPublishAttempts = 3
	defaultSoldPublishBackoff  = 500 * time.Millisecond
)

// AuctionSettings holds lifecycle defaults
type AuctionSettings struct {
	DefaultDuration   time.Duration
	SpeedDuration     time.Duration
	MaxCommitAttempts int
	// SoldPublishAttempts bounds publishes of one sale; the wait between them
	// starts at SoldPublishBackoff and doubles
	SoldPublishAttempts int
	SoldPublishBackoff  time.Duration
}

// AuctionService implements the item lifecycle use cases and outbound.ExpiryHandler
type AuctionService struct {
	sessionRepo outbound.SessionRepository
	itemRepo    outbound.ItemRepository
	broadcaster outbound.Broadcaster
	scheduler   outbound.ExpiryScheduler
	orders      outbound.OrderPublisher
	increments  *increment.Registry
	clock       clockwork.Clock
	settings    AuctionSettings
	logger      zerolog.Logger
}

type AuctionServiceParams struct {
	SessionRepo outbound.SessionRepository
	ItemRepo    outbound.ItemRepository
	Broadcaster outbound.Broadcaster
	Scheduler   outbound.ExpiryScheduler
	Orders      outbound.OrderPublisher
	Increments  *increment.Registry
	Clock       clockwork.Clock
	Settings    AuctionSettings
	Logger      zerolog.Logger
}

// NewAuctionService creates a new auction service
func NewAuctionService(params AuctionServiceParams) *AuctionService {
	if params.Clock == nil {
		params.Clock = clockwork.NewRealClock()
	}
	if params.Increments == nil {
		params.Increments, _ = increment.NewRegistry(increment.DefaultLadder())
	}
	if params.Settings.DefaultDuration <= 0 {
		params.Settings.DefaultDuration = defaultAuctionDuration
	}
	if params.Settings.SpeedDuration <= 0 {
		params.Settings.SpeedDuration = defaultSpeedDuration
	}
	if params.Settings.MaxCommitAttempts <= 0 {
		params.Settings.MaxCommitAttempts = defaultMaxCommitAttempts
	}
	if params.Settings.SoldPublishAttempts <= 0 {
		params.Settings.SoldPublishAttempts = defaultSoldPublishAttempts
	}
	if params.Settings.SoldPublishBackoff <= 0 {
		params.Settings.SoldPublishBackoff = defaultSoldPublishBackoff
	}
	return &AuctionService{
		sessionRepo: params.SessionRepo,
		itemRepo:    params.ItemRepo,
		broadcaster: params.Broadcaster,
		scheduler:   params.Scheduler,
		orders:      params.Orders,
		increments:  params.Increments,
		clock:       params.Clock,
		settings:    params.Settings,
		logger:      params.Logger.With().Str("component", "auction_service").Logger(),
	}
}

// SetScheduler sets the expiry scheduler. The scheduler needs the service as its
// handler, so one of the two is wired after construction.
func (s *AuctionService) SetScheduler(scheduler outbound.ExpiryScheduler) {
	s.scheduler = scheduler
}

// OpenSession creates a scheduled live session for the host
func (s *AuctionService) OpenSession(ctx context.Context, req inbound.OpenSessionRequest) (*shared.Session, error) {
	if req.HostID == uuid.Nil {
		return nil, shared.ErrUnauthenticated
	}
	if req.Title == "" {
		return nil, shared.ErrTitleRequired
	}
	now := s.clock.Now()
	session := &shared.Session{
		ID:        uuid.New(),
		HostID:    req.HostID,
		Title:     req.Title,
		Status:    shared.SessionScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("host_id", req.HostID.String()).Msg("Failed to create session")
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().
		Str("live_id", session.ID.String()).
		Str("host_id", session.HostID.String()).
		Msg("Live session opened")
	return session, nil
}

// SetSessionStatus records the broadcast status of a session
func (s *AuctionService) SetSessionStatus(ctx context.Context, req inbound.SetSessionStatusRequest) (*shared.Session, error) {
	switch req.Status {
	case shared.SessionScheduled, shared.SessionLive, shared.SessionEnded:
	default:
		return nil, shared.NewError(shared.CodeInvalidArgument, fmt.Sprintf("unknown session status %q", req.Status))
	}
	session, err := s.hostedSession(ctx, req.LiveID, req.HostID)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.UpdateStatus(ctx, session.ID, req.Status); err != nil {
		s.logger.Error().Err(err).Str("live_id", session.ID.String()).Msg("Failed to update session status")
		return nil, fmt.Errorf("update session status: %w", err)
	}
	session.Status = req.Status
	session.UpdatedAt = s.clock.Now()

	s.logger.Info().
		Str("live_id", session.ID.String()).
		Str("status", string(session.Status)).
		Msg("Live session status changed")
	return session, nil
}

// CreateItem queues a new item under a live session
func (s *AuctionService) CreateItem(ctx context.Context, req inbound.CreateItemRequest) (*auction.Item, error) {
	if _, err := s.hostedSession(ctx, req.LiveID, req.HostID); err != nil {
		return nil, err
	}
	switch req.Mode {
	case "", auction.ModeClassic, auction.ModeSpeed:
	default:
		return nil, shared.NewError(shared.CodeInvalidArgument, fmt.Sprintf("unknown auction mode %q", req.Mode))
	}
	if req.IncrementSchemeID != "" && !s.increments.Has(req.IncrementSchemeID) {
		return nil, shared.ErrInvalidIncrements
	}

	item, err := auction.NewItem(req.LiveID, req.Title, increment.Round(req.StartingPrice), req.Mode, req.IncrementSchemeID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.itemRepo.Create(ctx, item); err != nil {
		s.logger.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to save item")
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info().
		Str("item_id", item.ID.String()).
		Str("live_id", item.LiveID.String()).
		Str("mode", string(item.Mode)).
		Float64("starting_price", item.StartingPrice).
		Msg("Item queued")
	return item, nil
}

// GetItem retrieves an item by ID
func (s *AuctionService) GetItem(ctx context.Context, itemID uuid.UUID) (*auction.Item, error) {
	if itemID == uuid.Nil {
		return nil, shared.ErrItemIDRequired
	}
	return s.itemRepo.GetByID(ctx, itemID)
}

// ListItems retrieves the items of a live session
func (s *AuctionService) ListItems(ctx context.Context, liveID uuid.UUID) ([]*auction.Item, error) {
	if liveID == uuid.Nil {
		return nil, shared.ErrLiveIDRequired
	}
	return s.itemRepo.ListByLive(ctx, liveID)
}

// StartAuction moves a queued item to running and arms its expiry
func (s *AuctionService) StartAuction(ctx context.Context, req inbound.StartAuctionRequest) (*auction.Item, error) {
	if req.ItemID == uuid.Nil {
		return nil, shared.ErrItemIDRequired
	}
	if req.Duration < 0 {
		return nil, shared.ErrInvalidDuration
	}

	current, err := s.itemRepo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	session, err := s.hostedSession(ctx, current.LiveID, req.HostID)
	if err != nil {
		return nil, err
	}
	if !session.IsLive() {
		return nil, shared.ErrSessionNotLive
	}

	item, err := s.mutate(ctx, req.ItemID, func(item *auction.Item, now time.Time) (bool, error) {
		duration := req.Duration
		if duration == 0 {
			duration = s.durationFor(item.Mode)
		}
		return true, item.Start(now, duration)
	})
	if err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, item.ID, *item.EndAt); err != nil {
			s.logger.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to schedule auction expiry")
		}
	}
	s.publish(ctx, item.ID, itemEvent(outbound.EventTypeAuctionStarted, item))

	s.logger.Info().
		Str("item_id", item.ID.String()).
		Time("end_at", *item.EndAt).
		Msg("Auction started")
	return item, nil
}

// EndAuction closes a running item on behalf of the session host
func (s *AuctionService) EndAuction(ctx context.Context, req inbound.EndAuctionRequest) (*shared.AuctionEndResult, error) {
	if req.ItemID == uuid.Nil {
		return nil, shared.ErrItemIDRequired
	}
	current, err := s.itemRepo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if _, err := s.hostedSession(ctx, current.LiveID, req.HostID); err != nil {
		return nil, err
	}

	item, err := s.mutate(ctx, req.ItemID, func(item *auction.Item, now time.Time) (bool, error) {
		return true, item.Close(now)
	})
	if err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		if err := s.scheduler.Cancel(ctx, item.ID); err != nil {
			s.logger.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Failed to cancel auction expiry")
		}
	}
	return s.finish(ctx, item), nil
}

// ExpireAuction closes an item whose deadline passed. If the deadline was
// extended since the expiry was armed the item is re-armed instead.
func (s *AuctionService) ExpireAuction(ctx context.Context, itemID uuid.UUID) (*shared.AuctionEndResult, error) {
	rescheduled := false
	item, err := s.mutate(ctx, itemID, func(item *auction.Item, now time.Time) (bool, error) {
		rescheduled = false
		if item.IsRunning() && !item.Expired(now) {
			rescheduled = true
			return false, nil
		}
		return true, item.Close(now)
	})
	if err != nil {
		return nil, err
	}

	if rescheduled {
		if s.scheduler != nil {
			if err := s.scheduler.Schedule(ctx, item.ID, *item.EndAt); err != nil {
				return nil, fmt.Errorf("re-arm auction expiry: %w", err)
			}
		}
		s.logger.Debug().
			Str("item_id", item.ID.String()).
			Time("end_at", *item.EndAt).
			Msg("Deadline moved, expiry re-armed")
		return &shared.AuctionEndResult{
			ItemID:      item.ID,
			LiveID:      item.LiveID,
			Status:      string(item.Status),
			Rescheduled: true,
		}, nil
	}

	return s.finish(ctx, item), nil
}

// RearmRunning schedules the expiry of every running item, used at startup
func (s *AuctionService) RearmRunning(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	items, err := s.itemRepo.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running items: %w", err)
	}
	armed := 0
	for _, item := range items {
		if item.EndAt == nil {
			continue
		}
		if err := s.scheduler.Schedule(ctx, item.ID, *item.EndAt); err != nil {
			return armed, fmt.Errorf("schedule item %s: %w", item.ID, err)
		}
		armed++
	}
	return armed, nil
}

// finish broadcasts the terminal state and hands sold items to the order stream
func (s *AuctionService) finish(ctx context.Context, item *auction.Item) *shared.AuctionEndResult {
	result := &shared.AuctionEndResult{
		ItemID: item.ID,
		LiveID: item.LiveID,
		Status: string(item.Status),
	}
	if item.Status == auction.StatusSold {
		winner := *item.WinnerID
		price := item.CurrentPrice
		result.WinnerID = &winner
		result.FinalPrice = &price

		s.logger.Info().
			Str("item_id", item.ID.String()).
			Str("winner_id", winner.String()).
			Float64("final_price", price).
			Msg("Auction sold")

		if s.orders != nil {
			sold := outbound.AuctionSold{
				ItemID:     item.ID,
				LiveID:     item.LiveID,
				WinnerID:   winner,
				WinnerName: item.LeadingBidderName,
				FinalPrice: price,
				SoldAt:     item.UpdatedAt,
			}
			s.publishSold(ctx, sold)
		}
	} else {
		s.logger.Info().Str("item_id", item.ID.String()).Msg("Auction ended unsold")
	}

	s.publish(ctx, item.ID, auctionEndedEvent(item, result))
	return result
}

// publishSold hands a sale to the order stream, retrying failed publishes.
// Publishers dedupe on the item ID, so a retry after a lost ack is harmless.
func (s *AuctionService) publishSold(ctx context.Context, sold outbound.AuctionSold) {
	backoff := s.settings.SoldPublishBackoff
	for attempt := 1; ; attempt++ {
		err := s.orders.PublishAuctionSold(ctx, sold)
		if err == nil {
			return
		}
		if attempt >= s.settings.SoldPublishAttempts || ctx.Err() != nil {
			s.logger.Error().Err(err).
				Str("item_id", sold.ItemID.String()).
				Int("attempts", attempt).
				Msg("Failed to publish sold auction")
			return
		}
		s.logger.Warn().Err(err).
			Str("item_id", sold.ItemID.String()).
			Dur("retry_in", backoff).
			Msg("Publishing sold auction failed, retrying")

		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			s.logger.Error().Err(ctx.Err()).Str("item_id", sold.ItemID.String()).Msg("Gave up publishing sold auction")
			return
		}
		backoff *= 2
	}
}

// mutate applies fn to the item under optimistic concurrency. fn returns false
// to skip the write.
func (s *AuctionService) mutate(ctx context.Context, itemID uuid.UUID, fn func(item *auction.Item, now time.Time) (bool, error)) (*auction.Item, error) {
	for attempt := 1; attempt <= s.settings.MaxCommitAttempts; attempt++ {
		current, err := s.itemRepo.GetByID(ctx, itemID)
		if err != nil {
			return nil, err
		}
		working := current.Clone()
		write, err := fn(working, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !write {
			return working, nil
		}

		err = s.itemRepo.CommitItem(ctx, working, current.Version, nil)
		if errors.Is(err, shared.ErrVersionConflict) {
			s.logger.Debug().Str("item_id", itemID.String()).Int("attempt", attempt).Msg("Version conflict, retrying")
			continue
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("%w: %v", shared.ErrCommitAborted, err)
			}
			return nil, fmt.Errorf("update item: %w", err)
		}
		return working, nil
	}
	return nil, shared.ErrCommitAborted
}

func (s *AuctionService) hostedSession(ctx context.Context, liveID, hostID uuid.UUID) (*shared.Session, error) {
	if hostID == uuid.Nil {
		return nil, shared.ErrUnauthenticated
	}
	if liveID == uuid.Nil {
		return nil, shared.ErrLiveIDRequired
	}
	session, err := s.sessionRepo.GetByID(ctx, liveID)
	if err != nil {
		return nil, err
	}
	if session.HostID != hostID {
		s.logger.Warn().
			Str("live_id", liveID.String()).
			Str("caller_id", hostID.String()).
			Msg("Caller is not the session host")
		return nil, shared.ErrNotSessionHost
	}
	return session, nil
}

func (s *AuctionService) durationFor(mode auction.Mode) time.Duration {
	if mode == auction.ModeSpeed {
		return s.settings.SpeedDuration
	}
	return s.settings.DefaultDuration
}

func (s *AuctionService) publish(ctx context.Context, itemID uuid.UUID, event outbound.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, itemID, event); err != nil {
		s.logger.Error().Err(err).Str("item_id", itemID.String()).Str("event", string(event.Type)).Msg("Failed to broadcast event")
	}
}
