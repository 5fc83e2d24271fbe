// Package projector keeps a client-side view of one auction item: the item
// document, its most recent bids and a local countdown that is corrected on
// every server update.
package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/increment"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultTickInterval = time.Second
	defaultBidLimit     = 20
)

// Handlers receive projected changes. All calls for one subscription are
// made from a single goroutine, one at a time. Nil handlers are skipped.
type Handlers struct {
	OnStateUpdate func(item *auction.Item)
	OnBidUpdate   func(b *bid.Bid)
	OnTimerUpdate func(itemID uuid.UUID, timeLeft time.Duration)
	OnError       func(err error)
}

// State is a snapshot of the projected view
type State struct {
	ItemID   uuid.UUID
	Item     *auction.Item
	Bids     []*bid.Bid
	TimeLeft time.Duration
}

type Params struct {
	Source Source
	Bids   BidClient
	// Increments resolves the item's ladder; nil uses the default ladder
	Increments   *increment.Registry
	Clock        clockwork.Clock
	TickInterval time.Duration
	// BidLimit is the size of the recent-bids window
	BidLimit int
	Logger   zerolog.Logger
}

// Projector projects one item at a time
type Projector struct {
	source     Source
	bids       BidClient
	increments *increment.Registry
	clock      clockwork.Clock
	tick       time.Duration
	bidLimit   int
	logger     zerolog.Logger

	mu  sync.Mutex
	sub *subscription
}

// New creates a projector
func New(params Params) (*Projector, error) {
	if params.Source == nil {
		return nil, errors.New("projector: source is required")
	}
	if params.Bids == nil {
		return nil, errors.New("projector: bid client is required")
	}

	increments := params.Increments
	if increments == nil {
		registry, err := increment.NewRegistry(increment.DefaultLadder())
		if err != nil {
			return nil, err
		}
		increments = registry
	}
	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tick := params.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	limit := params.BidLimit
	if limit <= 0 {
		limit = defaultBidLimit
	}

	return &Projector{
		source:     params.Source,
		bids:       params.Bids,
		increments: increments,
		clock:      clock,
		tick:       tick,
		bidLimit:   limit,
		logger:     params.Logger.With().Str("component", "projector").Logger(),
	}, nil
}

// SubscribeToItem opens the item and recent-bids watches and starts
// delivering to handlers. A previous subscription is released first.
func (p *Projector) SubscribeToItem(ctx context.Context, itemID uuid.UUID, handlers Handlers) error {
	p.Unsubscribe()

	watchCtx, cancel := context.WithCancel(ctx)

	items, err := p.source.WatchItem(watchCtx, itemID)
	if err != nil {
		cancel()
		return fmt.Errorf("watch item %s: %w", itemID, err)
	}
	bids, err := p.source.WatchBids(watchCtx, itemID, p.bidLimit)
	if err != nil {
		cancel()
		return fmt.Errorf("watch bids of item %s: %w", itemID, err)
	}

	s := &subscription{
		itemID:   itemID,
		handlers: handlers,
		cancel:   cancel,
		done:     make(chan struct{}),
		seen:     make(map[uuid.UUID]struct{}),
	}
	s.live.Store(true)

	p.mu.Lock()
	p.sub = s
	p.mu.Unlock()

	go p.run(watchCtx, s, items, bids)

	p.logger.Debug().Str("item_id", itemID.String()).Int("bid_limit", p.bidLimit).Msg("Subscribed to item")
	return nil
}

// Unsubscribe releases both watches and the countdown. It may be called any
// number of times, including before SubscribeToItem. Once it returns no
// handler starts; when called from inside a handler it does not wait for that
// handler to finish.
func (p *Projector) Unsubscribe() {
	p.mu.Lock()
	s := p.sub
	p.sub = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	if s.stop() {
		p.logger.Debug().Str("item_id", s.itemID.String()).Msg("Unsubscribed from item")
	}
}

// State returns the current projection; ok is false when nothing is subscribed
func (p *Projector) State() (State, bool) {
	p.mu.Lock()
	s := p.sub
	p.mu.Unlock()

	if s == nil {
		return State{}, false
	}
	return s.snapshot(), true
}

// CalculateMinimumBid returns the smallest acceptable bid over price, using
// the ladder of the subscribed item
func (p *Projector) CalculateMinimumBid(price float64) float64 {
	return p.ladder().MinimumBid(price)
}

// ValidateBid is an advisory pre-check; the committer remains authoritative
func (p *Projector) ValidateBid(amount, price float64) increment.Validation {
	return p.ladder().Check(amount, price)
}

// PlaceBid submits a bid intent. Errors are returned as-is and never retried.
func (p *Projector) PlaceBid(ctx context.Context, liveID, itemID uuid.UUID, amount float64) (*BidOutcome, error) {
	outcome, err := p.bids.PlaceBid(ctx, liveID, itemID, amount)
	if err != nil {
		p.logger.Debug().Err(err).Str("item_id", itemID.String()).Float64("amount", amount).Msg("Bid rejected")
		return nil, err
	}
	return outcome, nil
}

// SetMaxBid stores a standing maximum for the caller
func (p *Projector) SetMaxBid(ctx context.Context, liveID, itemID uuid.UUID, maxAmount float64) (*BidOutcome, error) {
	outcome, err := p.bids.SetMaxBid(ctx, liveID, itemID, maxAmount)
	if err != nil {
		p.logger.Debug().Err(err).Str("item_id", itemID.String()).Float64("max_amount", maxAmount).Msg("Max bid rejected")
		return nil, err
	}
	return outcome, nil
}

func (p *Projector) ladder() increment.Ladder {
	schemeID := ""
	if state, ok := p.State(); ok && state.Item != nil {
		schemeID = state.Item.IncrementSchemeID
	}
	return p.increments.Lookup(schemeID)
}

// run is the single event goroutine of a subscription
func (p *Projector) run(ctx context.Context, s *subscription, items <-chan ItemEvent, bids <-chan BidEvent) {
	defer close(s.done)

	var (
		ticker clockwork.Ticker
		tickC  <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	for items != nil || bids != nil {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-items:
			if !ok {
				items = nil
				p.lost(ctx, s, "item")
				continue
			}
			if ev.Err != nil {
				s.deliverError(ev.Err)
				continue
			}
			if ev.Item == nil {
				continue
			}

			update, fresh := s.applyItem(ev.Item, p.clock.Now())
			if !fresh {
				p.logger.Debug().Str("item_id", s.itemID.String()).Int64("version", ev.Item.Version).Msg("Ignoring stale item update")
				continue
			}
			item := cloneItem(ev.Item)
			s.deliver(func(h Handlers) {
				if h.OnStateUpdate != nil {
					h.OnStateUpdate(item)
				}
			})

			stopTicker()
			if update.counting || update.wasCounting {
				s.deliverTimer(update.timeLeft)
			}
			if update.counting && update.timeLeft > 0 {
				ticker = p.clock.NewTicker(p.tick)
				tickC = ticker.Chan()
			}

		case ev, ok := <-bids:
			if !ok {
				bids = nil
				p.lost(ctx, s, "bids")
				continue
			}
			if ev.Err != nil {
				s.deliverError(ev.Err)
				continue
			}
			for _, added := range s.applyBids(ev.Changes, p.bidLimit) {
				s.deliver(func(h Handlers) {
					if h.OnBidUpdate != nil {
						h.OnBidUpdate(added)
					}
				})
			}

		case <-tickC:
			left := s.countDown(p.tick)
			s.deliverTimer(left)
			if left == 0 {
				stopTicker()
			}
		}
	}
}

func (p *Projector) lost(ctx context.Context, s *subscription, feed string) {
	if ctx.Err() != nil {
		return
	}
	p.logger.Warn().Str("item_id", s.itemID.String()).Str("feed", feed).Msg("Store subscription closed unexpectedly")
	s.deliverError(fmt.Errorf("%s feed: %w", feed, ErrSourceClosed))
}

func cloneItem(item *auction.Item) *auction.Item {
	c := *item
	return &c
}
