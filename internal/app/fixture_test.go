package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coralcrave-auction-service/internal/adapters/memory"
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
	"coralcrave-auction-service/internal/ports/outbound"
)

var baseTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []outbound.Event
}

func (b *recordingBroadcaster) Subscribe(context.Context, uuid.UUID, string, chan outbound.Event) error {
	return nil
}

func (b *recordingBroadcaster) Unsubscribe(context.Context, uuid.UUID, string) error { return nil }

func (b *recordingBroadcaster) Publish(_ context.Context, _ uuid.UUID, event outbound.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) GetSubscribers(context.Context, uuid.UUID) ([]string, error) {
	return nil, nil
}

func (b *recordingBroadcaster) IsSubscribed(context.Context, uuid.UUID, string) bool { return false }

func (b *recordingBroadcaster) Close() error { return nil }

func (b *recordingBroadcaster) count(eventType outbound.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled []uuid.UUID
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{scheduled: make(map[uuid.UUID]time.Time)}
}

func (s *recordingScheduler) Schedule(_ context.Context, itemID uuid.UUID, endAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[itemID] = endAt
	return nil
}

func (s *recordingScheduler) Cancel(_ context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, itemID)
	s.cancelled = append(s.cancelled, itemID)
	return nil
}

func (s *recordingScheduler) endAt(itemID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.scheduled[itemID]
	return t, ok
}

type recordingOrders struct {
	mu       sync.Mutex
	sold     []outbound.AuctionSold
	attempts int
	// failures is the number of publishes to reject before accepting
	failures int
}

func (o *recordingOrders) PublishAuctionSold(_ context.Context, event outbound.AuctionSold) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if o.failures > 0 {
		o.failures--
		return errors.New("nats: no responders available for request")
	}
	o.sold = append(o.sold, event)
	return nil
}

func (o *recordingOrders) Close() error { return nil }

type fixture struct {
	store       *memory.Store
	items       outbound.ItemRepository
	clock       *clockwork.FakeClock
	broadcaster *recordingBroadcaster
	scheduler   *recordingScheduler
	orders      *recordingOrders
	bids        *BidService
	auctions    *AuctionService
	hostID      uuid.UUID
	session     *shared.Session
}

type fixtureOption func(*BidServiceParams)

func withAntiSnipe(window time.Duration, maxExtensions int) fixtureOption {
	return func(p *BidServiceParams) {
		p.Settings.AntiSnipe = AntiSnipeSettings{Enabled: true, Window: window, MaxExtensions: maxExtensions}
	}
}

func withItemRepo(repo outbound.ItemRepository) fixtureOption {
	return func(p *BidServiceParams) {
		p.ItemRepo = repo
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		store:       memory.NewStore(),
		clock:       clockwork.NewFakeClockAt(baseTime),
		broadcaster: &recordingBroadcaster{},
		scheduler:   newRecordingScheduler(),
		orders:      &recordingOrders{},
		hostID:      uuid.New(),
	}
	f.items = f.store.Items()

	bidParams := BidServiceParams{
		SessionRepo: f.store.Sessions(),
		ItemRepo:    f.store.Items(),
		BidRepo:     f.store.Bids(),
		ProxyRepo:   f.store.ProxyBids(),
		Broadcaster: f.broadcaster,
		Scheduler:   f.scheduler,
		Clock:       f.clock,
		Logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&bidParams)
	}
	f.bids = NewBidService(bidParams)
	f.auctions = NewAuctionService(AuctionServiceParams{
		SessionRepo: f.store.Sessions(),
		ItemRepo:    f.store.Items(),
		Broadcaster: f.broadcaster,
		Scheduler:   f.scheduler,
		Orders:      f.orders,
		Clock:       f.clock,
		Settings:    AuctionSettings{DefaultDuration: 30 * time.Second},
		Logger:      zerolog.Nop(),
	})

	ctx := context.Background()
	session, err := f.auctions.OpenSession(ctx, inbound.OpenSessionRequest{HostID: f.hostID, Title: "Friday reef night"})
	require.NoError(t, err)
	session, err = f.auctions.SetSessionStatus(ctx, inbound.SetSessionStatusRequest{LiveID: session.ID, HostID: f.hostID, Status: shared.SessionLive})
	require.NoError(t, err)
	f.session = session
	return f
}

func (f *fixture) queueItem(t *testing.T, price float64, mode auction.Mode) *auction.Item {
	t.Helper()
	item, err := f.auctions.CreateItem(context.Background(), inbound.CreateItemRequest{
		LiveID:        f.session.ID,
		HostID:        f.hostID,
		Title:         "Acropora frag",
		StartingPrice: price,
		Mode:          mode,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) runningItem(t *testing.T, price float64, mode auction.Mode) *auction.Item {
	t.Helper()
	item := f.queueItem(t, price, mode)
	item, err := f.auctions.StartAuction(context.Background(), inbound.StartAuctionRequest{ItemID: item.ID, HostID: f.hostID})
	require.NoError(t, err)
	return item
}

func (f *fixture) bid(userID uuid.UUID, itemID uuid.UUID, amount float64) (*inbound.BidResult, error) {
	return f.bids.PlaceBid(context.Background(), inbound.PlaceBidRequest{
		LiveID:   f.session.ID,
		ItemID:   itemID,
		UserID:   &userID,
		Username: userID.String()[:8],
		Amount:   amount,
	})
}

func (f *fixture) item(t *testing.T, itemID uuid.UUID) *auction.Item {
	t.Helper()
	item, err := f.items.GetByID(context.Background(), itemID)
	require.NoError(t, err)
	return item
}
