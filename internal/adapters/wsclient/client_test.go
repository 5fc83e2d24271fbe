package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coralcrave-auction-service/internal/adapters/auth"
	"coralcrave-auction-service/internal/adapters/broadcaster"
	"coralcrave-auction-service/internal/adapters/memory"
	"coralcrave-auction-service/internal/adapters/ws"
	"coralcrave-auction-service/internal/app"
	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
	"coralcrave-auction-service/internal/projector"
)

var baseTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type serviceFixture struct {
	url      string
	clock    *clockwork.FakeClock
	auctions *app.AuctionService
	verifier *auth.Verifier
	hostID   uuid.UUID
	liveID   uuid.UUID
	item     *auction.Item
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(baseTime)
	events := broadcaster.NewLocalBroadcaster(broadcaster.LocalBroadcasterParams{Logger: zerolog.Nop()})

	auctions := app.NewAuctionService(app.AuctionServiceParams{
		SessionRepo: store.Sessions(),
		ItemRepo:    store.Items(),
		Broadcaster: events,
		Clock:       clock,
		Settings:    app.AuctionSettings{DefaultDuration: 30 * time.Second},
		Logger:      zerolog.Nop(),
	})
	bids := app.NewBidService(app.BidServiceParams{
		SessionRepo: store.Sessions(),
		ItemRepo:    store.Items(),
		BidRepo:     store.Bids(),
		ProxyRepo:   store.ProxyBids(),
		Broadcaster: events,
		Clock:       clock,
		Logger:      zerolog.Nop(),
	})
	verifier := auth.NewVerifier(config.AuthConfig{JWTSecret: "test-secret"})

	handler := ws.NewHandler(ws.WsHandlerParams{
		AuctionService: auctions,
		BidService:     bids,
		Broadcaster:    events,
		Verifier:       verifier,
		Logger:         zerolog.Nop(),
	})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	ctx := context.Background()
	hostID := uuid.New()
	session, err := auctions.OpenSession(ctx, inbound.OpenSessionRequest{HostID: hostID, Title: "Sunday frag swap"})
	require.NoError(t, err)
	_, err = auctions.SetSessionStatus(ctx, inbound.SetSessionStatusRequest{LiveID: session.ID, HostID: hostID, Status: shared.SessionLive})
	require.NoError(t, err)
	item, err := auctions.CreateItem(ctx, inbound.CreateItemRequest{LiveID: session.ID, HostID: hostID, Title: "Rainbow acan", StartingPrice: 10})
	require.NoError(t, err)
	item, err = auctions.StartAuction(ctx, inbound.StartAuctionRequest{ItemID: item.ID, HostID: hostID})
	require.NoError(t, err)

	return &serviceFixture{
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
		clock:    clock,
		auctions: auctions,
		verifier: verifier,
		hostID:   hostID,
		liveID:   session.ID,
		item:     item,
	}
}

func (f *serviceFixture) dial(t *testing.T, identity *shared.Identity) *Client {
	t.Helper()

	params := Params{URL: f.url, Logger: zerolog.Nop()}
	if identity != nil {
		token, err := f.verifier.Issue(*identity, time.Hour, time.Now())
		require.NoError(t, err)
		params.Token = token
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, params)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

type view struct {
	mu     sync.Mutex
	item   *auction.Item
	bids   []*bid.Bid
	timers []time.Duration
	errs   []error
}

func (v *view) handlers() projector.Handlers {
	return projector.Handlers{
		OnStateUpdate: func(item *auction.Item) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.item = item
		},
		OnBidUpdate: func(b *bid.Bid) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.bids = append(v.bids, b)
		},
		OnTimerUpdate: func(_ uuid.UUID, left time.Duration) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.timers = append(v.timers, left)
		},
		OnError: func(err error) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.errs = append(v.errs, err)
		},
	}
}

func (v *view) eventually(t *testing.T, cond func(v *view) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return cond(v)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProjectorOverWebSocket(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	alice := &shared.Identity{UserID: uuid.New(), Username: "alice"}
	bob := &shared.Identity{UserID: uuid.New(), Username: "bob"}
	aliceConn := f.dial(t, alice)
	bobConn := f.dial(t, bob)

	p, err := projector.New(projector.Params{
		Source: aliceConn,
		Bids:   aliceConn,
		Clock:  f.clock,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(p.Unsubscribe)

	v := &view{}
	require.NoError(t, p.SubscribeToItem(context.Background(), f.item.ID, v.handlers()))
	v.eventually(t, func(v *view) bool {
		return v.item != nil && v.item.CurrentPrice == 10 && len(v.timers) > 0 && v.timers[0] == 30*time.Second
	})

	outcome, err := p.PlaceBid(context.Background(), f.liveID, f.item.ID, 11)
	require.NoError(t, err)
	require.Equal(t, 11.0, outcome.HighestBid)
	require.Equal(t, alice.UserID, *outcome.HighestBidderID)

	_, err = bobConn.PlaceBid(context.Background(), f.liveID, f.item.ID, 10.5)
	require.ErrorIs(t, err, shared.ErrBidTooLow)

	outcome, err = bobConn.PlaceBid(context.Background(), f.liveID, f.item.ID, 13)
	require.NoError(t, err)
	require.Equal(t, bob.UserID, *outcome.HighestBidderID)

	v.eventually(t, func(v *view) bool {
		return v.item.CurrentPrice == 13 && len(v.bids) == 2
	})
	v.mu.Lock()
	require.Equal(t, "alice", v.bids[0].Username)
	require.Equal(t, "bob", v.bids[1].Username)
	v.mu.Unlock()

	f.clock.Advance(30 * time.Second)
	_, err = f.auctions.ExpireAuction(context.Background(), f.item.ID)
	require.NoError(t, err)

	v.eventually(t, func(v *view) bool {
		return v.item.Status == auction.StatusSold && v.item.WinnerID != nil && *v.item.WinnerID == bob.UserID
	})

	state, ok := p.State()
	require.True(t, ok)
	require.Len(t, state.Bids, 2)
	require.Equal(t, 13.0, state.Bids[0].Amount)
}

func TestLateWatcherGetsSnapshot(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	bidder := &shared.Identity{UserID: uuid.New(), Username: "tang"}
	conn := f.dial(t, bidder)
	for _, amount := range []float64{11, 13, 15} {
		_, err := conn.PlaceBid(context.Background(), f.liveID, f.item.ID, amount)
		require.NoError(t, err)
	}

	watcher := f.dial(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items, err := watcher.WatchItem(ctx, f.item.ID)
	require.NoError(t, err)
	bids, err := watcher.WatchBids(ctx, f.item.ID, 2)
	require.NoError(t, err)

	first := <-items
	require.NoError(t, first.Err)
	require.Equal(t, 15.0, first.Item.CurrentPrice)

	batch := <-bids
	require.Len(t, batch.Changes, 2)
	require.Equal(t, 13.0, batch.Changes[0].Bid.Amount)
	require.Equal(t, 15.0, batch.Changes[1].Bid.Amount)
	require.Equal(t, projector.ChangeAdded, batch.Changes[0].Kind)

	cancel()
	select {
	case _, open := <-items:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("item watch was not closed after cancel")
	}
}

func TestAnonymousAndRejectedConnections(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	viewer := f.dial(t, nil)
	_, err := viewer.PlaceBid(context.Background(), f.liveID, f.item.ID, 20)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	require.NoError(t, viewer.Ping(context.Background()))

	_, err = viewer.WatchItem(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrItemNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = Dial(ctx, Params{URL: f.url, Token: "forged", Logger: zerolog.Nop()})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestConnectionLossReachesProjector(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	conn := f.dial(t, nil)
	p, err := projector.New(projector.Params{Source: conn, Bids: conn, Clock: f.clock, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(p.Unsubscribe)

	v := &view{}
	require.NoError(t, p.SubscribeToItem(context.Background(), f.item.ID, v.handlers()))
	v.eventually(t, func(v *view) bool { return v.item != nil })

	require.NoError(t, conn.Close())
	v.eventually(t, func(v *view) bool { return len(v.errs) > 0 })

	v.mu.Lock()
	defer v.mu.Unlock()
	require.ErrorIs(t, v.errs[0], projector.ErrSourceClosed)

	_, err = conn.PlaceBid(context.Background(), f.liveID, f.item.ID, 20)
	require.ErrorIs(t, err, ErrClosed)
}

func TestFullBidWatcherCatchesUp(t *testing.T) {
	t.Parallel()

	itemID := uuid.New()
	f := newFeed()
	c := &Client{logger: zerolog.Nop(), feeds: map[uuid.UUID]*feed{itemID: f}}
	w := make(chan projector.BidEvent, 1)
	f.bidWatchers[w] = &bidWatcher{}

	newBid := func(amount float64, offset time.Duration) *bid.Bid {
		return &bid.Bid{ID: uuid.New(), ItemID: itemID, Username: "tang", Amount: amount, Timestamp: baseTime.Add(offset)}
	}
	c.pushBid(newBid(11, time.Second))
	c.pushBid(newBid(12, 2*time.Second))
	c.pushBid(newBid(13, 3*time.Second))

	first := <-w
	require.Len(t, first.Changes, 1)
	require.Equal(t, 11.0, first.Changes[0].Bid.Amount)

	c.pushItem(&auction.Item{ID: itemID, CurrentPrice: 13, Status: auction.StatusRunning, Version: 4})

	select {
	case caughtUp := <-w:
		require.Len(t, caughtUp.Changes, 2)
		require.Equal(t, 12.0, caughtUp.Changes[0].Bid.Amount)
		require.Equal(t, 13.0, caughtUp.Changes[1].Bid.Amount)
		require.Equal(t, projector.ChangeAdded, caughtUp.Changes[1].Kind)
	default:
		t.Fatal("held bids were not delivered once the watcher drained")
	}
	require.Empty(t, f.bidWatchers[w].backlog)
}
