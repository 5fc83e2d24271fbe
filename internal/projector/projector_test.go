package projector

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

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/increment"
	"coralcrave-auction-service/internal/domain/shared"
)

var baseTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type fakeSource struct {
	items    chan ItemEvent
	bids     chan BidEvent
	bidsErr  error
	mu       sync.Mutex
	watchCtx context.Context
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items: make(chan ItemEvent, 16),
		bids:  make(chan BidEvent, 16),
	}
}

func (f *fakeSource) WatchItem(ctx context.Context, _ uuid.UUID) (<-chan ItemEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCtx = ctx
	return f.items, nil
}

func (f *fakeSource) WatchBids(context.Context, uuid.UUID, int) (<-chan BidEvent, error) {
	if f.bidsErr != nil {
		return nil, f.bidsErr
	}
	return f.bids, nil
}

func (f *fakeSource) ctx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCtx
}

type fakeBidClient struct {
	mu     sync.Mutex
	calls  int
	err    error
	result *BidOutcome
}

func (c *fakeBidClient) PlaceBid(context.Context, uuid.UUID, uuid.UUID, float64) (*BidOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result, c.err
}

func (c *fakeBidClient) SetMaxBid(context.Context, uuid.UUID, uuid.UUID, float64) (*BidOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result, c.err
}

type recorder struct {
	mu     sync.Mutex
	states []*auction.Item
	bids   []*bid.Bid
	timers []time.Duration
	errs   []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStateUpdate: func(item *auction.Item) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, item)
		},
		OnBidUpdate: func(b *bid.Bid) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.bids = append(r.bids, b)
		},
		OnTimerUpdate: func(_ uuid.UUID, left time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.timers = append(r.timers, left)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) bidCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bids)
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) lastTimer() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return 0, false
	}
	return r.timers[len(r.timers)-1], true
}

func (r *recorder) waitTimer(t *testing.T, want time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		left, ok := r.lastTimer()
		return ok && left == want
	}, 2*time.Second, 5*time.Millisecond, "timer never reached %s", want)
}

func newTestProjector(t *testing.T, source *fakeSource, bids *fakeBidClient, clock clockwork.Clock) *Projector {
	t.Helper()
	if bids == nil {
		bids = &fakeBidClient{}
	}
	p, err := New(Params{
		Source: source,
		Bids:   bids,
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(p.Unsubscribe)
	return p
}

func runningItem(itemID uuid.UUID, price float64, endAt time.Time, version int64) *auction.Item {
	return &auction.Item{
		ID:           itemID,
		LiveID:       uuid.New(),
		Title:        "Gold torch frag",
		CurrentPrice: price,
		Status:       auction.StatusRunning,
		Mode:         auction.ModeClassic,
		EndAt:        &endAt,
		Version:      version,
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Params{Bids: &fakeBidClient{}})
	require.Error(t, err)

	_, err = New(Params{Source: newFakeSource()})
	require.Error(t, err)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	source := newFakeSource()
	p := newTestProjector(t, source, nil, clockwork.NewFakeClockAt(baseTime))
	rec := &recorder{}

	p.Unsubscribe()
	p.Unsubscribe()
	_, ok := p.State()
	require.False(t, ok)

	itemID := uuid.New()
	require.NoError(t, p.SubscribeToItem(context.Background(), itemID, rec.handlers()))
	source.items <- ItemEvent{Item: runningItem(itemID, 10, baseTime.Add(30*time.Second), 1)}
	require.Eventually(t, func() bool { return rec.stateCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	p.Unsubscribe()
	p.Unsubscribe()
	require.Error(t, source.ctx().Err())

	source.items <- ItemEvent{Item: runningItem(itemID, 11, baseTime.Add(30*time.Second), 2)}
	source.bids <- BidEvent{Changes: []BidChange{{Kind: ChangeAdded, Bid: bid.New(itemID, uuid.New(), "wrasse", 11, baseTime, bid.SourceUser)}}}
	require.Never(t, func() bool {
		return rec.stateCount() != 1 || rec.bidCount() != 0 || rec.errCount() != 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestUnsubscribeFromHandler(t *testing.T) {
	t.Parallel()
	source := newFakeSource()
	p := newTestProjector(t, source, nil, clockwork.NewFakeClockAt(baseTime))

	itemID := uuid.New()
	var mu sync.Mutex
	calls := 0
	require.NoError(t, p.SubscribeToItem(context.Background(), itemID, Handlers{
		OnStateUpdate: func(*auction.Item) {
			mu.Lock()
			calls++
			mu.Unlock()
			p.Unsubscribe()
		},
	}))

	source.items <- ItemEvent{Item: runningItem(itemID, 10, baseTime.Add(30*time.Second), 1)}
	source.items <- ItemEvent{Item: runningItem(itemID, 11, baseTime.Add(30*time.Second), 2)}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCountdownReconciliation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(baseTime)
	source := newFakeSource()
	p := newTestProjector(t, source, nil, clock)
	rec := &recorder{}

	itemID := uuid.New()
	require.NoError(t, p.SubscribeToItem(ctx, itemID, rec.handlers()))

	source.items <- ItemEvent{Item: runningItem(itemID, 10, baseTime.Add(30*time.Second), 1)}
	rec.waitTimer(t, 30*time.Second)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	rec.waitTimer(t, 29*time.Second)
	clock.Advance(time.Second)
	rec.waitTimer(t, 28*time.Second)

	// an anti-snipe extension pushed by the server replaces the local count
	source.items <- ItemEvent{Item: runningItem(itemID, 13, baseTime.Add(40*time.Second), 2)}
	rec.waitTimer(t, 38*time.Second)

	state, ok := p.State()
	require.True(t, ok)
	require.Equal(t, 13.0, state.Item.CurrentPrice)
	require.Equal(t, 38*time.Second, state.TimeLeft)

	// out-of-order delivery of an older version is dropped
	source.items <- ItemEvent{Item: runningItem(itemID, 11, baseTime.Add(30*time.Second), 1)}
	require.Never(t, func() bool { return rec.stateCount() != 2 }, 100*time.Millisecond, 10*time.Millisecond)

	sold := runningItem(itemID, 13, baseTime.Add(40*time.Second), 3)
	sold.Status = auction.StatusSold
	source.items <- ItemEvent{Item: sold}
	rec.waitTimer(t, 0)
	require.Eventually(t, func() bool { return rec.stateCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	state, _ = p.State()
	require.Equal(t, auction.StatusSold, state.Item.Status)
	require.Zero(t, state.TimeLeft)
}

func TestCountdownFloorsAtZero(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(baseTime)
	source := newFakeSource()
	p := newTestProjector(t, source, nil, clock)
	rec := &recorder{}

	itemID := uuid.New()
	require.NoError(t, p.SubscribeToItem(ctx, itemID, rec.handlers()))

	source.items <- ItemEvent{Item: runningItem(itemID, 10, baseTime.Add(1500*time.Millisecond), 1)}
	rec.waitTimer(t, 1500*time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	rec.waitTimer(t, 500*time.Millisecond)
	clock.Advance(time.Second)
	rec.waitTimer(t, 0)

	// the ticker stops once the countdown is exhausted
	require.NoError(t, clock.BlockUntilContext(ctx, 0))

	source.items <- ItemEvent{Item: runningItem(itemID, 10, baseTime.Add(-time.Minute), 2)}
	require.Eventually(t, func() bool { return rec.stateCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	left, _ := rec.lastTimer()
	require.Zero(t, left)
}

func TestBidFeed(t *testing.T) {
	t.Parallel()
	source := newFakeSource()
	p, err := New(Params{Source: source, Bids: &fakeBidClient{}, BidLimit: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(p.Unsubscribe)
	rec := &recorder{}

	itemID := uuid.New()
	require.NoError(t, p.SubscribeToItem(context.Background(), itemID, rec.handlers()))

	first := bid.New(itemID, uuid.New(), "anthias", 11, baseTime, bid.SourceUser)
	second := bid.New(itemID, uuid.New(), "goby", 13, baseTime.Add(time.Second), bid.SourceUser)
	third := bid.New(itemID, uuid.New(), "anthias", 15, baseTime.Add(2*time.Second), bid.SourceAuto)

	source.bids <- BidEvent{Changes: []BidChange{{Kind: ChangeAdded, Bid: first}}}
	source.bids <- BidEvent{Changes: []BidChange{
		{Kind: ChangeAdded, Bid: second},
		{Kind: ChangeModified, Bid: first},
		{Kind: ChangeAdded, Bid: first},
	}}
	require.Eventually(t, func() bool { return rec.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	source.bids <- BidEvent{Changes: []BidChange{
		{Kind: ChangeRemoved, Bid: first},
		{Kind: ChangeAdded, Bid: third},
	}}
	require.Eventually(t, func() bool { return rec.bidCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	state, ok := p.State()
	require.True(t, ok)
	require.Len(t, state.Bids, 2)
	require.Equal(t, third.ID, state.Bids[0].ID)
	require.Equal(t, second.ID, state.Bids[1].ID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID}, []uuid.UUID{rec.bids[0].ID, rec.bids[1].ID, rec.bids[2].ID})
}

func TestSourceErrors(t *testing.T) {
	t.Parallel()

	t.Run("watch error is propagated", func(t *testing.T) {
		t.Parallel()
		source := newFakeSource()
		p := newTestProjector(t, source, nil, clockwork.NewFakeClockAt(baseTime))
		rec := &recorder{}
		require.NoError(t, p.SubscribeToItem(context.Background(), uuid.New(), rec.handlers()))

		boom := errors.New("permission denied")
		source.items <- ItemEvent{Err: boom}
		require.Eventually(t, func() bool { return rec.errCount() == 1 }, 2*time.Second, 5*time.Millisecond)
		rec.mu.Lock()
		require.ErrorIs(t, rec.errs[0], boom)
		rec.mu.Unlock()
	})

	t.Run("closed feed is reported", func(t *testing.T) {
		t.Parallel()
		source := newFakeSource()
		p := newTestProjector(t, source, nil, clockwork.NewFakeClockAt(baseTime))
		rec := &recorder{}
		require.NoError(t, p.SubscribeToItem(context.Background(), uuid.New(), rec.handlers()))

		close(source.bids)
		require.Eventually(t, func() bool { return rec.errCount() == 1 }, 2*time.Second, 5*time.Millisecond)
		rec.mu.Lock()
		require.ErrorIs(t, rec.errs[0], ErrSourceClosed)
		rec.mu.Unlock()
	})

	t.Run("failed bid watch releases the item watch", func(t *testing.T) {
		t.Parallel()
		source := newFakeSource()
		source.bidsErr = errors.New("unavailable")
		p := newTestProjector(t, source, nil, clockwork.NewFakeClockAt(baseTime))

		err := p.SubscribeToItem(context.Background(), uuid.New(), Handlers{})
		require.ErrorIs(t, err, source.bidsErr)
		require.Error(t, source.ctx().Err())
		_, ok := p.State()
		require.False(t, ok)
	})
}

func TestMinimumBid(t *testing.T) {
	t.Parallel()

	coral := increment.Ladder{ID: "coral", Tiers: []increment.Tier{{LessThan: 50, Increment: 0.5}, {Increment: 5}}}
	registry, err := increment.NewRegistry(increment.DefaultLadder(), coral)
	require.NoError(t, err)

	source := newFakeSource()
	p, err := New(Params{Source: source, Bids: &fakeBidClient{}, Increments: registry, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(p.Unsubscribe)

	testCases := []struct {
		price float64
		want  float64
	}{
		{price: 10, want: 11},
		{price: 19.99, want: 20.99},
		{price: 20, want: 22},
		{price: 100, want: 105},
		{price: 500, want: 510},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, p.CalculateMinimumBid(tc.price), "price %v", tc.price)
	}

	check := p.ValidateBid(10.5, 10)
	require.False(t, check.Valid)
	require.Equal(t, 11.0, check.MinimumBid)
	require.NotEmpty(t, check.Error)
	require.True(t, p.ValidateBid(11, 10).Valid)

	itemID := uuid.New()
	rec := &recorder{}
	require.NoError(t, p.SubscribeToItem(context.Background(), itemID, rec.handlers()))
	item := runningItem(itemID, 10, baseTime.Add(time.Minute), 1)
	item.IncrementSchemeID = "coral"
	source.items <- ItemEvent{Item: item}
	require.Eventually(t, func() bool { return rec.stateCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 10.5, p.CalculateMinimumBid(10))
	require.True(t, p.ValidateBid(10.5, 10).Valid)
}

func TestBidIntentsPropagateErrors(t *testing.T) {
	t.Parallel()

	leader := uuid.New()
	testCases := []struct {
		name    string
		client  *fakeBidClient
		wantErr error
	}{
		{
			name:    "rejected bid",
			client:  &fakeBidClient{err: shared.ErrBidTooLow},
			wantErr: shared.ErrBidTooLow,
		},
		{
			name:    "aborted commit is not retried",
			client:  &fakeBidClient{err: shared.ErrCommitAborted},
			wantErr: shared.ErrCommitAborted,
		},
		{
			name:   "accepted bid",
			client: &fakeBidClient{result: &BidOutcome{HighestBid: 13, HighestBidderID: &leader}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProjector(t, newFakeSource(), tc.client, nil)

			outcome, err := p.PlaceBid(context.Background(), uuid.New(), uuid.New(), 13)
			_, maxErr := p.SetMaxBid(context.Background(), uuid.New(), uuid.New(), 40)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.ErrorIs(t, maxErr, tc.wantErr)
			} else {
				require.NoError(t, err)
				require.NoError(t, maxErr)
				require.Equal(t, 13.0, outcome.HighestBid)
				require.Equal(t, leader, *outcome.HighestBidderID)
			}
			require.Equal(t, 2, tc.client.calls)
		})
	}
}
