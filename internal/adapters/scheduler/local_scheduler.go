package scheduler

import (
	"context"
	"sync"
	"time"

	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

type pendingExpiry struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// LocalScheduler arms one in-process timer per running item. It is used when
// Redis is disabled; pending expiries are rebuilt at startup from the store.
type LocalScheduler struct {
	handler outbound.ExpiryHandler
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingExpiry

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

type LocalSchedulerParams struct {
	Handler outbound.ExpiryHandler
	Clock   clockwork.Clock
	Logger  zerolog.Logger
}

func NewLocalScheduler(params LocalSchedulerParams) *LocalScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &LocalScheduler{
		handler: params.Handler,
		clock:   clock,
		logger:  params.Logger.With().Str("component", "local_scheduler").Logger(),
		pending: make(map[uuid.UUID]*pendingExpiry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule replaces any pending timer of the item with one firing at endAt
func (s *LocalScheduler) Schedule(ctx context.Context, itemID uuid.UUID, endAt time.Time) error {
	if s.ctx.Err() != nil {
		return nil
	}

	entry := &pendingExpiry{
		timer: s.clock.NewTimer(max(endAt.Sub(s.clock.Now()), 0)),
		stop:  make(chan struct{}),
	}

	s.mu.Lock()
	if existing, ok := s.pending[itemID]; ok {
		s.disarm(existing)
	}
	s.pending[itemID] = entry
	s.mu.Unlock()

	s.wg.Go(func() { s.wait(itemID, entry) })

	s.logger.Debug().
		Str("item_id", itemID.String()).
		Time("end_at", endAt).
		Msg("Auction scheduled for expiration")
	return nil
}

// Cancel disarms a pending expiry
func (s *LocalScheduler) Cancel(ctx context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[itemID]; ok {
		s.disarm(existing)
		delete(s.pending, itemID)
	}
	return nil
}

// Start exists for parity with the Redis scheduler; timers are armed by Schedule
func (s *LocalScheduler) Start() {
	s.logger.Info().Msg("Starting local auction scheduler")
}

// Pending returns the number of armed timers
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms every timer and waits for in-flight expiries
func (s *LocalScheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	for itemID, entry := range s.pending {
		s.disarm(entry)
		delete(s.pending, itemID)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *LocalScheduler) wait(itemID uuid.UUID, entry *pendingExpiry) {
	select {
	case <-entry.timer.Chan():
	case <-entry.stop:
		return
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	if s.pending[itemID] != entry {
		s.mu.Unlock()
		return
	}
	delete(s.pending, itemID)
	s.mu.Unlock()

	result, err := s.handler.ExpireAuction(s.ctx, itemID)
	if err != nil {
		if !expirySettled(err) && s.ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("item_id", itemID.String()).Msg("Auction expiry failed, retrying")
			_ = s.Schedule(s.ctx, itemID, s.clock.Now().Add(retryDelay))
			return
		}
		s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("Failed to expire auction")
		return
	}

	logExpiry(s.logger, result)
}

// disarm stops the timer and releases its waiting goroutine. Callers hold mu.
func (s *LocalScheduler) disarm(entry *pendingExpiry) {
	stopAndDrainTimer(entry.timer)
	close(entry.stop)
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
