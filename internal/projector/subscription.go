package projector

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"

	"github.com/google/uuid"
)

type subscription struct {
	itemID   uuid.UUID
	handlers Handlers
	cancel   context.CancelFunc
	done     chan struct{}

	live        atomic.Bool
	dispatching atomic.Bool

	mu       sync.RWMutex
	item     *auction.Item
	bids     []*bid.Bid // newest first
	seen     map[uuid.UUID]struct{}
	timeLeft time.Duration
}

type timerUpdate struct {
	timeLeft    time.Duration
	counting    bool
	wasCounting bool
}

// stop reports whether this call performed the teardown
func (s *subscription) stop() bool {
	if !s.live.CompareAndSwap(true, false) {
		return false
	}
	s.cancel()
	if !s.dispatching.Load() {
		<-s.done
	}
	return true
}

func (s *subscription) deliver(fn func(Handlers)) {
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	if !s.live.Load() {
		return
	}
	fn(s.handlers)
}

func (s *subscription) deliverError(err error) {
	s.deliver(func(h Handlers) {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}

func (s *subscription) deliverTimer(left time.Duration) {
	s.deliver(func(h Handlers) {
		if h.OnTimerUpdate != nil {
			h.OnTimerUpdate(s.itemID, left)
		}
	})
}

// applyItem stores item unless it is older than the one held. The countdown
// is recomputed from the pushed deadline.
func (s *subscription) applyItem(item *auction.Item, now time.Time) (timerUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.item != nil && item.Version < s.item.Version {
		return timerUpdate{}, false
	}

	update := timerUpdate{wasCounting: s.timeLeft > 0}
	s.item = cloneItem(item)
	if item.IsRunning() && item.EndAt != nil {
		update.counting = true
		update.timeLeft = item.TimeLeft(now)
	}
	s.timeLeft = update.timeLeft
	return update, true
}

// applyBids folds a batch of feed changes into the window and returns the
// bids that were newly added
func (s *subscription) applyBids(changes []BidChange, limit int) []*bid.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []*bid.Bid
	for _, change := range changes {
		if change.Bid == nil {
			continue
		}
		b := *change.Bid

		switch change.Kind {
		case ChangeAdded:
			if _, dup := s.seen[b.ID]; dup {
				continue
			}
			s.seen[b.ID] = struct{}{}
			s.bids = append(s.bids, &b)
			added = append(added, &b)
		case ChangeModified:
			for i, held := range s.bids {
				if held.ID == b.ID {
					s.bids[i] = &b
				}
			}
		case ChangeRemoved:
			s.bids = removeBid(s.bids, b.ID)
		}
	}

	sort.SliceStable(s.bids, func(i, j int) bool {
		if !s.bids[i].Timestamp.Equal(s.bids[j].Timestamp) {
			return s.bids[i].Timestamp.After(s.bids[j].Timestamp)
		}
		return s.bids[i].Amount > s.bids[j].Amount
	})
	if len(s.bids) > limit {
		s.bids = s.bids[:limit]
	}
	return added
}

func (s *subscription) countDown(step time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeLeft -= step
	if s.timeLeft < 0 {
		s.timeLeft = 0
	}
	return s.timeLeft
}

func (s *subscription) snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{ItemID: s.itemID, TimeLeft: s.timeLeft}
	if s.item != nil {
		state.Item = cloneItem(s.item)
	}
	state.Bids = make([]*bid.Bid, len(s.bids))
	for i, b := range s.bids {
		c := *b
		state.Bids[i] = &c
	}
	return state
}

func removeBid(bids []*bid.Bid, id uuid.UUID) []*bid.Bid {
	kept := bids[:0]
	for _, b := range bids {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	return kept
}
