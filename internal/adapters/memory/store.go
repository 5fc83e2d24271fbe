// Package memory is a concurrency-safe in-memory store with the same
// version-checked commit semantics as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
)

type proxyKey struct {
	itemID uuid.UUID
	userID uuid.UUID
}

// Store keeps sessions, items, bids and proxy bids in maps guarded by one lock
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]shared.Session
	items    map[uuid.UUID]*auction.Item
	bids     map[uuid.UUID][]bid.Bid // key: itemID -> bids in commit order
	proxies  map[proxyKey]bid.ProxyBid
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]shared.Session),
		items:    make(map[uuid.UUID]*auction.Item),
		bids:     make(map[uuid.UUID][]bid.Bid),
		proxies:  make(map[proxyKey]bid.ProxyBid),
	}
}

func (s *Store) Sessions() outbound.SessionRepository { return sessionRepo{s} }

func (s *Store) Items() outbound.ItemRepository { return itemRepo{s} }

func (s *Store) Bids() outbound.BidRepository { return bidRepo{s} }

func (s *Store) ProxyBids() outbound.ProxyBidRepository { return proxyRepo{s} }

// Close is a no-op
func (s *Store) Close() error { return nil }

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(ctx context.Context, session *shared.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.ID]; ok {
		return fmt.Errorf("create session %s: already exists", session.ID)
	}
	r.s.sessions[session.ID] = *session
	return nil
}

func (r sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*shared.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	session, ok := r.s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return &session, nil
}

func (r sessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status shared.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[id]
	if !ok {
		return shared.ErrSessionNotFound
	}
	session.Status = status
	r.s.sessions[id] = session
	return nil
}

type itemRepo struct{ s *Store }

func (r itemRepo) Create(ctx context.Context, item *auction.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[item.ID]; ok {
		return fmt.Errorf("create item %s: already exists", item.ID)
	}
	item.Version = 0
	r.s.items[item.ID] = item.Clone()
	return nil
}

func (r itemRepo) GetByID(ctx context.Context, id uuid.UUID) (*auction.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	item, ok := r.s.items[id]
	if !ok {
		return nil, shared.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (r itemRepo) ListByLive(ctx context.Context, liveID uuid.UUID) ([]*auction.Item, error) {
	return r.list(ctx, func(item *auction.Item) bool { return item.LiveID == liveID })
}

func (r itemRepo) ListRunning(ctx context.Context) ([]*auction.Item, error) {
	return r.list(ctx, (*auction.Item).IsRunning)
}

func (r itemRepo) list(ctx context.Context, keep func(*auction.Item) bool) ([]*auction.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var items []*auction.Item
	for _, item := range r.s.items {
		if keep(item) {
			items = append(items, item.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

// CommitItem writes the item and appends bids if the stored version matches
func (r itemRepo) CommitItem(ctx context.Context, item *auction.Item, expectedVersion int64, newBids []*bid.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.items[item.ID]
	if !ok {
		return shared.ErrItemNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("commit item %s at version %d (stored %d): %w", item.ID, expectedVersion, stored.Version, shared.ErrVersionConflict)
	}

	item.Version = expectedVersion + 1
	r.s.items[item.ID] = item.Clone()
	for _, b := range newBids {
		r.s.bids[item.ID] = append(r.s.bids[item.ID], *b)
	}
	return nil
}

type bidRepo struct{ s *Store }

func (r bidRepo) GetByItemID(ctx context.Context, itemID uuid.UUID, limit int) ([]*bid.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stored := r.s.bids[itemID]
	if limit <= 0 {
		limit = len(stored)
	}
	bids := make([]*bid.Bid, 0, min(limit, len(stored)))
	for i := len(stored) - 1; i >= 0 && len(bids) < limit; i-- {
		b := stored[i]
		bids = append(bids, &b)
	}
	return bids, nil
}

func (r bidRepo) GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bid.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stored := r.s.bids[itemID]
	if len(stored) == 0 {
		return nil, fmt.Errorf("get highest bid for item %s: %w", itemID, shared.ErrNoBidsFound)
	}
	highest := stored[0]
	for _, b := range stored[1:] {
		if b.Amount > highest.Amount {
			highest = b
		}
	}
	return &highest, nil
}

type proxyRepo struct{ s *Store }

func (r proxyRepo) Upsert(ctx context.Context, proxy *bid.ProxyBid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[proxy.ItemID]; !ok {
		return fmt.Errorf("upsert max bid: %w", shared.ErrItemNotFound)
	}
	r.s.proxies[proxyKey{proxy.ItemID, proxy.UserID}] = *proxy
	return nil
}

func (r proxyRepo) Get(ctx context.Context, itemID, userID uuid.UUID) (*bid.ProxyBid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	proxy, ok := r.s.proxies[proxyKey{itemID, userID}]
	if !ok {
		return nil, shared.ErrProxyBidNotFound
	}
	return &proxy, nil
}

func (r proxyRepo) GetByItemID(ctx context.Context, itemID uuid.UUID) ([]*bid.ProxyBid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var proxies []*bid.ProxyBid
	for key, proxy := range r.s.proxies {
		if key.itemID == itemID {
			p := proxy
			proxies = append(proxies, &p)
		}
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].UpdatedAt.Before(proxies[j].UpdatedAt) })
	return proxies, nil
}
