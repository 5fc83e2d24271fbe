// Package wsclient connects to the auction WebSocket endpoint and exposes it
// as a projector source and bid client.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"coralcrave-auction-service/internal/adapters/ws"
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/projector"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	unsubscribeTTL = 5 * time.Second
	defaultBuffer  = 64
	bidCacheSize   = 100
)

// ErrClosed is returned once the connection is gone
var ErrClosed = errors.New("wsclient: connection closed")

type Params struct {
	// URL of the WebSocket endpoint, e.g. ws://localhost:8080/ws
	URL string
	// Token is optional; without it the connection can watch but not bid
	Token  string
	Dialer *websocket.Dialer
	// Buffer is the capacity of each watch channel. A full item channel skips
	// updates, since the next one carries the whole item. A full bid channel
	// keeps up to 100 bids back and hands them over in one event once it drains.
	Buffer int
	Logger zerolog.Logger
}

// Client multiplexes item watches and bid requests over one connection
type Client struct {
	conn    *websocket.Conn
	buffer  int
	logger  zerolog.Logger
	writeMu sync.Mutex
	subMu   sync.Mutex // serializes subscribe and unsubscribe round trips
	seq     atomic.Uint64

	mu       sync.Mutex
	pending  map[string]chan *ws.ServerMessage
	feeds    map[uuid.UUID]*feed
	closed   bool
	closeErr error
	done     chan struct{}
}

var (
	_ projector.Source    = (*Client)(nil)
	_ projector.BidClient = (*Client)(nil)
)

// Dial opens the connection and starts reading
func Dial(ctx context.Context, params Params) (*Client, error) {
	endpoint, err := url.Parse(params.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	if params.Token != "" {
		query := endpoint.Query()
		query.Set("token", params.Token)
		endpoint.RawQuery = query.Encode()
	}

	dialer := params.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, shared.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint.Host, err)
	}

	buffer := params.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	c := &Client{
		conn:    conn,
		buffer:  buffer,
		logger:  params.Logger.With().Str("component", "ws_client").Logger(),
		pending: make(map[string]chan *ws.ServerMessage),
		feeds:   make(map[uuid.UUID]*feed),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info().Str("host", endpoint.Host).Bool("authenticated", params.Token != "").Msg("Connected to auction service")
	return c, nil
}

// Close closes the connection. Open watch channels are closed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed when the connection is lost
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WatchItem streams snapshots of one item, starting with the current one
func (c *Client) WatchItem(ctx context.Context, itemID uuid.UUID) (<-chan projector.ItemEvent, error) {
	w := make(chan projector.ItemEvent, c.buffer)

	f, err := c.register(ctx, itemID, func(f *feed) {
		f.itemWatchers[w] = struct{}{}
		if f.item != nil {
			w <- projector.ItemEvent{Item: cloneItem(f.item)}
		}
	})
	if err != nil {
		return nil, err
	}

	go c.detachOnDone(ctx, itemID, f, func() {
		delete(f.itemWatchers, w)
		close(w)
	})
	return w, nil
}

// WatchBids streams bid additions, starting with the most recent limit bids
// oldest first
func (c *Client) WatchBids(ctx context.Context, itemID uuid.UUID, limit int) (<-chan projector.BidEvent, error) {
	w := make(chan projector.BidEvent, c.buffer)

	f, err := c.register(ctx, itemID, func(f *feed) {
		f.bidWatchers[w] = &bidWatcher{}
		recent := f.bids
		if limit > 0 && len(recent) > limit {
			recent = recent[:limit]
		}
		if len(recent) == 0 {
			return
		}
		changes := make([]projector.BidChange, 0, len(recent))
		for i := len(recent) - 1; i >= 0; i-- {
			b := *recent[i]
			changes = append(changes, projector.BidChange{Kind: projector.ChangeAdded, Bid: &b})
		}
		w <- projector.BidEvent{Changes: changes}
	})
	if err != nil {
		return nil, err
	}

	go c.detachOnDone(ctx, itemID, f, func() {
		delete(f.bidWatchers, w)
		close(w)
	})
	return w, nil
}

// PlaceBid submits a bid intent and returns the committed outcome
func (c *Client) PlaceBid(ctx context.Context, liveID, itemID uuid.UUID, amount float64) (*projector.BidOutcome, error) {
	return c.bidRequest(ctx, ws.MessageTypePlaceBid, liveID, itemID, "amount", amount)
}

// SetMaxBid stores a standing maximum for the caller
func (c *Client) SetMaxBid(ctx context.Context, liveID, itemID uuid.UUID, maxAmount float64) (*projector.BidOutcome, error) {
	return c.bidRequest(ctx, ws.MessageTypeSetMaxBid, liveID, itemID, "max_amount", maxAmount)
}

// Ping round-trips an application level ping
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, ws.ClientMessage{Type: ws.MessageTypePing})
	return err
}

func (c *Client) bidRequest(ctx context.Context, msgType ws.MessageType, liveID, itemID uuid.UUID, key string, amount float64) (*projector.BidOutcome, error) {
	resp, err := c.request(ctx, ws.ClientMessage{
		Type:   msgType,
		ItemID: &itemID,
		LiveID: &liveID,
		Data:   map[string]interface{}{key: amount},
	})
	if err != nil {
		return nil, err
	}

	outcome := &projector.BidOutcome{}
	if highest, ok := resp.Data["highest_bid"].(float64); ok {
		outcome.HighestBid = highest
	}
	if raw, ok := resp.Data["highest_bidder_uid"].(string); ok {
		leader, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bidder id in bid result: %w", err)
		}
		outcome.HighestBidderID = &leader
	}
	return outcome, nil
}

// register attaches a watcher to the item feed, subscribing on first use
func (c *Client) register(ctx context.Context, itemID uuid.UUID, attach func(f *feed)) (*feed, error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	f, exists := c.feeds[itemID]
	if !exists {
		// pushes that race ahead of the snapshot land here
		f = newFeed()
		c.feeds[itemID] = f
	}
	c.mu.Unlock()

	if !exists {
		resp, err := c.request(ctx, ws.ClientMessage{Type: ws.MessageTypeSubscribe, ItemID: &itemID})
		if err == nil {
			err = c.applySnapshot(f, resp)
		}
		if err != nil {
			c.mu.Lock()
			if c.feeds[itemID] == f {
				delete(c.feeds, itemID)
			}
			c.mu.Unlock()
			return nil, err
		}
		c.logger.Debug().Str("item_id", itemID.String()).Msg("Subscribed to item")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.closeErr
	}
	attach(f)
	return f, nil
}

func (c *Client) detachOnDone(ctx context.Context, itemID uuid.UUID, f *feed, remove func()) {
	select {
	case <-ctx.Done():
	case <-c.done:
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	remove()
	last := f.watchers() == 0 && c.feeds[itemID] == f
	if last {
		delete(c.feeds, itemID)
	}
	c.mu.Unlock()

	if !last {
		return
	}
	unsubCtx, cancel := context.WithTimeout(context.Background(), unsubscribeTTL)
	defer cancel()
	if _, err := c.request(unsubCtx, ws.ClientMessage{Type: ws.MessageTypeUnsubscribe, ItemID: &itemID}); err != nil {
		c.logger.Warn().Err(err).Str("item_id", itemID.String()).Msg("Failed to unsubscribe from item")
		return
	}
	c.logger.Debug().Str("item_id", itemID.String()).Msg("Unsubscribed from item")
}

// request sends msg and waits for the reply carrying the same request id
func (c *Client) request(ctx context.Context, msg ws.ClientMessage) (*ws.ServerMessage, error) {
	msg.RequestID = strconv.FormatUint(c.seq.Add(1), 10)
	reply := make(chan *ws.ServerMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	c.pending[msg.RequestID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		if resp.Type == ws.MessageTypeError {
			if resp.Error == nil {
				return nil, shared.NewError(shared.CodeInternal, "malformed error reply")
			}
			return nil, shared.Lookup(resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr
	}
}

func (c *Client) write(ctx context.Context, msg ws.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var msg ws.ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ws.ServerMessage) {
	if msg.RequestID != "" {
		c.mu.Lock()
		reply, ok := c.pending[msg.RequestID]
		c.mu.Unlock()
		if ok {
			reply <- msg
		}
		return
	}

	switch msg.Type {
	case ws.MessageTypeItemUpdate, ws.MessageTypeAuctionEnded:
		var item auction.Item
		if err := decodeField(msg.Data, "item", &item); err != nil {
			c.logger.Warn().Err(err).Str("message_type", string(msg.Type)).Msg("Dropping malformed item push")
			return
		}
		c.pushItem(&item)
	case ws.MessageTypeBidPlaced:
		var b bid.Bid
		if err := decodeField(msg.Data, "bid", &b); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed bid push")
			return
		}
		c.pushBid(&b)
	case ws.MessageTypeError:
		if msg.Error != nil {
			c.logger.Warn().Str("code", string(msg.Error.Code)).Str("message", msg.Error.Message).Msg("Server reported an error")
		}
	}
}

func (c *Client) pushItem(item *auction.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.feeds[item.ID]
	if !ok {
		return
	}
	for w, state := range f.bidWatchers {
		c.flushBids(w, state, item.ID)
	}
	if !f.storeItem(item) {
		return
	}
	for w := range f.itemWatchers {
		select {
		case w <- projector.ItemEvent{Item: cloneItem(item)}:
		default:
			c.logger.Warn().Str("item_id", item.ID.String()).Msg("Item watcher is full, dropping update")
		}
	}
}

func (c *Client) pushBid(b *bid.Bid) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.feeds[b.ItemID]
	if !ok || !f.storeBid(b) {
		return
	}
	f.sortBids()
	for w, state := range f.bidWatchers {
		copied := *b
		state.backlog = append(state.backlog, projector.BidChange{Kind: projector.ChangeAdded, Bid: &copied})
		if len(state.backlog) > bidCacheSize {
			state.backlog = state.backlog[len(state.backlog)-bidCacheSize:]
		}
		c.flushBids(w, state, b.ItemID)
	}
}

// flushBids hands the held bids to w if it has room. Callers hold mu.
func (c *Client) flushBids(w chan projector.BidEvent, state *bidWatcher, itemID uuid.UUID) {
	if len(state.backlog) == 0 {
		return
	}
	select {
	case w <- projector.BidEvent{Changes: state.backlog}:
		state.backlog = nil
	default:
		c.logger.Debug().Str("item_id", itemID.String()).Int("held", len(state.backlog)).Msg("Bid watcher is full, holding bids")
	}
}

func (c *Client) applySnapshot(f *feed, resp *ws.ServerMessage) error {
	var (
		item auction.Item
		bids []*bid.Bid
	)
	if err := decodeField(resp.Data, "item", &item); err != nil {
		return err
	}
	if _, ok := resp.Data["bids"]; ok {
		if err := decodeField(resp.Data, "bids", &bids); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f.storeItem(&item)
	for _, b := range bids {
		if b != nil {
			f.storeBid(b)
		}
	}
	f.sortBids()
	return nil
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = fmt.Errorf("%w: %v", ErrClosed, err)
	close(c.done)

	for _, f := range c.feeds {
		for w := range f.itemWatchers {
			close(w)
		}
		for w := range f.bidWatchers {
			close(w)
		}
	}
	c.feeds = make(map[uuid.UUID]*feed)

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn().Err(err).Msg("Connection to auction service lost")
	}
}

// feed caches one item subscription; guarded by Client.mu
type feed struct {
	item         *auction.Item
	bids         []*bid.Bid // newest first
	seen         map[uuid.UUID]struct{}
	itemWatchers map[chan projector.ItemEvent]struct{}
	bidWatchers  map[chan projector.BidEvent]*bidWatcher
}

// bidWatcher holds bids its channel had no room for
type bidWatcher struct {
	backlog []projector.BidChange
}

func newFeed() *feed {
	return &feed{
		seen:         make(map[uuid.UUID]struct{}),
		itemWatchers: make(map[chan projector.ItemEvent]struct{}),
		bidWatchers:  make(map[chan projector.BidEvent]*bidWatcher),
	}
}

func (f *feed) watchers() int {
	return len(f.itemWatchers) + len(f.bidWatchers)
}

// storeItem keeps the newest version and reports whether item was kept
func (f *feed) storeItem(item *auction.Item) bool {
	if f.item != nil && item.Version < f.item.Version {
		return false
	}
	f.item = cloneItem(item)
	return true
}

func (f *feed) storeBid(b *bid.Bid) bool {
	if _, dup := f.seen[b.ID]; dup {
		return false
	}
	f.seen[b.ID] = struct{}{}
	copied := *b
	f.bids = append(f.bids, &copied)
	return true
}

func (f *feed) sortBids() {
	sort.SliceStable(f.bids, func(i, j int) bool {
		return f.bids[i].Timestamp.After(f.bids[j].Timestamp)
	})
	if len(f.bids) > bidCacheSize {
		f.bids = f.bids[:bidCacheSize]
	}
}

func decodeField(data map[string]interface{}, key string, out any) error {
	raw, ok := data[key]
	if !ok {
		return fmt.Errorf("message has no %q field", key)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-encode %q: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

func cloneItem(item *auction.Item) *auction.Item {
	c := *item
	return &c
}
