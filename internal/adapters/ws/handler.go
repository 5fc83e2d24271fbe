package ws

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"coralcrave-auction-service/internal/adapters/auth"
	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultRecentBids = 20

// TokenVerifier resolves a bearer token to the caller identity
type TokenVerifier interface {
	Verify(token string) (*shared.Identity, error)
}

// WsHandler manages WebSocket connections and message routing
type WsHandler struct {
	clients        map[string]*WsClient // clientID -> Client
	clientsMu      sync.RWMutex
	upgrader       websocket.Upgrader
	auctionService inbound.AuctionService
	bidService     inbound.BidService
	broadcaster    outbound.Broadcaster
	verifier       TokenVerifier
	settings       config.WebSocketConfig
	recentBids     int
	logger         zerolog.Logger
}

type WsHandlerParams struct {
	AuctionService inbound.AuctionService
	BidService     inbound.BidService
	Broadcaster    outbound.Broadcaster
	Verifier       TokenVerifier
	Settings       config.WebSocketConfig
	// AllowedOrigins limits browser origins; empty allows any
	AllowedOrigins []string
	// RecentBids is the size of the bid snapshot sent on subscribe
	RecentBids int
	Logger     zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(params WsHandlerParams) *WsHandler {
	recentBids := params.RecentBids
	if recentBids <= 0 {
		recentBids = defaultRecentBids
	}
	origins := params.AllowedOrigins

	return &WsHandler{
		clients: make(map[string]*WsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  params.Settings.ReadBufferSize,
			WriteBufferSize: params.Settings.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
		auctionService: params.AuctionService,
		bidService:     params.BidService,
		broadcaster:    params.Broadcaster,
		verifier:       params.Verifier,
		settings:       params.Settings,
		recentBids:     recentBids,
		logger:         params.Logger.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket upgrades the connection. A token may be passed as the
// "token" query parameter or a bearer header; without one the client can
// watch items but not bid.
func (handler *WsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}

	var identity *shared.Identity
	if token != "" {
		verified, err := handler.verifier.Verify(token)
		if err != nil {
			http.Error(w, shared.ErrUnauthenticated.Message, http.StatusUnauthorized)
			return
		}
		identity = verified
	}

	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(WsClientParams{
		Identity: identity,
		Conn:     conn,
		Handler:  handler,
		Settings: handler.settings,
		Logger:   handler.logger,
	})

	handler.registerClient(client)
	client.Start()
	go handler.forwardEvents(client)

	go func() {
		<-client.ctx.Done()
		handler.unregisterClient(client)
	}()

	handler.logger.Info().Str("client_id", client.id).Bool("authenticated", identity != nil).Msg("WebSocket client connected")
}

func (handler *WsHandler) registerClient(client *WsClient) {
	handler.clientsMu.Lock()
	defer handler.clientsMu.Unlock()
	handler.clients[client.id] = client
	handler.logger.Debug().Str("client_id", client.id).Int("total_clients", len(handler.clients)).Msg("Client registered")
}

func (handler *WsHandler) unregisterClient(client *WsClient) {
	handler.clientsMu.Lock()
	delete(handler.clients, client.id)
	total := len(handler.clients)
	handler.clientsMu.Unlock()

	for _, itemID := range client.subscribedItems() {
		if err := handler.broadcaster.Unsubscribe(context.Background(), itemID, client.id); err != nil {
			handler.logger.Warn().Err(err).Str("client_id", client.id).Str("item_id", itemID.String()).Msg("Failed to unsubscribe departed client")
		}
	}

	client.Stop()

	handler.logger.Info().Str("client_id", client.id).Int("total_clients", total).Msg("WebSocket client disconnected")
}

// forwardEvents relays broadcast events to the client until it disconnects
func (handler *WsHandler) forwardEvents(client *WsClient) {
	for {
		select {
		case event := <-client.events:
			if err := client.Send(convertEventToMessage(event)); err != nil {
				handler.logger.Warn().Err(err).Str("client_id", client.id).Str("event_type", string(event.Type)).Msg("Failed to send event to WebSocket client")
			}
		case <-client.ctx.Done():
			return
		}
	}
}

// HandleClientMessage executes one validated request and returns its reply
func (handler *WsHandler) HandleClientMessage(client *WsClient, msg *ClientMessage) (*ServerMessage, error) {
	switch msg.Type {
	case MessageTypeSubscribe:
		return handler.handleSubscribe(client, msg)
	case MessageTypeUnsubscribe:
		return handler.handleUnsubscribe(client, msg)
	case MessageTypePlaceBid:
		return handler.handlePlaceBid(client, msg)
	case MessageTypeSetMaxBid:
		return handler.handleSetMaxBid(client, msg)
	default:
		handler.logger.Warn().Str("client_id", client.id).Str("message_type", string(msg.Type)).Msg("Unknown message type from client")
		return nil, shared.ErrUnknownMessageType
	}
}

// GetConnectedClients returns the number of connected clients
func (handler *WsHandler) GetConnectedClients() int {
	handler.clientsMu.RLock()
	defer handler.clientsMu.RUnlock()
	return len(handler.clients)
}

// handleSubscribe registers for live events first and then sends the
// snapshot, so no committed change falls between the two. Events that race
// ahead of the snapshot carry a version the client can compare.
func (handler *WsHandler) handleSubscribe(client *WsClient, msg *ClientMessage) (*ServerMessage, error) {
	itemID := *msg.ItemID

	if _, err := handler.auctionService.GetItem(client.ctx, itemID); err != nil {
		return nil, err
	}

	if err := handler.broadcaster.Subscribe(client.ctx, itemID, client.id, client.events); err != nil {
		handler.logger.Error().Err(err).Str("client_id", client.id).Str("item_id", itemID.String()).Msg("Failed to subscribe to item")
		return nil, err
	}
	client.trackItem(itemID, true)

	item, err := handler.auctionService.GetItem(client.ctx, itemID)
	if err != nil {
		return nil, err
	}
	bids, err := handler.bidService.GetBids(client.ctx, itemID, handler.recentBids)
	if err != nil {
		return nil, err
	}

	response := NewServerMessage(MessageTypeSubscribed)
	response.ItemID = &itemID
	response.Data["item"] = item
	response.Data["bids"] = bids

	handler.logger.Debug().Str("client_id", client.id).Str("item_id", itemID.String()).Msg("Client subscribed to item")
	return response, nil
}

func (handler *WsHandler) handleUnsubscribe(client *WsClient, msg *ClientMessage) (*ServerMessage, error) {
	itemID := *msg.ItemID

	if err := handler.broadcaster.Unsubscribe(client.ctx, itemID, client.id); err != nil {
		return nil, err
	}
	client.trackItem(itemID, false)

	response := NewServerMessage(MessageTypeUnsubscribed)
	response.ItemID = &itemID
	return response, nil
}

func (handler *WsHandler) handlePlaceBid(client *WsClient, msg *ClientMessage) (*ServerMessage, error) {
	amount, _ := msg.amount("amount")

	req := inbound.PlaceBidRequest{LiveID: *msg.LiveID, ItemID: *msg.ItemID, Amount: amount}
	if client.identity != nil {
		req.UserID = &client.identity.UserID
		req.Username = client.identity.Username
	}

	result, err := handler.bidService.PlaceBid(client.ctx, req)
	if err != nil {
		return nil, err
	}
	return bidResultMessage(result), nil
}

func (handler *WsHandler) handleSetMaxBid(client *WsClient, msg *ClientMessage) (*ServerMessage, error) {
	maxAmount, _ := msg.amount("max_amount")

	req := inbound.SetMaxBidRequest{LiveID: *msg.LiveID, ItemID: *msg.ItemID, MaxAmount: maxAmount}
	if client.identity != nil {
		req.UserID = &client.identity.UserID
		req.Username = client.identity.Username
	}

	result, err := handler.bidService.SetMaxBid(client.ctx, req)
	if err != nil {
		return nil, err
	}
	return bidResultMessage(result), nil
}

func bidResultMessage(result *inbound.BidResult) *ServerMessage {
	response := NewServerMessage(MessageTypeBidResult)
	response.ItemID = &result.ItemID
	response.Data["ok"] = true
	response.Data["highest_bid"] = result.Amount
	response.Data["highest_bidder_uid"] = result.LeadingBidderID
	response.Data["version"] = result.Version
	if result.EndAt != nil {
		response.Data["end_at"] = result.EndAt
	}
	return response
}

func convertEventToMessage(event outbound.Event) *ServerMessage {
	msgType := MessageTypeItemUpdate
	switch event.Type {
	case outbound.EventTypeBidPlaced:
		msgType = MessageTypeBidPlaced
	case outbound.EventTypeAuctionEnded:
		msgType = MessageTypeAuctionEnded
	}

	itemID := event.ItemID
	if itemID == uuid.Nil {
		return &ServerMessage{Type: msgType, Data: event.Data, Timestamp: event.Timestamp}
	}
	return &ServerMessage{
		Type:      msgType,
		ItemID:    &itemID,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
}
