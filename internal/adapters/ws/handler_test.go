package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coralcrave-auction-service/internal/adapters/auth"
	"coralcrave-auction-service/internal/adapters/broadcaster"
	"coralcrave-auction-service/internal/adapters/memory"
	"coralcrave-auction-service/internal/app"
	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/inbound"
)

var baseTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type wsFixture struct {
	server   *httptest.Server
	handler  *WsHandler
	auctions *app.AuctionService
	verifier *auth.Verifier
	liveID   uuid.UUID
	item     *auction.Item
}

func newWSFixture(t *testing.T) *wsFixture {
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

	handler := NewHandler(WsHandlerParams{
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
	session, err := auctions.OpenSession(ctx, inbound.OpenSessionRequest{HostID: hostID, Title: "Friday reef night"})
	require.NoError(t, err)
	_, err = auctions.SetSessionStatus(ctx, inbound.SetSessionStatusRequest{LiveID: session.ID, HostID: hostID, Status: shared.SessionLive})
	require.NoError(t, err)
	item, err := auctions.CreateItem(ctx, inbound.CreateItemRequest{LiveID: session.ID, HostID: hostID, Title: "Zoanthid colony", StartingPrice: 10})
	require.NoError(t, err)
	item, err = auctions.StartAuction(ctx, inbound.StartAuctionRequest{ItemID: item.ID, HostID: hostID})
	require.NoError(t, err)

	return &wsFixture{
		server:   server,
		handler:  handler,
		auctions: auctions,
		verifier: verifier,
		liveID:   session.ID,
		item:     item,
	}
}

func (f *wsFixture) dial(t *testing.T, identity *shared.Identity) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	if identity != nil {
		token, err := f.verifier.Issue(*identity, time.Hour, time.Now())
		require.NoError(t, err)
		url += "?token=" + token
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips pushes until a message of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

// readTypes reads until one message of every wanted type has arrived
func readTypes(t *testing.T, conn *websocket.Conn, want ...MessageType) map[MessageType]ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	seen := make(map[MessageType]ServerMessage)
	for len(seen) < len(want) {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		for _, w := range want {
			if msg.Type == w {
				seen[w] = msg
			}
		}
	}
	return seen
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestSubscribeAndBid(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)

	bidder := &shared.Identity{UserID: uuid.New(), Username: "clownfish"}
	conn := f.dial(t, bidder)
	itemID := f.item.ID

	send(t, conn, ClientMessage{Type: MessageTypeSubscribe, RequestID: "sub-1", ItemID: &itemID})
	snapshot := readUntil(t, conn, MessageTypeSubscribed)
	require.Equal(t, "sub-1", snapshot.RequestID)
	require.Equal(t, itemID, *snapshot.ItemID)
	item := snapshot.Data["item"].(map[string]interface{})
	require.Equal(t, 10.0, item["current_price"])
	require.Equal(t, string(auction.StatusRunning), item["status"])
	require.Empty(t, snapshot.Data["bids"])

	send(t, conn, ClientMessage{
		Type:      MessageTypePlaceBid,
		RequestID: "bid-1",
		ItemID:    &itemID,
		LiveID:    &f.liveID,
		Data:      map[string]interface{}{"amount": 11.0},
	})
	// the push and the reply race each other
	seen := readTypes(t, conn, MessageTypeBidResult, MessageTypeBidPlaced)
	result := seen[MessageTypeBidResult]
	require.Equal(t, "bid-1", result.RequestID)
	require.Equal(t, true, result.Data["ok"])
	require.Equal(t, 11.0, result.Data["highest_bid"])
	require.Equal(t, bidder.UserID.String(), result.Data["highest_bidder_uid"])

	placed := seen[MessageTypeBidPlaced].Data["bid"].(map[string]interface{})
	require.Equal(t, 11.0, placed["amount"])
	require.Equal(t, "clownfish", placed["username"])

	send(t, conn, ClientMessage{
		Type:      MessageTypePlaceBid,
		RequestID: "bid-2",
		ItemID:    &itemID,
		LiveID:    &f.liveID,
		Data:      map[string]interface{}{"amount": 11.5},
	})
	rejected := readUntil(t, conn, MessageTypeError)
	require.Equal(t, "bid-2", rejected.RequestID)
	require.Equal(t, shared.CodeFailedPrecondition, rejected.Error.Code)
	require.Equal(t, shared.ErrBidTooLow.Message, rejected.Error.Message)
}

func TestRequestErrors(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)
	itemID := f.item.ID
	missing := uuid.New()

	testCases := []struct {
		name     string
		identity *shared.Identity
		msg      ClientMessage
		wantCode shared.Code
	}{
		{
			name: "anonymous bid",
			msg: ClientMessage{
				Type: MessageTypePlaceBid, RequestID: "r", ItemID: &itemID, LiveID: &f.liveID,
				Data: map[string]interface{}{"amount": 20.0},
			},
			wantCode: shared.CodeUnauthenticated,
		},
		{
			name:     "anonymous bid without payload",
			msg:      ClientMessage{Type: MessageTypePlaceBid, RequestID: "r"},
			wantCode: shared.CodeUnauthenticated,
		},
		{
			name: "anonymous max bid",
			msg: ClientMessage{
				Type: MessageTypeSetMaxBid, RequestID: "r", ItemID: &itemID, LiveID: &f.liveID,
			},
			wantCode: shared.CodeUnauthenticated,
		},
		{
			name:     "subscribe without item",
			identity: &shared.Identity{UserID: uuid.New(), Username: "tang"},
			msg:      ClientMessage{Type: MessageTypeSubscribe, RequestID: "r"},
			wantCode: shared.CodeInvalidArgument,
		},
		{
			name:     "subscribe to unknown item",
			identity: &shared.Identity{UserID: uuid.New(), Username: "tang"},
			msg:      ClientMessage{Type: MessageTypeSubscribe, RequestID: "r", ItemID: &missing},
			wantCode: shared.CodeNotFound,
		},
		{
			name:     "negative amount",
			identity: &shared.Identity{UserID: uuid.New(), Username: "tang"},
			msg: ClientMessage{
				Type: MessageTypePlaceBid, RequestID: "r", ItemID: &itemID, LiveID: &f.liveID,
				Data: map[string]interface{}{"amount": -3.0},
			},
			wantCode: shared.CodeInvalidArgument,
		},
		{
			name:     "unknown type",
			identity: &shared.Identity{UserID: uuid.New(), Username: "tang"},
			msg:      ClientMessage{Type: "shout", RequestID: "r"},
			wantCode: shared.CodeInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := f.dial(t, tc.identity)
			send(t, conn, tc.msg)
			reply := readUntil(t, conn, MessageTypeError)
			require.Equal(t, "r", reply.RequestID)
			require.Equal(t, tc.wantCode, reply.Error.Code)
		})
	}
}

func TestPingAndDisconnect(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)

	conn := f.dial(t, nil)
	send(t, conn, ClientMessage{Type: MessageTypePing, RequestID: "p"})
	pong := readUntil(t, conn, MessageTypePong)
	require.Equal(t, "p", pong.RequestID)
	require.Equal(t, 1, f.handler.GetConnectedClients())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.handler.GetConnectedClients() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidTokenRejected(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseClientMessage(t *testing.T) {
	t.Parallel()

	_, err := ParseClientMessage([]byte(`{not json`))
	require.ErrorIs(t, err, shared.ErrInvalidMessage)

	_, err = ParseClientMessage([]byte(`{"item_id":"` + uuid.NewString() + `"}`))
	require.ErrorIs(t, err, shared.ErrMessageTypeRequired)

	msg, err := ParseClientMessage([]byte(`{"type":"set_max_bid","request_id":"x","data":{"max_amount":40}}`))
	require.NoError(t, err)
	require.ErrorIs(t, msg.Validate(), shared.ErrLiveIDRequired)
}
