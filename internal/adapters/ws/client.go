package ws

import (
	"context"
	"sync"
	"time"

	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// WsClient is one WebSocket connection. All writes go through sendChan so
// only the sender goroutine touches the connection for writing.
type WsClient struct {
	id         string
	identity   *shared.Identity
	conn       *websocket.Conn
	sendChan   chan *ServerMessage
	events     chan outbound.Event
	ctx        context.Context
	cancel     context.CancelFunc
	handler    *WsHandler
	workerPool *pond.WorkerPool
	stopped    bool
	mu         sync.Mutex
	items      map[uuid.UUID]struct{}
	logger     zerolog.Logger
}

type WsClientParams struct {
	// Identity is nil for anonymous viewers
	Identity *shared.Identity
	Conn     *websocket.Conn
	Handler  *WsHandler
	Settings config.WebSocketConfig
	Logger   zerolog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(params WsClientParams) *WsClient {
	ctx, cancel := context.WithCancel(context.Background())

	settings := params.Settings
	if settings.MaxWorkers <= 0 {
		settings.MaxWorkers = 10
	}
	if settings.MaxCapacity <= 0 {
		settings.MaxCapacity = 100
	}
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = 256
	}

	pool := pond.New(
		settings.MaxWorkers,
		settings.MaxCapacity,
		pond.Context(ctx),
		pond.Strategy(pond.Balanced()),
	)

	id := uuid.NewString()
	logCtx := params.Logger.With().Str("client_id", id)
	if params.Identity != nil {
		logCtx = logCtx.Str("user_id", params.Identity.UserID.String())
	}

	return &WsClient{
		id:         id,
		identity:   params.Identity,
		conn:       params.Conn,
		sendChan:   make(chan *ServerMessage, settings.SendBuffer),
		events:     make(chan outbound.Event, settings.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		handler:    params.Handler,
		workerPool: pool,
		items:      make(map[uuid.UUID]struct{}),
		logger:     logCtx.Logger(),
	}
}

func (client *WsClient) Start() {
	go client.messageSender()
	go client.messageReceiver()
}

// Stop closes the connection and the worker pool. It is safe to call twice.
func (client *WsClient) Stop() {
	client.mu.Lock()
	if client.stopped {
		client.mu.Unlock()
		return
	}
	client.stopped = true
	client.mu.Unlock()

	client.cancel()
	client.conn.Close()
	client.workerPool.StopAndWait()
}

// Send queues a message for the client without blocking
func (client *WsClient) Send(msg *ServerMessage) error {
	client.mu.Lock()
	stopped := client.stopped
	client.mu.Unlock()
	if stopped {
		return shared.ErrClientStopped
	}

	select {
	case client.sendChan <- msg:
		return nil
	case <-client.ctx.Done():
		return shared.ErrClientStopped
	default:
		return shared.ErrSendBufferFull
	}
}

func (client *WsClient) trackItem(itemID uuid.UUID, subscribed bool) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if subscribed {
		client.items[itemID] = struct{}{}
	} else {
		delete(client.items, itemID)
	}
}

func (client *WsClient) subscribedItems() []uuid.UUID {
	client.mu.Lock()
	defer client.mu.Unlock()
	items := make([]uuid.UUID, 0, len(client.items))
	for itemID := range client.items {
		items = append(items, itemID)
	}
	return items
}

func (client *WsClient) messageSender() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.sendChan:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				client.logger.Debug().Err(err).Msg("Failed to send message to client")
				client.cancel()
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.cancel()
				return
			}
		case <-client.ctx.Done():
			return
		}
	}
}

func (client *WsClient) messageReceiver() {
	defer client.cancel()

	client.conn.SetReadLimit(maxMessage)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Warn().Err(err).Msg("WebSocket read error for client")
			}
			return
		}

		if !client.workerPool.TrySubmit(func() { client.handleMessage(message) }) {
			if client.ctx.Err() != nil {
				return
			}
			client.reply(NewErrorMessage(shared.ErrServerBusy, "", nil))
		}
	}
}

func (client *WsClient) handleMessage(data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		client.reply(NewErrorMessage(err, "", nil))
		return
	}

	if client.identity == nil && msg.Type.requiresIdentity() {
		client.reply(NewErrorMessage(shared.ErrUnauthenticated, msg.RequestID, msg.ItemID))
		return
	}

	if err := msg.Validate(); err != nil {
		client.reply(NewErrorMessage(err, msg.RequestID, msg.ItemID))
		return
	}

	if msg.Type == MessageTypePing {
		response := NewServerMessage(MessageTypePong)
		response.RequestID = msg.RequestID
		client.reply(response)
		return
	}

	response, err := client.handler.HandleClientMessage(client, msg)
	if err != nil {
		client.reply(NewErrorMessage(err, msg.RequestID, msg.ItemID))
		return
	}
	response.RequestID = msg.RequestID
	client.reply(response)
}

func (client *WsClient) reply(msg *ServerMessage) {
	if err := client.Send(msg); err != nil {
		client.logger.Warn().Err(err).Str("message_type", string(msg.Type)).Msg("Failed to queue reply")
	}
}
