package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

type MessageType string

const (
	// Client to Server message types
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePlaceBid    MessageType = "place_bid"
	MessageTypeSetMaxBid   MessageType = "set_max_bid"
	MessageTypePing        MessageType = "ping"

	// Server to Client message types
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeItemUpdate   MessageType = "item_update"
	MessageTypeBidPlaced    MessageType = "bid_placed"
	MessageTypeAuctionEnded MessageType = "auction_ended"
	MessageTypeBidResult    MessageType = "bid_result"
	MessageTypeError        MessageType = "error"
	MessageTypePong         MessageType = "pong"
)

// requiresIdentity reports whether the message acts on behalf of a user
func (t MessageType) requiresIdentity() bool {
	return t == MessageTypePlaceBid || t == MessageTypeSetMaxBid
}

// ClientMessage is a request from a connected client. RequestID is echoed
// on the reply so callers can match responses.
type ClientMessage struct {
	Type      MessageType            `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	ItemID    *uuid.UUID             `json:"item_id,omitempty"`
	LiveID    *uuid.UUID             `json:"live_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ErrorBody carries a coded failure
type ErrorBody struct {
	Code    shared.Code `json:"code"`
	Message string      `json:"message"`
}

// ServerMessage represents a message sent from server to client
type ServerMessage struct {
	Type      MessageType            `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	ItemID    *uuid.UUID             `json:"item_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     *ErrorBody             `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func NewServerMessage(msgType MessageType) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewErrorMessage builds an error reply, keeping the code of domain errors
func NewErrorMessage(err error, requestID string, itemID *uuid.UUID) *ServerMessage {
	code := shared.CodeOf(err)
	message := "internal error"
	var domainErr *shared.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	} else if code == shared.CodeAborted {
		message = shared.ErrCommitAborted.Message
	}
	return &ServerMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		ItemID:    itemID,
		Error:     &ErrorBody{Code: code, Message: message},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ParseClientMessage parses a JSON message from client
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidMessage, err)
	}

	if msg.Type == "" {
		return nil, shared.ErrMessageTypeRequired
	}

	return &msg, nil
}

// Validate checks the fields each message type needs
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		return m.validateItemID()
	case MessageTypePlaceBid:
		if err := m.validateTarget(); err != nil {
			return err
		}
		if _, ok := m.amount("amount"); !ok {
			return shared.ErrInvalidAmount
		}
	case MessageTypeSetMaxBid:
		if err := m.validateTarget(); err != nil {
			return err
		}
		if _, ok := m.amount("max_amount"); !ok {
			return shared.ErrInvalidAmount
		}
	case MessageTypePing:
	default:
		return shared.ErrUnknownMessageType
	}

	return nil
}

func (m *ClientMessage) validateItemID() error {
	if m.ItemID == nil || *m.ItemID == uuid.Nil {
		return shared.ErrItemIDRequired
	}
	return nil
}

func (m *ClientMessage) validateTarget() error {
	if m.LiveID == nil || *m.LiveID == uuid.Nil {
		return shared.ErrLiveIDRequired
	}
	return m.validateItemID()
}

func (m *ClientMessage) amount(key string) (float64, bool) {
	amount, ok := m.Data[key].(float64)
	if !ok || amount <= 0 || math.IsInf(amount, 0) {
		return 0, false
	}
	return amount, true
}
