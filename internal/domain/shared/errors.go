package shared

import (
	"context"
	"errors"
)

// Code classifies an error for callers of the bid API
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeNotFound           Code = "not_found"
	CodeFailedPrecondition Code = "failed_precondition"
	CodeDeadlineExceeded   Code = "deadline_exceeded"
	CodeAborted            Code = "aborted"
	CodeInternal           Code = "internal"
)

// Error is a domain error carrying a caller-facing code
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates a coded domain error
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain.
// Context expiry is reported as aborted so callers know the intent can be retried.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeAborted
	}
	return CodeInternal
}

// IsRetryable reports whether the same intent may be submitted again
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeAborted
}

// Domain-specific errors
var (
	// Auth errors
	ErrUnauthenticated = NewError(CodeUnauthenticated, "authentication required")

	// Argument errors
	ErrItemIDRequired    = NewError(CodeInvalidArgument, "item id is required")
	ErrLiveIDRequired    = NewError(CodeInvalidArgument, "stream id is required")
	ErrInvalidAmount     = NewError(CodeInvalidArgument, "amount must be a positive number")
	ErrInvalidDuration   = NewError(CodeInvalidArgument, "auction duration must be positive")
	ErrInvalidPrice      = NewError(CodeInvalidArgument, "starting price must be greater than 0")
	ErrInvalidBidLimit   = NewError(CodeInvalidArgument, "bid limit must be positive")
	ErrTitleRequired     = NewError(CodeInvalidArgument, "title is required")
	ErrInvalidIncrements = NewError(CodeInvalidArgument, "invalid increment ladder")

	// Session errors
	ErrSessionNotFound = NewError(CodeNotFound, "live session not found")
	ErrSessionNotLive  = NewError(CodeFailedPrecondition, "live session is not live")
	ErrNotSessionHost  = NewError(CodeFailedPrecondition, "only the session host can do this")

	// Item errors
	ErrItemNotFound      = NewError(CodeNotFound, "auction item not found")
	ErrItemNotRunning    = NewError(CodeFailedPrecondition, "auction is not running")
	ErrItemNotQueued     = NewError(CodeFailedPrecondition, "auction is not queued")
	ErrItemAlreadyClosed = NewError(CodeFailedPrecondition, "auction already ended")
	ErrAuctionEnded      = NewError(CodeDeadlineExceeded, "Auction ended")

	// Bid errors
	ErrBidTooLow        = NewError(CodeFailedPrecondition, "Bid too low")
	ErrMaxBidTooLow     = NewError(CodeFailedPrecondition, "max bid is below the minimum next bid")
	ErrNoBidsFound      = NewError(CodeNotFound, "no bids found")
	ErrProxyBidNotFound = NewError(CodeNotFound, "max bid not found")

	// Store errors
	ErrVersionConflict = NewError(CodeAborted, "item was modified concurrently")
	ErrCommitAborted   = NewError(CodeAborted, "bid could not be committed, retry")

	// WebSocket message validation errors
	ErrInvalidMessage      = NewError(CodeInvalidArgument, "invalid message format")
	ErrMessageTypeRequired = NewError(CodeInvalidArgument, "message type is required")
	ErrUnknownMessageType  = NewError(CodeInvalidArgument, "unknown message type")
	ErrServerBusy          = NewError(CodeAborted, "too many pending requests, retry")
	ErrClientStopped       = errors.New("client is stopped")
	ErrSendBufferFull      = errors.New("client send channel is full")
)

var sentinels = []*Error{
	ErrUnauthenticated,
	ErrItemIDRequired, ErrLiveIDRequired, ErrInvalidAmount, ErrInvalidDuration, ErrInvalidPrice,
	ErrInvalidBidLimit, ErrTitleRequired, ErrInvalidIncrements,
	ErrSessionNotFound, ErrSessionNotLive, ErrNotSessionHost,
	ErrItemNotFound, ErrItemNotRunning, ErrItemNotQueued, ErrItemAlreadyClosed, ErrAuctionEnded,
	ErrBidTooLow, ErrMaxBidTooLow, ErrNoBidsFound, ErrProxyBidNotFound,
	ErrVersionConflict, ErrCommitAborted,
	ErrInvalidMessage, ErrMessageTypeRequired, ErrUnknownMessageType, ErrServerBusy,
}

// Lookup maps a code and message received over the wire back to the
// matching sentinel, so errors.Is keeps working on the client side
func Lookup(code Code, message string) *Error {
	for _, known := range sentinels {
		if known.Code == code && known.Message == message {
			return known
		}
	}
	return NewError(code, message)
}
