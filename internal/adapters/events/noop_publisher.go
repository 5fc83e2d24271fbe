package events

import (
	"context"

	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/rs/zerolog"
)

// LogPublisher records sales in the log only. It stands in for the order
// stream when NATS is disabled.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "order_publisher").Logger()}
}

func (p *LogPublisher) PublishAuctionSold(_ context.Context, event outbound.AuctionSold) error {
	p.logger.Info().
		Str("item_id", event.ItemID.String()).
		Str("winner_id", event.WinnerID.String()).
		Float64("final_price", event.FinalPrice).
		Msg("Auction sold, order stream disabled")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
