package app

import (
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/ports/outbound"
)

func bidPlacedEvent(b *bid.Bid) outbound.Event {
	return outbound.Event{
		Type:   outbound.EventTypeBidPlaced,
		ItemID: b.ItemID,
		Data: map[string]interface{}{
			"bid": b,
		},
		Timestamp: b.Timestamp.UnixMilli(),
	}
}

func itemEvent(eventType outbound.EventType, item *auction.Item) outbound.Event {
	return outbound.Event{
		Type:   eventType,
		ItemID: item.ID,
		Data: map[string]interface{}{
			"item": item,
		},
		Timestamp: item.UpdatedAt.UnixMilli(),
	}
}

func auctionEndedEvent(item *auction.Item, result *shared.AuctionEndResult) outbound.Event {
	event := itemEvent(outbound.EventTypeAuctionEnded, item)
	event.Data["status"] = result.Status
	if result.WinnerID != nil {
		event.Data["winner_id"] = result.WinnerID.String()
	}
	if result.FinalPrice != nil {
		event.Data["final_price"] = *result.FinalPrice
	}
	return event
}
