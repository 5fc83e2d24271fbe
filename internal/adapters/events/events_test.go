package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coralcrave-auction-service/internal/ports/outbound"
)

func TestSoldMessage(t *testing.T) {
	t.Parallel()

	event := outbound.AuctionSold{
		ItemID:     uuid.New(),
		LiveID:     uuid.New(),
		WinnerID:   uuid.New(),
		WinnerName: "alice",
		FinalPrice: 60,
		SoldAt:     time.Date(2026, 3, 1, 20, 0, 30, 0, time.UTC),
	}

	msg, err := soldMessage("auction.sold", event)
	require.NoError(t, err)
	require.Equal(t, "auction.sold", msg.Subject)
	require.Equal(t, event.ItemID.String(), msg.Header.Get("Item-ID"))
	require.Equal(t, event.LiveID.String(), msg.Header.Get("Live-ID"))

	var decoded outbound.AuctionSold
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event, decoded)
}

func TestStreamConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subject string
		want    []string
	}{
		{name: "dotted", subject: "auction.sold", want: []string{"auction.>"}},
		{name: "flat", subject: "sold", want: []string{"sold"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc := streamConfig("ORDERS", tc.subject)
			require.Equal(t, "ORDERS", sc.Name)
			require.Equal(t, tc.want, sc.Subjects)
			require.Equal(t, duplicateWindow, sc.Duplicates)
		})
	}
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	p := NewLogPublisher(zerolog.Nop())
	require.NoError(t, p.PublishAuctionSold(context.Background(), outbound.AuctionSold{ItemID: uuid.New()}))
	require.NoError(t, p.Close())
}
