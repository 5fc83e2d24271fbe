package app

import (
	"sort"
	"time"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/increment"
)

// runProxies issues automatic counter-bids from standing maximums until no
// non-leading proxy can meet the next minimum, or maxRounds bids were issued.
// Each bid is applied to item as it is generated.
func runProxies(item *auction.Item, proxies []*bid.ProxyBid, ladder increment.Ladder, now time.Time, maxRounds int) []*bid.Bid {
	if len(proxies) == 0 || maxRounds <= 0 {
		return nil
	}

	ordered := make([]*bid.ProxyBid, len(proxies))
	copy(ordered, proxies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].MaxAmount != ordered[j].MaxAmount {
			return ordered[i].MaxAmount > ordered[j].MaxAmount
		}
		return ordered[i].UpdatedAt.Before(ordered[j].UpdatedAt)
	})

	var autoBids []*bid.Bid
	for round := 0; round < maxRounds; round++ {
		minimum := ladder.MinimumBid(item.CurrentPrice)

		challenger := bestChallenger(item, ordered, ladder)
		if challenger == nil {
			break
		}

		amount := minimum
		if leaderProxy := proxyOf(item, ordered); leaderProxy != nil && leaderProxy.MaxAmount > item.CurrentPrice {
			// jump straight past the leader's ceiling when the challenger can afford it
			amount = max(minimum, ladder.MinimumBid(leaderProxy.MaxAmount))
		}
		amount = increment.Round(min(challenger.MaxAmount, amount))

		b := bid.New(item.ID, challenger.UserID, challenger.Username, amount, item.NextBidTimestamp(now), bid.SourceAuto)
		item.ApplyBid(b)
		autoBids = append(autoBids, b)
	}
	return autoBids
}

func bestChallenger(item *auction.Item, ordered []*bid.ProxyBid, ladder increment.Ladder) *bid.ProxyBid {
	for _, p := range ordered {
		if item.IsLeader(p.UserID) {
			continue
		}
		if ladder.Meets(p.MaxAmount, item.CurrentPrice) {
			return p
		}
		// ordered by max desc, nobody further down can meet the minimum either
		return nil
	}
	return nil
}

func proxyOf(item *auction.Item, ordered []*bid.ProxyBid) *bid.ProxyBid {
	if !item.HasLeader() {
		return nil
	}
	for _, p := range ordered {
		if item.IsLeader(p.UserID) {
			return p
		}
	}
	return nil
}
