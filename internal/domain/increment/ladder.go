// Package increment implements the minimum-raise ladder shared by the bid
// committer and the client projector.
package increment

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"coralcrave-auction-service/internal/domain/shared"
)

const (
	// DefaultSchemeID names the built-in ladder
	DefaultSchemeID = "default"

	monetaryPrecision int32 = 2
)

// Tier raises the price by Increment while the current price is below LessThan.
// A zero LessThan marks the unbounded last tier.
type Tier struct {
	LessThan  float64 `json:"less_than" mapstructure:"less_than"`
	Increment float64 `json:"increment" mapstructure:"increment"`
}

// Ladder is an ordered list of increment tiers
type Ladder struct {
	ID    string `json:"id" mapstructure:"id"`
	Tiers []Tier `json:"tiers" mapstructure:"tiers"`
}

// Validation is the advisory result of checking a bid amount client-side
type Validation struct {
	Valid      bool    `json:"valid"`
	MinimumBid float64 `json:"minimum_bid"`
	Error      string  `json:"error,omitempty"`
}

// DefaultLadder returns {<20:+1, <100:+2, <500:+5, else:+10}
func DefaultLadder() Ladder {
	return Ladder{
		ID: DefaultSchemeID,
		Tiers: []Tier{
			{LessThan: 20, Increment: 1},
			{LessThan: 100, Increment: 2},
			{LessThan: 500, Increment: 5},
			{Increment: 10},
		},
	}
}

// Validate checks that the tiers are usable for bidding
func (l Ladder) Validate() error {
	if len(l.Tiers) == 0 {
		return fmt.Errorf("ladder %q has no tiers: %w", l.ID, shared.ErrInvalidIncrements)
	}
	prev := math.Inf(-1)
	for i, tier := range l.Tiers {
		if tier.Increment <= 0 || math.IsNaN(tier.Increment) || math.IsInf(tier.Increment, 0) {
			return fmt.Errorf("ladder %q tier %d has non-positive increment: %w", l.ID, i, shared.ErrInvalidIncrements)
		}
		if toCents(tier.Increment).IsZero() {
			return fmt.Errorf("ladder %q tier %d has an increment below one cent: %w", l.ID, i, shared.ErrInvalidIncrements)
		}
		last := i == len(l.Tiers)-1
		if tier.LessThan == 0 && last {
			continue
		}
		if tier.LessThan <= 0 || tier.LessThan <= prev {
			return fmt.Errorf("ladder %q tier %d is not sorted: %w", l.ID, i, shared.ErrInvalidIncrements)
		}
		prev = tier.LessThan
	}
	return nil
}

// MinIncrement selects the increment of the first tier whose bound exceeds price,
// falling back to the last tier.
func (l Ladder) MinIncrement(price float64) float64 {
	if len(l.Tiers) == 0 {
		return 0
	}
	p := toCents(price)
	for _, tier := range l.Tiers {
		if tier.LessThan == 0 {
			continue
		}
		if toCents(tier.LessThan).GreaterThan(p) {
			return tier.Increment
		}
	}
	return l.Tiers[len(l.Tiers)-1].Increment
}

// MinimumBid returns the smallest acceptable next bid over price
func (l Ladder) MinimumBid(price float64) float64 {
	minimum := toCents(price).Add(toCents(l.MinIncrement(price)))
	result, _ := minimum.Float64()
	return result
}

// Meets reports whether amount satisfies the increment rule over price
func (l Ladder) Meets(amount, price float64) bool {
	return toCents(amount).GreaterThanOrEqual(toCents(l.MinimumBid(price)))
}

// Check validates a bid amount against the current price.
// The result is advisory; only the committer decides acceptance.
func (l Ladder) Check(amount, price float64) Validation {
	minimum := l.MinimumBid(price)
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Validation{MinimumBid: minimum, Error: shared.ErrInvalidAmount.Message}
	}
	if !l.Meets(amount, price) {
		return Validation{MinimumBid: minimum, Error: fmt.Sprintf("%s: minimum bid is %.2f", shared.ErrBidTooLow.Message, minimum)}
	}
	return Validation{Valid: true, MinimumBid: minimum}
}

// Round returns amount rounded to whole cents
func Round(amount float64) float64 {
	result, _ := toCents(amount).Float64()
	return result
}

func toCents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(monetaryPrecision)
}
