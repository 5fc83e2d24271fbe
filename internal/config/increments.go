package config

import (
	"fmt"
	"strconv"
	"strings"

	"coralcrave-auction-service/internal/domain/increment"
)

// ParseLadder parses "lessThan:increment" tiers separated by commas. A "*" bound
// marks the open-ended last tier.
func ParseLadder(id, spec string) (increment.Ladder, error) {
	ladder := increment.Ladder{ID: id}
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		bound, inc, ok := strings.Cut(raw, ":")
		if !ok {
			return increment.Ladder{}, fmt.Errorf("ladder %q: tier %q is not bound:increment", id, raw)
		}
		var tier increment.Tier
		if strings.TrimSpace(bound) != "*" {
			v, err := strconv.ParseFloat(strings.TrimSpace(bound), 64)
			if err != nil {
				return increment.Ladder{}, fmt.Errorf("ladder %q: bad bound %q: %w", id, bound, err)
			}
			tier.LessThan = v
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(inc), 64)
		if err != nil {
			return increment.Ladder{}, fmt.Errorf("ladder %q: bad increment %q: %w", id, inc, err)
		}
		tier.Increment = v
		ladder.Tiers = append(ladder.Tiers, tier)
	}
	if err := ladder.Validate(); err != nil {
		return increment.Ladder{}, err
	}
	return ladder, nil
}

// Registry builds the increment registry from the default ladder and named schemes
func (c AuctionConfig) Registry() (*increment.Registry, error) {
	def := increment.DefaultLadder()
	if strings.TrimSpace(c.IncrementLadder) != "" {
		parsed, err := ParseLadder(increment.DefaultSchemeID, c.IncrementLadder)
		if err != nil {
			return nil, err
		}
		def = parsed
	}

	var schemes []increment.Ladder
	for _, raw := range strings.Split(c.IncrementSchemes, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, spec, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("increment scheme %q is not id=tiers", raw)
		}
		ladder, err := ParseLadder(strings.TrimSpace(id), spec)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, ladder)
	}
	return increment.NewRegistry(def, schemes...)
}
