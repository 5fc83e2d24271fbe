package increment

import (
	"fmt"
	"sync"

	"coralcrave-auction-service/internal/domain/shared"
)

var ErrMissingSchemeID = shared.NewError(shared.CodeInvalidArgument, "increment scheme id is required")

// Registry holds the ladders items may reference by scheme id.
// Unknown or empty ids resolve to the default ladder.
type Registry struct {
	mu      sync.RWMutex
	ladders map[string]Ladder
	def     Ladder
}

// NewRegistry builds a registry around def plus any extra schemes
func NewRegistry(def Ladder, schemes ...Ladder) (*Registry, error) {
	if def.ID == "" {
		def.ID = DefaultSchemeID
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		ladders: map[string]Ladder{def.ID: def},
		def:     def,
	}
	for _, scheme := range schemes {
		if err := r.Register(scheme); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a scheme
func (r *Registry) Register(l Ladder) error {
	if l.ID == "" {
		return fmt.Errorf("register ladder: %w", ErrMissingSchemeID)
	}
	if err := l.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ladders[l.ID] = l
	return nil
}

// Lookup returns the ladder for schemeID
func (r *Registry) Lookup(schemeID string) Ladder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.ladders[schemeID]; ok {
		return l
	}
	return r.def
}

// Default returns the fallback ladder
func (r *Registry) Default() Ladder {
	return r.def
}

// Has reports whether schemeID is registered
func (r *Registry) Has(schemeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ladders[schemeID]
	return ok
}
