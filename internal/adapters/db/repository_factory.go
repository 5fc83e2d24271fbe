package db

import (
	"context"
	_ "embed"
	"fmt"

	"coralcrave-auction-service/internal/ports/outbound"
)

//go:embed schema.sql
var schema string

// RepositoryFactory creates and manages all database repositories. It
// implements outbound.Store.
type RepositoryFactory struct {
	conn *Connection
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(conn *Connection) *RepositoryFactory {
	return &RepositoryFactory{conn: conn}
}

// EnsureSchema creates missing tables and indexes
func (f *RepositoryFactory) EnsureSchema(ctx context.Context) error {
	if _, err := f.conn.GetDB().ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Sessions returns the live session repository
func (f *RepositoryFactory) Sessions() outbound.SessionRepository {
	return NewSessionRepository(f.conn)
}

// Items returns the auction item repository
func (f *RepositoryFactory) Items() outbound.ItemRepository {
	return NewItemRepository(f.conn)
}

// Bids returns the bid repository
func (f *RepositoryFactory) Bids() outbound.BidRepository {
	return NewBidRepository(f.conn)
}

// ProxyBids returns the proxy bid repository
func (f *RepositoryFactory) ProxyBids() outbound.ProxyBidRepository {
	return NewProxyBidRepository(f.conn)
}

// Close closes the underlying connection
func (f *RepositoryFactory) Close() error {
	return f.conn.Close()
}
