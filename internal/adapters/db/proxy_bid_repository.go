package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// ProxyBidRepository implements the proxy bid repository interface
type ProxyBidRepository struct {
	conn *Connection
}

// NewProxyBidRepository creates a new proxy bid repository
func NewProxyBidRepository(conn *Connection) *ProxyBidRepository {
	return &ProxyBidRepository{conn: conn}
}

// Upsert creates or replaces the proxy bid of (item, user)
func (r *ProxyBidRepository) Upsert(ctx context.Context, proxy *bid.ProxyBid) error {
	query := `
		INSERT INTO proxy_bids (item_id, user_id, username, max_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, user_id)
		DO UPDATE SET username = EXCLUDED.username, max_amount = EXCLUDED.max_amount, updated_at = EXCLUDED.updated_at
	`

	_, err := r.conn.GetDB().ExecContext(ctx, query,
		proxy.ItemID,
		proxy.UserID,
		proxy.Username,
		proxy.MaxAmount,
		proxy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert max bid: %w", err)
	}

	return nil
}

// Get retrieves the proxy bid of a user on an item
func (r *ProxyBidRepository) Get(ctx context.Context, itemID, userID uuid.UUID) (*bid.ProxyBid, error) {
	query := `
		SELECT item_id, user_id, username, max_amount, updated_at
		FROM proxy_bids
		WHERE item_id = $1 AND user_id = $2
	`

	proxy, err := scanProxy(r.conn.GetDB().QueryRowContext(ctx, query, itemID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProxyBidNotFound
		}
		return nil, fmt.Errorf("failed to get max bid: %w", err)
	}

	return proxy, nil
}

// GetByItemID retrieves all proxy bids on an item
func (r *ProxyBidRepository) GetByItemID(ctx context.Context, itemID uuid.UUID) ([]*bid.ProxyBid, error) {
	query := `
		SELECT item_id, user_id, username, max_amount, updated_at
		FROM proxy_bids
		WHERE item_id = $1
		ORDER BY max_amount DESC, updated_at ASC
	`

	rows, err := r.conn.GetDB().QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get max bids: %w", err)
	}
	defer rows.Close()

	var proxies []*bid.ProxyBid
	for rows.Next() {
		proxy, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan max bid: %w", err)
		}
		proxies = append(proxies, proxy)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating max bids: %w", err)
	}

	return proxies, nil
}

func scanProxy(row rowScanner) (*bid.ProxyBid, error) {
	var proxy bid.ProxyBid
	err := row.Scan(
		&proxy.ItemID,
		&proxy.UserID,
		&proxy.Username,
		&proxy.MaxAmount,
		&proxy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}
