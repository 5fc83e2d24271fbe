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

// BidRepository implements the bid repository interface. Bids are inserted by
// ItemRepository.CommitItem.
type BidRepository struct {
	conn *Connection
}

// NewBidRepository creates a new bid repository
func NewBidRepository(conn *Connection) *BidRepository {
	return &BidRepository{conn: conn}
}

// GetByItemID retrieves the most recent bids for an item, newest first.
// A non-positive limit returns every bid.
func (r *BidRepository) GetByItemID(ctx context.Context, itemID uuid.UUID, limit int) ([]*bid.Bid, error) {
	query := `
		SELECT id, item_id, user_id, username, amount, source, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC
	`
	args := []any{itemID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}

	return bids, nil
}

// GetHighestBid retrieves the highest bid for an item
func (r *BidRepository) GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT id, item_id, user_id, username, amount, source, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1
	`

	b, err := scanBid(r.conn.GetDB().QueryRowContext(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNoBidsFound
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}

	return b, nil
}

func scanBid(row rowScanner) (*bid.Bid, error) {
	var b bid.Bid
	err := row.Scan(
		&b.ID,
		&b.ItemID,
		&b.UserID,
		&b.Username,
		&b.Amount,
		&b.Source,
		&b.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	b.Timestamp = b.Timestamp.UTC()
	return &b, nil
}
