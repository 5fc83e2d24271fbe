package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

const itemColumns = `
	id, live_id, title, starting_price, current_price, status, mode, end_at,
	leading_bidder_id, leading_bidder_name, winner_id, increment_scheme_id,
	extensions, last_bid_at, version, created_at, updated_at
`

// ItemRepository implements the item repository interface
type ItemRepository struct {
	conn *Connection
}

// NewItemRepository creates a new item repository
func NewItemRepository(conn *Connection) *ItemRepository {
	return &ItemRepository{conn: conn}
}

// Create creates a new item at version 0
func (r *ItemRepository) Create(ctx context.Context, item *auction.Item) error {
	query := `
		INSERT INTO auction_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, $15, $16)
	`

	_, err := r.conn.GetDB().ExecContext(ctx, query,
		item.ID,
		item.LiveID,
		item.Title,
		item.StartingPrice,
		item.CurrentPrice,
		item.Status,
		item.Mode,
		nullTime(item.EndAt),
		nullUUID(item.LeadingBidderID),
		item.LeadingBidderName,
		nullUUID(item.WinnerID),
		item.IncrementSchemeID,
		item.Extensions,
		nullTime(item.LastBidAt),
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}

	item.Version = 0
	return nil
}

// GetByID retrieves an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = $1`

	item, err := scanItem(r.conn.GetDB().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// ListByLive retrieves the items of a live session in creation order
func (r *ItemRepository) ListByLive(ctx context.Context, liveID uuid.UUID) ([]*auction.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE live_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, liveID)
}

// ListRunning retrieves every item currently accepting bids
func (r *ItemRepository) ListRunning(ctx context.Context) ([]*auction.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE status = $1 ORDER BY end_at ASC`
	return r.list(ctx, query, auction.StatusRunning)
}

// CommitItem overwrites the item and inserts newBids in one transaction,
// guarded by a compare-and-swap on the version column.
func (r *ItemRepository) CommitItem(ctx context.Context, item *auction.Item, expectedVersion int64, newBids []*bid.Bid) error {
	return r.conn.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE auction_items
			SET current_price = $3, status = $4, end_at = $5, leading_bidder_id = $6,
				leading_bidder_name = $7, winner_id = $8, extensions = $9,
				last_bid_at = $10, updated_at = $11, version = version + 1
			WHERE id = $1 AND version = $2
		`

		result, err := tx.ExecContext(ctx, query,
			item.ID,
			expectedVersion,
			item.CurrentPrice,
			item.Status,
			nullTime(item.EndAt),
			nullUUID(item.LeadingBidderID),
			item.LeadingBidderName,
			nullUUID(item.WinnerID),
			item.Extensions,
			nullTime(item.LastBidAt),
			item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return r.conflictOrMissing(ctx, tx, item.ID, expectedVersion)
		}

		for _, b := range newBids {
			if err := insertBid(ctx, tx, b); err != nil {
				return err
			}
		}

		item.Version = expectedVersion + 1
		return nil
	})
}

func (r *ItemRepository) conflictOrMissing(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int64) error {
	var stored int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM auction_items WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read item version: %w", err)
	}
	return fmt.Errorf("commit item %s at version %d (stored %d): %w", id, expectedVersion, stored, shared.ErrVersionConflict)
}

func (r *ItemRepository) list(ctx context.Context, query string, arg any) ([]*auction.Item, error) {
	rows, err := r.conn.GetDB().QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*auction.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

func insertBid(ctx context.Context, tx *sql.Tx, b *bid.Bid) error {
	query := `
		INSERT INTO bids (id, item_id, user_id, username, amount, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.ExecContext(ctx, query,
		b.ID,
		b.ItemID,
		b.UserID,
		b.Username,
		b.Amount,
		b.Source,
		b.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*auction.Item, error) {
	var (
		item                    auction.Item
		endAt, lastBidAt        sql.NullTime
		leadingBidder, winnerID uuid.NullUUID
	)

	err := row.Scan(
		&item.ID,
		&item.LiveID,
		&item.Title,
		&item.StartingPrice,
		&item.CurrentPrice,
		&item.Status,
		&item.Mode,
		&endAt,
		&leadingBidder,
		&item.LeadingBidderName,
		&winnerID,
		&item.IncrementSchemeID,
		&item.Extensions,
		&lastBidAt,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.EndAt = timePtr(endAt)
	item.LastBidAt = timePtr(lastBidAt)
	item.LeadingBidderID = uuidPtr(leadingBidder)
	item.WinnerID = uuidPtr(winnerID)
	return &item, nil
}
