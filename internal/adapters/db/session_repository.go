package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coralcrave-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// SessionRepository implements the live session repository interface
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// Create creates a new live session
func (r *SessionRepository) Create(ctx context.Context, session *shared.Session) error {
	query := `
		INSERT INTO live_sessions (id, host_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.conn.GetDB().ExecContext(ctx, query,
		session.ID,
		session.HostID,
		session.Title,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a live session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*shared.Session, error) {
	query := `
		SELECT id, host_id, title, status, created_at, updated_at
		FROM live_sessions
		WHERE id = $1
	`

	var session shared.Session
	err := r.conn.GetDB().QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.HostID,
		&session.Title,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// UpdateStatus sets the broadcast status of a session
func (r *SessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status shared.SessionStatus) error {
	query := `
		UPDATE live_sessions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}
