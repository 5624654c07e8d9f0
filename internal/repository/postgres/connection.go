package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
)

// ConnectionRepo stores invitation state per (sender, person).
type ConnectionRepo struct{ db *sql.DB }

// NewConnectionRepo creates a Postgres-backed connection repository.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

// Upsert writes the latest status. The first request and acceptance times
// are kept once set.
func (r *ConnectionRepo) Upsert(ctx context.Context, c *domain.Connection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (sender_id, person_id, workspace_id, status, requested_at, accepted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (sender_id, person_id) DO UPDATE SET
			status = EXCLUDED.status,
			requested_at = COALESCE(connections.requested_at, EXCLUDED.requested_at),
			accepted_at = COALESCE(connections.accepted_at, EXCLUDED.accepted_at),
			updated_at = NOW()
	`, c.SenderID, c.PersonID, c.WorkspaceID, c.Status, c.RequestedAt, c.AcceptedAt)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// ConnectionStatus returns none when no row exists.
func (r *ConnectionRepo) ConnectionStatus(ctx context.Context, senderID, personID string) (domain.ConnectionStatus, error) {
	var status domain.ConnectionStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM connections WHERE sender_id = $1 AND person_id = $2`,
		senderID, personID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ConnectionNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("get connection: %w", err)
	}
	return status, nil
}

// InvitationCounts feeds the acceptance-rate refresh.
func (r *ConnectionRepo) InvitationCounts(ctx context.Context, senderID string) (int, int, error) {
	var sent, accepted int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status IN ('pending', 'accepted', 'withdrawn')),
		       COUNT(*) FILTER (WHERE status = 'accepted')
		FROM connections
		WHERE sender_id = $1
	`, senderID).Scan(&sent, &accepted)
	if err != nil {
		return 0, 0, fmt.Errorf("count invitations: %w", err)
	}
	return sent, accepted, nil
}
