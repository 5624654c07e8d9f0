package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sender"
)

// SenderRepo implements sender.Repository against PostgreSQL.
type SenderRepo struct{ db *sql.DB }

// NewSenderRepo creates a Postgres-backed sender repository.
func NewSenderRepo(db *sql.DB) *SenderRepo { return &SenderRepo{db: db} }

const senderColumns = `id, workspace_id, name, email, profile_url, status, health_status,
	session_status, warmup_day, acceptance_rate, daily_connection_limit,
	daily_message_limit, daily_view_limit, credentials, session, created_at, updated_at`

func scanSender(row rowScanner) (*domain.Sender, error) {
	var s domain.Sender
	err := row.Scan(
		&s.ID, &s.WorkspaceID, &s.Name, &s.Email, &s.ProfileURL, &s.Status, &s.HealthStatus,
		&s.SessionStatus, &s.WarmupDay, &s.AcceptanceRate, &s.DailyConnectionLimit,
		&s.DailyMessageLimit, &s.DailyViewLimit, &s.Credentials, &s.Session, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SenderRepo) list(ctx context.Context, op, query string, args ...interface{}) ([]domain.Sender, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Sender
	for rows.Next() {
		s, err := scanSender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sender: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SenderRepo) Create(ctx context.Context, s *domain.Sender) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO senders
			(id, workspace_id, name, email, profile_url, status, health_status, session_status,
			 warmup_day, daily_connection_limit, daily_message_limit, daily_view_limit,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`, s.ID, s.WorkspaceID, s.Name, s.Email, s.ProfileURL, s.Status, s.HealthStatus, s.SessionStatus,
		s.WarmupDay, s.DailyConnectionLimit, s.DailyMessageLimit, s.DailyViewLimit)
	if err != nil {
		return fmt.Errorf("create sender: %w", err)
	}
	return nil
}

func (r *SenderRepo) Get(ctx context.Context, id string) (*domain.Sender, error) {
	s, err := scanSender(r.db.QueryRowContext(ctx,
		`SELECT `+senderColumns+` FROM senders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, sender.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	return s, nil
}

func (r *SenderRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Sender, error) {
	return r.list(ctx, "list senders", `
		SELECT `+senderColumns+`
		FROM senders
		WHERE workspace_id = $1
		ORDER BY created_at ASC, id ASC
	`, workspaceID)
}

func (r *SenderRepo) ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error) {
	if workspaceID == "" {
		return r.list(ctx, "list active senders", `
			SELECT `+senderColumns+`
			FROM senders
			WHERE status = 'active'
			ORDER BY created_at ASC, id ASC
		`)
	}
	return r.list(ctx, "list active senders", `
		SELECT `+senderColumns+`
		FROM senders
		WHERE workspace_id = $1 AND status = 'active'
		ORDER BY created_at ASC, id ASC
	`, workspaceID)
}

func (r *SenderRepo) exec(ctx context.Context, op, id, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sender.ErrNotFound
	}
	return nil
}

func (r *SenderRepo) Activate(ctx context.Context, id string, day int, limits domain.Limits) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE senders
		SET status = 'active', health_status = 'healthy', warmup_day = $2,
		    daily_connection_limit = $3, daily_message_limit = $4, daily_view_limit = $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'setup'
	`, id, day, limits.Connections, limits.Messages, limits.ProfileViews)
	if err != nil {
		return fmt.Errorf("activate sender: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return sender.ErrInvalidTransition
	}
	return nil
}

func (r *SenderRepo) SetStatus(ctx context.Context, id string, status domain.SenderStatus, health domain.HealthStatus) error {
	return r.exec(ctx, "set sender status", id, `
		UPDATE senders SET status = $2, health_status = $3, updated_at = NOW() WHERE id = $1
	`, id, status, health)
}

// UpdateWarmup only applies to active senders so warmup never advances
// while a sender is paused.
func (r *SenderRepo) UpdateWarmup(ctx context.Context, id string, day int, limits domain.Limits) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE senders
		SET warmup_day = $2, daily_connection_limit = $3, daily_message_limit = $4,
		    daily_view_limit = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND warmup_day < $2
	`, id, day, limits.Connections, limits.Messages, limits.ProfileViews)
	if err != nil {
		return false, fmt.Errorf("update warmup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SenderRepo) SaveSession(ctx context.Context, id string, sealed []byte) error {
	return r.exec(ctx, "save session", id, `
		UPDATE senders
		SET session = $2, session_status = 'active',
		    health_status = CASE WHEN health_status = 'session_expired' THEN 'healthy' ELSE health_status END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, sealed)
}

func (r *SenderRepo) MarkSessionExpired(ctx context.Context, id string) error {
	return r.exec(ctx, "mark session expired", id, `
		UPDATE senders
		SET session_status = 'expired', health_status = 'session_expired', updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *SenderRepo) SetCredentials(ctx context.Context, id string, sealed []byte) error {
	return r.exec(ctx, "set credentials", id, `
		UPDATE senders SET credentials = $2, updated_at = NOW() WHERE id = $1
	`, id, sealed)
}

func (r *SenderRepo) SetAcceptanceRate(ctx context.Context, id string, rate *float64) error {
	return r.exec(ctx, "set acceptance rate", id, `
		UPDATE senders SET acceptance_rate = $2, updated_at = NOW() WHERE id = $1
	`, id, rate)
}
