package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
	"github.com/lib/pq"
)

// UsageRepo stores per-sender daily counters in daily_usage.
type UsageRepo struct{ db *sql.DB }

// NewUsageRepo creates a Postgres-backed usage repository.
func NewUsageRepo(db *sql.DB) *UsageRepo { return &UsageRepo{db: db} }

// GetOrCreate upserts a zero row so concurrent first checks of the day
// agree on one row.
func (r *UsageRepo) GetOrCreate(ctx context.Context, senderID, day string) (*domain.DailyUsage, error) {
	u := &domain.DailyUsage{}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO daily_usage (sender_id, usage_date)
		VALUES ($1, $2)
		ON CONFLICT (sender_id, usage_date) DO UPDATE SET sender_id = EXCLUDED.sender_id
		RETURNING sender_id, usage_date::text, connections_sent, messages_sent, profile_views
	`, senderID, day).Scan(&u.SenderID, &u.UsageDate, &u.ConnectionsSent, &u.MessagesSent, &u.ProfileViews)
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// Increment adds one to a counter in a single statement, creating the row
// when it is the first action of the day.
func (r *UsageRepo) Increment(ctx context.Context, senderID, day string, col domain.UsageColumn) error {
	switch col {
	case domain.UsageConnections, domain.UsageMessages, domain.UsageProfileViews:
	default:
		return fmt.Errorf("increment usage: unknown column %q", col)
	}
	query := fmt.Sprintf(`
		INSERT INTO daily_usage (sender_id, usage_date, %[1]s)
		VALUES ($1, $2, 1)
		ON CONFLICT (sender_id, usage_date)
		DO UPDATE SET %[1]s = daily_usage.%[1]s + 1, updated_at = NOW()
	`, col)
	if _, err := r.db.ExecContext(ctx, query, senderID, day); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// UsageForSenders returns the day's rows for the given senders, keyed by
// sender id. Senders with no row yet are absent.
func (r *UsageRepo) UsageForSenders(ctx context.Context, senderIDs []string, day string) (map[string]domain.DailyUsage, error) {
	out := make(map[string]domain.DailyUsage, len(senderIDs))
	if len(senderIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT sender_id, usage_date::text, connections_sent, messages_sent, profile_views
		FROM daily_usage
		WHERE usage_date = $1 AND sender_id = ANY($2)
	`, day, pq.Array(senderIDs))
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.DailyUsage
		if err := rows.Scan(&u.SenderID, &u.UsageDate, &u.ConnectionsSent, &u.MessagesSent, &u.ProfileViews); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out[u.SenderID] = u
	}
	return out, rows.Err()
}
