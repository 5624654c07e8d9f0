package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/lib/pq"
)

// ActionRepo implements queue.Repository against PostgreSQL.
type ActionRepo struct{ db *sql.DB }

// NewActionRepo creates a Postgres-backed action repository.
func NewActionRepo(db *sql.DB) *ActionRepo { return &ActionRepo{db: db} }

const actionColumns = `id, sender_id, person_id, workspace_id, action_type, message,
	priority, status, attempts, max_attempts, scheduled_for, next_retry_at,
	claimed_at, completed_at, COALESCE(result::text, ''), target::text,
	campaign_id, sequence_step, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*domain.Action, error) {
	var (
		a      domain.Action
		result string
		target string
	)
	err := row.Scan(
		&a.ID, &a.SenderID, &a.PersonID, &a.WorkspaceID, &a.ActionType, &a.Message,
		&a.Priority, &a.Status, &a.Attempts, &a.MaxAttempts, &a.ScheduledFor, &a.NextRetryAt,
		&a.ClaimedAt, &a.CompletedAt, &result, &target,
		&a.CampaignID, &a.SequenceStep, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if result != "" {
		a.Result = json.RawMessage(result)
	}
	if target != "" {
		if err := json.Unmarshal([]byte(target), &a.Target); err != nil {
			return nil, fmt.Errorf("decode action target: %w", err)
		}
	}
	return &a, nil
}

func scanActions(rows *sql.Rows) ([]domain.Action, error) {
	defer rows.Close()
	var out []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *ActionRepo) Create(ctx context.Context, a *domain.Action) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	target, err := json.Marshal(a.Target)
	if err != nil {
		return fmt.Errorf("encode action target: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO actions
			(id, sender_id, person_id, workspace_id, action_type, message, priority,
			 status, attempts, max_attempts, scheduled_for, target, campaign_id,
			 sequence_step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13, NOW(), NOW())
	`, a.ID, a.SenderID, a.PersonID, a.WorkspaceID, a.ActionType, a.Message, a.Priority,
		a.Status, a.MaxAttempts, a.ScheduledFor, string(target), a.CampaignID, a.SequenceStep)
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

func (r *ActionRepo) Get(ctx context.Context, id string) (*domain.Action, error) {
	a, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (r *ActionRepo) ListForPerson(ctx context.Context, personID, workspaceID string) ([]domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE person_id = $1 AND workspace_id = $2
		ORDER BY created_at ASC
	`, personID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list actions for person: %w", err)
	}
	return scanActions(rows)
}

// Claim uses FOR UPDATE SKIP LOCKED so concurrent workers for the same
// sender never receive the same row.
func (r *ActionRepo) Claim(ctx context.Context, senderID string, limit int, types []domain.ActionType, now time.Time) ([]domain.Action, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM actions
			WHERE sender_id = $1
			  AND status = 'pending'
			  AND scheduled_for <= $2
			  AND action_type = ANY($3)
			ORDER BY priority ASC, scheduled_for ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE actions a
		SET status = 'running',
		    attempts = a.attempts + 1,
		    claimed_at = $2,
		    updated_at = $2
		FROM claimed c
		WHERE a.id = c.id
		RETURNING a.id, a.sender_id, a.person_id, a.workspace_id, a.action_type, a.message,
		          a.priority, a.status, a.attempts, a.max_attempts, a.scheduled_for, a.next_retry_at,
		          a.claimed_at, a.completed_at, COALESCE(a.result::text, ''), a.target::text,
		          a.campaign_id, a.sequence_step, a.created_at, a.updated_at
	`, senderID, now, pq.Array(typeNames), limit)
	if err != nil {
		return nil, fmt.Errorf("claim actions: %w", err)
	}
	out, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the CTE order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out, nil
}

// missed explains a conditional update that touched no row.
func (r *ActionRepo) missed(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM actions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check action: %w", err)
	}
	if !exists {
		return queue.ErrNotFound
	}
	return queue.ErrInvalidTransition
}

func (r *ActionRepo) execTransition(ctx context.Context, op, id, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missed(ctx, id)
	}
	return nil
}

func (r *ActionRepo) Complete(ctx context.Context, id string, result json.RawMessage, at time.Time) error {
	return r.execTransition(ctx, "complete action", id, `
		UPDATE actions
		SET status = 'complete', completed_at = $2, result = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, at, string(result))
}

func (r *ActionRepo) Retry(ctx context.Context, id string, at time.Time, result json.RawMessage) error {
	return r.execTransition(ctx, "retry action", id, `
		UPDATE actions
		SET status = 'pending', scheduled_for = $2, next_retry_at = $2,
		    claimed_at = NULL, result = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, at, string(result))
}

func (r *ActionRepo) Fail(ctx context.Context, id string, result json.RawMessage) error {
	return r.execTransition(ctx, "fail action", id, `
		UPDATE actions
		SET status = 'failed', completed_at = NOW(), result = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, string(result))
}

func (r *ActionRepo) Release(ctx context.Context, id string, until time.Time) error {
	return r.execTransition(ctx, "release action", id, `
		UPDATE actions
		SET status = 'pending', attempts = GREATEST(attempts - 1, 0),
		    scheduled_for = $2, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, until)
}

func (r *ActionRepo) Cancel(ctx context.Context, id string) error {
	return r.execTransition(ctx, "cancel action", id, `
		UPDATE actions
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id)
}

func (r *ActionRepo) CancelForPerson(ctx context.Context, personID, workspaceID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE actions
		SET status = 'cancelled', updated_at = NOW()
		WHERE person_id = $1 AND workspace_id = $2 AND status IN ('pending', 'running')
	`, personID, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("cancel actions for person: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ActionRepo) BumpConnect(ctx context.Context, personID, workspaceID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE actions
		SET priority = 1, scheduled_for = $3, updated_at = NOW()
		WHERE person_id = $1 AND workspace_id = $2
		  AND action_type = 'connect' AND status = 'pending'
	`, personID, workspaceID, now)
	if err != nil {
		return false, fmt.Errorf("bump connect: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *ActionRepo) ListStale(ctx context.Context, cutoff time.Time) ([]domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE status = 'running' AND claimed_at < $1
		ORDER BY claimed_at ASC
		LIMIT 500
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale actions: %w", err)
	}
	return scanActions(rows)
}
