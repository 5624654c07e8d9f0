package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access contract for queued actions.
//
// Every status-changing method is conditional on the current status and
// returns ErrInvalidTransition when the row exists but is not in a state
// that allows the change, or ErrNotFound when it does not exist.
type Repository interface {
	Create(ctx context.Context, a *domain.Action) error
	Get(ctx context.Context, id string) (*domain.Action, error)
	ListForPerson(ctx context.Context, personID, workspaceID string) ([]domain.Action, error)

	// Claim moves up to limit due pending actions of the given types to
	// running, incrementing attempts. Rows locked by a concurrent claim are
	// skipped. Results are ordered by priority, then scheduled_for.
	Claim(ctx context.Context, senderID string, limit int, types []domain.ActionType, now time.Time) ([]domain.Action, error)

	// Complete marks a running action complete.
	Complete(ctx context.Context, id string, result json.RawMessage, at time.Time) error

	// Retry moves a running action back to pending, due at the given time.
	Retry(ctx context.Context, id string, at time.Time, result json.RawMessage) error

	// Fail marks a running action terminally failed.
	Fail(ctx context.Context, id string, result json.RawMessage) error

	// Release returns a running action to pending without spending an
	// attempt.
	Release(ctx context.Context, id string, until time.Time) error

	Cancel(ctx context.Context, id string) error
	CancelForPerson(ctx context.Context, personID, workspaceID string) (int, error)

	// BumpConnect raises a pending connect for the person to priority 1 and
	// makes it due now. Returns false when there is none.
	BumpConnect(ctx context.Context, personID, workspaceID string, now time.Time) (bool, error)

	// ListStale returns running actions claimed before the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]domain.Action, error)
}

// ConnectionReader reports the invitation state between a sender and a
// person. Used by FastTrackConnect to avoid re-inviting.
type ConnectionReader interface {
	ConnectionStatus(ctx context.Context, senderID, personID string) (domain.ConnectionStatus, error)
}
