package sender

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access contract for senders. Lists are
// ordered by created_at ascending.
type Repository interface {
	Create(ctx context.Context, s *domain.Sender) error
	Get(ctx context.Context, id string) (*domain.Sender, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Sender, error)

	// ListActive returns active senders; an empty workspaceID means all
	// workspaces.
	ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error)

	// Activate moves a sender out of setup with the given warmup day and
	// limits. Returns ErrInvalidTransition when it is not in setup.
	Activate(ctx context.Context, id string, day int, limits domain.Limits) error

	SetStatus(ctx context.Context, id string, status domain.SenderStatus, health domain.HealthStatus) error
	UpdateWarmup(ctx context.Context, id string, day int, limits domain.Limits) (bool, error)

	// SaveSession stores the sealed cookie blob, marks the session active
	// and clears a session_expired health state.
	SaveSession(ctx context.Context, id string, sealed []byte) error
	MarkSessionExpired(ctx context.Context, id string) error
	SetCredentials(ctx context.Context, id string, sealed []byte) error
	SetAcceptanceRate(ctx context.Context, id string, rate *float64) error
}

// AcceptanceSource counts invitations for the acceptance-rate refresh.
type AcceptanceSource interface {
	// InvitationCounts returns how many invitations the sender has sent
	// (pending, accepted or withdrawn) and how many were accepted.
	InvitationCounts(ctx context.Context, senderID string) (sent, accepted int, err error)
}
