package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/sealer"
	"github.com/ignite/outreach/internal/service/budget"
)

// MinInvitationsForRate is the sample size below which the acceptance rate
// stays unknown.
const MinInvitationsForRate = 10

// Service implements the sender directory.
type Service struct {
	repo   Repository
	seal   sealer.Sealer
	accept AcceptanceSource
	now    func() time.Time
}

// NewService creates a sender directory. accept may be nil when acceptance
// rates are never refreshed by this process.
func NewService(repo Repository, seal sealer.Sealer, accept AcceptanceSource) *Service {
	return &Service{repo: repo, seal: seal, accept: accept, now: time.Now}
}

// CreateInput describes a new sender seat.
type CreateInput struct {
	WorkspaceID string  `json:"workspace_id"`
	Name        string  `json:"name"`
	Email       *string `json:"email,omitempty"`
	ProfileURL  *string `json:"profile_url,omitempty"`
}

// Create registers a sender in setup. Limits start at the day-0 tier.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Sender, error) {
	if in.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace_id", ErrMissingField)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	if in.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*in.Email))
		in.Email = &e
	}

	now := s.now()
	snd := &domain.Sender{
		ID:            uuid.New().String(),
		WorkspaceID:   in.WorkspaceID,
		Name:          strings.TrimSpace(in.Name),
		Email:         in.Email,
		ProfileURL:    in.ProfileURL,
		Status:        domain.SenderSetup,
		HealthStatus:  domain.HealthHealthy,
		SessionStatus: domain.SessionNotSetup,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	snd.SetLimits(budget.GetWarmupLimits(0))

	if err := s.repo.Create(ctx, snd); err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}
	return snd, nil
}

// Get returns one sender.
func (s *Service) Get(ctx context.Context, id string) (*domain.Sender, error) {
	return s.repo.Get(ctx, id)
}

// ListByWorkspace returns every sender of a workspace.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Sender, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID)
}

// ListActive returns active senders of a workspace, or of every workspace
// when workspaceID is empty.
func (s *Service) ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error) {
	return s.repo.ListActive(ctx, workspaceID)
}

// Claimable reports whether the worker may claim actions for the sender.
func Claimable(snd *domain.Sender) bool {
	return snd != nil && snd.Claimable()
}

// Activate starts a sender's warmup at day 1 with tier-1 limits.
func (s *Service) Activate(ctx context.Context, id string) (*domain.Sender, error) {
	if err := s.repo.Activate(ctx, id, 1, budget.GetWarmupLimits(1)); err != nil {
		return nil, err
	}
	logger.Info("sender activated", "sender_id", id)
	return s.repo.Get(ctx, id)
}

// Pause stops a sender. Block reasons mark its health blocked, which keeps
// it unclaimable until Resume.
func (s *Service) Pause(ctx context.Context, id string, reason domain.PauseReason) error {
	if reason == "" {
		reason = domain.PauseManual
	}
	health := domain.HealthPaused
	switch reason {
	case domain.PauseBlocked, domain.PauseCaptcha, domain.PauseRestricted:
		health = domain.HealthBlocked
	case domain.PauseManual, domain.PauseLowAccept:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	snd, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if snd.Status == domain.SenderDisabled {
		return fmt.Errorf("%w: sender is disabled", ErrInvalidTransition)
	}
	if err := s.repo.SetStatus(ctx, id, domain.SenderPaused, health); err != nil {
		return fmt.Errorf("pause sender: %w", err)
	}
	logger.Warn("sender paused", "sender_id", id, "reason", string(reason), "health", string(health))
	return nil
}

// Resume reactivates a paused sender and clears its health state.
func (s *Service) Resume(ctx context.Context, id string) error {
	snd, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if snd.Status != domain.SenderPaused {
		return fmt.Errorf("%w: sender is %s", ErrInvalidTransition, snd.Status)
	}
	if err := s.repo.SetStatus(ctx, id, domain.SenderActive, domain.HealthHealthy); err != nil {
		return fmt.Errorf("resume sender: %w", err)
	}
	logger.Info("sender resumed", "sender_id", id)
	return nil
}

// Disable retires a sender permanently. Senders are never deleted.
func (s *Service) Disable(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.SetStatus(ctx, id, domain.SenderDisabled, domain.HealthPaused)
}

// MarkSessionExpired records that the saved cookies no longer authenticate.
func (s *Service) MarkSessionExpired(ctx context.Context, id string) error {
	if err := s.repo.MarkSessionExpired(ctx, id); err != nil {
		return err
	}
	logger.Warn("sender session expired", "sender_id", id)
	return nil
}

// SaveSession seals and stores captured cookies.
func (s *Service) SaveSession(ctx context.Context, id string, cookies []domain.Cookie) error {
	if len(cookies) == 0 {
		return fmt.Errorf("%w: cookies", ErrMissingField)
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	sealed, err := s.seal.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	if err := s.repo.SaveSession(ctx, id, sealed); err != nil {
		return err
	}
	logger.Info("sender session saved", "sender_id", id, "cookie_count", len(cookies))
	return nil
}

// Session returns the sender's saved cookies.
func (s *Service) Session(ctx context.Context, id string) ([]domain.Cookie, error) {
	snd, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(snd.Session) == 0 {
		return nil, ErrNoSession
	}
	raw, err := s.seal.Open(snd.Session)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	var cookies []domain.Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	return cookies, nil
}

// SetCredentials seals and stores the login credentials for a sender.
func (s *Service) SetCredentials(ctx context.Context, id string, creds domain.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("%w: email and password", ErrMissingField)
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := s.seal.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	return s.repo.SetCredentials(ctx, id, sealed)
}

// Credentials returns the sender's unsealed login credentials.
func (s *Service) Credentials(ctx context.Context, id string) (*domain.Credentials, error) {
	snd, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(snd.Credentials) == 0 {
		return nil, ErrNoCredentials
	}
	raw, err := s.seal.Open(snd.Credentials)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	var creds domain.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return &creds, nil
}

// RefreshAcceptanceRate recomputes accepted/sent from the connection
// table. With fewer than MinInvitationsForRate invitations the rate is
// stored as unknown.
func (s *Service) RefreshAcceptanceRate(ctx context.Context, id string) (*float64, error) {
	if s.accept == nil {
		return nil, nil
	}
	sent, accepted, err := s.accept.InvitationCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count invitations: %w", err)
	}
	var rate *float64
	if sent >= MinInvitationsForRate {
		r := float64(accepted) / float64(sent)
		rate = &r
	}
	if err := s.repo.SetAcceptanceRate(ctx, id, rate); err != nil {
		return nil, fmt.Errorf("store acceptance rate: %w", err)
	}
	return rate, nil
}
