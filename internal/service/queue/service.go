package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// CrashRecoveryMessage annotates actions reclaimed from a dead worker.
const CrashRecoveryMessage = "Worker crash recovery"

// DefaultStaleAge is how long an action may stay running before it is
// considered abandoned.
const DefaultStaleAge = 30 * time.Minute

// Service implements the action queue. It is safe for concurrent use; all
// coordination between callers happens in the repository's conditional
// updates.
type Service struct {
	repo        Repository
	conns       ConnectionReader
	backoff     Backoff
	maxAttempts int
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBackoff overrides the retry schedule.
func WithBackoff(b Backoff) Option { return func(s *Service) { s.backoff = b } }

// WithMaxAttempts overrides the default attempt budget for new actions.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a queue service. conns may be nil, in which case
// FastTrackConnect never skips on connection state.
func NewService(repo Repository, conns ConnectionReader, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		conns:       conns,
		backoff:     DefaultBackoff,
		maxAttempts: domain.DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnqueueInput describes a new action.
type EnqueueInput struct {
	SenderID     string            `json:"sender_id"`
	PersonID     string            `json:"person_id"`
	WorkspaceID  string            `json:"workspace_id"`
	ActionType   domain.ActionType `json:"action_type"`
	Message      *string           `json:"message,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	MaxAttempts  int               `json:"max_attempts,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Target       domain.Target     `json:"target"`
	CampaignID   *string           `json:"campaign_id,omitempty"`
	SequenceStep *int              `json:"sequence_step,omitempty"`
}

func (in EnqueueInput) validate() error {
	switch {
	case in.SenderID == "":
		return fmt.Errorf("%w: sender_id", ErrMissingField)
	case in.PersonID == "":
		return fmt.Errorf("%w: person_id", ErrMissingField)
	case in.WorkspaceID == "":
		return fmt.Errorf("%w: workspace_id", ErrMissingField)
	case in.ActionType == "":
		return fmt.Errorf("%w: action_type", ErrMissingField)
	case !in.ActionType.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidActionType, in.ActionType)
	}
	return nil
}

// Enqueue validates and stores a new pending action. No duplicate detection
// is performed; callers that need idempotency use FastTrackConnect or check
// ListForPerson first.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*domain.Action, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	a := &domain.Action{
		ID:           uuid.New().String(),
		SenderID:     in.SenderID,
		PersonID:     in.PersonID,
		WorkspaceID:  in.WorkspaceID,
		ActionType:   in.ActionType,
		Message:      in.Message,
		Priority:     in.Priority,
		Status:       domain.ActionPending,
		MaxAttempts:  in.MaxAttempts,
		ScheduledFor: now,
		Target:       in.Target,
		CampaignID:   in.CampaignID,
		SequenceStep: in.SequenceStep,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if a.Priority < domain.PriorityUrgent || a.Priority > domain.PriorityDefault {
		a.Priority = domain.PriorityDefault
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = s.maxAttempts
	}
	if in.ScheduledFor != nil {
		a.ScheduledFor = *in.ScheduledFor
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("enqueue action: %w", err)
	}
	logger.Debug("action enqueued", "action_id", a.ID, "sender_id", a.SenderID,
		"type", string(a.ActionType), "priority", a.Priority)
	return a, nil
}

// Get returns a single action.
func (s *Service) Get(ctx context.Context, id string) (*domain.Action, error) {
	return s.repo.Get(ctx, id)
}

// ListForPerson returns every action queued for a person in a workspace.
func (s *Service) ListForPerson(ctx context.Context, personID, workspaceID string) ([]domain.Action, error) {
	return s.repo.ListForPerson(ctx, personID, workspaceID)
}

// ClaimForSender atomically claims up to limit due actions for a sender.
// An empty types slice means every action type.
func (s *Service) ClaimForSender(ctx context.Context, senderID string, limit int, types []domain.ActionType) ([]domain.Action, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(types) == 0 {
		types = domain.AllActionTypes
	}
	actions, err := s.repo.Claim(ctx, senderID, limit, types, s.now())
	if err != nil {
		return nil, fmt.Errorf("claim actions: %w", err)
	}
	return actions, nil
}

// MarkComplete finalises a running action. Calling it on an action that is
// not running returns ErrInvalidTransition and changes nothing.
func (s *Service) MarkComplete(ctx context.Context, id string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return s.repo.Complete(ctx, id, result, s.now())
}

// MarkFailed records a failed execution. While attempts remain the action
// goes back to pending with a backoff delay; otherwise it fails terminally.
// Returns true when the action was re-queued.
func (s *Service) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if a.Status != domain.ActionRunning {
		return false, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, a.Status)
	}

	if !a.HasAttemptsLeft() {
		if err := s.repo.Fail(ctx, id, domain.ErrorResult(errMsg, false)); err != nil {
			return false, err
		}
		logger.Info("action failed permanently", "action_id", id, "attempts", a.Attempts, "error", errMsg)
		return false, nil
	}

	retryAt := s.now().Add(s.backoff.Delay(a.Attempts))
	if err := s.repo.Retry(ctx, id, retryAt, domain.ErrorResult(errMsg, true)); err != nil {
		return false, err
	}
	logger.Info("action scheduled for retry", "action_id", id, "attempts", a.Attempts,
		"retry_at", retryAt.UTC().Format(time.RFC3339))
	return true, nil
}

// Release hands a claimed action back to the queue without charging the
// attempt, due again at until.
func (s *Service) Release(ctx context.Context, id string, until time.Time) error {
	return s.repo.Release(ctx, id, until)
}

// Cancel stops an action that has not reached a terminal state.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.repo.Cancel(ctx, id)
}

// CancelForPerson cancels every pending or running action for a person,
// for example after they reply. Returns the number cancelled.
func (s *Service) CancelForPerson(ctx context.Context, personID, workspaceID string) (int, error) {
	if personID == "" || workspaceID == "" {
		return 0, fmt.Errorf("%w: person_id and workspace_id", ErrMissingField)
	}
	n, err := s.repo.CancelForPerson(ctx, personID, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("cancel actions for person: %w", err)
	}
	if n > 0 {
		logger.Info("actions cancelled for person", "person_id", personID, "count", n)
	}
	return n, nil
}

// BumpPriority makes a person's pending connect the most urgent work for
// its sender. Returns whether one was found.
func (s *Service) BumpPriority(ctx context.Context, personID, workspaceID string) (bool, error) {
	return s.repo.BumpConnect(ctx, personID, workspaceID, s.now())
}

// FastTrackOutcome reports what FastTrackConnect did.
type FastTrackOutcome string

const (
	FastTrackBumped           FastTrackOutcome = "bumped"
	FastTrackEnqueued         FastTrackOutcome = "enqueued"
	FastTrackAlreadyConnected FastTrackOutcome = "already_connected"
)

// FastTrackConnect ensures an urgent connect exists for the person: an
// existing pending connect is bumped; an existing invitation is left alone;
// otherwise a priority-1 connect is enqueued.
func (s *Service) FastTrackConnect(ctx context.Context, in EnqueueInput) (FastTrackOutcome, error) {
	in.ActionType = domain.ActionConnect
	in.Priority = domain.PriorityUrgent
	if err := in.validate(); err != nil {
		return "", err
	}

	bumped, err := s.BumpPriority(ctx, in.PersonID, in.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("bump connect: %w", err)
	}
	if bumped {
		return FastTrackBumped, nil
	}

	if s.conns != nil {
		status, err := s.conns.ConnectionStatus(ctx, in.SenderID, in.PersonID)
		if err != nil {
			return "", fmt.Errorf("load connection: %w", err)
		}
		if status.Attempted() {
			return FastTrackAlreadyConnected, nil
		}
	}

	if _, err := s.Enqueue(ctx, in); err != nil {
		return "", err
	}
	return FastTrackEnqueued, nil
}

// RecoveryReport summarises one RecoverStuck pass.
type RecoveryReport struct {
	Scanned  int `json:"scanned"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
	Errors   int `json:"errors"`
}

// RecoverStuck returns actions left running longer than staleAge to the
// queue, or fails them when their attempts are exhausted. Each row is
// handled independently; a row that changed state concurrently is skipped.
func (s *Service) RecoverStuck(ctx context.Context, staleAge time.Duration) (RecoveryReport, error) {
	var report RecoveryReport
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}

	now := s.now()
	stale, err := s.repo.ListStale(ctx, now.Add(-staleAge))
	if err != nil {
		return report, fmt.Errorf("list stale actions: %w", err)
	}
	report.Scanned = len(stale)

	for i := range stale {
		a := &stale[i]
		if a.HasAttemptsLeft() {
			err = s.repo.Retry(ctx, a.ID, now, domain.ErrorResult(CrashRecoveryMessage, false))
			if err == nil {
				report.Requeued++
			}
		} else {
			err = s.repo.Fail(ctx, a.ID, domain.ErrorResult(CrashRecoveryMessage, false))
			if err == nil {
				report.Failed++
			}
		}
		if err != nil && !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotFound) {
			report.Errors++
			logger.Warn("stale action recovery failed", "action_id", a.ID, "error", err)
		}
	}
	return report, nil
}
