package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/budget"
)

// Queue is the part of the action queue dispatch drives.
type Queue interface {
	Get(ctx context.Context, id string) (*domain.Action, error)
	ClaimForSender(ctx context.Context, senderID string, limit int, types []domain.ActionType) ([]domain.Action, error)
	Release(ctx context.Context, id string, until time.Time) error
	MarkComplete(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id, errMsg string) (bool, error)
}

// Budget is the part of the budget engine dispatch drives.
type Budget interface {
	Usage(ctx context.Context, senderID string) (*budget.UsageReport, error)
	ConsumeBudget(ctx context.Context, senderID string, t domain.ActionType) error
}

// SenderReader loads senders.
type SenderReader interface {
	Get(ctx context.Context, id string) (*domain.Sender, error)
}

// ConnectionWriter records invitation state.
type ConnectionWriter interface {
	Upsert(ctx context.Context, c *domain.Connection) error
}

// MaxBatch caps how many actions one worker request may claim.
const MaxBatch = 25

// Service coordinates claims and completions.
type Service struct {
	queue   Queue
	budget  Budget
	senders SenderReader
	conns   ConnectionWriter
	now     func() time.Time
}

// NewService creates a dispatch service.
func NewService(q Queue, b Budget, senders SenderReader, conns ConnectionWriter) *Service {
	return &Service{queue: q, budget: b, senders: senders, conns: conns, now: time.Now}
}

// Next claims and admits up to limit actions for a sender. The result is
// empty, not an error, when the sender is not claimable.
func (s *Service) Next(ctx context.Context, senderID string, limit int) ([]domain.Action, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > MaxBatch {
		limit = MaxBatch
	}

	snd, err := s.senders.Get(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if !snd.Claimable() {
		return nil, nil
	}

	report, err := s.budget.Usage(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	tally := report.Usage

	// Claim only types an urgent action could still use today; anything
	// else would be claimed just to be released again.
	var types []domain.ActionType
	for _, t := range domain.AllActionTypes {
		d, err := budget.Evaluate(snd, tally, t, domain.PriorityUrgent)
		if err != nil {
			return nil, err
		}
		if d.Allowed {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return nil, nil
	}

	claimed, err := s.queue.ClaimForSender(ctx, senderID, limit, types)
	if err != nil {
		return nil, err
	}

	admitted := make([]domain.Action, 0, len(claimed))
	releaseAt := domain.NextUsageDay(s.now())
	for _, a := range claimed {
		d, err := budget.Evaluate(snd, tally, a.ActionType, a.Priority)
		if err == nil && d.Allowed {
			admitted = append(admitted, a)
			addUsage(&tally, a.ActionType)
			continue
		}
		if rerr := s.queue.Release(ctx, a.ID, releaseAt); rerr != nil {
			// The worker will not see this batch, so nothing claimed may
			// stay running behind its back.
			s.giveBack(ctx, admitted)
			return nil, fmt.Errorf("release over-budget action %s: %w", a.ID, rerr)
		}
		logger.Info("action deferred to next usage day", "action_id", a.ID, "sender_id", senderID,
			"type", string(a.ActionType), "reason", d.Reason)
	}
	return admitted, nil
}

// giveBack releases already admitted actions after a failed claim round.
// They are due again immediately.
func (s *Service) giveBack(ctx context.Context, actions []domain.Action) {
	now := s.now()
	for _, a := range actions {
		if err := s.queue.Release(ctx, a.ID, now); err != nil {
			logger.Warn("give back claimed action failed", "action_id", a.ID, "error", err)
		}
	}
}

func addUsage(u *domain.DailyUsage, t domain.ActionType) {
	col, _ := domain.UsageColumnFor(t)
	switch col {
	case domain.UsageConnections:
		u.ConnectionsSent++
	case domain.UsageMessages:
		u.MessagesSent++
	case domain.UsageProfileViews:
		u.ProfileViews++
	}
}

// Driver result fields read on completion.
type completionResult struct {
	Status           string                  `json:"status,omitempty"`
	ConnectionStatus domain.ConnectionStatus `json:"connectionStatus,omitempty"`
}

// ConnectAlreadyConnected is the connect driver's status when the person
// was already a connection.
const ConnectAlreadyConnected = "already_connected"

// Complete finalises an action, charges its budget and records connection
// state. Budget and connection bookkeeping failures are logged; the
// completion itself stands.
func (s *Service) Complete(ctx context.Context, actionID string, result json.RawMessage) (*domain.Action, error) {
	a, err := s.queue.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.MarkComplete(ctx, actionID, result); err != nil {
		return nil, err
	}

	if err := s.budget.ConsumeBudget(ctx, a.SenderID, a.ActionType); err != nil {
		logger.Error("consume budget failed", "action_id", actionID, "sender_id", a.SenderID, "error", err)
	}

	if c := s.connectionUpdate(a, result); c != nil {
		if err := s.conns.Upsert(ctx, c); err != nil {
			logger.Error("connection update failed", "action_id", actionID, "person_id", a.PersonID, "error", err)
		}
	}
	return a, nil
}

func (s *Service) connectionUpdate(a *domain.Action, raw json.RawMessage) *domain.Connection {
	var res completionResult
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &res)
	}

	now := s.now()
	c := &domain.Connection{
		SenderID:    a.SenderID,
		PersonID:    a.PersonID,
		WorkspaceID: a.WorkspaceID,
		UpdatedAt:   now,
	}
	switch a.ActionType {
	case domain.ActionConnect:
		c.Status = domain.ConnectionPending
		c.RequestedAt = &now
		if res.Status == ConnectAlreadyConnected {
			c.Status = domain.ConnectionAccepted
			c.AcceptedAt = &now
		}
	case domain.ActionCheckConnection:
		if !res.ConnectionStatus.Valid() {
			return nil
		}
		c.Status = res.ConnectionStatus
		if c.Status == domain.ConnectionAccepted {
			c.AcceptedAt = &now
		}
	default:
		return nil
	}
	return c
}

// Fail records a failed execution; see queue.Service.MarkFailed.
func (s *Service) Fail(ctx context.Context, actionID, msg string) (bool, error) {
	if msg == "" {
		msg = "unknown error"
	}
	return s.queue.MarkFailed(ctx, actionID, msg)
}

// Release returns a claimed action the worker did not execute to the
// queue, due now. The attempt charged at claim is given back, so session
// loss, shutdown or a closing business-hours window never count against
// the action's retry budget.
func (s *Service) Release(ctx context.Context, actionID, reason string) error {
	if err := s.queue.Release(ctx, actionID, s.now()); err != nil {
		return err
	}
	logger.Info("action released by worker", "action_id", actionID, "reason", reason)
	return nil
}
