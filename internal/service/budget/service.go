package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Reason    string `json:"reason,omitempty"`
}

func deny(reason string) Decision { return Decision{Reason: reason} }

// Service checks and consumes daily budgets and advances warmup.
type Service struct {
	senders SenderStore
	usage   UsageStore
	minRate float64
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMinAcceptanceRate overrides the warmup gate.
func WithMinAcceptanceRate(r float64) Option {
	return func(s *Service) {
		if r > 0 {
			s.minRate = r
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a budget service.
func NewService(senders SenderStore, usage UsageStore, opts ...Option) *Service {
	s := &Service{senders: senders, usage: usage, minRate: MinAcceptanceRate, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CheckBudget reports whether the sender may perform one more action of the
// given type today at the given priority. Business refusals are returned as
// a Decision with Allowed=false; only store failures return an error.
func (s *Service) CheckBudget(ctx context.Context, senderID string, t domain.ActionType, priority int) (Decision, error) {
	snd, err := s.senders.Get(ctx, senderID)
	if errors.Is(err, domain.ErrSenderNotFound) {
		return deny("Sender not found"), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load sender: %w", err)
	}
	if reason := senderRefusal(snd); reason != "" {
		return deny(reason), nil
	}

	usage, err := s.usage.GetOrCreate(ctx, senderID, domain.UsageDay(s.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("load usage: %w", err)
	}
	return Evaluate(snd, *usage, t, priority)
}

// Evaluate applies the admission rules to a sender and a usage snapshot.
// Dispatch calls it directly with an in-batch tally added to usage.
func Evaluate(snd *domain.Sender, usage domain.DailyUsage, t domain.ActionType, priority int) (Decision, error) {
	if reason := senderRefusal(snd); reason != "" {
		return deny(reason), nil
	}

	col, ok := domain.UsageColumnFor(t)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}

	used := usage.Used(col)
	limit := effectiveLimit(t, snd.Limits().Limit(col), priority)
	d := Decision{
		Allowed: used < limit,
		Limit:   limit,
		Used:    used,
	}
	if limit > used {
		d.Remaining = limit - used
	}
	if !d.Allowed {
		d.Reason = fmt.Sprintf("Daily %s limit reached (%d/%d)", col, used, limit)
	}
	return d, nil
}

func senderRefusal(snd *domain.Sender) string {
	if snd.Status != domain.SenderActive {
		return snd.InactiveReason()
	}
	if snd.HealthStatus != domain.HealthHealthy {
		return "Sender health is " + string(snd.HealthStatus)
	}
	return ""
}

// ConsumeBudget records one executed action against today's usage.
func (s *Service) ConsumeBudget(ctx context.Context, senderID string, t domain.ActionType) error {
	col, ok := domain.UsageColumnFor(t)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}
	if err := s.usage.Increment(ctx, senderID, domain.UsageDay(s.now()), col); err != nil {
		return fmt.Errorf("consume budget: %w", err)
	}
	return nil
}

// UsageReport is today's consumption next to the sender's limits.
type UsageReport struct {
	Usage  domain.DailyUsage `json:"usage"`
	Limits domain.Limits     `json:"limits"`
}

// Usage returns today's counters and the sender's limits.
func (s *Service) Usage(ctx context.Context, senderID string) (*UsageReport, error) {
	snd, err := s.senders.Get(ctx, senderID)
	if err != nil {
		return nil, err
	}
	usage, err := s.usage.GetOrCreate(ctx, senderID, domain.UsageDay(s.now()))
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	return &UsageReport{Usage: *usage, Limits: snd.Limits()}, nil
}

// ProgressWarmup advances an active sender one warmup day and rewrites its
// limits. It does nothing when warmup has not started or the sender's
// acceptance rate is below the gate. An unknown rate does not block.
// Returns whether the sender advanced.
func (s *Service) ProgressWarmup(ctx context.Context, senderID string) (bool, error) {
	snd, err := s.senders.Get(ctx, senderID)
	if err != nil {
		return false, err
	}
	if snd.WarmupDay == 0 || snd.Status != domain.SenderActive {
		return false, nil
	}
	if snd.AcceptanceRate != nil && *snd.AcceptanceRate < s.minRate {
		logger.Info("warmup held back", "sender_id", senderID, "warmup_day", snd.WarmupDay,
			"acceptance_rate", *snd.AcceptanceRate)
		return false, nil
	}

	day := snd.WarmupDay + 1
	limits := GetWarmupLimits(day)
	ok, err := s.senders.UpdateWarmup(ctx, senderID, day, limits)
	if err != nil {
		return false, fmt.Errorf("progress warmup: %w", err)
	}
	if ok {
		logger.Info("warmup progressed", "sender_id", senderID, "warmup_day", day,
			"connections", limits.Connections, "messages", limits.Messages, "profile_views", limits.ProfileViews)
	}
	return ok, nil
}
