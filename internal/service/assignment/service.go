package assignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Mode selects the assignment strategy.
type Mode string

const (
	ModeEmailLinkedIn Mode = "email_linkedin"
	ModeLinkedInOnly  Mode = "linkedin_only"
)

// Request is the assignment input for one person.
type Request struct {
	EmailSenderAddress string `json:"email_sender_address,omitempty"`
	Mode               Mode   `json:"mode"`
}

// SenderLister returns a workspace's active senders in created_at order.
type SenderLister interface {
	ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error)
}

// UsageReader returns today's usage rows for a set of senders. Senders
// without a row are simply absent from the map.
type UsageReader interface {
	UsageForSenders(ctx context.Context, senderIDs []string, day string) (map[string]domain.DailyUsage, error)
}

// Service assigns senders to people.
type Service struct {
	senders SenderLister
	usage   UsageReader
	now     func() time.Time
}

// NewService creates an assignment service.
func NewService(senders SenderLister, usage UsageReader) *Service {
	return &Service{senders: senders, usage: usage, now: time.Now}
}

// AssignSenderForPerson returns the sender to use, or nil when no active
// sender qualifies.
func (s *Service) AssignSenderForPerson(ctx context.Context, workspaceID string, req Request) (*domain.Sender, error) {
	switch req.Mode {
	case ModeEmailLinkedIn:
		return s.byEmail(ctx, workspaceID, req.EmailSenderAddress)
	case ModeLinkedInOnly:
		return s.leastLoaded(ctx, workspaceID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func (s *Service) byEmail(ctx context.Context, workspaceID, address string) (*domain.Sender, error) {
	want := normalizeEmail(address)
	if want == "" {
		return nil, ErrMissingEmail
	}
	active, err := s.senders.ListActive(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list active senders: %w", err)
	}
	for i := range active {
		if active[i].Email != nil && normalizeEmail(*active[i].Email) == want {
			return &active[i], nil
		}
	}
	return nil, nil
}

func (s *Service) leastLoaded(ctx context.Context, workspaceID string) (*domain.Sender, error) {
	active, err := s.senders.ListActive(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list active senders: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	ids := make([]string, len(active))
	for i := range active {
		ids[i] = active[i].ID
	}
	usage, err := s.usage.UsageForSenders(ctx, ids, domain.UsageDay(s.now()))
	if err != nil {
		return nil, fmt.Errorf("load sender usage: %w", err)
	}

	best := 0
	bestLoad := usage[active[0].ID].Total()
	for i := 1; i < len(active); i++ {
		// Strict comparison keeps the earliest-created sender on ties.
		if load := usage[active[i].ID].Total(); load < bestLoad {
			best, bestLoad = i, load
		}
	}
	return &active[best], nil
}
