package budget

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// SenderStore is the slice of the sender directory the budget engine needs.
// Get returns domain.ErrSenderNotFound for unknown ids.
type SenderStore interface {
	Get(ctx context.Context, id string) (*domain.Sender, error)

	// UpdateWarmup persists a new warmup day and the limits for it. It only
	// applies while the sender is active.
	UpdateWarmup(ctx context.Context, id string, day int, limits domain.Limits) (bool, error)
}

// UsageStore persists daily usage counters.
type UsageStore interface {
	// GetOrCreate returns the counters for the day, inserting a zero row
	// when none exists.
	GetOrCreate(ctx context.Context, senderID, day string) (*domain.DailyUsage, error)

	// Increment adds one to col for the day with a single upsert.
	Increment(ctx context.Context, senderID, day string, col domain.UsageColumn) error
}
