package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/assignment"
	"github.com/ignite/outreach/internal/service/budget"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/ignite/outreach/internal/service/sender"
)

// ActionQueue is the queue surface exposed over HTTP.
type ActionQueue interface {
	Enqueue(ctx context.Context, in queue.EnqueueInput) (*domain.Action, error)
	Get(ctx context.Context, id string) (*domain.Action, error)
	ListForPerson(ctx context.Context, personID, workspaceID string) ([]domain.Action, error)
	Cancel(ctx context.Context, id string) error
	CancelForPerson(ctx context.Context, personID, workspaceID string) (int, error)
	BumpPriority(ctx context.Context, personID, workspaceID string) (bool, error)
	FastTrackConnect(ctx context.Context, in queue.EnqueueInput) (queue.FastTrackOutcome, error)
}

// Batches creates and advances chunked enqueue jobs.
type Batches interface {
	CreateBatch(ctx context.Context, in queue.BatchInput, chunkSize int) (string, error)
	ProcessChunk(ctx context.Context, jobID string) (queue.BatchProgress, error)
	Drain(ctx context.Context, jobID string) (queue.BatchProgress, error)
}

// Budgets answers admission and usage questions.
type Budgets interface {
	CheckBudget(ctx context.Context, senderID string, t domain.ActionType, priority int) (budget.Decision, error)
	Usage(ctx context.Context, senderID string) (*budget.UsageReport, error)
	ProgressWarmup(ctx context.Context, senderID string) (bool, error)
}

// Senders manages sender seats and their sealed material.
type Senders interface {
	Create(ctx context.Context, in sender.CreateInput) (*domain.Sender, error)
	Get(ctx context.Context, id string) (*domain.Sender, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Sender, error)
	ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error)
	Activate(ctx context.Context, id string) (*domain.Sender, error)
	Pause(ctx context.Context, id string, reason domain.PauseReason) error
	Resume(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	MarkSessionExpired(ctx context.Context, id string) error
	SaveSession(ctx context.Context, id string, cookies []domain.Cookie) error
	Session(ctx context.Context, id string) ([]domain.Cookie, error)
	SetCredentials(ctx context.Context, id string, creds domain.Credentials) error
	Credentials(ctx context.Context, id string) (*domain.Credentials, error)
	RefreshAcceptanceRate(ctx context.Context, id string) (*float64, error)
}

// Assigner picks the sender for a person.
type Assigner interface {
	AssignSenderForPerson(ctx context.Context, workspaceID string, req assignment.Request) (*domain.Sender, error)
}

// Dispatcher hands admitted work to workers and records outcomes.
type Dispatcher interface {
	Next(ctx context.Context, senderID string, limit int) ([]domain.Action, error)
	Complete(ctx context.Context, actionID string, result json.RawMessage) (*domain.Action, error)
	Fail(ctx context.Context, actionID, msg string) (bool, error)
	Release(ctx context.Context, actionID, reason string) error
}

// Handlers contains all HTTP handlers of the server API.
type Handlers struct {
	queue    ActionQueue
	batches  Batches
	budget   Budgets
	senders  Senders
	assign   Assigner
	dispatch Dispatcher
	health   *HealthChecker

	startTime time.Time
}

// NewHandlers creates the handler set. batches and health may be nil.
func NewHandlers(q ActionQueue, batches Batches, b Budgets, senders Senders, assign Assigner, d Dispatcher, health *HealthChecker) *Handlers {
	return &Handlers{
		queue:     q,
		batches:   batches,
		budget:    b,
		senders:   senders,
		assign:    assign,
		dispatch:  d,
		health:    health,
		startTime: time.Now(),
	}
}
