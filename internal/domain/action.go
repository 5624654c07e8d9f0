package domain

import (
	"encoding/json"
	"time"
)

// ActionType enumerates the kinds of outreach work a sender can perform.
type ActionType string

const (
	ActionConnect         ActionType = "connect"
	ActionMessage         ActionType = "message"
	ActionProfileView     ActionType = "profile_view"
	ActionCheckConnection ActionType = "check_connection"
)

// AllActionTypes lists every action type in a stable order.
var AllActionTypes = []ActionType{ActionConnect, ActionMessage, ActionProfileView, ActionCheckConnection}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionConnect, ActionMessage, ActionProfileView, ActionCheckConnection:
		return true
	}
	return false
}

// ActionStatus enumerates the lifecycle of a queued action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionComplete  ActionStatus = "complete"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionComplete, ActionFailed, ActionCancelled:
		return true
	case ActionPending, ActionRunning:
		return false
	}
	return false
}

// CanTransition reports whether an action may move from s to next.
//
//	pending  -> running | cancelled | pending (reschedule)
//	running  -> complete | failed | pending (retry/release) | cancelled
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	switch s {
	case ActionPending:
		return next == ActionRunning || next == ActionCancelled || next == ActionPending
	case ActionRunning:
		return next == ActionComplete || next == ActionFailed || next == ActionPending || next == ActionCancelled
	case ActionComplete, ActionFailed, ActionCancelled:
		return false
	}
	return false
}

// Priority bounds. 1 is the most urgent.
const (
	PriorityUrgent  = 1
	PriorityDefault = 5
)

// DefaultMaxAttempts is used when an enqueue does not specify one.
const DefaultMaxAttempts = 3

// Target carries the person details a driver needs to act on a profile and
// the template bindings for message bodies.
type Target struct {
	ProfileURL string `json:"profile_url"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Company    string `json:"company,omitempty"`
	Headline   string `json:"headline,omitempty"`
}

// Action is one unit of queued outreach work.
type Action struct {
	ID           string          `json:"id" db:"id"`
	SenderID     string          `json:"sender_id" db:"sender_id"`
	PersonID     string          `json:"person_id" db:"person_id"`
	WorkspaceID  string          `json:"workspace_id" db:"workspace_id"`
	ActionType   ActionType      `json:"action_type" db:"action_type"`
	Message      *string         `json:"message,omitempty" db:"message"`
	Priority     int             `json:"priority" db:"priority"`
	Status       ActionStatus    `json:"status" db:"status"`
	Attempts     int             `json:"attempts" db:"attempts"`
	MaxAttempts  int             `json:"max_attempts" db:"max_attempts"`
	ScheduledFor time.Time       `json:"scheduled_for" db:"scheduled_for"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Target       Target          `json:"target" db:"target"`
	CampaignID   *string         `json:"campaign_id,omitempty" db:"campaign_id"`
	SequenceStep *int            `json:"sequence_step,omitempty" db:"sequence_step"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// HasAttemptsLeft reports whether another retry is permitted.
func (a *Action) HasAttemptsLeft() bool {
	return a.Attempts < a.MaxAttempts
}

// ErrorResult builds the JSON payload stored on failed or retried actions.
func ErrorResult(msg string, retry bool) json.RawMessage {
	payload := map[string]any{"error": msg}
	if retry {
		payload["retry"] = true
	}
	b, _ := json.Marshal(payload)
	return b
}
