package domain

import (
	"fmt"
	"time"
)

// SenderStatus enumerates the lifecycle states of a sender seat.
type SenderStatus string

const (
	SenderSetup    SenderStatus = "setup"
	SenderActive   SenderStatus = "active"
	SenderPaused   SenderStatus = "paused"
	SenderDisabled SenderStatus = "disabled"
)

// Valid reports whether s is a known sender status.
func (s SenderStatus) Valid() bool {
	switch s {
	case SenderSetup, SenderActive, SenderPaused, SenderDisabled:
		return true
	}
	return false
}

// HealthStatus enumerates how the platform currently treats a sender.
type HealthStatus string

const (
	HealthHealthy        HealthStatus = "healthy"
	HealthWarning        HealthStatus = "warning"
	HealthPaused         HealthStatus = "paused"
	HealthBlocked        HealthStatus = "blocked"
	HealthSessionExpired HealthStatus = "session_expired"
)

// Valid reports whether h is a known health status.
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthHealthy, HealthWarning, HealthPaused, HealthBlocked, HealthSessionExpired:
		return true
	}
	return false
}

// SessionStatus tracks whether a sender has a reusable authenticated session.
type SessionStatus string

const (
	SessionNotSetup SessionStatus = "not_setup"
	SessionActive   SessionStatus = "active"
	SessionExpired  SessionStatus = "expired"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionNotSetup, SessionActive, SessionExpired:
		return true
	}
	return false
}

// PauseReason explains why a sender was paused. Block reasons put the sender
// into the blocked health state, everything else into paused.
type PauseReason string

const (
	PauseManual     PauseReason = "manual"
	PauseLowAccept  PauseReason = "low_acceptance"
	PauseBlocked    PauseReason = "blocked"
	PauseCaptcha    PauseReason = "captcha"
	PauseRestricted PauseReason = "restricted"
)

// IsBlock reports whether the reason indicates the platform blocked the seat.
func (r PauseReason) IsBlock() bool {
	switch r {
	case PauseBlocked, PauseCaptcha, PauseRestricted:
		return true
	case PauseManual, PauseLowAccept:
		return false
	}
	return false
}

// Limits holds the three per-day action caps of a sender.
type Limits struct {
	Connections  int `json:"connections"`
	Messages     int `json:"messages"`
	ProfileViews int `json:"profile_views"`
}

// Sender is a sending identity (one outreach seat) scoped to a workspace.
type Sender struct {
	ID                   string        `json:"id" db:"id"`
	WorkspaceID          string        `json:"workspace_id" db:"workspace_id"`
	Name                 string        `json:"name" db:"name"`
	Email                *string       `json:"email,omitempty" db:"email"`
	ProfileURL           *string       `json:"profile_url,omitempty" db:"profile_url"`
	Status               SenderStatus  `json:"status" db:"status"`
	HealthStatus         HealthStatus  `json:"health_status" db:"health_status"`
	SessionStatus        SessionStatus `json:"session_status" db:"session_status"`
	WarmupDay            int           `json:"warmup_day" db:"warmup_day"`
	AcceptanceRate       *float64      `json:"acceptance_rate,omitempty" db:"acceptance_rate"`
	DailyConnectionLimit int           `json:"daily_connection_limit" db:"daily_connection_limit"`
	DailyMessageLimit    int           `json:"daily_message_limit" db:"daily_message_limit"`
	DailyViewLimit       int           `json:"daily_view_limit" db:"daily_view_limit"`

	// Sealed blobs, never serialized to clients.
	Credentials []byte `json:"-" db:"credentials"`
	Session     []byte `json:"-" db:"session"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Limits returns the sender's current daily caps.
func (s *Sender) Limits() Limits {
	return Limits{
		Connections:  s.DailyConnectionLimit,
		Messages:     s.DailyMessageLimit,
		ProfileViews: s.DailyViewLimit,
	}
}

// SetLimits overwrites the sender's daily caps.
func (s *Sender) SetLimits(l Limits) {
	s.DailyConnectionLimit = l.Connections
	s.DailyMessageLimit = l.Messages
	s.DailyViewLimit = l.ProfileViews
}

// Claimable reports whether the worker may claim actions for this sender.
func (s *Sender) Claimable() bool {
	return s.Status == SenderActive &&
		s.HealthStatus == HealthHealthy &&
		s.SessionStatus == SessionActive
}

// InactiveReason describes why a non-active sender cannot act.
func (s *Sender) InactiveReason() string {
	switch s.Status {
	case SenderActive:
		return ""
	case SenderPaused:
		return "Sender is paused"
	case SenderDisabled:
		return "Sender is disabled"
	case SenderSetup:
		return "Sender is in setup"
	}
	return fmt.Sprintf("Sender status %q is not active", s.Status)
}
