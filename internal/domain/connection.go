package domain

import "time"

// ConnectionStatus is the invitation state between a sender and a person.
type ConnectionStatus string

const (
	ConnectionNone      ConnectionStatus = "none"
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionAccepted  ConnectionStatus = "accepted"
	ConnectionWithdrawn ConnectionStatus = "withdrawn"
)

// Valid reports whether c is a known connection status.
func (c ConnectionStatus) Valid() bool {
	switch c {
	case ConnectionNone, ConnectionPending, ConnectionAccepted, ConnectionWithdrawn:
		return true
	}
	return false
}

// Attempted reports whether an invitation already exists or was accepted,
// meaning a new connect action must not be queued.
func (c ConnectionStatus) Attempted() bool {
	switch c {
	case ConnectionPending, ConnectionAccepted:
		return true
	case ConnectionNone, ConnectionWithdrawn:
		return false
	}
	return false
}

// Connection records the invitation state for a (sender, person) pair.
type Connection struct {
	SenderID    string           `json:"sender_id" db:"sender_id"`
	PersonID    string           `json:"person_id" db:"person_id"`
	WorkspaceID string           `json:"workspace_id" db:"workspace_id"`
	Status      ConnectionStatus `json:"status" db:"status"`
	RequestedAt *time.Time       `json:"requested_at,omitempty" db:"requested_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
