package sender

import (
	"errors"

	"github.com/ignite/outreach/internal/domain"
)

// Sentinel errors for the sender service layer.
var (
	ErrNotFound          = domain.ErrSenderNotFound
	ErrInvalidTransition = errors.New("invalid sender status transition")
	ErrMissingField      = errors.New("missing required field")
	ErrNoSession         = errors.New("sender has no saved session")
	ErrNoCredentials     = errors.New("sender has no saved credentials")
	ErrInvalidReason     = errors.New("invalid pause reason")
)
