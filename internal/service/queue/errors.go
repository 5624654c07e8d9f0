package queue

import "errors"

// Sentinel errors for the queue service layer.
var (
	ErrNotFound          = errors.New("action not found")
	ErrInvalidTransition = errors.New("invalid action status transition")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidActionType = errors.New("invalid action type")
	ErrNoTargets         = errors.New("batch has no targets")
	ErrBatchNotFound     = errors.New("batch job not found")
	ErrBatchBusy         = errors.New("batch chunk is being processed by another request")
)
