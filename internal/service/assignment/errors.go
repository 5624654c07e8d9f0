package assignment

import "errors"

// Sentinel errors for the assignment service layer.
var (
	ErrMissingEmail = errors.New("email sender address is required in email_linkedin mode")
	ErrUnknownMode  = errors.New("unknown assignment mode")
)
