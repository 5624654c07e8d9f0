package domain

import "errors"

// ErrSenderNotFound is returned by sender stores for unknown ids. Services
// that only read senders check for it without importing the directory.
var ErrSenderNotFound = errors.New("sender not found")
