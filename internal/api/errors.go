package api

import (
	"errors"
	"net/http"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/service/assignment"
	"github.com/ignite/outreach/internal/service/budget"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/ignite/outreach/internal/service/sender"
)

// statusFor maps service sentinel errors to HTTP status codes. Anything
// unrecognised is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound),
		errors.Is(err, queue.ErrBatchNotFound),
		errors.Is(err, domain.ErrSenderNotFound),
		errors.Is(err, sender.ErrNoSession),
		errors.Is(err, sender.ErrNoCredentials):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, queue.ErrBatchBusy),
		errors.Is(err, sender.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, queue.ErrMissingField),
		errors.Is(err, queue.ErrInvalidActionType),
		errors.Is(err, queue.ErrNoTargets),
		errors.Is(err, sender.ErrMissingField),
		errors.Is(err, sender.ErrInvalidReason),
		errors.Is(err, assignment.ErrMissingEmail),
		errors.Is(err, assignment.ErrUnknownMode),
		errors.Is(err, budget.ErrUnknownActionType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err with the mapped status. 5xx details are logged
// and replaced by a generic message.
func respondError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		httputil.InternalError(w, err)
		return
	}
	httputil.Error(w, code, err.Error())
}
