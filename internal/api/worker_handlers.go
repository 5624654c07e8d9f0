package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/dispatch"
)

// defaultClaimLimit is used when the worker does not pass ?limit.
const defaultClaimLimit = 5

// WorkerListSenders returns a workspace's active senders.
//
//	GET /worker/workspaces/{workspaceID}/senders
func (h *Handlers) WorkerListSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := h.senders.ListActive(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		respondError(w, err)
		return
	}
	if senders == nil {
		senders = []domain.Sender{}
	}
	httputil.OK(w, domain.SendersResponse{Senders: senders})
}

// WorkerNextActions claims admitted actions for a sender.
//
//	GET /worker/senders/{senderID}/actions/next?limit=N
func (h *Handlers) WorkerNextActions(w http.ResponseWriter, r *http.Request) {
	limit := defaultClaimLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > dispatch.MaxBatch {
		limit = dispatch.MaxBatch
	}

	actions, err := h.dispatch.Next(r.Context(), chi.URLParam(r, "senderID"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	httputil.OK(w, domain.NextActionsResponse{Actions: actions})
}

// WorkerCompleteAction records a successful execution.
//
//	POST /worker/actions/{actionID}/complete
func (h *Handlers) WorkerCompleteAction(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	a, err := h.dispatch.Complete(r.Context(), chi.URLParam(r, "actionID"), req.Result)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, a)
}

// WorkerFailAction records a failed execution. The response tells the
// worker whether the action went back to the queue.
//
//	POST /worker/actions/{actionID}/fail
func (h *Handlers) WorkerFailAction(w http.ResponseWriter, r *http.Request) {
	var req domain.FailRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	requeued, err := h.dispatch.Fail(r.Context(), chi.URLParam(r, "actionID"), req.Error)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"requeued": requeued})
}

// WorkerReleaseAction returns a claimed action the worker did not run to
// the queue without charging an attempt.
//
//	POST /worker/actions/{actionID}/release
func (h *Handlers) WorkerReleaseAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ReleaseRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	if err := h.dispatch.Release(r.Context(), chi.URLParam(r, "actionID"), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// WorkerUsage returns today's usage and the sender's limits.
//
//	GET /worker/senders/{senderID}/usage
func (h *Handlers) WorkerUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "senderID")
	report, err := h.budget.Usage(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, domain.UsageResponse{SenderID: id, Usage: report.Usage, Limits: report.Limits})
}

// WorkerSaveSession stores freshly captured cookies.
//
//	PUT /worker/senders/{senderID}/session
func (h *Handlers) WorkerSaveSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionPayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.senders.SaveSession(r.Context(), chi.URLParam(r, "senderID"), req.Cookies); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// WorkerGetSession returns the sender's saved cookies.
//
//	GET /worker/senders/{senderID}/session
func (h *Handlers) WorkerGetSession(w http.ResponseWriter, r *http.Request) {
	cookies, err := h.senders.Session(r.Context(), chi.URLParam(r, "senderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, domain.SessionPayload{Cookies: cookies})
}

// WorkerCredentials returns unsealed credentials for automatic re-login.
//
//	GET /worker/senders/{senderID}/credentials
func (h *Handlers) WorkerCredentials(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "senderID")
	creds, err := h.senders.Credentials(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	logger.Info("credentials released to worker", "sender_id", id)
	httputil.OK(w, creds)
}

// WorkerSessionExpired marks the sender's session as no longer valid.
//
//	POST /worker/senders/{senderID}/session-expired
func (h *Handlers) WorkerSessionExpired(w http.ResponseWriter, r *http.Request) {
	if err := h.senders.MarkSessionExpired(r.Context(), chi.URLParam(r, "senderID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// WorkerPause pauses a sender after the worker detected a block signal.
//
//	POST /worker/senders/{senderID}/pause
func (h *Handlers) WorkerPause(w http.ResponseWriter, r *http.Request) {
	var req domain.PauseRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	if err := h.senders.Pause(r.Context(), chi.URLParam(r, "senderID"), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}
