package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/service/assignment"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/ignite/outreach/internal/service/sender"
)

// HealthCheck reports component health when a checker is configured and a
// bare liveness answer otherwise.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		h.health.HandleHealth(w, r)
		return
	}
	httputil.OK(w, map[string]string{
		"status": "healthy",
		"uptime": formatUptime(time.Since(h.startTime)),
	})
}

// --- actions ---

// EnqueueAction adds one action to the queue.
func (h *Handlers) EnqueueAction(w http.ResponseWriter, r *http.Request) {
	var in queue.EnqueueInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	a, err := h.queue.Enqueue(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, a)
}

// FastTrackConnect makes sure an urgent connect exists for the person.
func (h *Handlers) FastTrackConnect(w http.ResponseWriter, r *http.Request) {
	var in queue.EnqueueInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	outcome, err := h.queue.FastTrackConnect(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]queue.FastTrackOutcome{"outcome": outcome})
}

func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.queue.Get(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, a)
}

func (h *Handlers) CancelAction(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Cancel(r.Context(), chi.URLParam(r, "actionID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// workspaceParam reads the required ?workspace_id query parameter.
func workspaceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws := r.URL.Query().Get("workspace_id")
	if ws == "" {
		httputil.BadRequest(w, "workspace_id is required")
		return "", false
	}
	return ws, true
}

func (h *Handlers) ListPersonActions(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceParam(w, r)
	if !ok {
		return
	}
	actions, err := h.queue.ListForPerson(r.Context(), chi.URLParam(r, "personID"), ws)
	if err != nil {
		respondError(w, err)
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	httputil.OK(w, map[string]any{"actions": actions})
}

// CancelPersonActions cancels every open action for a person, typically
// after they replied.
func (h *Handlers) CancelPersonActions(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceParam(w, r)
	if !ok {
		return
	}
	n, err := h.queue.CancelForPerson(r.Context(), chi.URLParam(r, "personID"), ws)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"cancelled": n})
}

func (h *Handlers) BumpPerson(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceParam(w, r)
	if !ok {
		return
	}
	bumped, err := h.queue.BumpPriority(r.Context(), chi.URLParam(r, "personID"), ws)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"bumped": bumped})
}

// --- batches ---

type createBatchRequest struct {
	queue.BatchInput
	ChunkSize int `json:"chunk_size,omitempty"`
}

func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "batch enqueue requires redis")
		return
	}
	var req createBatchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	id, err := h.batches.CreateBatch(r.Context(), req.BatchInput, req.ChunkSize)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"job_id": id, "total": len(req.Targets)})
}

// ProcessBatch advances a batch by one chunk, or to the end with ?drain=true.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "batch enqueue requires redis")
		return
	}
	jobID := chi.URLParam(r, "jobID")
	var (
		progress queue.BatchProgress
		err      error
	)
	if drain, _ := strconv.ParseBool(r.URL.Query().Get("drain")); drain {
		progress, err = h.batches.Drain(r.Context(), jobID)
	} else {
		progress, err = h.batches.ProcessChunk(r.Context(), jobID)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, progress)
}

// --- budget ---

// CheckBudget answers whether the sender may perform one more action.
//
//	GET /api/senders/{senderID}/budget?action_type=connect&priority=1
func (h *Handlers) CheckBudget(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := domain.ActionType(q.Get("action_type"))
	if !t.Valid() {
		httputil.BadRequest(w, "action_type must be one of connect, message, profile_view, check_connection")
		return
	}
	priority := domain.PriorityDefault
	if raw := q.Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			httputil.BadRequest(w, "priority must be an integer")
			return
		}
		priority = p
	}
	d, err := h.budget.CheckBudget(r.Context(), chi.URLParam(r, "senderID"), t, priority)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, d)
}

func (h *Handlers) SenderUsage(w http.ResponseWriter, r *http.Request) {
	h.WorkerUsage(w, r)
}

func (h *Handlers) ProgressWarmup(w http.ResponseWriter, r *http.Request) {
	advanced, err := h.budget.ProgressWarmup(r.Context(), chi.URLParam(r, "senderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"advanced": advanced})
}

// --- assignment ---

// AssignSender picks the sender for a person. A 200 with a null sender
// means no active sender qualified.
func (h *Handlers) AssignSender(w http.ResponseWriter, r *http.Request) {
	var req assignment.Request
	if !httputil.Decode(w, r, &req) {
		return
	}
	snd, err := h.assign.AssignSenderForPerson(r.Context(), chi.URLParam(r, "workspaceID"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]*domain.Sender{"sender": snd})
}

// --- senders ---

func (h *Handlers) CreateSender(w http.ResponseWriter, r *http.Request) {
	var in sender.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	snd, err := h.senders.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, snd)
}

func (h *Handlers) GetSender(w http.ResponseWriter, r *http.Request) {
	snd, err := h.senders.Get(r.Context(), chi.URLParam(r, "senderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, snd)
}

func (h *Handlers) ListSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := h.senders.ListByWorkspace(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		respondError(w, err)
		return
	}
	if senders == nil {
		senders = []domain.Sender{}
	}
	httputil.OK(w, domain.SendersResponse{Senders: senders})
}

func (h *Handlers) ActivateSender(w http.ResponseWriter, r *http.Request) {
	snd, err := h.senders.Activate(r.Context(), chi.URLParam(r, "senderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, snd)
}

func (h *Handlers) PauseSender(w http.ResponseWriter, r *http.Request) {
	h.WorkerPause(w, r)
}

func (h *Handlers) ResumeSender(w http.ResponseWriter, r *http.Request) {
	if err := h.senders.Resume(r.Context(), chi.URLParam(r, "senderID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) DisableSender(w http.ResponseWriter, r *http.Request) {
	if err := h.senders.Disable(r.Context(), chi.URLParam(r, "senderID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) SetSenderCredentials(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if !httputil.Decode(w, r, &creds) {
		return
	}
	if err := h.senders.SetCredentials(r.Context(), chi.URLParam(r, "senderID"), creds); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) RefreshAcceptanceRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.senders.RefreshAcceptanceRate(r.Context(), chi.URLParam(r, "senderID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]*float64{"acceptance_rate": rate})
}
