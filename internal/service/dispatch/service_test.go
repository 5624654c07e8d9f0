package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	actions   map[string]*domain.Action
	claimable []string
	types     []domain.ActionType
	released  map[string]time.Time
	failed    []string

	releaseErr map[string]error
}

func newFakeQueue(actions ...domain.Action) *fakeQueue {
	q := &fakeQueue{actions: make(map[string]*domain.Action), released: make(map[string]time.Time)}
	for i := range actions {
		a := actions[i]
		q.actions[a.ID] = &a
		q.claimable = append(q.claimable, a.ID)
	}
	return q
}

func (q *fakeQueue) Get(_ context.Context, id string) (*domain.Action, error) {
	a, ok := q.actions[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *a
	return &cp, nil
}

func (q *fakeQueue) ClaimForSender(_ context.Context, senderID string, limit int, types []domain.ActionType) ([]domain.Action, error) {
	q.types = types
	allowed := map[domain.ActionType]bool{}
	for _, t := range types {
		allowed[t] = true
	}
	var out []domain.Action
	for _, id := range q.claimable {
		a := q.actions[id]
		if len(out) == limit {
			break
		}
		if a.SenderID == senderID && a.Status == domain.ActionPending && allowed[a.ActionType] {
			a.Status = domain.ActionRunning
			a.Attempts++
			out = append(out, *a)
		}
	}
	return out, nil
}

func (q *fakeQueue) Release(_ context.Context, id string, until time.Time) error {
	if err := q.releaseErr[id]; err != nil {
		return err
	}
	a := q.actions[id]
	a.Status = domain.ActionPending
	a.Attempts--
	a.ScheduledFor = until
	q.released[id] = until
	return nil
}

func (q *fakeQueue) MarkComplete(_ context.Context, id string, result json.RawMessage) error {
	a := q.actions[id]
	if a.Status != domain.ActionRunning {
		return assert.AnError
	}
	a.Status = domain.ActionComplete
	a.Result = result
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id, msg string) (bool, error) {
	q.failed = append(q.failed, id+":"+msg)
	return true, nil
}

type fakeBudget struct {
	usage    domain.DailyUsage
	consumed []domain.ActionType
}

func (b *fakeBudget) Usage(context.Context, string) (*budget.UsageReport, error) {
	return &budget.UsageReport{Usage: b.usage}, nil
}

func (b *fakeBudget) ConsumeBudget(_ context.Context, _ string, t domain.ActionType) error {
	b.consumed = append(b.consumed, t)
	return nil
}

type fakeSenders map[string]*domain.Sender

func (f fakeSenders) Get(_ context.Context, id string) (*domain.Sender, error) {
	s, ok := f[id]
	if !ok {
		return nil, domain.ErrSenderNotFound
	}
	return s, nil
}

type fakeConns struct{ upserts []domain.Connection }

func (f *fakeConns) Upsert(_ context.Context, c *domain.Connection) error {
	f.upserts = append(f.upserts, *c)
	return nil
}

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func readySender() *domain.Sender {
	s := &domain.Sender{
		ID:            "s1",
		Status:        domain.SenderActive,
		HealthStatus:  domain.HealthHealthy,
		SessionStatus: domain.SessionActive,
		WarmupDay:     1,
	}
	s.SetLimits(domain.Limits{Connections: 10, Messages: 10, ProfileViews: 10})
	return s
}

func action(id string, t domain.ActionType, prio int) domain.Action {
	return domain.Action{
		ID: id, SenderID: "s1", PersonID: "p-" + id, WorkspaceID: "ws-1",
		ActionType: t, Priority: prio, Status: domain.ActionPending, MaxAttempts: 3,
	}
}

func newTestService(q *fakeQueue, b *fakeBudget, snd *domain.Sender, c *fakeConns) *Service {
	svc := NewService(q, b, fakeSenders{snd.ID: snd}, c)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestNext_ReleasesOverBudgetClaims(t *testing.T) {
	q := newFakeQueue(
		action("a1", domain.ActionConnect, 5),
		action("a2", domain.ActionConnect, 5),
		action("a3", domain.ActionConnect, 1),
		action("a4", domain.ActionMessage, 5),
	)
	// 7 of 10 connects used: default priority may use 8, urgent may use 10.
	b := &fakeBudget{usage: domain.DailyUsage{ConnectionsSent: 7}}
	svc := newTestService(q, b, readySender(), &fakeConns{})

	got, err := svc.Next(context.Background(), "s1", 5)
	require.NoError(t, err)

	var ids []string
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a1", "a3", "a4"}, ids)

	require.Contains(t, q.released, "a2")
	assert.True(t, q.released["a2"].Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, domain.ActionPending, q.actions["a2"].Status)
	assert.Equal(t, 0, q.actions["a2"].Attempts)
}

func TestNext_SkipsExhaustedTypes(t *testing.T) {
	q := newFakeQueue(action("a1", domain.ActionMessage, 1), action("a2", domain.ActionProfileView, 5))
	b := &fakeBudget{usage: domain.DailyUsage{MessagesSent: 10}}
	svc := newTestService(q, b, readySender(), &fakeConns{})

	got, err := svc.Next(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
	assert.NotContains(t, q.types, domain.ActionMessage)
	assert.Equal(t, domain.ActionPending, q.actions["a1"].Status, "exhausted types are never claimed")
}

func TestNext_UnclaimableSender(t *testing.T) {
	tests := map[string]func(s *domain.Sender){
		"paused":          func(s *domain.Sender) { s.Status = domain.SenderPaused },
		"blocked":         func(s *domain.Sender) { s.HealthStatus = domain.HealthBlocked },
		"session expired": func(s *domain.Sender) { s.SessionStatus = domain.SessionExpired },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			q := newFakeQueue(action("a1", domain.ActionConnect, 1))
			snd := readySender()
			mutate(snd)
			svc := newTestService(q, &fakeBudget{}, snd, &fakeConns{})

			got, err := svc.Next(context.Background(), "s1", 5)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.Equal(t, domain.ActionPending, q.actions["a1"].Status)
		})
	}
}

func TestComplete_ConnectRecordsPendingInvitation(t *testing.T) {
	q := newFakeQueue(action("a1", domain.ActionConnect, 5))
	b := &fakeBudget{}
	conns := &fakeConns{}
	svc := newTestService(q, b, readySender(), conns)
	ctx := context.Background()

	_, err := svc.Next(ctx, "s1", 1)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "a1", json.RawMessage(`{"status":"sent","note":true}`))
	require.NoError(t, err)

	assert.Equal(t, []domain.ActionType{domain.ActionConnect}, b.consumed)
	require.Len(t, conns.upserts, 1)
	assert.Equal(t, domain.ConnectionPending, conns.upserts[0].Status)
	assert.NotNil(t, conns.upserts[0].RequestedAt)

	_, err = svc.Complete(ctx, "a1", nil)
	assert.Error(t, err, "a second completion must be rejected")
	assert.Len(t, b.consumed, 1, "budget is charged once")
}

func TestComplete_CheckConnectionAccepted(t *testing.T) {
	q := newFakeQueue(action("a1", domain.ActionCheckConnection, 5))
	conns := &fakeConns{}
	b := &fakeBudget{}
	svc := newTestService(q, b, readySender(), conns)
	ctx := context.Background()

	_, err := svc.Next(ctx, "s1", 1)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "a1", json.RawMessage(`{"connectionStatus":"accepted"}`))
	require.NoError(t, err)

	require.Len(t, conns.upserts, 1)
	assert.Equal(t, domain.ConnectionAccepted, conns.upserts[0].Status)
	assert.NotNil(t, conns.upserts[0].AcceptedAt)
	assert.Equal(t, []domain.ActionType{domain.ActionCheckConnection}, b.consumed)
}

func TestComplete_MessageLeavesConnectionsAlone(t *testing.T) {
	q := newFakeQueue(action("a1", domain.ActionMessage, 5))
	conns := &fakeConns{}
	svc := newTestService(q, &fakeBudget{}, readySender(), conns)
	ctx := context.Background()

	_, err := svc.Next(ctx, "s1", 1)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "a1", json.RawMessage(`{"sent":true}`))
	require.NoError(t, err)
	assert.Empty(t, conns.upserts)
}

func TestFail_DefaultsMessage(t *testing.T) {
	q := newFakeQueue()
	svc := newTestService(q, &fakeBudget{}, readySender(), &fakeConns{})

	_, err := svc.Fail(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1:unknown error"}, q.failed)
}

func TestNext_ReleaseFailureGivesBackAdmitted(t *testing.T) {
	q := newFakeQueue(
		action("a1", domain.ActionConnect, 5),
		action("a2", domain.ActionConnect, 5),
	)
	q.releaseErr = map[string]error{"a2": errors.New("connection reset")}
	// 7 of 10 connects used: a1 takes the last default-priority slot, a2 is over.
	b := &fakeBudget{usage: domain.DailyUsage{ConnectionsSent: 7}}
	svc := newTestService(q, b, readySender(), &fakeConns{})

	got, err := svc.Next(context.Background(), "s1", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a2")
	assert.Empty(t, got)

	assert.Equal(t, domain.ActionPending, q.actions["a1"].Status)
	assert.Equal(t, 0, q.actions["a1"].Attempts)
	assert.True(t, q.released["a1"].Equal(testNow))
}

func TestRelease_ReturnsActionWithoutChargingAttempt(t *testing.T) {
	q := newFakeQueue(action("a1", domain.ActionConnect, 5))
	svc := newTestService(q, &fakeBudget{}, readySender(), &fakeConns{})

	claimed, err := svc.Next(context.Background(), "s1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, q.actions["a1"].Attempts)

	require.NoError(t, svc.Release(context.Background(), "a1", "session expired"))
	assert.Equal(t, domain.ActionPending, q.actions["a1"].Status)
	assert.Equal(t, 0, q.actions["a1"].Attempts)
	assert.True(t, q.released["a1"].Equal(testNow))
	assert.Empty(t, q.failed)
}
