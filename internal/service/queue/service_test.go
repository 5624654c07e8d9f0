package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository that enforces the same conditional
// transitions as the Postgres implementation.
type memRepo struct {
	mu      sync.Mutex
	actions map[string]*domain.Action
	order   []string
	failOn  string
}

func newMemRepo() *memRepo {
	return &memRepo{actions: make(map[string]*domain.Action)}
}

func (m *memRepo) Create(_ context.Context, a *domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && a.PersonID == m.failOn {
		return fmt.Errorf("insert failed")
	}
	cp := *a
	m.actions[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListForPerson(_ context.Context, personID, workspaceID string) ([]domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Action
	for _, id := range m.order {
		a := m.actions[id]
		if a.PersonID == personID && a.WorkspaceID == workspaceID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) Claim(_ context.Context, senderID string, limit int, types []domain.ActionType, now time.Time) ([]domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[domain.ActionType]bool)
	for _, t := range types {
		allowed[t] = true
	}
	var due []*domain.Action
	for _, id := range m.order {
		a := m.actions[id]
		if a.SenderID == senderID && a.Status == domain.ActionPending && !a.ScheduledFor.After(now) && allowed[a.ActionType] {
			due = append(due, a)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Action, 0, len(due))
	for _, a := range due {
		claimed := now
		a.Status = domain.ActionRunning
		a.Attempts++
		a.ClaimedAt = &claimed
		out = append(out, *a)
	}
	return out, nil
}

func (m *memRepo) transition(id string, from []domain.ActionStatus, apply func(a *domain.Action)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return ErrNotFound
	}
	for _, s := range from {
		if a.Status == s {
			apply(a)
			return nil
		}
	}
	return ErrInvalidTransition
}

func (m *memRepo) Complete(_ context.Context, id string, result json.RawMessage, at time.Time) error {
	return m.transition(id, []domain.ActionStatus{domain.ActionRunning}, func(a *domain.Action) {
		a.Status = domain.ActionComplete
		a.CompletedAt = &at
		a.Result = result
	})
}

func (m *memRepo) Retry(_ context.Context, id string, at time.Time, result json.RawMessage) error {
	return m.transition(id, []domain.ActionStatus{domain.ActionRunning}, func(a *domain.Action) {
		a.Status = domain.ActionPending
		a.ScheduledFor = at
		a.NextRetryAt = &at
		a.Result = result
	})
}

func (m *memRepo) Fail(_ context.Context, id string, result json.RawMessage) error {
	return m.transition(id, []domain.ActionStatus{domain.ActionRunning}, func(a *domain.Action) {
		a.Status = domain.ActionFailed
		a.Result = result
	})
}

func (m *memRepo) Release(_ context.Context, id string, until time.Time) error {
	return m.transition(id, []domain.ActionStatus{domain.ActionRunning}, func(a *domain.Action) {
		a.Status = domain.ActionPending
		a.Attempts--
		a.ScheduledFor = until
		a.ClaimedAt = nil
	})
}

func (m *memRepo) Cancel(_ context.Context, id string) error {
	return m.transition(id, []domain.ActionStatus{domain.ActionPending, domain.ActionRunning}, func(a *domain.Action) {
		a.Status = domain.ActionCancelled
	})
}

func (m *memRepo) CancelForPerson(_ context.Context, personID, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.actions {
		if a.PersonID == personID && a.WorkspaceID == workspaceID && !a.Status.IsTerminal() {
			a.Status = domain.ActionCancelled
			n++
		}
	}
	return n, nil
}

func (m *memRepo) BumpConnect(_ context.Context, personID, workspaceID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, a := range m.actions {
		if a.PersonID == personID && a.WorkspaceID == workspaceID &&
			a.ActionType == domain.ActionConnect && a.Status == domain.ActionPending {
			a.Priority = domain.PriorityUrgent
			a.ScheduledFor = now
			found = true
		}
	}
	return found, nil
}

func (m *memRepo) ListStale(_ context.Context, cutoff time.Time) ([]domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Action
	for _, id := range m.order {
		a := m.actions[id]
		if a.Status == domain.ActionRunning && a.ClaimedAt != nil && a.ClaimedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

type stubConns map[string]domain.ConnectionStatus

func (s stubConns) ConnectionStatus(_ context.Context, senderID, personID string) (domain.ConnectionStatus, error) {
	if st, ok := s[senderID+"/"+personID]; ok {
		return st, nil
	}
	return domain.ConnectionNone, nil
}

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestService(repo *memRepo, conns ConnectionReader) *Service {
	return NewService(repo, conns, WithClock(func() time.Time { return testNow }))
}

func validInput() EnqueueInput {
	return EnqueueInput{
		SenderID:    "sender-1",
		PersonID:    "person-1",
		WorkspaceID: "ws-1",
		ActionType:  domain.ActionConnect,
		Target:      domain.Target{ProfileURL: "https://www.linkedin.com/in/jane"},
	}
}

func claimOne(t *testing.T, svc *Service, senderID string) domain.Action {
	t.Helper()
	claimed, err := svc.ClaimForSender(context.Background(), senderID, 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestEnqueue_AppliesDefaults(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	a, err := svc.Enqueue(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.ActionPending, a.Status)
	assert.Equal(t, domain.PriorityDefault, a.Priority)
	assert.Equal(t, domain.DefaultMaxAttempts, a.MaxAttempts)
	assert.Equal(t, 0, a.Attempts)
	assert.True(t, a.ScheduledFor.Equal(testNow))
}

func TestEnqueue_OutOfRangePriorityFallsBackToDefault(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	in := validInput()
	in.Priority = 9
	a, err := svc.Enqueue(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityDefault, a.Priority)

	in.Priority = 2
	a, err = svc.Enqueue(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Priority)
}

func TestEnqueue_MissingFieldCreatesNothing(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	in := validInput()
	in.SenderID = ""
	_, err := svc.Enqueue(context.Background(), in)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "sender_id")

	in = validInput()
	in.ActionType = "poke"
	_, err = svc.Enqueue(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidActionType)

	assert.Empty(t, repo.actions)
}

func TestMarkComplete_SecondCallIsRejected(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, validInput())
	require.NoError(t, err)
	a := claimOne(t, svc, "sender-1")

	require.NoError(t, svc.MarkComplete(ctx, a.ID, json.RawMessage(`{"sent":true}`)))

	err = svc.MarkComplete(ctx, a.ID, json.RawMessage(`{"sent":false}`))
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionComplete, got.Status)
	assert.JSONEq(t, `{"sent":true}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
}

func TestMarkFailed_RetriesThenFails(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	in := validInput()
	in.MaxAttempts = 2
	_, err := svc.Enqueue(ctx, in)
	require.NoError(t, err)

	a := claimOne(t, svc, "sender-1")
	assert.Equal(t, 1, a.Attempts)

	requeued, err := svc.MarkFailed(ctx, a.ID, "timeout")
	require.NoError(t, err)
	assert.True(t, requeued)

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, domain.ActionPending, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.GreaterOrEqual(t, got.NextRetryAt.Sub(testNow), 5*time.Minute)
	assert.True(t, got.ScheduledFor.Equal(*got.NextRetryAt))
	assert.JSONEq(t, `{"error":"timeout","retry":true}`, string(got.Result))

	// Make it due again and exhaust the budget.
	repo.actions[a.ID].ScheduledFor = testNow
	a = claimOne(t, svc, "sender-1")
	assert.Equal(t, 2, a.Attempts)

	requeued, err = svc.MarkFailed(ctx, a.ID, "timeout again")
	require.NoError(t, err)
	assert.False(t, requeued)

	got, _ = svc.Get(ctx, a.ID)
	assert.Equal(t, domain.ActionFailed, got.Status)
	assert.JSONEq(t, `{"error":"timeout again"}`, string(got.Result))
}

func TestMarkFailed_NotRunning(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	a, err := svc.Enqueue(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.MarkFailed(ctx, a.ID, "boom")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.MarkFailed(ctx, "missing", "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimForSender_OrdersByPriorityThenSchedule(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	early := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	mk := func(person string, prio int, at *time.Time) {
		in := validInput()
		in.PersonID = person
		in.Priority = prio
		in.ScheduledFor = at
		_, err := svc.Enqueue(ctx, in)
		require.NoError(t, err)
	}
	mk("p-late", 5, nil)
	mk("p-early", 5, &early)
	mk("p-urgent", 1, nil)
	mk("p-future", 1, &future)

	claimed, err := svc.ClaimForSender(ctx, "sender-1", 10, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "p-urgent", claimed[0].PersonID)
	assert.Equal(t, "p-early", claimed[1].PersonID)
	assert.Equal(t, "p-late", claimed[2].PersonID)

	again, err := svc.ClaimForSender(ctx, "sender-1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, again, "running actions must not be claimed twice")
}

func TestClaimForSender_TypeFilter(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, validInput())
	require.NoError(t, err)
	in := validInput()
	in.ActionType = domain.ActionProfileView
	_, err = svc.Enqueue(ctx, in)
	require.NoError(t, err)

	claimed, err := svc.ClaimForSender(ctx, "sender-1", 5, []domain.ActionType{domain.ActionProfileView})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.ActionProfileView, claimed[0].ActionType)
}

func TestRelease_RestoresAttempt(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, validInput())
	require.NoError(t, err)
	a := claimOne(t, svc, "sender-1")

	tomorrow := domain.NextUsageDay(testNow)
	require.NoError(t, svc.Release(ctx, a.ID, tomorrow))

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, domain.ActionPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.ScheduledFor.Equal(tomorrow))
}

func TestCancel(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	a, err := svc.Enqueue(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, a.ID))
	assert.ErrorIs(t, svc.Cancel(ctx, a.ID), ErrInvalidTransition)
	assert.ErrorIs(t, svc.Cancel(ctx, "nope"), ErrNotFound)

	claimed, err := svc.ClaimForSender(ctx, "sender-1", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCancelForPerson_CountsOnlyOpenActions(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, validInput())
		require.NoError(t, err)
	}
	done := claimOne(t, svc, "sender-1")
	require.NoError(t, svc.MarkComplete(ctx, done.ID, nil))
	claimOne(t, svc, "sender-1") // left running

	other := validInput()
	other.PersonID = "person-2"
	_, err := svc.Enqueue(ctx, other)
	require.NoError(t, err)

	n, err := svc.CancelForPerson(ctx, "person-1", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.CancelForPerson(ctx, "person-1", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBumpPriority(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	later := testNow.Add(48 * time.Hour)
	in := validInput()
	in.ScheduledFor = &later
	a, err := svc.Enqueue(ctx, in)
	require.NoError(t, err)

	found, err := svc.BumpPriority(ctx, "person-1", "ws-1")
	require.NoError(t, err)
	assert.True(t, found)

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, domain.PriorityUrgent, got.Priority)
	assert.True(t, got.ScheduledFor.Equal(testNow))

	found, err = svc.BumpPriority(ctx, "person-9", "ws-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFastTrackConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("bumps existing pending connect", func(t *testing.T) {
		svc := newTestService(newMemRepo(), nil)
		_, err := svc.Enqueue(ctx, validInput())
		require.NoError(t, err)

		out, err := svc.FastTrackConnect(ctx, validInput())
		require.NoError(t, err)
		assert.Equal(t, FastTrackBumped, out)
	})

	t.Run("skips when already invited", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, stubConns{"sender-1/person-1": domain.ConnectionAccepted})

		out, err := svc.FastTrackConnect(ctx, validInput())
		require.NoError(t, err)
		assert.Equal(t, FastTrackAlreadyConnected, out)
		assert.Empty(t, repo.actions)
	})

	t.Run("enqueues urgent connect", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, stubConns{"sender-1/person-1": domain.ConnectionWithdrawn})

		in := validInput()
		in.ActionType = domain.ActionMessage
		out, err := svc.FastTrackConnect(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, FastTrackEnqueued, out)

		list, err := svc.ListForPerson(ctx, "person-1", "ws-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, domain.ActionConnect, list[0].ActionType)
		assert.Equal(t, domain.PriorityUrgent, list[0].Priority)
	})
}

func TestRecoverStuck(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	for _, p := range []string{"p-retry", "p-exhausted", "p-fresh"} {
		in := validInput()
		in.PersonID = p
		in.MaxAttempts = 2
		_, err := svc.Enqueue(ctx, in)
		require.NoError(t, err)
	}
	claimed, err := svc.ClaimForSender(ctx, "sender-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	old := testNow.Add(-45 * time.Minute)
	recent := testNow.Add(-5 * time.Minute)
	byPerson := map[string]*domain.Action{}
	for _, a := range repo.actions {
		byPerson[a.PersonID] = a
	}
	byPerson["p-retry"].ClaimedAt = &old
	byPerson["p-exhausted"].ClaimedAt = &old
	byPerson["p-exhausted"].Attempts = 2
	byPerson["p-fresh"].ClaimedAt = &recent

	report, err := svc.RecoverStuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Scanned: 2, Requeued: 1, Failed: 1}, report)

	assert.Equal(t, domain.ActionPending, byPerson["p-retry"].Status)
	assert.JSONEq(t, `{"error":"Worker crash recovery"}`, string(byPerson["p-retry"].Result))
	assert.Equal(t, domain.ActionFailed, byPerson["p-exhausted"].Status)
	assert.JSONEq(t, `{"error":"Worker crash recovery"}`, string(byPerson["p-exhausted"].Result))
	assert.Equal(t, domain.ActionRunning, byPerson["p-fresh"].Status)
}

func TestBackoffBounds(t *testing.T) {
	b := DefaultBackoff
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, 5*time.Minute)
			assert.LessOrEqual(t, d, 2*time.Hour)
		}
	}

	// With the floor removed the jitter window is [exp/2, exp).
	b.Floor = 0
	for i := 0; i < 50; i++ {
		d := b.Delay(3)
		assert.GreaterOrEqual(t, d, 10*time.Minute)
		assert.Less(t, d, 20*time.Minute)
	}
}
