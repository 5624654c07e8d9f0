package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/storage"
)

type failReport struct {
	ActionID string
	Msg      string
}

// fakeServer records every report the worker makes.
type fakeServer struct {
	mu        sync.Mutex
	senders   map[string][]domain.Sender
	actions   map[string][]domain.Action
	cookies   []domain.Cookie
	creds     *domain.Credentials
	completed map[string]map[string]any
	failed    []failReport
	released  []failReport
	usage     map[string]*domain.UsageResponse
	expired   []string
	paused    map[string]domain.PauseReason
	saved     map[string][]domain.Cookie
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		senders:   map[string][]domain.Sender{},
		actions:   map[string][]domain.Action{},
		completed: map[string]map[string]any{},
		paused:    map[string]domain.PauseReason{},
		saved:     map[string][]domain.Cookie{},
		usage:     map[string]*domain.UsageResponse{},
	}
}

func (f *fakeServer) ListSenders(_ context.Context, ws string) ([]domain.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.senders[ws], nil
}

func (f *fakeServer) NextActions(_ context.Context, senderID string, limit int) ([]domain.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acts := f.actions[senderID]
	if len(acts) > limit {
		acts = acts[:limit]
	}
	f.actions[senderID] = f.actions[senderID][len(acts):]
	return acts, nil
}

func (f *fakeServer) Complete(_ context.Context, actionID string, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[actionID] = result
	return nil
}

func (f *fakeServer) Fail(_ context.Context, actionID, msg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failReport{actionID, msg})
	return true, nil
}

func (f *fakeServer) Release(_ context.Context, actionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, failReport{actionID, reason})
	return nil
}

func (f *fakeServer) Usage(_ context.Context, senderID string) (*domain.UsageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.usage[senderID]; ok {
		return u, nil
	}
	return &domain.UsageResponse{SenderID: senderID, Limits: domain.Limits{Connections: 20, Messages: 20, ProfileViews: 40}}, nil
}

func (f *fakeServer) Session(context.Context, string) ([]domain.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeServer) SaveSession(_ context.Context, senderID string, cookies []domain.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[senderID] = cookies
	return nil
}

func (f *fakeServer) Credentials(context.Context, string) (*domain.Credentials, error) {
	if f.creds == nil {
		return nil, &APIError{Status: 404, Message: "sender has no stored credentials"}
	}
	c := *f.creds
	return &c, nil
}

func (f *fakeServer) SessionExpired(_ context.Context, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, senderID)
	return nil
}

func (f *fakeServer) Pause(_ context.Context, senderID string, reason domain.PauseReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[senderID] = reason
	return nil
}

func (f *fakeServer) failedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.failed {
		ids = append(ids, r.ActionID)
	}
	return ids
}

func (f *fakeServer) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.released {
		ids = append(ids, r.ActionID)
	}
	return ids
}

// scriptedSession returns a canned outcome per action id.
type scriptedSession struct {
	mu       sync.Mutex
	outcomes map[string]error
	panics   map[string]bool
	messages map[string]string
	closed   bool
	shots    int
}

func (s *scriptedSession) Run(_ context.Context, a domain.Action, message string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics[a.ID] {
		panic("selector exploded")
	}
	if s.messages == nil {
		s.messages = map[string]string{}
	}
	s.messages[a.ID] = message
	if err := s.outcomes[a.ID]; err != nil {
		return nil, err
	}
	return map[string]any{"status": "sent"}, nil
}

func (s *scriptedSession) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots++
	return []byte("\x89PNG"), nil
}

func (s *scriptedSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeOpener struct {
	session  *scriptedSession
	err      error
	opened   int
	proxyURL string
}

func (o *fakeOpener) Open(_ context.Context, _ domain.Sender, _ []domain.Cookie, proxyURL string) (Session, error) {
	o.opened++
	o.proxyURL = proxyURL
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type fakeLoginer struct {
	mu      sync.Mutex
	cookies []domain.Cookie
	err     error
	calls   int
	creds   domain.Credentials
	code    string
}

func (l *fakeLoginer) Login(_ context.Context, creds domain.Credentials, code string) ([]domain.Cookie, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.creds = creds
	l.code = code
	return l.cookies, l.err
}

type memStore struct {
	mu    sync.Mutex
	snaps []storage.Snapshot
}

func (m *memStore) Save(_ context.Context, snap storage.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return "mem://" + snap.ActionID, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

var errFlaky = errors.New("navigate: net::ERR_CONNECTION_RESET")

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
