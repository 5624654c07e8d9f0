package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profileSite serves a profile page whose relationship script returns rel.
type profileSite struct {
	mu     sync.Mutex
	url    string
	rel    string
	typed  []string
	clicks []string
}

func (s *profileSite) handle(method string, params json.RawMessage) (any, *ProtocolError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch method {
	case "Page.navigate":
		var p struct{ URL string }
		_ = json.Unmarshal(params, &p)
		s.url = p.URL
	case "Input.insertText":
		var p struct{ Text string }
		_ = json.Unmarshal(params, &p)
		s.typed = append(s.typed, p.Text)
	case "Runtime.evaluate":
		expr := expression(params)
		switch {
		case expr == "document.readyState":
			return evalValue("complete"), nil, true
		case expr == "location.href":
			return evalValue(s.url), nil, true
		case expr == relationshipScript:
			return evalValue(s.rel), nil, true
		case strings.Contains(expr, ".click()"):
			s.clicks = append(s.clicks, expr)
		}
		return evalValue(true), nil, true
	}
	return nil, nil, true
}

func (s *profileSite) snapshot() (typed, clicks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed...), append([]string(nil), s.clicks...)
}

var fastDrivers = DriverOptions{Dwell: 3 * time.Millisecond, Step: time.Millisecond}

func runDriver(t *testing.T, site *profileSite, at domain.ActionType, msg string) (map[string]any, error) {
	t.Helper()
	f := newFakeDevTools(t, site.handle)
	p := NewPage(f.dial(t))
	d := Drivers(fastDrivers)[at]
	require.NotNil(t, d)
	return d.Run(context.Background(), p, domain.Target{ProfileURL: "https://www.linkedin.com/in/jane-doe/"}, msg)
}

func TestConnectDriverSendsInviteWithNote(t *testing.T) {
	site := &profileSite{rel: "none"}
	res, err := runDriver(t, site, domain.ActionConnect, "Hi Jane, "+strings.Repeat("x", 400))
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res["status"])
	assert.Equal(t, true, res["note"])
	typed, _ := site.snapshot()
	require.Len(t, typed, 1)
	assert.Len(t, []rune(typed[0]), MaxNoteLength)
}

func TestConnectDriverSkipsExistingConnections(t *testing.T) {
	site := &profileSite{rel: "accepted"}
	res, err := runDriver(t, site, domain.ActionConnect, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyConnected, res["status"])
	_, clicks := site.snapshot()
	assert.Empty(t, clicks)

	site = &profileSite{rel: "pending"}
	res, err = runDriver(t, site, domain.ActionConnect, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyPending, res["status"])
}

func TestDriverDetectsLoginWall(t *testing.T) {
	site := &profileSite{rel: "none"}
	f := newFakeDevTools(t, func(method string, params json.RawMessage) (any, *ProtocolError, bool) {
		if method == "Runtime.evaluate" && expression(params) == "location.href" {
			return evalValue("https://www.linkedin.com/authwall?trk=x"), nil, true
		}
		return site.handle(method, params)
	})
	p := NewPage(f.dial(t))
	_, err := Drivers(fastDrivers)[domain.ActionMessage].Run(context.Background(), p,
		domain.Target{ProfileURL: "https://www.linkedin.com/in/jane-doe/"}, "hello")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestMessageDriverTypesBody(t *testing.T) {
	site := &profileSite{rel: "accepted"}
	res, err := runDriver(t, site, domain.ActionMessage, "  Thanks for connecting!  ")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res["status"])
	typed, _ := site.snapshot()
	assert.Equal(t, []string{"Thanks for connecting!"}, typed)

	_, err = runDriver(t, &profileSite{}, domain.ActionMessage, " ")
	assert.Error(t, err)
}

func TestCheckConnectionDriverReportsStatus(t *testing.T) {
	site := &profileSite{rel: "accepted"}
	res, err := runDriver(t, site, domain.ActionCheckConnection, "")
	require.NoError(t, err)
	assert.Equal(t, "accepted", res["connectionStatus"])
}

func TestProfileViewDriverScrolls(t *testing.T) {
	site := &profileSite{rel: "none"}
	res, err := runDriver(t, site, domain.ActionProfileView, "")
	require.NoError(t, err)
	assert.Equal(t, StatusViewed, res["status"])
}

func TestTruncateNote(t *testing.T) {
	assert.Equal(t, "hello", TruncateNote("  hello "))
	long := strings.Repeat("é", 350)
	assert.Len(t, []rune(TruncateNote(long)), MaxNoteLength)
	assert.Equal(t, "", TruncateNote("   "))
}
