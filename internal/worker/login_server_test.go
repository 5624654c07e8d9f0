package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/browser"
	"github.com/ignite/outreach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingLoginer holds each login until release is closed.
type blockingLoginer struct {
	release chan struct{}
	err     error
}

func (l *blockingLoginer) Login(ctx context.Context, _ domain.Credentials, _ string) ([]domain.Cookie, error) {
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}
	return []domain.Cookie{{Name: "li_at", Value: "v"}}, nil
}

func TestLoginManagerRefusesConcurrentLogins(t *testing.T) {
	srv := newFakeServer()
	srv.creds = &domain.Credentials{Email: "jane@example.com", Password: "pw"}
	loginer := &blockingLoginer{release: make(chan struct{})}
	m := NewLoginManager(srv, loginer, time.Second)

	require.NoError(t, m.Start("snd-1", "", nil))
	assert.Equal(t, LoginLoggingIn, m.Status().State)
	assert.ErrorIs(t, m.Start("snd-2", "", nil), ErrLoginInProgress)

	close(loginer.release)
	m.Wait()
	st := m.Status()
	assert.Equal(t, LoginLoggedIn, st.State)
	assert.Equal(t, "snd-1", st.SenderID)
	assert.Len(t, srv.saved["snd-1"], 1)

	// A finished login frees the manager.
	loginer.release = make(chan struct{})
	close(loginer.release)
	require.NoError(t, m.Start("snd-2", "", nil))
	m.Wait()
}

func TestLoginManagerReportsFailure(t *testing.T) {
	srv := newFakeServer()
	srv.creds = &domain.Credentials{Email: "jane@example.com", Password: "pw"}
	release := make(chan struct{})
	close(release)
	m := NewLoginManager(srv, &blockingLoginer{release: release, err: errors.New("password rejected")}, time.Second)

	require.NoError(t, m.Start("snd-1", "", nil))
	m.Wait()
	st := m.Status()
	assert.Equal(t, LoginFailed, st.State)
	assert.Contains(t, st.Error, "password rejected")
	assert.False(t, st.TwoFactorRequired)
}

func TestLoginManagerFlagsTwoFactorChallenge(t *testing.T) {
	srv := newFakeServer()
	srv.creds = &domain.Credentials{Email: "jane@example.com", Password: "pw"}
	loginer := &fakeLoginer{err: fmt.Errorf("submit login: %w", browser.ErrTwoFactorRequired)}
	m := NewLoginManager(srv, loginer, time.Second)

	require.NoError(t, m.Start("snd-1", "", nil))
	m.Wait()
	st := m.Status()
	assert.Equal(t, LoginFailed, st.State)
	assert.True(t, st.TwoFactorRequired)

	body, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"twoFactorRequired":true`)
}

func TestLoginManagerPrefersSuppliedCredentials(t *testing.T) {
	srv := newFakeServer()
	srv.creds = &domain.Credentials{Email: "old@example.com", Password: "old", TOTPSecret: "STORED", ProxyURL: "http://u:p@10.0.0.1:3128"}
	loginer := &fakeLoginer{cookies: []domain.Cookie{{Name: "li_at", Value: "v"}}}
	m := NewLoginManager(srv, loginer, time.Second)

	require.NoError(t, m.Start("snd-1", "123456", &domain.Credentials{Email: "new@example.com", Password: "new"}))
	m.Wait()
	assert.Equal(t, LoginLoggedIn, m.Status().State)
	assert.Equal(t, "new@example.com", loginer.creds.Email)
	assert.Equal(t, "new", loginer.creds.Password)
	assert.Equal(t, "STORED", loginer.creds.TOTPSecret)
	assert.Equal(t, "http://u:p@10.0.0.1:3128", loginer.creds.ProxyURL)
	assert.Equal(t, "123456", loginer.code)
}

func TestLoginManagerUsesSuppliedCredentialsWithoutStoredOnes(t *testing.T) {
	srv := newFakeServer()
	loginer := &fakeLoginer{cookies: []domain.Cookie{{Name: "li_at", Value: "v"}}}
	m := NewLoginManager(srv, loginer, time.Second)

	require.NoError(t, m.Start("snd-1", "", &domain.Credentials{Email: "jane@example.com", Password: "pw", TOTPSecret: "JBSWY3DP"}))
	m.Wait()
	assert.Equal(t, LoginLoggedIn, m.Status().State)
	assert.Equal(t, "JBSWY3DP", loginer.creds.TOTPSecret)
	assert.Len(t, srv.saved["snd-1"], 1)

	// Without a body override a missing credential record still fails.
	require.NoError(t, m.Start("snd-2", "", nil))
	m.Wait()
	assert.Equal(t, LoginFailed, m.Status().State)
}

func TestLoginServerRoutes(t *testing.T) {
	srv := newFakeServer()
	srv.creds = &domain.Credentials{Email: "jane@example.com", Password: "pw"}
	loginer := &blockingLoginer{release: make(chan struct{})}
	m := NewLoginManager(srv, loginer, time.Second)
	h := NewLoginServer(m, nil, "s3cret").Routes()

	call := func(method, path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/login/status", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/login/status", "", "wrong").Code)

	rec := call(http.MethodGet, "/login/status", "", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"idle"`)

	assert.Equal(t, http.StatusBadRequest, call(http.MethodPost, "/login/start", `{}`, "s3cret").Code)
	assert.Equal(t, http.StatusBadRequest, call(http.MethodPost, "/login/start", `{"senderId":"snd-1","email":"jane@example.com"}`, "s3cret").Code)

	rec = call(http.MethodPost, "/login/start", `{"senderId":"snd-1"}`, "s3cret")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var st LoginStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, LoginLoggingIn, st.State)

	assert.Equal(t, http.StatusConflict, call(http.MethodPost, "/login/start", `{"senderId":"snd-2"}`, "s3cret").Code)

	close(loginer.release)
	m.Wait()
	assert.Contains(t, call(http.MethodGet, "/login/status", "", "s3cret").Body.String(), `"status":"logged_in"`)

	assert.Equal(t, http.StatusServiceUnavailable, call(http.MethodPost, "/interactive/start", `{"senderId":"snd-1"}`, "s3cret").Code)
	assert.Contains(t, call(http.MethodGet, "/interactive/status", "", "s3cret").Body.String(), `"active":false`)
}
