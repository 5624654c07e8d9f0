package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSite answers page calls from a small state machine: submitting
// the login form moves to afterSubmit, submitting the pin moves to
// afterPin.
type scriptedSite struct {
	mu          sync.Mutex
	url         string
	afterSubmit string
	afterPin    string
	typed       []string
	pinShown    bool
}

func (s *scriptedSite) handle(method string, params json.RawMessage) (any, *ProtocolError, bool) {
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
	case "Network.getAllCookies":
		return map[string]any{"cookies": []map[string]any{
			{"name": "li_at", "value": "token", "domain": ".linkedin.com", "path": "/"},
		}}, nil, true
	case "Runtime.evaluate":
		expr := expression(params)
		switch {
		case expr == "document.readyState":
			return evalValue("complete"), nil, true
		case expr == "location.href":
			return evalValue(s.url), nil, true
		case strings.Contains(expr, "button[type=submit]") && strings.Contains(expr, ".click()"):
			if s.pinShown {
				s.url = s.afterPin
			} else {
				s.url = s.afterSubmit
				s.pinShown = true
			}
			return evalValue(true), nil, true
		default:
			return evalValue(true), nil, true
		}
	}
	return nil, nil, true
}

func (s *scriptedSite) typedTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed...)
}

func loginRequest(creds domain.Credentials, code string) LoginRequest {
	return LoginRequest{
		LoginURL:         "https://www.linkedin.com/login",
		CookieDomain:     "linkedin.com",
		Credentials:      creds,
		VerificationCode: code,
		Timeout:          time.Second,
		Interval:         5 * time.Millisecond,
	}
}

func TestLoginWithoutChallenge(t *testing.T) {
	site := &scriptedSite{afterSubmit: "https://www.linkedin.com/feed/"}
	f := newFakeDevTools(t, site.handle)
	p := NewPage(f.dial(t))

	cookies, err := Login(context.Background(), p, loginRequest(domain.Credentials{
		Email: "jane@example.com", Password: "hunter2",
	}, ""))
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "li_at", cookies[0].Name)
	assert.Equal(t, []string{"jane@example.com", "hunter2"}, site.typedTexts())
}

func TestLoginAnswersChallengeWithTOTP(t *testing.T) {
	site := &scriptedSite{
		afterSubmit: "https://www.linkedin.com/checkpoint/challenge/AgF",
		afterPin:    "https://www.linkedin.com/feed/",
	}
	f := newFakeDevTools(t, site.handle)
	p := NewPage(f.dial(t))

	_, err := Login(context.Background(), p, loginRequest(domain.Credentials{
		Email: "jane@example.com", Password: "hunter2", TOTPSecret: "JBSWY3DPEHPK3PXP",
	}, ""))
	require.NoError(t, err)
	typed := site.typedTexts()
	require.Len(t, typed, 3)
	assert.Len(t, typed[2], 6)
}

func TestLoginChallengeWithoutSecretNeedsCode(t *testing.T) {
	site := &scriptedSite{afterSubmit: "https://www.linkedin.com/checkpoint/challenge/AgF"}
	f := newFakeDevTools(t, site.handle)
	p := NewPage(f.dial(t))

	_, err := Login(context.Background(), p, loginRequest(domain.Credentials{
		Email: "jane@example.com", Password: "hunter2",
	}, ""))
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
}

func TestLoginCaptchaIsBlocked(t *testing.T) {
	site := &scriptedSite{afterSubmit: "https://www.linkedin.com/checkpoint/lg/captcha"}
	f := newFakeDevTools(t, site.handle)
	p := NewPage(f.dial(t))

	_, err := Login(context.Background(), p, loginRequest(domain.Credentials{
		Email: "jane@example.com", Password: "hunter2",
	}, ""))
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestLoginRequiresCredentials(t *testing.T) {
	_, err := Login(context.Background(), nil, LoginRequest{})
	assert.Error(t, err)
}

func TestVerificationCode(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	code, err := verificationCode(LoginRequest{VerificationCode: "123456"}, now)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	want, err := totp.GenerateCode("JBSWY3DPEHPK3PXP", now)
	require.NoError(t, err)
	code, err = verificationCode(LoginRequest{Credentials: domain.Credentials{TOTPSecret: "jbsw y3dp ehpk 3pxp"}}, now)
	require.NoError(t, err)
	assert.Equal(t, want, code)

	_, err = verificationCode(LoginRequest{}, now)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
}
