package browser

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Paths that only render for an authenticated member.
var loggedInPaths = []string{"/feed", "/mynetwork", "/messaging", "/notifications", "/jobs"}

var loginWallPaths = []string{"/login", "/uas/login", "/authwall", "/signup"}

// PageState classifies where the browser landed.
type PageState int

const (
	StateUnknown PageState = iota
	StateLoggedIn
	StateLoginWall
	StateChallenge
	StateBlocked
)

func (s PageState) String() string {
	switch s {
	case StateLoggedIn:
		return "logged_in"
	case StateLoginWall:
		return "login_wall"
	case StateChallenge:
		return "challenge"
	case StateBlocked:
		return "blocked"
	}
	return "unknown"
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Path)
}

// IsLoggedInURL reports whether raw is a page only members can see.
func IsLoggedInURL(raw string) bool {
	p := urlPath(raw)
	for _, prefix := range loggedInPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// ClassifyURL maps a page URL to a PageState. Verification challenges are
// a subset of checkpoints and are checked first.
func ClassifyURL(raw string) PageState {
	p := urlPath(raw)
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(p, "/checkpoint/challenge"), strings.Contains(lower, "two-step-verification"):
		return StateChallenge
	case strings.HasPrefix(p, "/checkpoint"), strings.Contains(lower, "captcha"):
		return StateBlocked
	}
	for _, prefix := range loginWallPaths {
		if strings.HasPrefix(p, prefix) {
			return StateLoginWall
		}
	}
	if IsLoggedInURL(raw) {
		return StateLoggedIn
	}
	return StateUnknown
}

// CheckPageState returns ErrSessionExpired on a login wall and ErrBlocked
// on a checkpoint or challenge. Any other page is fine.
func CheckPageState(ctx context.Context, p *Page) error {
	u, err := p.URL(ctx)
	if err != nil {
		return err
	}
	switch ClassifyURL(u) {
	case StateLoginWall:
		return ErrSessionExpired
	case StateBlocked, StateChallenge:
		return ErrBlocked
	}
	return nil
}

// WaitOptions tunes WaitForLogin.
type WaitOptions struct {
	Interval     time.Duration
	Timeout      time.Duration
	Settle       time.Duration
	CookieDomain string
}

func (o *WaitOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 3 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
}

// WaitForLogin polls the page URL until a member-only page shows up, then
// waits for the session cookies to settle and returns them. It is used
// both after an automated login and while a human logs in over VNC.
func WaitForLogin(ctx context.Context, p *Page, opts WaitOptions) ([]domain.Cookie, error) {
	opts.defaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		u, err := p.URL(ctx)
		if err == nil && IsLoggedInURL(u) {
			logger.Info("login detected", "url", u)
			if opts.Settle > 0 {
				select {
				case <-ctx.Done():
					return nil, ErrLoginTimeout
				case <-time.After(opts.Settle):
				}
			}
			return p.Cookies(ctx, opts.CookieDomain)
		}
		if errors.Is(err, ErrClosed) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ErrLoginTimeout
		case <-ticker.C:
		}
	}
}
