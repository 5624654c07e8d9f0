package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/pquerna/otp/totp"
)

// Login form selectors.
const (
	usernameSelector = "#username"
	passwordSelector = "#password"
	submitSelector   = "button[type=submit]"
	pinSelector      = "input[name=pin]"
)

// LoginRequest describes one automated login.
type LoginRequest struct {
	LoginURL     string
	CookieDomain string
	Credentials  domain.Credentials
	// VerificationCode answers an emailed or SMS challenge. When empty and
	// the credentials carry a TOTP secret, a code is generated.
	VerificationCode string
	Timeout          time.Duration
	// Settle is how long to wait after the feed shows before reading cookies.
	Settle time.Duration
	// Interval overrides the URL polling interval.
	Interval time.Duration
}

// verificationCode picks the challenge answer for req at now.
func verificationCode(req LoginRequest, now time.Time) (string, error) {
	if req.VerificationCode != "" {
		return req.VerificationCode, nil
	}
	secret := strings.ReplaceAll(strings.ToUpper(req.Credentials.TOTPSecret), " ", "")
	if secret == "" {
		return "", ErrTwoFactorRequired
	}
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// fill focuses selector and types value.
func fill(ctx context.Context, p *Page, selector, value string) error {
	if err := p.Focus(ctx, selector); err != nil {
		return err
	}
	return p.InsertText(ctx, value)
}

// Login signs in with email and password, answers a verification
// challenge when one appears, and returns the session cookies.
func Login(ctx context.Context, p *Page, req LoginRequest) ([]domain.Cookie, error) {
	if req.Credentials.Email == "" || req.Credentials.Password == "" {
		return nil, fmt.Errorf("login: email and password are required")
	}
	log := logger.With("email", req.Credentials.Email)

	if err := p.Navigate(ctx, req.LoginURL); err != nil {
		return nil, err
	}

	// A restored session may land straight on the feed.
	if u, err := p.URL(ctx); err == nil && IsLoggedInURL(u) {
		log.Info("already logged in")
		return p.Cookies(ctx, req.CookieDomain)
	}

	if err := p.WaitFor(ctx, usernameSelector, 20); err != nil {
		return nil, fmt.Errorf("login form: %w", err)
	}
	if err := fill(ctx, p, usernameSelector, req.Credentials.Email); err != nil {
		return nil, err
	}
	if err := fill(ctx, p, passwordSelector, req.Credentials.Password); err != nil {
		return nil, err
	}
	if err := p.Click(ctx, submitSelector); err != nil {
		return nil, err
	}
	_ = p.WaitReady(ctx)

	u, err := p.URL(ctx)
	if err != nil {
		return nil, err
	}
	switch ClassifyURL(u) {
	case StateChallenge:
		log.Info("verification challenge")
		code, err := verificationCode(req, time.Now())
		if err != nil {
			return nil, err
		}
		if err := p.WaitFor(ctx, pinSelector, 20); err != nil {
			return nil, fmt.Errorf("verification form: %w", err)
		}
		if err := fill(ctx, p, pinSelector, code); err != nil {
			return nil, err
		}
		if err := p.Click(ctx, submitSelector); err != nil {
			return nil, err
		}
		_ = p.WaitReady(ctx)
		if u, err := p.URL(ctx); err == nil && ClassifyURL(u) == StateBlocked {
			return nil, ErrBlocked
		}
	case StateBlocked:
		return nil, ErrBlocked
	}

	cookies, err := WaitForLogin(ctx, p, WaitOptions{
		Interval:     req.Interval,
		Timeout:      req.Timeout,
		Settle:       req.Settle,
		CookieDomain: req.CookieDomain,
	})
	if err != nil {
		return nil, err
	}
	log.Info("login complete", "cookie_count", len(cookies))
	return cookies, nil
}
