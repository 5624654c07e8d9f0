package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ignite/outreach/internal/browser"
	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Session is a browser opened for one sender's batch.
type Session interface {
	Run(ctx context.Context, a domain.Action, message string) (map[string]any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// Opener opens a browser session restored from saved cookies.
type Opener interface {
	Open(ctx context.Context, snd domain.Sender, cookies []domain.Cookie, proxyURL string) (Session, error)
}

// Loginer performs an automated credential login and returns the
// captured cookies.
type Loginer interface {
	Login(ctx context.Context, creds domain.Credentials, verificationCode string) ([]domain.Cookie, error)
}

// proxySettings splits a proxy URL into the --proxy-server value and the
// credentials answered through the page's auth handler.
type proxySettings struct {
	Server   string
	Username string
	Password string
}

func parseProxy(raw string) (proxySettings, error) {
	if raw == "" {
		return proxySettings{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return proxySettings{}, fmt.Errorf("invalid proxy url %q", raw)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	ps := proxySettings{Server: scheme + "://" + u.Host}
	if u.User != nil {
		ps.Username = u.User.Username()
		ps.Password, _ = u.User.Password()
	}
	return ps, nil
}

// BrowserOpener launches a local browser per session.
type BrowserOpener struct {
	cfg     config.BrowserConfig
	drivers map[domain.ActionType]browser.Driver
}

// NewBrowserOpener returns an Opener and Loginer backed by real browsers.
func NewBrowserOpener(cfg config.BrowserConfig) *BrowserOpener {
	return &BrowserOpener{cfg: cfg, drivers: browser.Drivers(browser.DriverOptions{})}
}

// start launches a browser and prepares its first page.
func (o *BrowserOpener) start(ctx context.Context, proxyURL, display string, headless bool) (*browserSession, error) {
	proxy, err := parseProxy(proxyURL)
	if err != nil {
		return nil, err
	}
	proc, err := browser.Launch(ctx, browser.LaunchOptions{
		BinaryPath:  o.cfg.BinaryPath,
		Headless:    headless,
		ProxyServer: proxy.Server,
		Display:     display,
	})
	if err != nil {
		return nil, err
	}
	client, err := browser.Dial(ctx, proc.WebSocketURL)
	if err != nil {
		proc.Close()
		return nil, err
	}
	client.SetDefaultTimeout(o.cfg.CommandTimeout())

	s := &browserSession{proc: proc, client: client, page: browser.NewPage(client), drivers: o.drivers}
	err = s.page.Init(ctx, browser.PageOptions{
		UserAgent:     o.cfg.UserAgent,
		ProxyUsername: proxy.Username,
		ProxyPassword: proxy.Password,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Open launches a headless browser, restores cookies and confirms the
// session is still signed in.
func (o *BrowserOpener) Open(ctx context.Context, snd domain.Sender, cookies []domain.Cookie, proxyURL string) (Session, error) {
	if proxyURL == "" {
		proxyURL = o.cfg.ProxyURL
	}
	s, err := o.start(ctx, proxyURL, "", o.cfg.Headless)
	if err != nil {
		return nil, err
	}
	if err := s.page.SetCookies(ctx, cookies); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.page.Navigate(ctx, o.cfg.SiteURL+"/feed/"); err != nil {
		s.Close()
		return nil, err
	}
	if err := browser.CheckPageState(ctx, s.page); err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("browser session ready", "sender_id", snd.ID, "cookie_count", len(cookies))
	return s, nil
}

// Login runs the credential login in a fresh headless browser.
func (o *BrowserOpener) Login(ctx context.Context, creds domain.Credentials, code string) ([]domain.Cookie, error) {
	proxyURL := creds.ProxyURL
	if proxyURL == "" {
		proxyURL = o.cfg.ProxyURL
	}
	s, err := o.start(ctx, proxyURL, "", o.cfg.Headless)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return browser.Login(ctx, s.page, browser.LoginRequest{
		LoginURL:         o.cfg.LoginURL,
		CookieDomain:     o.cfg.CookieDomain,
		Credentials:      creds,
		VerificationCode: code,
		Timeout:          o.cfg.LoginTimeout(),
		Settle:           3 * time.Second,
	})
}

// OpenHeadful launches a visible browser on display at the login page for
// a human to sign in over VNC.
func (o *BrowserOpener) OpenHeadful(ctx context.Context, display, proxyURL string) (LoginWatcher, error) {
	if proxyURL == "" {
		proxyURL = o.cfg.ProxyURL
	}
	s, err := o.start(ctx, proxyURL, display, false)
	if err != nil {
		return nil, err
	}
	if err := s.page.Navigate(ctx, o.cfg.LoginURL); err != nil {
		s.Close()
		return nil, err
	}
	return &headfulWatcher{s: s, cookieDomain: o.cfg.CookieDomain}, nil
}

type browserSession struct {
	proc    *browser.Process
	client  *browser.Client
	page    *browser.Page
	drivers map[domain.ActionType]browser.Driver
}

func (s *browserSession) Run(ctx context.Context, a domain.Action, message string) (map[string]any, error) {
	d, ok := s.drivers[a.ActionType]
	if !ok {
		return nil, fmt.Errorf("no driver for action type %q", a.ActionType)
	}
	return d.Run(ctx, s.page, a.Target, message)
}

func (s *browserSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(ctx)
}

func (s *browserSession) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.proc != nil {
		s.proc.Close()
	}
}

// LoginWatcher waits for a human to finish signing in.
type LoginWatcher interface {
	WaitForLogin(ctx context.Context, timeout time.Duration) ([]domain.Cookie, error)
	Close()
}

type headfulWatcher struct {
	s            *browserSession
	cookieDomain string
}

func (w *headfulWatcher) WaitForLogin(ctx context.Context, timeout time.Duration) ([]domain.Cookie, error) {
	return browser.WaitForLogin(ctx, w.s.page, browser.WaitOptions{
		Timeout:      timeout,
		Settle:       3 * time.Second,
		CookieDomain: w.cookieDomain,
	})
}

func (w *headfulWatcher) Close() { w.s.Close() }

// isSessionError reports errors that mean the saved session is unusable.
func isSessionError(err error) bool {
	return errors.Is(err, browser.ErrSessionExpired)
}
