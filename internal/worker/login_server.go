package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ignite/outreach/internal/api"
	"github.com/ignite/outreach/internal/browser"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// ErrLoginInProgress is returned when a login is already running.
var ErrLoginInProgress = errors.New("a login is already in progress")

// LoginState is the login manager's phase.
type LoginState string

const (
	LoginIdle      LoginState = "idle"
	LoginLoggingIn LoginState = "logging_in"
	LoginLoggedIn  LoginState = "logged_in"
	LoginFailed    LoginState = "failed"
)

// LoginStatus is reported by GET /login/status.
type LoginStatus struct {
	State     LoginState `json:"status"`
	SenderID  string     `json:"senderId,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// TwoFactorRequired is set when the login stopped at a verification
	// challenge; retry with verificationCode or a totpSecret.
	TwoFactorRequired bool `json:"twoFactorRequired,omitempty"`
}

// LoginManager runs one credential login at a time in the background.
type LoginManager struct {
	server  Server
	loginer Loginer
	timeout time.Duration

	mu     sync.Mutex
	status LoginStatus
	done   chan struct{}
}

// NewLoginManager returns an idle manager.
func NewLoginManager(server Server, loginer Loginer, timeout time.Duration) *LoginManager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LoginManager{server: server, loginer: loginer, timeout: timeout, status: LoginStatus{State: LoginIdle}}
}

// Start begins a login for senderID and saves the captured cookies back to
// the server on success. Credentials come from override when it carries an
// email and password, otherwise from the server.
func (m *LoginManager) Start(senderID, verificationCode string, override *domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State == LoginLoggingIn {
		return ErrLoginInProgress
	}
	now := time.Now().UTC()
	m.status = LoginStatus{State: LoginLoggingIn, SenderID: senderID, StartedAt: &now}
	m.done = make(chan struct{})
	go m.run(senderID, verificationCode, override, m.done)
	return nil
}

func (m *LoginManager) run(senderID, code string, override *domain.Credentials, done chan struct{}) {
	defer close(done)
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.login(ctx, senderID, code, override)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		logger.Warn("login failed", "sender_id", senderID, "error", err)
		m.status.State = LoginFailed
		m.status.Error = err.Error()
		m.status.TwoFactorRequired = errors.Is(err, browser.ErrTwoFactorRequired)
		return
	}
	logger.Info("login succeeded", "sender_id", senderID)
	m.status.State = LoginLoggedIn
}

func (m *LoginManager) login(ctx context.Context, senderID, code string, override *domain.Credentials) error {
	creds, err := m.credentials(ctx, senderID, override)
	if err != nil {
		return err
	}
	cookies, err := m.loginer.Login(ctx, *creds, code)
	if err != nil {
		return err
	}
	return m.server.SaveSession(ctx, senderID, cookies)
}

// credentials merges override with what the server stores. Stored values
// fill the gaps: the proxy always comes from the server, and so does the
// TOTP secret unless the caller supplied one.
func (m *LoginManager) credentials(ctx context.Context, senderID string, override *domain.Credentials) (*domain.Credentials, error) {
	stored, err := m.server.Credentials(ctx, senderID)
	if override == nil || override.Email == "" || override.Password == "" {
		if err != nil {
			return nil, err
		}
		if override != nil && override.TOTPSecret != "" {
			stored.TOTPSecret = override.TOTPSecret
		}
		return stored, nil
	}
	creds := *override
	if err != nil {
		logger.Warn("stored credentials unavailable, using supplied ones", "sender_id", senderID, "error", err)
		return &creds, nil
	}
	if creds.TOTPSecret == "" {
		creds.TOTPSecret = stored.TOTPSecret
	}
	creds.ProxyURL = stored.ProxyURL
	return &creds, nil
}

// Status returns a copy of the current status.
func (m *LoginManager) Status() LoginStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Wait blocks until the running login, if any, ends.
func (m *LoginManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// LoginServer exposes login and interactive-session control on the worker.
type LoginServer struct {
	logins      *LoginManager
	interactive *InteractiveManager
	secret      string
	startTime   time.Time
	server      *http.Server
}

// NewLoginServer builds the server. interactive may be nil.
func NewLoginServer(logins *LoginManager, interactive *InteractiveManager, secret string) *LoginServer {
	return &LoginServer{logins: logins, interactive: interactive, secret: secret, startTime: time.Now()}
}

// Routes returns the router.
func (s *LoginServer) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok", "uptime": time.Since(s.startTime).Round(time.Second).String()})
	})

	r.Group(func(r chi.Router) {
		r.Use(api.BearerAuth(s.secret))
		r.Post("/login/start", s.handleLoginStart)
		r.Get("/login/status", s.handleLoginStatus)
		r.Post("/interactive/start", s.handleInteractiveStart)
		r.Post("/interactive/stop", s.handleInteractiveStop)
		r.Get("/interactive/status", s.handleInteractiveStatus)
	})
	return r
}

type loginStartRequest struct {
	SenderID         string `json:"senderId"`
	VerificationCode string `json:"verificationCode,omitempty"`
	Email            string `json:"email,omitempty"`
	Password         string `json:"password,omitempty"`
	TOTPSecret       string `json:"totpSecret,omitempty"`
}

func (s *LoginServer) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	var req loginStartRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		httputil.BadRequest(w, "senderId is required")
		return
	}
	if (req.Email == "") != (req.Password == "") {
		httputil.BadRequest(w, "email and password must be given together")
		return
	}
	var override *domain.Credentials
	if req.Email != "" || req.TOTPSecret != "" {
		override = &domain.Credentials{Email: req.Email, Password: req.Password, TOTPSecret: req.TOTPSecret}
	}
	if err := s.logins.Start(req.SenderID, req.VerificationCode, override); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.JSON(w, http.StatusAccepted, s.logins.Status())
}

func (s *LoginServer) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.logins.Status())
}

type interactiveStartRequest struct {
	SenderID string `json:"senderId"`
}

func (s *LoginServer) handleInteractiveStart(w http.ResponseWriter, r *http.Request) {
	if s.interactive == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "interactive sessions are not configured")
		return
	}
	var req interactiveStartRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		httputil.BadRequest(w, "senderId is required")
		return
	}
	st, err := s.interactive.Start(r.Context(), req.SenderID)
	if err != nil {
		if errors.Is(err, ErrSessionActive) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, st)
}

func (s *LoginServer) handleInteractiveStop(w http.ResponseWriter, r *http.Request) {
	if s.interactive == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "interactive sessions are not configured")
		return
	}
	s.interactive.Stop(r.Context())
	httputil.NoContent(w)
}

func (s *LoginServer) handleInteractiveStatus(w http.ResponseWriter, r *http.Request) {
	if s.interactive == nil {
		httputil.OK(w, InteractiveStatus{})
		return
	}
	httputil.OK(w, s.interactive.Status())
}

// ListenAndServe starts serving on addr.
func (s *LoginServer) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops the server.
func (s *LoginServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
