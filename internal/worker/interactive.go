package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrSessionActive is returned when an interactive session is already
// running on this worker or elsewhere in the fleet.
var ErrSessionActive = errors.New("an interactive session is already active")

const interactiveLockKey = "outreach:interactive-session"

// InteractiveStatus describes the running interactive session.
type InteractiveStatus struct {
	Active    bool       `json:"active"`
	SenderID  string     `json:"senderId,omitempty"`
	Display   string     `json:"display,omitempty"`
	VNCPort   int        `json:"vncPort,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	LoggedIn  bool       `json:"loggedIn,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// stopper is a started helper process.
type stopper interface {
	Stop()
}

// HeadfulOpener opens a visible browser on an X display.
type HeadfulOpener interface {
	OpenHeadful(ctx context.Context, display, proxyURL string) (LoginWatcher, error)
}

// InteractiveManager runs the virtual display, visible browser and VNC
// server a human uses to sign a sender in. At most one session runs across
// the fleet: an in-process flag plus a Redis lease.
type InteractiveManager struct {
	cfg     config.InteractiveConfig
	server  Server
	browser HeadfulOpener
	rdb     *redis.Client
	spawn   func(name string, args ...string) (stopper, error)

	mu      sync.Mutex
	status  InteractiveStatus
	lock    *distlock.RedisLock
	xvfb    stopper
	vnc     stopper
	watcher LoginWatcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewInteractiveManager returns a manager. rdb may be nil, in which case
// only the in-process check applies.
func NewInteractiveManager(cfg config.InteractiveConfig, server Server, opener HeadfulOpener, rdb *redis.Client) *InteractiveManager {
	return &InteractiveManager{cfg: cfg, server: server, browser: opener, rdb: rdb, spawn: spawnProcess}
}

func (m *InteractiveManager) maxDuration() time.Duration {
	if m.cfg.MaxMinutes <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(m.cfg.MaxMinutes) * time.Minute
}

// Start brings up the display, VNC server and browser for senderID. If
// any piece fails, everything already started is torn down.
func (m *InteractiveManager) Start(ctx context.Context, senderID string) (InteractiveStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Active {
		return m.status, ErrSessionActive
	}

	if m.rdb != nil {
		lock := distlock.NewRedisLock(m.rdb, interactiveLockKey, m.maxDuration()+time.Minute)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return InteractiveStatus{}, fmt.Errorf("acquire interactive lease: %w", err)
		}
		if !ok {
			return InteractiveStatus{}, ErrSessionActive
		}
		m.lock = lock
	}

	if err := m.bringUp(ctx, senderID); err != nil {
		m.tearDownLocked()
		return InteractiveStatus{}, err
	}

	now := time.Now().UTC()
	m.status = InteractiveStatus{
		Active:    true,
		SenderID:  senderID,
		Display:   m.cfg.Display,
		VNCPort:   m.cfg.VNCPort,
		StartedAt: &now,
	}

	watchCtx, cancel := context.WithTimeout(context.Background(), m.maxDuration())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.watch(watchCtx, senderID, m.watcher, m.done)

	logger.Info("interactive session started", "sender_id", senderID, "display", m.cfg.Display, "vnc_port", m.cfg.VNCPort)
	return m.status, nil
}

func (m *InteractiveManager) bringUp(ctx context.Context, senderID string) error {
	xvfb, err := m.spawn(m.cfg.XvfbPath, m.cfg.Display, "-screen", "0", m.cfg.Resolution, "-nolisten", "tcp")
	if err != nil {
		return fmt.Errorf("start virtual display: %w", err)
	}
	m.xvfb = xvfb

	vnc, err := m.spawn(m.cfg.VNCPath, "-display", m.cfg.Display, "-rfbport", strconv.Itoa(m.cfg.VNCPort),
		"-forever", "-shared", "-nopw", "-quiet")
	if err != nil {
		return fmt.Errorf("start vnc server: %w", err)
	}
	m.vnc = vnc

	proxyURL := ""
	if creds, err := m.server.Credentials(ctx, senderID); err == nil {
		proxyURL = creds.ProxyURL
	}
	w, err := m.browser.OpenHeadful(ctx, m.cfg.Display, proxyURL)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	m.watcher = w
	return nil
}

// watch waits for the human to reach the feed, saves the session and
// tears the session down.
func (m *InteractiveManager) watch(ctx context.Context, senderID string, w LoginWatcher, done chan struct{}) {
	defer close(done)
	cookies, err := w.WaitForLogin(ctx, m.maxDuration())
	if err == nil {
		err = m.server.SaveSession(context.WithoutCancel(ctx), senderID, cookies)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != w {
		// Stopped and replaced meanwhile.
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("interactive login ended without session", "sender_id", senderID, "error", err)
		}
		m.status.Error = err.Error()
	} else {
		logger.Info("interactive login captured session", "sender_id", senderID, "cookie_count", len(cookies))
		m.status.LoggedIn = true
	}
	last := m.status
	m.tearDownLocked()
	m.status = InteractiveStatus{LoggedIn: last.LoggedIn, Error: last.Error, SenderID: last.SenderID}
}

// Stop tears the session down. It is a no-op when none is running.
func (m *InteractiveManager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.status.Active {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.tearDownLocked()
	m.status = InteractiveStatus{}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	logger.Info("interactive session stopped")
}

// Status returns the current session status.
func (m *InteractiveManager) Status() InteractiveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *InteractiveManager) tearDownLocked() {
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
	if m.vnc != nil {
		m.vnc.Stop()
		m.vnc = nil
	}
	if m.xvfb != nil {
		m.xvfb.Stop()
		m.xvfb = nil
	}
	if m.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.lock.Release(ctx)
		cancel()
		m.lock = nil
	}
	m.status.Active = false
}

type execProcess struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

func spawnProcess(name string, args ...string) (stopper, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *execProcess) Stop() {
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
