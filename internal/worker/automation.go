// Package worker runs the browser automation loop that executes queued
// outreach actions, plus the server-side recovery and warmup loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach/internal/browser"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/storage"
	"github.com/ignite/outreach/internal/template"
)

// Server is the part of the /worker API the automation loop uses.
type Server interface {
	ListSenders(ctx context.Context, workspaceID string) ([]domain.Sender, error)
	NextActions(ctx context.Context, senderID string, limit int) ([]domain.Action, error)
	Complete(ctx context.Context, actionID string, result map[string]any) error
	Fail(ctx context.Context, actionID, msg string) (bool, error)
	Release(ctx context.Context, actionID, reason string) error
	Usage(ctx context.Context, senderID string) (*domain.UsageResponse, error)
	Session(ctx context.Context, senderID string) ([]domain.Cookie, error)
	SaveSession(ctx context.Context, senderID string, cookies []domain.Cookie) error
	Credentials(ctx context.Context, senderID string) (*domain.Credentials, error)
	SessionExpired(ctx context.Context, senderID string) error
	Pause(ctx context.Context, senderID string, reason domain.PauseReason) error
}

// State is the automation loop's current phase.
type State string

const (
	StateIdle      State = "idle"
	StateWaiting   State = "waiting_for_window"
	StatePolling   State = "polling"
	StateExecuting State = "executing"
	StateReporting State = "reporting"
)

// Options configures an Automation.
type Options struct {
	Workspaces       []string
	ActionsPerSender int
	// MaxProtocolTimeouts consecutive call timeouts are treated as an
	// expired session.
	MaxProtocolTimeouts int
	AutoRelogin         bool
	SnapshotOnFailure   bool
}

// Automation is the worker's poll and execute loop.
type Automation struct {
	server    Server
	opener    Opener
	loginer   Loginer
	renderer  *template.Renderer
	snapshots storage.Store
	window    *Window
	pacing    Pacing
	opts      Options

	state atomic.Value
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewAutomation wires the loop. loginer and snapshots may be nil.
func NewAutomation(server Server, opener Opener, loginer Loginer, renderer *template.Renderer,
	snapshots storage.Store, window *Window, pacing Pacing, opts Options) *Automation {
	if opts.ActionsPerSender <= 0 {
		opts.ActionsPerSender = 5
	}
	if opts.MaxProtocolTimeouts <= 0 {
		opts.MaxProtocolTimeouts = 3
	}
	a := &Automation{
		server:    server,
		opener:    opener,
		loginer:   loginer,
		renderer:  renderer,
		snapshots: snapshots,
		window:    window,
		pacing:    pacing,
		opts:      opts,
		sleep:     sleepCtx,
		now:       time.Now,
	}
	a.state.Store(StateIdle)
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the loop's current phase.
func (a *Automation) State() State { return a.state.Load().(State) }

func (a *Automation) setState(s State) { a.state.Store(s) }

// Run loops until ctx is cancelled: wait for business hours, run a cycle,
// sleep a poll delay.
func (a *Automation) Run(ctx context.Context) error {
	logger.Info("automation started", "workspaces", len(a.opts.Workspaces), "per_sender", a.opts.ActionsPerSender)
	defer a.setState(StateIdle)

	for {
		if wait := a.window.UntilBusinessHours(a.now()); wait > 0 {
			a.setState(StateWaiting)
			logger.Info("outside business hours", "resume_in", wait.Round(time.Minute).String())
			if err := a.sleep(ctx, wait); err != nil {
				return nil
			}
			continue
		}

		report := a.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Info("cycle complete", "senders", report.Senders, "executed", report.Executed,
			"completed", report.Completed, "failed", report.Failed, "released", report.Released)

		a.setState(StateWaiting)
		if err := a.sleep(ctx, a.pacing.PollDelay()); err != nil {
			return nil
		}
	}
}

// CycleReport counts one pass over every workspace.
type CycleReport struct {
	Senders   int
	Executed  int
	Completed int
	Failed    int
	Released  int
}

func (r *CycleReport) add(o CycleReport) {
	r.Senders += o.Senders
	r.Executed += o.Executed
	r.Completed += o.Completed
	r.Failed += o.Failed
	r.Released += o.Released
}

// RunCycle processes every claimable sender of every workspace once.
func (a *Automation) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport
	for _, ws := range a.opts.Workspaces {
		a.setState(StatePolling)
		senders, err := a.server.ListSenders(ctx, ws)
		if err != nil {
			logger.Error("list senders failed", "workspace_id", ws, "error", err)
			continue
		}
		for i := range senders {
			if ctx.Err() != nil || !a.window.IsWithinBusinessHours(a.now()) {
				return report
			}
			snd := senders[i]
			if !snd.Claimable() {
				continue
			}
			report.add(a.runSender(ctx, snd))
		}
	}
	return report
}

// runSender executes one batch for a sender in a single browser. Actions
// that were claimed but never run go back to the queue through Release so
// they keep their retry budget; only actions the driver actually attempted
// are reported through Fail.
func (a *Automation) runSender(ctx context.Context, snd domain.Sender) CycleReport {
	report := CycleReport{Senders: 1}
	log := logger.With("sender_id", snd.ID)

	if a.budgetSpent(ctx, snd.ID) {
		log.Debug("daily budget spent, skipping sender")
		return report
	}

	actions, err := a.server.NextActions(ctx, snd.ID, a.opts.ActionsPerSender)
	if err != nil {
		log.Error("claim actions failed", "error", err)
		return report
	}
	if len(actions) == 0 {
		return report
	}
	log.Info("claimed actions", "count", len(actions))

	cookies, err := a.server.Session(ctx, snd.ID)
	if err != nil {
		log.Error("load session failed", "error", err)
		report.Released += a.releaseAll(ctx, actions, "load session failed")
		return report
	}
	creds := a.credentials(ctx, snd.ID)
	proxyURL := ""
	if creds != nil {
		proxyURL = creds.ProxyURL
	}

	a.setState(StateExecuting)
	sess, err := a.opener.Open(ctx, snd, cookies, proxyURL)
	if err != nil {
		log.Error("open browser failed", "error", err)
		report.Released += a.releaseAll(ctx, actions, "open browser failed")
		switch {
		case isSessionError(err):
			a.sessionExpired(ctx, snd.ID, creds)
		case errors.Is(err, browser.ErrBlocked):
			a.pause(ctx, snd.ID, domain.PauseCaptcha)
		}
		return report
	}
	defer sess.Close()

	timeouts := 0
	for i, act := range actions {
		if err := a.sleep(ctx, a.pacing.ActionDelay()); err != nil {
			report.Released += a.releaseAll(context.WithoutCancel(ctx), actions[i:], "worker shutting down")
			return report
		}
		if !a.window.IsWithinBusinessHours(a.now()) {
			log.Info("business hours ended, releasing batch", "remaining", len(actions)-i)
			report.Released += a.releaseAll(ctx, actions[i:], "outside business hours")
			return report
		}

		a.setState(StateExecuting)
		result, err := a.execute(ctx, sess, act)
		report.Executed++

		a.setState(StateReporting)
		if err == nil {
			timeouts = 0
			if rerr := a.server.Complete(ctx, act.ID, result); rerr != nil {
				log.Error("report complete failed", "action_id", act.ID, "error", rerr)
			}
			report.Completed++
			continue
		}

		if !errors.Is(err, errRender) {
			a.snapshot(ctx, sess, snd.ID, act.ID)
		}

		// A login wall or checkpoint says nothing about the action itself.
		switch {
		case isSessionError(err):
			log.Warn("session expired, stopping sender", "action_id", act.ID)
			report.Released += a.releaseAll(ctx, actions[i:], "sender session expired")
			a.sessionExpired(ctx, snd.ID, creds)
			return report
		case errors.Is(err, browser.ErrBlocked):
			log.Warn("checkpoint detected, pausing sender", "action_id", act.ID)
			report.Released += a.releaseAll(ctx, actions[i:], "sender paused: checkpoint")
			a.pause(ctx, snd.ID, domain.PauseCaptcha)
			return report
		}

		report.Failed++
		a.fail(ctx, act, err)

		if errors.Is(err, browser.ErrCallTimeout) {
			timeouts++
		} else {
			timeouts = 0
		}
		if timeouts >= a.opts.MaxProtocolTimeouts {
			log.Warn("browser unresponsive, treating session as expired", "action_id", act.ID, "timeouts", timeouts)
			report.Released += a.releaseAll(ctx, actions[i+1:], "sender session expired")
			a.sessionExpired(ctx, snd.ID, creds)
			return report
		}
	}
	return report
}

// budgetSpent reports whether the sender has nothing left today of any
// action type. A failed lookup does not skip the sender; the server still
// admits every claim against the same budget.
func (a *Automation) budgetSpent(ctx context.Context, senderID string) bool {
	u, err := a.server.Usage(ctx, senderID)
	if err != nil {
		logger.Warn("load usage failed", "sender_id", senderID, "error", err)
		return false
	}
	return u.Usage.ConnectionsSent >= u.Limits.Connections &&
		u.Usage.MessagesSent >= u.Limits.Messages &&
		u.Usage.ProfileViews >= u.Limits.ProfileViews
}

var errRender = errors.New("render message")

// execute renders the message and runs the driver. A panicking driver
// fails only its own action.
func (a *Automation) execute(ctx context.Context, sess Session, act domain.Action) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("driver panic", "action_id", act.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()

	message := ""
	if act.Message != nil && *act.Message != "" {
		message, err = a.renderer.Render(*act.Message, act.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errRender, err)
		}
	}
	return sess.Run(ctx, act, message)
}

func (a *Automation) fail(ctx context.Context, act domain.Action, cause error) {
	requeued, err := a.server.Fail(ctx, act.ID, cause.Error())
	if err != nil {
		logger.Error("report failure failed", "action_id", act.ID, "error", err)
		return
	}
	logger.Warn("action failed", "action_id", act.ID, "type", string(act.ActionType),
		"requeued", requeued, "error", cause)
}

// releaseAll hands unexecuted actions back to the queue.
func (a *Automation) releaseAll(ctx context.Context, actions []domain.Action, reason string) int {
	n := 0
	for _, act := range actions {
		if err := a.server.Release(ctx, act.ID, reason); err != nil {
			logger.Error("release action failed", "action_id", act.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// credentials returns nil when the sender has none stored.
func (a *Automation) credentials(ctx context.Context, senderID string) *domain.Credentials {
	creds, err := a.server.Credentials(ctx, senderID)
	if err != nil {
		if !IsNotFound(err) {
			logger.Warn("load credentials failed", "sender_id", senderID, "error", err)
		}
		return nil
	}
	return creds
}

// sessionExpired reports the expiry and, when enabled, signs in again so
// the next cycle can resume.
func (a *Automation) sessionExpired(ctx context.Context, senderID string, creds *domain.Credentials) {
	if err := a.server.SessionExpired(ctx, senderID); err != nil {
		logger.Error("report session expired failed", "sender_id", senderID, "error", err)
	}
	if !a.opts.AutoRelogin || a.loginer == nil || creds == nil || creds.Password == "" {
		return
	}
	cookies, err := a.loginer.Login(ctx, *creds, "")
	if err != nil {
		logger.Warn("automatic re-login failed", "sender_id", senderID, "error", err)
		if errors.Is(err, browser.ErrBlocked) {
			a.pause(ctx, senderID, domain.PauseCaptcha)
		}
		return
	}
	if err := a.server.SaveSession(ctx, senderID, cookies); err != nil {
		logger.Error("save session after re-login failed", "sender_id", senderID, "error", err)
		return
	}
	logger.Info("sender re-logged in", "sender_id", senderID, "cookie_count", len(cookies))
}

func (a *Automation) pause(ctx context.Context, senderID string, reason domain.PauseReason) {
	if err := a.server.Pause(ctx, senderID, reason); err != nil {
		logger.Error("pause sender failed", "sender_id", senderID, "reason", string(reason), "error", err)
	}
}

func (a *Automation) snapshot(ctx context.Context, sess Session, senderID, actionID string) {
	if !a.opts.SnapshotOnFailure || a.snapshots == nil {
		return
	}
	img, err := sess.Screenshot(ctx)
	if err != nil {
		logger.Debug("failure screenshot unavailable", "action_id", actionID, "error", err)
		return
	}
	loc, err := a.snapshots.Save(ctx, storage.Snapshot{
		SenderID:    senderID,
		ActionID:    actionID,
		Name:        "screenshot.png",
		ContentType: "image/png",
		Data:        img,
		TakenAt:     a.now(),
	})
	if err != nil {
		logger.Warn("save failure snapshot failed", "action_id", actionID, "error", err)
		return
	}
	logger.Info("failure snapshot saved", "action_id", actionID, "location", loc)
}
