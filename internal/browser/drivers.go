package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// MaxNoteLength is the longest invitation note the site accepts.
const MaxNoteLength = 300

// Result statuses reported by the drivers. The server keys connection
// bookkeeping off "already_connected" and connectionStatus.
const (
	StatusSent             = "sent"
	StatusViewed           = "viewed"
	StatusChecked          = "checked"
	StatusAlreadyConnected = "already_connected"
	StatusAlreadyPending   = "already_pending"
)

// Driver performs one action type against a target profile.
type Driver interface {
	Run(ctx context.Context, p *Page, target domain.Target, message string) (map[string]any, error)
}

// DriverOptions tunes human-like pacing.
type DriverOptions struct {
	// Dwell is how long profile_view stays on the page. Zero picks 5 to 12s.
	Dwell time.Duration
	// Step is the pause between UI steps. Zero picks 1 to 2.5s.
	Step time.Duration
}

func (o DriverOptions) dwell() time.Duration {
	if o.Dwell > 0 {
		return o.Dwell
	}
	return 5*time.Second + rand.N(7*time.Second)
}

func (o DriverOptions) step() time.Duration {
	if o.Step > 0 {
		return o.Step
	}
	return time.Second + rand.N(1500*time.Millisecond)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Drivers returns the driver for every action type.
func Drivers(opts DriverOptions) map[domain.ActionType]Driver {
	return map[domain.ActionType]Driver{
		domain.ActionConnect:         connectDriver{opts},
		domain.ActionMessage:         messageDriver{opts},
		domain.ActionProfileView:     profileViewDriver{opts},
		domain.ActionCheckConnection: checkConnectionDriver{opts},
	}
}

// TruncateNote caps an invitation note at MaxNoteLength runes.
func TruncateNote(note string) string {
	note = strings.TrimSpace(note)
	r := []rune(note)
	if len(r) <= MaxNoteLength {
		return note
	}
	return strings.TrimSpace(string(r[:MaxNoteLength]))
}

// openProfile navigates to the target and fails fast on login walls and
// checkpoints.
func openProfile(ctx context.Context, p *Page, target domain.Target) error {
	if target.ProfileURL == "" {
		return errors.New("target has no profile url")
	}
	if err := p.Navigate(ctx, target.ProfileURL); err != nil {
		return err
	}
	return CheckPageState(ctx, p)
}

// relationship inspects the profile's top card.
const relationshipScript = `(() => {
	const card = document.querySelector('main section') || document.body;
	const text = (card.innerText || '').toLowerCase();
	const btn = (label) => !!card.querySelector('button[aria-label*="' + label + '" i]');
	if (btn('Pending') || /\bpending\b/.test(text)) return 'pending';
	if (/\b1st\b/.test(text) || (btn('Message') && !btn('Invite'))) return 'accepted';
	return 'none';
})()`

func relationship(ctx context.Context, p *Page) (domain.ConnectionStatus, error) {
	var s string
	if err := p.Eval(ctx, relationshipScript, &s); err != nil {
		return "", err
	}
	return domain.ConnectionStatus(s), nil
}

type connectDriver struct{ opts DriverOptions }

func (d connectDriver) Run(ctx context.Context, p *Page, target domain.Target, note string) (map[string]any, error) {
	if err := openProfile(ctx, p, target); err != nil {
		return nil, err
	}
	rel, err := relationship(ctx, p)
	if err != nil {
		return nil, err
	}
	switch rel {
	case domain.ConnectionAccepted:
		return map[string]any{"status": StatusAlreadyConnected}, nil
	case domain.ConnectionPending:
		return map[string]any{"status": StatusAlreadyPending}, nil
	}

	if err := d.clickConnect(ctx, p); err != nil {
		return nil, err
	}
	if err := sleep(ctx, d.opts.step()); err != nil {
		return nil, err
	}

	withNote := false
	if note = TruncateNote(note); note != "" {
		if err := p.ClickText(ctx, "button", "Add a note"); err != nil {
			return nil, err
		}
		if err := p.WaitFor(ctx, "textarea[name=message]", 12); err != nil {
			return nil, err
		}
		if err := fill(ctx, p, "textarea[name=message]", note); err != nil {
			return nil, err
		}
		withNote = true
	}
	if err := p.Click(ctx, `button[aria-label^="Send"]`); err != nil {
		if err := p.ClickText(ctx, "button", "Send"); err != nil {
			return nil, err
		}
	}
	if err := sleep(ctx, d.opts.step()); err != nil {
		return nil, err
	}
	return map[string]any{"status": StatusSent, "note": withNote}, nil
}

// clickConnect tries the primary button, then the overflow menu.
func (d connectDriver) clickConnect(ctx context.Context, p *Page) error {
	if err := p.Click(ctx, `main button[aria-label^="Invite"][aria-label$="connect"]`); err == nil {
		return nil
	}
	if err := p.ClickText(ctx, "main button", "Connect"); err == nil {
		return nil
	}
	if err := p.Click(ctx, `main button[aria-label="More actions"]`); err != nil {
		return fmt.Errorf("connect button: %w", err)
	}
	if err := sleep(ctx, d.opts.step()); err != nil {
		return err
	}
	if err := p.ClickText(ctx, "div[role=button], li, span", "Connect"); err != nil {
		return fmt.Errorf("connect menu item: %w", err)
	}
	return nil
}

type messageDriver struct{ opts DriverOptions }

func (d messageDriver) Run(ctx context.Context, p *Page, target domain.Target, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New("message body is empty")
	}
	if err := openProfile(ctx, p, target); err != nil {
		return nil, err
	}
	if err := p.Click(ctx, `main button[aria-label^="Message"]`); err != nil {
		if err := p.ClickText(ctx, "main button", "Message"); err != nil {
			return nil, fmt.Errorf("message button: %w", err)
		}
	}
	const composer = "div.msg-form__contenteditable"
	if err := p.WaitFor(ctx, composer, 20); err != nil {
		return nil, err
	}
	if err := fill(ctx, p, composer, message); err != nil {
		return nil, err
	}
	if err := sleep(ctx, d.opts.step()); err != nil {
		return nil, err
	}
	if err := p.Click(ctx, "button.msg-form__send-button"); err != nil {
		return nil, err
	}
	return map[string]any{"status": StatusSent}, nil
}

type profileViewDriver struct{ opts DriverOptions }

func (d profileViewDriver) Run(ctx context.Context, p *Page, target domain.Target, _ string) (map[string]any, error) {
	if err := openProfile(ctx, p, target); err != nil {
		return nil, err
	}
	dwell := d.opts.dwell()
	steps := 3
	for i := 0; i < steps; i++ {
		if err := p.ScrollBy(ctx, 300+rand.IntN(400)); err != nil {
			return nil, err
		}
		if err := sleep(ctx, dwell/time.Duration(steps)); err != nil {
			return nil, err
		}
	}
	return map[string]any{"status": StatusViewed, "dwellSeconds": int(dwell.Seconds())}, nil
}

type checkConnectionDriver struct{ opts DriverOptions }

func (d checkConnectionDriver) Run(ctx context.Context, p *Page, target domain.Target, _ string) (map[string]any, error) {
	if err := openProfile(ctx, p, target); err != nil {
		return nil, err
	}
	rel, err := relationship(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": StatusChecked, "connectionStatus": string(rel)}, nil
}
