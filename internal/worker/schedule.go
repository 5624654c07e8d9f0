package worker

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ignite/outreach/internal/config"
)

// Window is the business-hours window in which the worker may act:
// [start, end) local hours on the active weekdays.
type Window struct {
	loc   *time.Location
	start int
	end   int
	days  map[time.Weekday]bool
}

// NewWindow builds a Window from validated configuration.
func NewWindow(cfg config.BusinessHoursConfig) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	w := &Window{loc: loc, start: cfg.StartHour, end: cfg.EndHour, days: make(map[time.Weekday]bool)}
	for _, d := range cfg.Days {
		wd, _ := config.ParseWeekday(d)
		w.days[wd] = true
	}
	return w, nil
}

// IsWithinBusinessHours reports whether now falls inside the window.
func (w *Window) IsWithinBusinessHours(now time.Time) bool {
	local := now.In(w.loc)
	if !w.days[local.Weekday()] {
		return false
	}
	h := local.Hour()
	return h >= w.start && h < w.end
}

// UntilBusinessHours returns how long until the window next opens, or 0
// when it is open now.
func (w *Window) UntilBusinessHours(now time.Time) time.Duration {
	if w.IsWithinBusinessHours(now) {
		return 0
	}
	local := now.In(w.loc)
	for i := 0; i <= 7; i++ {
		open := time.Date(local.Year(), local.Month(), local.Day()+i, w.start, 0, 0, 0, w.loc)
		if open.After(local) && w.days[open.Weekday()] {
			return open.Sub(local)
		}
	}
	// No active days configured.
	return 24 * time.Hour
}

// Pacing holds the randomized delays that keep activity human-shaped.
type Pacing struct {
	PollMin, PollMax     time.Duration
	ActionMin, ActionMax time.Duration
}

// PacingFromConfig converts worker settings to a Pacing.
func PacingFromConfig(cfg config.WorkerConfig) Pacing {
	return Pacing{
		PollMin:   time.Duration(cfg.PollMinSeconds) * time.Second,
		PollMax:   time.Duration(cfg.PollMaxSeconds) * time.Second,
		ActionMin: time.Duration(cfg.ActionDelayMinSecs) * time.Second,
		ActionMax: time.Duration(cfg.ActionDelayMaxSecs) * time.Second,
	}
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// PollDelay is the sleep between poll cycles.
func (p Pacing) PollDelay() time.Duration { return uniform(p.PollMin, p.PollMax) }

// ActionDelay is the sleep before each action.
func (p Pacing) ActionDelay() time.Duration { return uniform(p.ActionMin, p.ActionMax) }
