// Package clock resolves the current time in the fixed business timezone
// and classifies active sessions into their time-derived sub-phase. The
// timezone is a fixed UTC offset configured explicitly: the serverless
// hosts this runs on do not reliably ship tzdata, so we never call
// time.LoadLocation here.
package clock

import (
	"time"

	"github.com/auralabs/aura-agent/internal/config"
)

// Phase is a time-derived sub-state of a session.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseOpening      Phase = "opening"
	PhaseExploration  Phase = "exploration"
	PhaseReframe      Phase = "reframe"
	PhaseDevelopment  Phase = "development"
	PhaseTransition   Phase = "transition"
	PhaseSoftClosing  Phase = "soft_closing"
	PhaseFinalClosing Phase = "final_closing"
	PhaseOvertime     Phase = "overtime"
)

// CloseAllowed reports whether a close directive is legal in this phase.
// Sessions cannot be closed before the structural phases complete.
func (p Phase) CloseAllowed() bool {
	switch p {
	case PhaseTransition, PhaseSoftClosing, PhaseFinalClosing, PhaseOvertime:
		return true
	}
	return false
}

// PhaseInfo describes where an in-progress session sits on its timeline.
type PhaseInfo struct {
	Phase              Phase
	ElapsedMinutes     int
	RemainingMinutes   int
	ShouldWarnClosing  bool
	IsOvertime         bool
	ForceAudioForClose bool
}

// Clock provides business-timezone time resolution. The zero value is
// not usable; construct with New. nowFunc is injectable for tests.
type Clock struct {
	loc     *time.Location
	phases  config.PhaseTable
	nowFunc func() time.Time
}

// New creates a Clock pinned to the configured UTC offset.
func New(tz config.TimezoneConfig, phases config.PhaseTable) *Clock {
	name := tz.Name
	if name == "" {
		name = "business"
	}
	return &Clock{
		loc:     time.FixedZone(name, tz.OffsetHours*3600),
		phases:  phases,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source. Tests only.
func (c *Clock) SetNowFunc(f func() time.Time) { c.nowFunc = f }

// Now returns the current time in the business timezone.
func (c *Clock) Now() time.Time {
	return c.nowFunc().In(c.loc)
}

// Location returns the business timezone location.
func (c *Clock) Location() *time.Location { return c.loc }

// Weekday returns the current weekday in the business timezone.
func (c *Clock) Weekday() time.Weekday {
	return c.Now().Weekday()
}

// SessionPhase classifies a session by elapsed time. startedAt nil means
// the session has not started: phase not_started, zero remaining time.
func (c *Clock) SessionPhase(startedAt *time.Time, duration time.Duration) PhaseInfo {
	if startedAt == nil {
		return PhaseInfo{Phase: PhaseNotStarted}
	}

	elapsed := int(c.Now().Sub(*startedAt).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}
	total := int(duration.Minutes())
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}

	info := PhaseInfo{
		ElapsedMinutes:   elapsed,
		RemainingMinutes: remaining,
	}

	p := c.phases
	switch {
	case elapsed < p.OpeningEnd:
		info.Phase = PhaseOpening
	case elapsed < p.ExplorationEnd:
		info.Phase = PhaseExploration
	case elapsed < p.ReframeEnd:
		info.Phase = PhaseReframe
	case elapsed < total-p.TransitionBefore:
		info.Phase = PhaseDevelopment
	case elapsed < total-p.SoftClosingBefore:
		info.Phase = PhaseTransition
	case elapsed < total-p.FinalClosingDelta:
		info.Phase = PhaseSoftClosing
	case elapsed < total:
		info.Phase = PhaseFinalClosing
	default:
		info.Phase = PhaseOvertime
	}

	switch info.Phase {
	case PhaseTransition, PhaseSoftClosing:
		info.ShouldWarnClosing = true
	case PhaseFinalClosing:
		info.ShouldWarnClosing = true
		info.ForceAudioForClose = true
	case PhaseOvertime:
		info.IsOvertime = true
		info.ForceAudioForClose = true
	}

	return info
}

// InQuietHours reports whether t falls inside the quiet-hours window.
// The window may wrap midnight.
func (c *Clock) InQuietHours(t time.Time, q config.QuietHours) bool {
	h := t.In(c.loc).Hour()
	if q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return h >= q.StartHour && h < q.EndHour
	}
	return h >= q.StartHour || h < q.EndHour
}

// NextWeekday returns the first instant at or after t that falls on the
// given weekday, preserving the time of day.
func NextWeekday(t time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		return t
	}
	return t.AddDate(0, 0, days)
}
