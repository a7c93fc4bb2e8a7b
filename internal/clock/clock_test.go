package clock

import (
	"testing"
	"time"

	"github.com/auralabs/aura-agent/internal/config"
)

func newTestClock(t *testing.T, now time.Time) *Clock {
	t.Helper()
	cfg := config.Default()
	c := New(cfg.Timezone, cfg.Session.Phases)
	c.SetNowFunc(func() time.Time { return now })
	return c
}

func TestSessionPhase_NotStarted(t *testing.T) {
	c := newTestClock(t, time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC))

	info := c.SessionPhase(nil, 45*time.Minute)
	if info.Phase != PhaseNotStarted {
		t.Errorf("Phase = %q, want %q", info.Phase, PhaseNotStarted)
	}
	if info.RemainingMinutes != 0 {
		t.Errorf("RemainingMinutes = %d, want 0", info.RemainingMinutes)
	}
}

func TestSessionPhase_Timeline(t *testing.T) {
	start := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)

	tests := []struct {
		elapsed    time.Duration
		wantPhase  Phase
		overtime   bool
		forceAudio bool
	}{
		{3 * time.Minute, PhaseOpening, false, false},
		{5 * time.Minute, PhaseExploration, false, false},
		{20 * time.Minute, PhaseExploration, false, false},
		{25 * time.Minute, PhaseReframe, false, false},
		{34 * time.Minute, PhaseReframe, false, false},
		{35 * time.Minute, PhaseTransition, false, false},
		{40 * time.Minute, PhaseSoftClosing, false, false},
		{43 * time.Minute, PhaseFinalClosing, false, true},
		{44 * time.Minute, PhaseFinalClosing, false, true},
		{45 * time.Minute, PhaseOvertime, true, true},
		{46 * time.Minute, PhaseOvertime, true, true},
	}

	for _, tt := range tests {
		c := newTestClock(t, start.Add(tt.elapsed))
		info := c.SessionPhase(&start, 45*time.Minute)
		if info.Phase != tt.wantPhase {
			t.Errorf("elapsed %v: Phase = %q, want %q", tt.elapsed, info.Phase, tt.wantPhase)
		}
		if info.IsOvertime != tt.overtime {
			t.Errorf("elapsed %v: IsOvertime = %v, want %v", tt.elapsed, info.IsOvertime, tt.overtime)
		}
		if info.ForceAudioForClose != tt.forceAudio {
			t.Errorf("elapsed %v: ForceAudioForClose = %v, want %v", tt.elapsed, info.ForceAudioForClose, tt.forceAudio)
		}
	}
}

// Phases are a pure function of elapsed time: a later elapsed value must
// never map to an earlier phase.
func TestSessionPhase_Monotonic(t *testing.T) {
	start := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	order := map[Phase]int{
		PhaseOpening:      0,
		PhaseExploration:  1,
		PhaseReframe:      2,
		PhaseDevelopment:  3,
		PhaseTransition:   4,
		PhaseSoftClosing:  5,
		PhaseFinalClosing: 6,
		PhaseOvertime:     7,
	}

	prev := -1
	for m := 0; m <= 60; m++ {
		c := newTestClock(t, start.Add(time.Duration(m)*time.Minute))
		info := c.SessionPhase(&start, 45*time.Minute)
		rank, ok := order[info.Phase]
		if !ok {
			t.Fatalf("minute %d: unexpected phase %q", m, info.Phase)
		}
		if rank < prev {
			t.Errorf("minute %d: phase %q regressed", m, info.Phase)
		}
		prev = rank
	}
}

func TestSessionPhase_LongSessionHasDevelopment(t *testing.T) {
	start := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	c := newTestClock(t, start.Add(45*time.Minute))

	info := c.SessionPhase(&start, 60*time.Minute)
	if info.Phase != PhaseDevelopment {
		t.Errorf("Phase = %q, want %q", info.Phase, PhaseDevelopment)
	}
	if info.RemainingMinutes != 15 {
		t.Errorf("RemainingMinutes = %d, want 15", info.RemainingMinutes)
	}
}

func TestNow_UsesFixedOffset(t *testing.T) {
	utc := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	c := newTestClock(t, utc)

	now := c.Now()
	if got := now.Hour(); got != 23 {
		t.Errorf("business hour = %d, want 23 (UTC-3)", got)
	}
	if got := now.Day(); got != 9 {
		t.Errorf("business day = %d, want 9", got)
	}
}

func TestInQuietHours(t *testing.T) {
	c := newTestClock(t, time.Now())
	q := config.QuietHours{StartHour: 22, EndHour: 8}
	loc := c.Location()

	tests := []struct {
		hour int
		want bool
	}{
		{23, true},
		{2, true},
		{7, true},
		{8, false},
		{12, false},
		{21, false},
		{22, true},
	}
	for _, tt := range tests {
		ts := time.Date(2026, 3, 10, tt.hour, 30, 0, 0, loc)
		if got := c.InQuietHours(ts, q); got != tt.want {
			t.Errorf("hour %d: InQuietHours = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestNextWeekday(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	base := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)

	got := NextWeekday(base, time.Thursday)
	if got.Day() != 12 {
		t.Errorf("next Thursday day = %d, want 12", got.Day())
	}
	if got.Hour() != 19 {
		t.Errorf("time of day not preserved: hour = %d", got.Hour())
	}

	// Same weekday returns the same instant.
	if got := NextWeekday(base, time.Tuesday); !got.Equal(base) {
		t.Errorf("same weekday should return input, got %v", got)
	}

	// Wrap across the week boundary.
	if got := NextWeekday(base, time.Monday); got.Day() != 16 {
		t.Errorf("next Monday day = %d, want 16", got.Day())
	}
}
