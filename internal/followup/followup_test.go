package followup

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/store"
)

type fakeSender struct {
	texts []string
	to    []string
}

func (f *fakeSender) SendText(_ context.Context, to, body string) error {
	f.to = append(f.to, to)
	f.texts = append(f.texts, body)
	return nil
}

func (f *fakeSender) SendAudio(_ context.Context, _ string, _ []byte) error { return nil }

type fakeLLM struct {
	reply string
}

func (f *fakeLLM) Chat(_ context.Context, _ string, _ []llm.Message) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.reply}, nil
}

type fixture struct {
	sweeper *Sweeper
	store   *store.Store
	sender  *fakeSender
	user    *store.User
	now     time.Time
}

// newFixture pins now to midday UTC (09:00 in the business timezone),
// safely outside quiet hours.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "aura_test.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	ck := clock.New(cfg.Timezone, cfg.Session.Phases)
	now := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	ck.SetNowFunc(func() time.Time { return now })

	u := &store.User{Phone: "5511955554444", Name: "Laura", Plan: store.PlanEssencial}
	if err := st.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sender := &fakeSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sw := NewSweeper(st, ck, &fakeLLM{reply: "Oi Laura, como você tá depois da nossa conversa?"}, sender, cfg, logger)
	return &fixture{sweeper: sw, store: st, sender: sender, user: u, now: now}
}

func TestSweepFollowups_SendsAfterThreshold(t *testing.T) {
	fx := newFixture(t)

	// An essencial user with remaining credits routes to the
	// plan-credits policy: threshold 4 hours.
	if err := fx.store.ArmFollowup(fx.user.ID, fx.now.Add(-5*time.Hour), "trabalho", "acolhedor", "", false); err != nil {
		t.Fatalf("ArmFollowup: %v", err)
	}

	sent, err := fx.sweeper.SweepFollowups(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("SweepFollowups: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(fx.sender.texts) != 1 || !strings.Contains(fx.sender.texts[0], "Laura") {
		t.Errorf("nudge = %+v", fx.sender.texts)
	}

	// Immediate re-sweep: nothing new crossed a threshold.
	sent, err = fx.sweeper.SweepFollowups(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("re-sweep: %v", err)
	}
	if sent != 0 {
		t.Errorf("re-sweep sent = %d, want 0", sent)
	}
}

func TestSweepFollowups_BelowThresholdSilent(t *testing.T) {
	fx := newFixture(t)

	if err := fx.store.ArmFollowup(fx.user.ID, fx.now.Add(-10*time.Minute), "", "", "", false); err != nil {
		t.Fatalf("ArmFollowup: %v", err)
	}

	sent, err := fx.sweeper.SweepFollowups(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("SweepFollowups: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d before threshold", sent)
	}
}

func TestSweepFollowups_SensitivityVeto(t *testing.T) {
	fx := newFixture(t)

	if err := fx.store.ArmFollowup(fx.user.ID, fx.now.Add(-48*time.Hour), "luto pela perda do pai", "acolhedor", "", false); err != nil {
		t.Fatalf("ArmFollowup: %v", err)
	}

	sent, err := fx.sweeper.SweepFollowups(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("SweepFollowups: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d, sensitive topic not vetoed", sent)
	}
}

func TestSweepFollowups_QuietHours(t *testing.T) {
	fx := newFixture(t)

	if err := fx.store.ArmFollowup(fx.user.ID, fx.now.Add(-48*time.Hour), "trabalho", "", "", false); err != nil {
		t.Fatalf("ArmFollowup: %v", err)
	}

	// 02:00 in the business timezone (UTC-3) is 05:00 UTC.
	night := time.Date(2026, 9, 1, 5, 0, 0, 0, time.UTC)
	sent, err := fx.sweeper.SweepFollowups(context.Background(), night)
	if err != nil {
		t.Fatalf("SweepFollowups: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d during quiet hours", sent)
	}
}

func TestSweepFollowups_AttemptCap(t *testing.T) {
	fx := newFixture(t)

	// Plan-credits situation: 4h threshold, 2 attempts max. Two nudges
	// already went out for this idle stretch.
	if err := fx.store.ArmFollowup(fx.user.ID, fx.now.Add(-72*time.Hour), "trabalho", "", "", false); err != nil {
		t.Fatalf("ArmFollowup: %v", err)
	}
	if err := fx.store.RecordFollowupSent(fx.user.ID, fx.now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("RecordFollowupSent: %v", err)
	}
	if err := fx.store.RecordFollowupSent(fx.user.ID, fx.now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("RecordFollowupSent: %v", err)
	}

	sent, err := fx.sweeper.SweepFollowups(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("SweepFollowups: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d past the attempt cap", sent)
	}
}

func TestSweepAbandonedSessions(t *testing.T) {
	fx := newFixture(t)

	sess := &store.Session{
		UserID:      fx.user.ID,
		ScheduledAt: fx.now.Add(-3 * time.Hour),
		DurationMin: 45,
		Status:      store.SessionScheduled,
	}
	if err := fx.store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := fx.store.StartSession(sess.ID, fx.now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.store.SetCurrentSession(fx.user.ID, sess.ID); err != nil {
		t.Fatalf("SetCurrentSession: %v", err)
	}

	closed, err := fx.sweeper.SweepAbandonedSessions(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("SweepAbandonedSessions: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	stored, err := fx.store.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Status != store.SessionNoShow {
		t.Errorf("Status = %q, want no_show", stored.Status)
	}
	u, err := fx.store.GetUser(fx.user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.CurrentSessionID != "" {
		t.Errorf("pointer not cleared: %q", u.CurrentSessionID)
	}
	if len(fx.sender.texts) != 1 {
		t.Errorf("closing notice not sent: %+v", fx.sender.texts)
	}

	// Idempotent: a second sweep finds nothing.
	closed, err = fx.sweeper.SweepAbandonedSessions(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("re-sweep: %v", err)
	}
	if closed != 0 {
		t.Errorf("re-sweep closed = %d, want 0", closed)
	}
}

func TestRenewMonthlySchedules_RemindersIdempotent(t *testing.T) {
	fx := newFixture(t)

	sess := &store.Session{
		UserID:      fx.user.ID,
		ScheduledAt: fx.now.Add(30 * time.Minute),
		DurationMin: 45,
		Status:      store.SessionScheduled,
	}
	if err := fx.store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// 30 minutes out: inside the day and hour lead windows.
	sent, err := fx.sweeper.RenewMonthlySchedules(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("RenewMonthlySchedules: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want day+hour reminders", sent)
	}

	sent, err = fx.sweeper.RenewMonthlySchedules(context.Background(), fx.now)
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if sent != 0 {
		t.Errorf("re-run sent = %d, flags did not hold", sent)
	}
}
