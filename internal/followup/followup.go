// Package followup runs the periodic sweeps: proactive nudges for
// users who went quiet mid-conversation, reclamation of abandoned
// sessions, and monthly quota/reminder maintenance. Sweeps are
// idempotent; running one twice for the same instant does no extra
// work.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/prompts"
	"github.com/auralabs/aura-agent/internal/store"
	"github.com/auralabs/aura-agent/internal/whatsapp"
)

// nudgeFallback is sent when the nudge-generation call fails. A canned
// check-in beats a dropped one.
const nudgeFallback = "Oi! Fiquei pensando em você. Como você tá? 💛"

// abandonedNotice closes the loop with a user whose session timed out.
const abandonedNotice = "Nossa sessão de hoje acabou ficando pela metade, tudo bem! Quando quiser a gente remarca. Tô por aqui 💛"

// sensitiveMarkers veto a nudge when they appear in the stored context.
// Silence is the safe default around crisis, grief and trauma.
var sensitiveMarkers = []string{
	"crise", "luto", "perda", "falecimento", "morte", "trauma",
	"autolesão", "autolesao", "suicid", "pânico", "panico",
}

// Sweeper runs the one-shot sweeps. The Worker wraps it on a ticker.
type Sweeper struct {
	store  *store.Store
	clock  *clock.Clock
	llm    llm.Client
	sender whatsapp.Sender
	cfg    *config.Config
	logger *slog.Logger
}

func NewSweeper(st *store.Store, ck *clock.Clock, client llm.Client, sender whatsapp.Sender, cfg *config.Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		clock:  ck,
		llm:    client,
		sender: sender,
		cfg:    cfg,
		logger: logger.With("component", "followup"),
	}
}

// SweepFollowups scans armed trackers and sends a nudge to each user
// whose idle time crossed the threshold for their situation. Returns
// the number of nudges sent.
func (s *Sweeper) SweepFollowups(ctx context.Context, now time.Time) (int, error) {
	if s.clock.InQuietHours(now, s.cfg.Followup.Quiet) {
		s.logger.Debug("quiet hours, skipping followup sweep")
		return 0, nil
	}

	trackers, err := s.store.PendingFollowups()
	if err != nil {
		return 0, fmt.Errorf("pending followups: %w", err)
	}

	sent := 0
	for _, tr := range trackers {
		if tr.AwaitingSince == nil {
			continue
		}
		user, err := s.store.GetUser(tr.UserID)
		if err != nil || user == nil {
			s.logger.Error("tracker for missing user", "user_id", tr.UserID, "error", err)
			continue
		}
		if user.DNDUntil != nil && user.DNDUntil.After(now) {
			continue
		}

		policy := s.policyFor(user, &tr)
		if tr.Attempts >= policy.MaxAttempts {
			continue
		}
		idleSince := *tr.AwaitingSince
		if tr.LastFollowupAt != nil && tr.LastFollowupAt.After(idleSince) {
			idleSince = *tr.LastFollowupAt
		}
		if now.Sub(idleSince) < policy.Threshold {
			continue
		}
		if sensitiveContext(&tr) {
			s.logger.Info("nudge vetoed by sensitivity check", "user_id", user.ID)
			continue
		}

		if err := s.sendNudge(ctx, user, &tr); err != nil {
			s.logger.Error("nudge send failed", "user_id", user.ID, "error", err)
			continue
		}
		if err := s.store.RecordFollowupSent(user.ID, now); err != nil {
			s.logger.Error("nudge record failed", "user_id", user.ID, "error", err)
		}
		sent++
	}
	return sent, nil
}

// policyFor picks the situation-dependent nudge policy: active session
// beats natural close beats deep talk beats remaining plan credits.
func (s *Sweeper) policyFor(user *store.User, tr *store.FollowupTracker) config.NudgePolicy {
	f := s.cfg.Followup
	switch {
	case user.CurrentSessionID != "":
		return f.InSession
	case tr.NaturalClose:
		return f.NaturalClose
	case tr.DeepTalk:
		return f.DeepTalk
	case s.hasSessionCredits(user):
		return f.PlanCredits
	}
	return f.Default
}

func (s *Sweeper) hasSessionCredits(user *store.User) bool {
	quota, ok := s.cfg.Session.MonthlyQuotaByPlan[user.Plan]
	return ok && user.SessionsUsedMonth < quota
}

func sensitiveContext(tr *store.FollowupTracker) bool {
	haystack := strings.ToLower(tr.ContextTopic + " " + tr.ContextCautions)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

func (s *Sweeper) sendNudge(ctx context.Context, user *store.User, tr *store.FollowupTracker) error {
	text := nudgeFallback
	if s.llm != nil {
		model := s.cfg.Generation.NudgeModel
		if model == "" {
			model = s.cfg.Generation.Model
		}
		resp, err := s.llm.Chat(ctx, model, []llm.Message{
			{Role: "user", Content: prompts.NudgePrompt(user.Name, tr.ContextTopic, tr.ContextTone, tr.ContextCautions)},
		})
		if err != nil {
			s.logger.Warn("nudge generation failed, using fallback", "user_id", user.ID, "error", err)
		} else if t := strings.TrimSpace(resp.Content); t != "" {
			text = t
		}
	}

	if s.sender == nil {
		return nil
	}
	if err := s.sender.SendText(ctx, user.Phone, text); err != nil {
		return err
	}
	if _, err := s.store.AddMessage(user.ID, "assistant", text); err != nil {
		s.logger.Error("nudge persist failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// SweepAbandonedSessions force-closes sessions whose expected end plus
// the grace period has elapsed with no close. Re-sweeping an already
// reclaimed session is a no-op. Returns the number closed.
func (s *Sweeper) SweepAbandonedSessions(ctx context.Context, now time.Time) (int, error) {
	grace := time.Duration(s.cfg.Session.GraceMinutes) * time.Minute
	stale, err := s.store.StaleInProgress(now, grace)
	if err != nil {
		return 0, fmt.Errorf("stale sessions: %w", err)
	}

	closed := 0
	for _, sess := range stale {
		ok, err := s.store.AbandonSession(sess.ID, now)
		if err != nil {
			s.logger.Error("abandon failed", "session_id", sess.ID, "error", err)
			continue
		}
		if !ok {
			continue // someone else closed it between the scan and now
		}
		if err := s.store.ClearCurrentSession(sess.UserID); err != nil {
			s.logger.Error("pointer clear failed", "user_id", sess.UserID, "error", err)
		}
		s.notifyAbandoned(ctx, sess.UserID)
		closed++
		s.logger.Info("session reclaimed as no_show", "session_id", sess.ID, "user_id", sess.UserID)
	}
	return closed, nil
}

func (s *Sweeper) notifyAbandoned(ctx context.Context, userID string) {
	if s.sender == nil {
		return
	}
	user, err := s.store.GetUser(userID)
	if err != nil || user == nil {
		return
	}
	if err := s.sender.SendText(ctx, user.Phone, abandonedNotice); err != nil {
		s.logger.Error("abandoned notice failed", "user_id", userID, "error", err)
	}
}

// RenewMonthlySchedules rolls billing months over and fires the due
// session reminders, guarded by the per-session idempotency flags.
// Returns the number of reminder messages sent.
func (s *Sweeper) RenewMonthlySchedules(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.UsersDueQuotaReset(now)
	if err != nil {
		return 0, fmt.Errorf("quota reset scan: %w", err)
	}
	for _, user := range due {
		if err := s.store.ResetMonthlyQuota(user.ID, now.AddDate(0, 1, 0)); err != nil {
			s.logger.Error("quota reset failed", "user_id", user.ID, "error", err)
			continue
		}
		s.logger.Info("monthly quota reset", "user_id", user.ID, "plan", user.Plan)
	}

	sent := 0
	sent += s.sendReminders(ctx, now, 24*time.Hour, "day",
		"Oi! Lembrete carinhoso: nossa sessão é amanhã. Te espero! 💛")
	sent += s.sendReminders(ctx, now, time.Hour, "hour",
		"Nossa sessão começa daqui a pouco! Vai dar certo pra você?")
	sent += s.sendReminders(ctx, now, 5*time.Minute, "start",
		"Chegou a hora! Me manda um \"vamos começar\" quando estiver pronta 💛")
	return sent, nil
}

func (s *Sweeper) sendReminders(ctx context.Context, now time.Time, lead time.Duration, flag, text string) int {
	sessions, err := s.store.SessionsNeedingReminder(now, lead, flag)
	if err != nil {
		s.logger.Error("reminder scan failed", "flag", flag, "error", err)
		return 0
	}

	sent := 0
	for _, sess := range sessions {
		// Claim the flag first: a concurrent sweep must not double-send.
		ok, err := s.store.MarkReminderSent(sess.ID, flag)
		if err != nil {
			s.logger.Error("reminder mark failed", "session_id", sess.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		user, err := s.store.GetUser(sess.UserID)
		if err != nil || user == nil {
			continue
		}
		if user.PauseUntil != nil && user.PauseUntil.After(now) {
			continue
		}
		if s.sender != nil {
			if err := s.sender.SendText(ctx, user.Phone, text); err != nil {
				s.logger.Error("reminder send failed", "session_id", sess.ID, "error", err)
				continue
			}
		}
		sent++
	}
	return sent
}
