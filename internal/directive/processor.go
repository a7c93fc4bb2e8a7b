package directive

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/auralabs/aura-agent/internal/checkout"
	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/store"
)

// upgradeFallback replaces an upgrade tag whose checkout link could not
// be created. The user must get a sentence, never a bare marker.
const upgradeFallback = "desculpa, tive um problema ao gerar seu link de upgrade agora. Me chama de novo daqui a pouco que eu te envio!"

// GuidedSender delivers a pre-recorded guided audio to a user. The
// delivery runs in the background: a slow media upload must not hold
// up the conversational reply.
type GuidedSender interface {
	SendGuidedAudio(ctx context.Context, phone, category string) error
}

// Outcome captures what the processed directives mean for the rest of
// the turn. Store writes have already happened by the time Apply
// returns; the flags tell the caller what remains its job.
type Outcome struct {
	Text string // reply text with upgrade links spliced in

	WantAudio      bool // reply should go out as voice
	Awaiting       bool // arm the follow-up tracker
	Concluded      bool // conversation closed naturally, disarm follow-ups
	CloseRequested bool // model asked to close the active session

	SessionsScheduled int
}

// Processor applies directive side effects against the store and the
// outbound services. It is deliberately tolerant: one failing directive
// is logged and skipped, the rest of the batch still runs.
type Processor struct {
	store    *store.Store
	clock    *clock.Clock
	checkout checkout.LinkCreator
	guided   GuidedSender
	cfg      config.SessionConfig
	logger   *slog.Logger
}

// NewProcessor wires a directive processor. checkout and guided may be
// nil when the corresponding integration is disabled; the directives
// then degrade gracefully.
func NewProcessor(st *store.Store, ck *clock.Clock, link checkout.LinkCreator, guided GuidedSender, cfg config.SessionConfig, logger *slog.Logger) *Processor {
	return &Processor{
		store:    st,
		clock:    ck,
		checkout: link,
		guided:   guided,
		cfg:      cfg,
		logger:   logger.With("component", "directive"),
	}
}

// Apply runs the side effects for every directive in order and returns
// the outcome. text is the already-extracted reply text, possibly
// carrying upgrade placeholders.
func (p *Processor) Apply(ctx context.Context, user *store.User, text string, ds []Directive) Outcome {
	out := Outcome{Text: text}
	now := p.clock.Now()

	for _, d := range ds {
		switch d.Kind {
		case KindAudio:
			out.WantAudio = true

		case KindGuided:
			p.sendGuided(user, d.Category)

		case KindUpgrade:
			out.Text = p.resolveUpgrade(ctx, out.Text, user, d)

		case KindSchedule:
			if p.schedule(user, d, now) {
				out.SessionsScheduled++
			}

		case KindReschedule:
			p.reschedule(user, d, now)

		case KindBulkSchedule:
			out.SessionsScheduled += p.bulkSchedule(user, d, now)

		case KindMemory:
			p.saveMemory(user, d, now)

		case KindAwaiting:
			out.Awaiting = true

		case KindConcluded:
			out.Concluded = true

		case KindCloseSession:
			out.CloseRequested = true

		case KindThemeNew:
			p.logErr("theme upsert", p.store.UpsertTheme(user.ID, d.Name, now))
		case KindThemeProgress:
			p.logErr("theme progress", p.store.UpdateThemeStatus(user.ID, d.Name, store.ThemeProgressing, now))
		case KindThemeResolved:
			p.logErr("theme resolved", p.store.UpdateThemeStatus(user.ID, d.Name, store.ThemeResolved, now))
		case KindThemeStagnant:
			p.logErr("theme stagnant", p.store.UpdateThemeStatus(user.ID, d.Name, store.ThemeStagnant, now))

		case KindCommitmentDone:
			p.logErr("commitment done", p.store.ResolveCommitment(user.ID, d.Name, store.CommitmentCompleted, now))
		case KindCommitmentAbandoned:
			p.logErr("commitment abandoned", p.store.ResolveCommitment(user.ID, d.Name, store.CommitmentAbandoned, now))
		case KindCommitmentRenegotiated:
			p.logErr("commitment renegotiated", p.store.RenegotiateCommitment(user.ID, d.Name, d.NewName, now))

		case KindCheckin:
			p.logErr("checkin", p.store.RecordCheckin(user.ID, d.Mood, d.Energy, now))

		case KindDoNotDisturb:
			until := now.Add(time.Duration(d.Hours) * time.Hour)
			p.logErr("do not disturb", p.store.SetDoNotDisturb(user.ID, until))

		case KindPauseSessions:
			p.pauseSessions(user, d, now)
		}
	}

	// Awaiting and concluded are contradictory; a closed conversation
	// wins so the user is not chased after saying goodbye.
	if out.Concluded {
		out.Awaiting = false
	}

	out.Text = StripPlaceholders(out.Text)
	return out
}

func (p *Processor) sendGuided(user *store.User, category string) {
	if p.guided == nil {
		p.logger.Warn("guided audio requested but no sender configured", "category", category)
		return
	}
	// Fire and forget with its own deadline: the turn reply is not
	// held hostage by a media upload.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := p.guided.SendGuidedAudio(ctx, user.Phone, category); err != nil {
			p.logger.Error("guided audio delivery failed", "category", category, "user_id", user.ID, "error", err)
		}
	}()
}

func (p *Processor) resolveUpgrade(ctx context.Context, text string, user *store.User, d Directive) string {
	if p.checkout == nil {
		return strings.Replace(text, d.Placeholder, upgradeFallback, 1)
	}
	url, err := p.checkout.CreateCheckoutLink(ctx, d.Plan, user.Phone)
	if err != nil {
		p.logger.Error("checkout link failed", "plan", d.Plan, "user_id", user.ID, "error", err)
		return strings.Replace(text, d.Placeholder, upgradeFallback, 1)
	}
	return strings.Replace(text, d.Placeholder, url, 1)
}

// schedule creates a future session, correcting the date onto the
// user's preferred weekday when one is set and the model picked a
// different day.
func (p *Processor) schedule(user *store.User, d Directive, now time.Time) bool {
	when := p.adjustWeekday(user, d.When)
	if !when.After(now) {
		p.logger.Warn("schedule directive in the past, dropped", "user_id", user.ID, "when", d.When)
		return false
	}
	sess := &store.Session{
		UserID:      user.ID,
		ScheduledAt: when.UTC(),
		DurationMin: p.cfg.DurationMinutes,
		Status:      store.SessionScheduled,
		Type:        "regular",
		FocusTopic:  d.Topic,
	}
	if err := p.store.CreateSession(sess); err != nil {
		p.logger.Error("session create failed", "user_id", user.ID, "error", err)
		return false
	}
	return true
}

// reschedule moves the next scheduled session; when there is none it
// falls back to creating one so the user's intent is never lost.
func (p *Processor) reschedule(user *store.User, d Directive, now time.Time) {
	when := p.adjustWeekday(user, d.When)
	if !when.After(now) {
		p.logger.Warn("reschedule directive in the past, dropped", "user_id", user.ID, "when", d.When)
		return
	}
	next, err := p.store.NextScheduled(user.ID, now)
	if err != nil {
		p.logErr("reschedule lookup", err)
		return
	}
	if next == nil {
		p.schedule(user, Directive{Kind: KindSchedule, When: when, Topic: d.Topic}, now)
		return
	}
	p.logErr("reschedule", p.store.Reschedule(next.ID, when.UTC()))
}

// bulkSchedule creates every future slot from a multi-date directive
// and marks the user's recurring schedule as set once at least one
// slot lands. Past slots are skipped, not fatal.
func (p *Processor) bulkSchedule(user *store.User, d Directive, now time.Time) int {
	created := 0
	for _, when := range d.Times {
		if !when.After(now) {
			continue
		}
		if p.schedule(user, Directive{Kind: KindSchedule, When: when}, now) {
			created++
		}
	}
	if created > 0 {
		p.logErr("schedule setup done", p.store.SetScheduleSetupDone(user.ID))
	}
	return created
}

func (p *Processor) saveMemory(user *store.User, d Directive, now time.Time) {
	for _, t := range d.Triples {
		if !store.KnownCategory(t.Category) {
			p.logger.Debug("unknown insight category, saved with floor importance", "category", t.Category)
		}
		err := p.store.UpsertInsight(user.ID, t.Category, t.Key, t.Value, store.CategoryImportance(t.Category), now)
		p.logErr("insight upsert", err)
	}
}

// pauseSessions pauses scheduling until the given date, capped to the
// configured lookahead so a hallucinated far-future date cannot mute a
// user for years.
func (p *Processor) pauseSessions(user *store.User, d Directive, now time.Time) {
	until := d.When
	limit := now.AddDate(0, 0, p.cfg.PauseLookaheadDays)
	if until.After(limit) {
		p.logger.Warn("pause date beyond lookahead, capped", "user_id", user.ID, "requested", d.When, "capped", limit)
		until = limit
	}
	if !until.After(now) {
		p.logger.Warn("pause directive in the past, dropped", "user_id", user.ID, "when", d.When)
		return
	}
	p.logErr("pause sessions", p.store.SetPauseUntil(user.ID, until.UTC()))
}

// adjustWeekday snaps a scheduling date onto the user's preferred
// weekday, keeping the time of day.
func (p *Processor) adjustWeekday(user *store.User, when time.Time) time.Time {
	if user.PreferredWeekday == nil {
		return when
	}
	want := time.Weekday(*user.PreferredWeekday)
	if when.Weekday() == want {
		return when
	}
	return clock.NextWeekday(when, want)
}

func (p *Processor) logErr(op string, err error) {
	if err != nil {
		p.logger.Error("directive side effect failed", "op", op, "error", err)
	}
}
