// Package session holds the per-user session state machine: resolving
// which session (if any) owns the conversation, the start and close
// gates, and the close path that attaches summaries.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/directive"
	"github.com/auralabs/aura-agent/internal/store"
)

// State is the resolved session state for one user at one instant.
type State int

const (
	StateNone State = iota
	StatePendingConfirmation
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePendingConfirmation:
		return "pending_confirmation"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StartResult says what MaybeStart did with a pending session.
type StartResult int

const (
	StartNone      StartResult = iota // no transition
	StartActivated                    // session is now in_progress
	StartAskAgain                     // bare ack, needs a stronger confirmation
	StartQuotaFull                    // monthly quota exhausted
)

// Resolved is the outcome of Resolve: the state plus the session it
// refers to and, when active, the current phase.
type Resolved struct {
	State        State
	Session      *store.Session
	Phase        clock.PhaseInfo
	Reactivation bool // pending session is a missed one being re-offered
}

// Active reports whether a session currently owns the conversation.
func (r *Resolved) Active() bool { return r.State == StateActive }

// Summary is the structured output of close-time summarization.
type Summary struct {
	Summary     string
	Insights    []string
	Commitments []string
}

// Onboarding is the structured profile extracted after the first
// completed session.
type Onboarding struct {
	SupportStyle   string
	MainChallenges string
	TherapyHistory string
}

// Summarizer produces the close-time artifacts. Implemented by the
// summarizer package; an interface here keeps the dependency pointing
// outward.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []store.Message) (*Summary, error)
	ExtractOnboarding(ctx context.Context, transcript []store.Message) (*Onboarding, error)
}

// Resolver owns session state resolution and transitions for a user.
type Resolver struct {
	store      *store.Store
	clock      *clock.Clock
	intents    Classifier
	summarizer Summarizer
	cfg        config.SessionConfig
	logger     *slog.Logger
}

func NewResolver(st *store.Store, ck *clock.Clock, intents Classifier, sum Summarizer, cfg config.SessionConfig, logger *slog.Logger) *Resolver {
	if intents == nil {
		intents = PhraseClassifier{}
	}
	return &Resolver{
		store:      st,
		clock:      ck,
		intents:    intents,
		summarizer: sum,
		cfg:        cfg,
		logger:     logger.With("component", "session"),
	}
}

// Resolve determines the user's session state. The NONE path is an
// explicit reconciliation: the user's pointer is checked first, then a
// direct active-session lookup, and any disagreement between the two
// is repaired in place so an orphaned active session is re-adopted
// rather than duplicated.
func (r *Resolver) Resolve(user *store.User) (*Resolved, error) {
	now := r.clock.Now()

	// Owner pointer first.
	if user.CurrentSessionID != "" {
		sess, err := r.store.GetSession(user.CurrentSessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve pointer: %w", err)
		}
		if sess != nil && sess.Status == store.SessionInProgress {
			return r.activeState(sess, now), nil
		}
		// Stale pointer: the session ended or vanished underneath it.
		r.logger.Warn("clearing stale session pointer", "user_id", user.ID, "session_id", user.CurrentSessionID)
		if err := r.store.ClearCurrentSession(user.ID); err != nil {
			return nil, fmt.Errorf("clear stale pointer: %w", err)
		}
		user.CurrentSessionID = ""
	}

	// Direct lookup: an in_progress session the pointer lost track of.
	orphan, err := r.store.ActiveSession(user.ID)
	if err != nil {
		return nil, fmt.Errorf("active session lookup: %w", err)
	}
	if orphan != nil {
		r.logger.Warn("re-adopting orphan active session", "user_id", user.ID, "session_id", orphan.ID)
		if err := r.store.SetCurrentSession(user.ID, orphan.ID); err != nil {
			return nil, fmt.Errorf("repair pointer: %w", err)
		}
		user.CurrentSessionID = orphan.ID
		return r.activeState(orphan, now), nil
	}

	// A scheduled session near enough to offer.
	window := time.Duration(r.cfg.ProximityWindowMin) * time.Minute
	near, err := r.store.FindScheduledNear(user.ID, now, window)
	if err != nil {
		return nil, fmt.Errorf("scheduled lookup: %w", err)
	}
	if near != nil {
		return &Resolved{State: StatePendingConfirmation, Session: near}, nil
	}

	// A recently missed session that can be reactivated.
	reactWindow := time.Duration(r.cfg.ReactivationWindowH) * time.Hour
	missed, err := r.store.FindReactivatable(user.ID, now, reactWindow)
	if err != nil {
		return nil, fmt.Errorf("reactivatable lookup: %w", err)
	}
	if missed != nil {
		return &Resolved{State: StatePendingConfirmation, Session: missed, Reactivation: true}, nil
	}

	return &Resolved{State: StateNone}, nil
}

func (r *Resolver) activeState(sess *store.Session, now time.Time) *Resolved {
	duration := time.Duration(sess.DurationMin) * time.Minute
	return &Resolved{
		State:   StateActive,
		Session: sess,
		Phase:   r.clock.SessionPhase(sess.StartedAt, duration),
	}
}

// MaybeStart decides whether an inbound message activates a pending
// session, and performs the entry side effects when it does. A bare
// acknowledgement never starts a session; a reactivation offer needs
// an explicit confirmation or start phrase.
func (r *Resolver) MaybeStart(user *store.User, res *Resolved, text string) (StartResult, error) {
	if res.State != StatePendingConfirmation {
		return StartNone, nil
	}

	intent := r.intents.Classify(text)
	now := r.clock.Now()

	var shouldStart bool
	switch {
	case intent == IntentAck:
		return StartAskAgain, nil
	case intent == IntentStart || intent == IntentConfirm:
		shouldStart = true
	case res.Reactivation:
		// Reactivation is opt-in: anything short of an explicit yes
		// leaves the offer on the table.
		shouldStart = false
	default:
		// Inside the pre-start window any substantive message counts
		// as showing up.
		preStart := time.Duration(r.cfg.PreStartWindowMin) * time.Minute
		delta := res.Session.ScheduledAt.Sub(now)
		if delta <= preStart && delta > -preStart {
			shouldStart = true
		}
	}
	if !shouldStart {
		return StartNone, nil
	}

	if r.quotaExhausted(user) {
		return StartQuotaFull, nil
	}

	if err := r.store.StartSession(res.Session.ID, now); err != nil {
		if errors.Is(err, store.ErrSessionNotStartable) {
			// Lost a race or the status moved; re-resolution next turn
			// will pick up whatever won.
			r.logger.Warn("session no longer startable", "session_id", res.Session.ID)
			return StartNone, nil
		}
		return StartNone, fmt.Errorf("start session: %w", err)
	}
	if err := r.store.SetCurrentSession(user.ID, res.Session.ID); err != nil {
		return StartNone, fmt.Errorf("link session pointer: %w", err)
	}
	if err := r.store.IncrementSessionsUsed(user.ID); err != nil {
		return StartNone, fmt.Errorf("bump session usage: %w", err)
	}

	user.CurrentSessionID = res.Session.ID
	user.SessionsUsedMonth++
	startedAt := now
	res.Session.StartedAt = &startedAt
	res.Session.Status = store.SessionInProgress
	res.State = StateActive
	res.Phase = r.clock.SessionPhase(&startedAt, time.Duration(res.Session.DurationMin)*time.Minute)

	r.logger.Info("session started", "user_id", user.ID, "session_id", res.Session.ID, "reactivation", res.Reactivation)
	return StartActivated, nil
}

func (r *Resolver) quotaExhausted(user *store.User) bool {
	if user.Plan == store.PlanTrial {
		return false // trial gating happens at the message level
	}
	quota, ok := r.cfg.MonthlyQuotaByPlan[user.Plan]
	if !ok {
		return false
	}
	return user.SessionsUsedMonth >= quota
}

// GateClose enforces the structural-phase rule on generated close
// directives: before the transition phase a close request is suppressed
// outright; from transition onward an ambiguous "conversation done"
// signal is upgraded to an explicit close so the session cannot dangle.
func GateClose(phase clock.Phase, ds []directive.Directive) []directive.Directive {
	if phase.CloseAllowed() {
		if directive.Has(ds, directive.KindConcluded) && !directive.Has(ds, directive.KindCloseSession) {
			ds = append(ds, directive.Directive{Kind: directive.KindCloseSession})
		}
		return ds
	}
	return directive.Remove(ds, directive.KindCloseSession)
}

// ShouldClose evaluates the close triggers for an active session:
// explicit end phrase, a (gated) close directive, overtime, or the
// implicit heuristic of a short gratitude message.
func (r *Resolver) ShouldClose(res *Resolved, inbound string, ds []directive.Directive) bool {
	if res.State != StateActive {
		return false
	}
	if directive.Has(ds, directive.KindCloseSession) {
		return true
	}
	if res.Phase.IsOvertime {
		return true
	}
	switch r.intents.Classify(inbound) {
	case IntentEnd:
		return true
	case IntentGratitude:
		return len([]rune(inbound)) < 50
	}
	return false
}

// Close completes an active session: summarize the recent transcript,
// attach the results, clear the pointer, and on the user's first
// completed session extract onboarding fields and assign a starting
// content track. Summarization failures degrade, never abort the close.
func (r *Resolver) Close(ctx context.Context, user *store.User, sess *store.Session) error {
	now := r.clock.Now()

	transcript, err := r.store.RecentMessages(user.ID, r.cfg.SummaryTurns)
	if err != nil {
		r.logger.Error("transcript fetch failed, closing without summary", "session_id", sess.ID, "error", err)
		transcript = nil
	}

	summary := &Summary{}
	if r.summarizer != nil && len(transcript) > 0 {
		s, err := r.summarizer.Summarize(ctx, transcript)
		if err != nil {
			r.logger.Error("summarization failed, closing without summary", "session_id", sess.ID, "error", err)
		} else {
			summary = s
		}
	}

	if err := r.store.CompleteSession(sess.ID, now, summary.Summary, summary.Insights, summary.Commitments); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if err := r.store.ClearCurrentSession(user.ID); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	user.CurrentSessionID = ""

	for _, c := range summary.Commitments {
		err := r.store.CreateCommitment(&store.Commitment{
			UserID: user.ID,
			Title:  c,
			Status: store.CommitmentPending,
		})
		if err != nil {
			r.logger.Error("commitment create failed", "session_id", sess.ID, "error", err)
		}
	}

	count, err := r.store.CompletedSessionCount(user.ID)
	if err != nil {
		r.logger.Error("completed count failed", "user_id", user.ID, "error", err)
	} else if count == 1 && !user.FirstSessionDone {
		r.finishOnboarding(ctx, user, transcript)
	}

	r.logger.Info("session closed", "user_id", user.ID, "session_id", sess.ID, "commitments", len(summary.Commitments))
	return nil
}

func (r *Resolver) finishOnboarding(ctx context.Context, user *store.User, transcript []store.Message) {
	if r.summarizer == nil || len(transcript) == 0 {
		return
	}
	ob, err := r.summarizer.ExtractOnboarding(ctx, transcript)
	if err != nil {
		r.logger.Error("onboarding extraction failed", "user_id", user.ID, "error", err)
		return
	}
	track := ContentTrackFor(ob.MainChallenges)
	if err := r.store.SetOnboarding(user.ID, ob.SupportStyle, ob.MainChallenges, ob.TherapyHistory, track); err != nil {
		r.logger.Error("onboarding save failed", "user_id", user.ID, "error", err)
		return
	}
	user.SupportStyle = ob.SupportStyle
	user.MainChallenges = ob.MainChallenges
	user.TherapyHistory = ob.TherapyHistory
	user.ContentTrack = track
	user.FirstSessionDone = true
	r.logger.Info("onboarding complete", "user_id", user.ID, "content_track", track)
}
