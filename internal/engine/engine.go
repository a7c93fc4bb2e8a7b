// Package engine orchestrates one conversation turn: dedup, profile
// refresh, session resolution, context assembly, generation, directive
// processing, segmentation, and delivery. Every failure path ends in a
// user-safe reply; a raw provider error never reaches the transport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/directive"
	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/prompts"
	"github.com/auralabs/aura-agent/internal/segment"
	"github.com/auralabs/aura-agent/internal/session"
	"github.com/auralabs/aura-agent/internal/store"
	"github.com/auralabs/aura-agent/internal/tts"
	"github.com/auralabs/aura-agent/internal/whatsapp"
)

// Canned replies for the failure and gating paths. Raw provider errors
// never reach the user; these do.
const (
	replyRateLimited  = "Opa, tô com muita gente falando comigo agora. Me dá um minutinho e manda de novo? 💛"
	replyQuotaIssue   = "Tive um probleminha técnico do meu lado e já estão resolvendo. Tenta de novo daqui a pouco, tá?"
	replyGenericError = "Desculpa, algo deu errado aqui do meu lado. Pode repetir pra mim?"
	replyAskAgain     = "Quer começar nossa sessão agora? Me confirma com um \"vamos começar\" que eu já preparo tudo 💛"
	replyQuotaFull    = "Suas sessões deste mês já foram usadas! A gente ainda pode conversar normalmente, e se quiser mais sessões estruturadas é só fazer upgrade do plano, tá bom?"
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	UserID    string // either UserID or Phone must be set
	Phone     string
	Text      string
	MessageID string // transport idempotency key; empty skips dedup

	// Content generated by a previous turn that never reached the user.
	InterruptedContent string
}

// TurnResult is the ordered delivery plan plus turn metadata.
type TurnResult struct {
	Units []segment.Unit

	Plan           string
	SessionActive  bool
	SessionStarted bool
	SessionEnded   bool
	QuotaRemaining int
	AudioUsed      bool
	Duplicate      bool // repeat webhook delivery, nothing was done
}

// turnContext is the independently-fetchable context for one turn,
// assembled in parallel.
type turnContext struct {
	history     []store.Message
	insights    []store.Insight
	themes      []store.Theme
	commitments []store.Commitment
	upcoming    []*store.Session
	lastCheckin *store.Checkin
}

// Engine wires the turn pipeline. Sender and TTS may be nil (CLI use);
// delivery is then skipped and audio degrades to text.
type Engine struct {
	store     *store.Store
	clock     *clock.Clock
	llm       llm.Client
	tts       tts.Synthesizer
	sender    whatsapp.Sender
	resolver  *session.Resolver
	processor *directive.Processor
	segmenter *segment.Segmenter
	cfg       *config.Config
	logger    *slog.Logger
}

func New(st *store.Store, ck *clock.Clock, client llm.Client, synth tts.Synthesizer, sender whatsapp.Sender,
	resolver *session.Resolver, processor *directive.Processor, segmenter *segment.Segmenter,
	cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		clock:     ck,
		llm:       client,
		tts:       synth,
		sender:    sender,
		resolver:  resolver,
		processor: processor,
		segmenter: segmenter,
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
	}
}

// HandleTurn processes one inbound message end to end. The returned
// error is for the caller's logs only: by the time it is non-nil a
// user-safe apology has already been attempted.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (result *TurnResult, err error) {
	var user *store.User

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("turn panicked", "panic", r)
			result = e.apologize(ctx, user, replyGenericError)
			err = fmt.Errorf("turn panic: %v", r)
		}
	}()

	// Duplicate webhook deliveries are a no-op.
	if req.MessageID != "" {
		fresh, err := e.store.ClaimInbound(req.MessageID, e.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("dedup claim: %w", err)
		}
		if !fresh {
			e.logger.Debug("duplicate inbound dropped", "message_id", req.MessageID)
			return &TurnResult{Duplicate: true}, nil
		}
	}

	user, err = e.resolveUser(req)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if err := e.store.TouchDailyCounter(user.ID, now.Format("2006-01-02")); err != nil {
		e.logger.Error("daily counter failed", "user_id", user.ID, "error", err)
	}
	// Message arrival always cancels a pending silence window.
	if user.DNDUntil != nil {
		if err := e.store.ClearDoNotDisturb(user.ID); err != nil {
			e.logger.Error("dnd clear failed", "user_id", user.ID, "error", err)
		}
		user.DNDUntil = nil
	}

	res, err := e.resolver.Resolve(user)
	if err != nil {
		e.logger.Error("session resolve failed", "user_id", user.ID, "error", err)
		return e.apologize(ctx, user, replyGenericError), err
	}

	started := false
	switch sr, err := e.resolver.MaybeStart(user, res, req.Text); {
	case err != nil:
		e.logger.Error("session start failed", "user_id", user.ID, "error", err)
	case sr == session.StartActivated:
		started = true
	case sr == session.StartAskAgain:
		return e.cannedTurn(ctx, user, res, req.Text, replyAskAgain), nil
	case sr == session.StartQuotaFull:
		return e.cannedTurn(ctx, user, res, req.Text, replyQuotaFull), nil
	}

	tctx, err := e.fetchContext(ctx, user)
	if err != nil {
		e.logger.Error("context fetch failed", "user_id", user.ID, "error", err)
		return e.apologize(ctx, user, replyGenericError), err
	}

	// Persist the inbound message before generation so the transcript
	// survives a provider failure. Chronological order: user first,
	// assistant after delivery planning.
	if _, err := e.store.AddMessage(user.ID, "user", req.Text); err != nil {
		e.logger.Error("inbound persist failed", "user_id", user.ID, "error", err)
	}

	raw, genErr := e.generate(ctx, user, res, tctx, req)
	if genErr != nil {
		// Inbound already persisted above; only the reply is missing.
		return e.cannedTurn(ctx, user, res, "", cannedFor(genErr)), nil
	}

	// Phase gating first, then side effects: gating may rewrite the
	// close/conclude directives before anything acts on them.
	clean, ds := directive.Extract(raw, e.clock.Location())
	if res.Active() {
		ds = session.GateClose(res.Phase.Phase, ds)
	}
	closing := e.resolver.ShouldClose(res, req.Text, ds)

	out := e.processor.Apply(ctx, user, clean, ds)

	// Audio gate: synthesis available AND the user did not just ask
	// for text. A denied audio directive degrades silently to bubbles.
	audio := e.tts != nil && !prefersTextOnly(req.Text) &&
		(out.WantAudio || (closing && res.Active() && res.Phase.ForceAudioForClose))
	units := e.segmenter.Split(out.Text, audio)

	if _, err := e.store.AddMessage(user.ID, "assistant", out.Text); err != nil {
		e.logger.Error("outbound persist failed", "user_id", user.ID, "error", err)
	}

	audioSent := e.deliver(ctx, user, units)
	if audioSent && res.Active() {
		if err := e.store.IncrementAudioReplies(res.Session.ID); err != nil {
			e.logger.Error("audio counter failed", "session_id", res.Session.ID, "error", err)
		}
	}

	ended := false
	if closing && res.Active() {
		if err := e.resolver.Close(ctx, user, res.Session); err != nil {
			e.logger.Error("session close failed", "session_id", res.Session.ID, "error", err)
		} else {
			ended = true
		}
	}

	e.updateFollowup(user, res, tctx, out, ended)

	return &TurnResult{
		Units:          units,
		Plan:           user.Plan,
		SessionActive:  res.Active() && !ended,
		SessionStarted: started,
		SessionEnded:   ended,
		QuotaRemaining: e.quotaRemaining(user),
		AudioUsed:      audio,
	}, nil
}

// resolveUser loads the profile by id or phone. A message from an
// unknown number opens a trial profile on the spot.
func (e *Engine) resolveUser(req TurnRequest) (*store.User, error) {
	if req.UserID != "" {
		u, err := e.store.GetUser(req.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if u == nil {
			return nil, fmt.Errorf("unknown user id %q", req.UserID)
		}
		return u, nil
	}

	u, err := e.store.GetUserByPhone(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	if u != nil {
		return u, nil
	}

	u = &store.User{Phone: req.Phone, Plan: store.PlanTrial}
	if err := e.store.CreateUser(u); err != nil {
		return nil, fmt.Errorf("create trial user: %w", err)
	}
	e.logger.Info("trial user created", "user_id", u.ID)
	return u, nil
}

// fetchContext loads the independent context pieces in parallel; none
// of them depends on another.
func (e *Engine) fetchContext(ctx context.Context, user *store.User) (*turnContext, error) {
	tc := &turnContext{}
	now := e.clock.Now()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tc.history, err = e.store.RecentMessages(user.ID, e.cfg.Session.HistoryWindow)
		return err
	})
	g.Go(func() (err error) {
		tc.insights, err = e.store.TopInsights(user.ID, e.cfg.Session.InsightBudget)
		return err
	})
	g.Go(func() (err error) {
		tc.themes, err = e.store.ActiveThemes(user.ID, 10)
		return err
	})
	g.Go(func() (err error) {
		tc.commitments, err = e.store.PendingCommitments(user.ID, 10)
		return err
	})
	g.Go(func() (err error) {
		tc.upcoming, err = e.store.UpcomingSessions(user.ID, now, 3)
		return err
	})
	g.Go(func() (err error) {
		tc.lastCheckin, err = e.store.LastCheckin(user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tc, nil
}

func (e *Engine) generate(ctx context.Context, user *store.User, res *session.Resolved, tctx *turnContext, req TurnRequest) (string, error) {
	messages := []llm.Message{{Role: "system", Content: e.buildSystemPrompt(user, res, tctx, req.InterruptedContent)}}
	for _, m := range tctx.history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Text})

	resp, err := e.llm.Chat(ctx, e.cfg.Generation.Model, messages)
	if err != nil {
		e.logger.Error("generation failed", "user_id", user.ID, "error", err)
		return "", err
	}
	if resp.Truncated() {
		e.logger.Warn("generation truncated", "user_id", user.ID, "output_tokens", resp.OutputTokens)
	}
	return resp.Content, nil
}

func (e *Engine) buildSystemPrompt(user *store.User, res *session.Resolved, tctx *turnContext, interrupted string) string {
	now := e.clock.Now().In(e.clock.Location())

	tc := prompts.TurnContext{
		UserName:           user.Name,
		Plan:               user.Plan,
		LocalNow:           fmt.Sprintf("%s, %s", weekdayPT(now.Weekday()), now.Format("02/01/2006 15:04")),
		InterruptedContent: interrupted,
		FirstSession:       !user.FirstSessionDone,
		SupportStyle:       user.SupportStyle,
	}
	if res.Active() {
		tc.SessionActive = true
		tc.Phase = string(res.Phase.Phase)
		tc.ElapsedMinutes = res.Phase.ElapsedMinutes
		tc.RemainingMinutes = res.Phase.RemainingMinutes
		tc.WarnClosing = res.Phase.ShouldWarnClosing
		tc.FocusTopic = res.Session.FocusTopic
	}
	for _, in := range tctx.insights {
		tc.Insights = append(tc.Insights, fmt.Sprintf("%s/%s: %s", in.Category, in.Key, in.Value))
	}
	for _, th := range tctx.themes {
		tc.Themes = append(tc.Themes, fmt.Sprintf("%s (%s, mencionado %dx)", th.Name, th.Status, th.MentionCount))
	}
	for _, c := range tctx.commitments {
		tc.Commitments = append(tc.Commitments, c.Title)
	}
	if ci := tctx.lastCheckin; ci != nil {
		tc.LastCheckin = fmt.Sprintf("humor %s, energia %d/5 (%s)", ci.Mood, ci.Energy, ci.CreatedAt.In(e.clock.Location()).Format("02/01 15:04"))
	}
	return prompts.SystemPrompt(tc)
}

// deliver sends units in order, honoring capped delays. One failed
// unit is logged and skipped; the rest still go out. Reports whether
// any audio unit was actually delivered as audio.
func (e *Engine) deliver(ctx context.Context, user *store.User, units []segment.Unit) bool {
	if e.sender == nil {
		return false
	}

	audioSent := false
	for i, u := range units {
		if d := e.segmenter.CapDelay(u.Delay); d > 0 {
			select {
			case <-ctx.Done():
				e.logger.Warn("delivery cancelled", "user_id", user.ID, "sent", i, "total", len(units))
				return audioSent
			case <-time.After(d):
			}
		}

		if u.IsAudio && e.tts != nil {
			data, err := e.tts.Synthesize(ctx, u.Content)
			switch {
			case err == nil:
				if err := e.sender.SendAudio(ctx, user.Phone, data); err != nil {
					e.logger.Error("audio send failed", "user_id", user.ID, "unit", i, "error", err)
					continue
				}
				audioSent = true
				continue
			case errors.Is(err, tts.ErrFallbackToText):
				e.logger.Warn("tts degraded to text", "user_id", user.ID, "unit", i, "error", err)
			default:
				e.logger.Error("tts failed, sending text", "user_id", user.ID, "unit", i, "error", err)
			}
		}

		if err := e.sender.SendText(ctx, user.Phone, u.Content); err != nil {
			e.logger.Error("text send failed", "user_id", user.ID, "unit", i, "error", err)
		}
	}
	return audioSent
}

// updateFollowup arms or disarms the idle tracker from the turn's
// conversation-status directives.
func (e *Engine) updateFollowup(user *store.User, res *session.Resolved, tctx *turnContext, out directive.Outcome, ended bool) {
	switch {
	case out.Concluded || ended:
		if err := e.store.DisarmFollowup(user.ID, out.Concluded); err != nil {
			e.logger.Error("followup disarm failed", "user_id", user.ID, "error", err)
		}
	case out.Awaiting:
		topic := ""
		if res.Active() && res.Session.FocusTopic != "" {
			topic = res.Session.FocusTopic
		} else if len(tctx.themes) > 0 {
			topic = tctx.themes[0].Name
		}
		deep := len(tctx.history) >= e.cfg.Session.HistoryWindow
		if err := e.store.ArmFollowup(user.ID, e.clock.Now(), topic, "acolhedor", sensitiveCautions(tctx.insights), deep); err != nil {
			e.logger.Error("followup arm failed", "user_id", user.ID, "error", err)
		}
	default:
		// No status directive on this turn: neutral, leave the tracker
		// disarmed rather than guessing.
		if err := e.store.DisarmFollowup(user.ID, false); err != nil {
			e.logger.Error("followup disarm failed", "user_id", user.ID, "error", err)
		}
	}
}

// sensitiveCautions summarizes stored sensitive-category insights so
// the follow-up sweep can veto nudges.
func sensitiveCautions(insights []store.Insight) string {
	var notes []string
	for _, in := range insights {
		switch in.Category {
		case store.CategoryTrauma, store.CategoryHealth:
			notes = append(notes, in.Category+": "+in.Key)
		}
	}
	return strings.Join(notes, "; ")
}

func (e *Engine) quotaRemaining(user *store.User) int {
	quota, ok := e.cfg.Session.MonthlyQuotaByPlan[user.Plan]
	if !ok {
		return 0
	}
	if remaining := quota - user.SessionsUsedMonth; remaining > 0 {
		return remaining
	}
	return 0
}

// cannedTurn delivers a fixed reply through the normal segmentation
// and persistence path.
// cannedTurn persists and delivers a fixed reply. An empty inbound
// means the caller already persisted the user's message.
func (e *Engine) cannedTurn(ctx context.Context, user *store.User, res *session.Resolved, inbound, reply string) *TurnResult {
	if inbound != "" {
		if _, err := e.store.AddMessage(user.ID, "user", inbound); err != nil {
			e.logger.Error("inbound persist failed", "user_id", user.ID, "error", err)
		}
	}
	if _, err := e.store.AddMessage(user.ID, "assistant", reply); err != nil {
		e.logger.Error("outbound persist failed", "user_id", user.ID, "error", err)
	}
	units := e.segmenter.Split(reply, false)
	e.deliver(ctx, user, units)
	return &TurnResult{
		Units:          units,
		Plan:           user.Plan,
		SessionActive:  res != nil && res.Active(),
		QuotaRemaining: e.quotaRemaining(user),
	}
}

// apologize is the bottom of every failure path: one plain text unit.
func (e *Engine) apologize(ctx context.Context, user *store.User, reply string) *TurnResult {
	units := []segment.Unit{{Content: reply}}
	if user != nil && e.sender != nil {
		if err := e.sender.SendText(ctx, user.Phone, reply); err != nil {
			e.logger.Error("apology send failed", "error", err)
		}
	}
	result := &TurnResult{Units: units}
	if user != nil {
		result.Plan = user.Plan
	}
	return result
}

func cannedFor(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return replyRateLimited
	case errors.Is(err, llm.ErrQuotaExceeded):
		return replyQuotaIssue
	}
	return replyGenericError
}

// textOnlyMarkers are inbound phrasings that ask for written replies.
// Any of them closes the audio gate for this turn.
var textOnlyMarkers = []string{
	"sem áudio",
	"sem audio",
	"não manda áudio",
	"nao manda audio",
	"prefiro texto",
	"por texto",
	"pode escrever",
	"me escreve",
	"não consigo ouvir",
	"nao consigo ouvir",
	"não posso ouvir",
	"nao posso ouvir",
}

func prefersTextOnly(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range textOnlyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var weekdaysPT = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

func weekdayPT(wd time.Weekday) string {
	return weekdaysPT[int(wd)]
}
