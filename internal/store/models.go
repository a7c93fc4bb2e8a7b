package store

import "time"

// Plan tiers.
const (
	PlanTrial     = "trial"
	PlanEssencial = "essencial"
	PlanPremium   = "premium"
)

// Session statuses.
const (
	SessionScheduled  = "scheduled"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionCancelled  = "cancelled"
	SessionNoShow     = "no_show"
)

// Theme statuses.
const (
	ThemeActive      = "active"
	ThemeProgressing = "progressing"
	ThemeResolved    = "resolved"
	ThemeRecurring   = "recurring"
	ThemeStagnant    = "stagnant"
)

// Commitment statuses.
const (
	CommitmentPending      = "pending"
	CommitmentCompleted    = "completed"
	CommitmentAbandoned    = "abandoned"
	CommitmentRenegotiated = "renegotiated"
)

// User is one end user of the product. Users are never hard-deleted;
// Status is downgraded instead.
type User struct {
	ID     string
	Phone  string
	Name   string
	Plan   string
	Status string

	MessagesToday   int
	LastMessageDate string // YYYY-MM-DD in the business timezone
	TrialTurns      int    // conversation count during trial

	SessionsUsedMonth int
	QuotaResetAt      time.Time

	CurrentSessionID string
	ContentTrack     string
	ContentEpisode   int

	DNDUntil           *time.Time
	PauseUntil         *time.Time
	NeedsScheduleSetup bool
	PreferredWeekday   *int // 0 = Sunday

	SupportStyle     string
	MainChallenges   string
	TherapyHistory   string
	FirstSessionDone bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one scheduled, time-boxed structured conversation.
type Session struct {
	ID          string
	UserID      string
	ScheduledAt time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	DurationMin int
	Status      string
	Type        string
	FocusTopic  string

	Summary     string
	KeyInsights []string
	Commitments []string

	AudioReplies int

	// Idempotency guards for the reminder/notification steps.
	ReminderDaySent  bool
	ReminderHourSent bool
	StartNotifSent   bool

	CreatedAt time.Time
}

// Message is one immutable row of the conversation log.
type Message struct {
	ID        string
	UserID    string
	Role      string // user | assistant
	Content   string
	CreatedAt time.Time
}

// Insight is a durable long-term memory fact, unique per
// (user, category, key).
type Insight struct {
	ID              string
	UserID          string
	Category        string
	Key             string
	Value           string
	Importance      int
	LastMentionedAt time.Time
	MentionedCount  int
}

// FollowupTracker holds per-user re-engagement state. AwaitingSince nil
// means no nudge is armed.
type FollowupTracker struct {
	UserID          string
	AwaitingSince   *time.Time
	Attempts        int
	LastFollowupAt  *time.Time
	ContextTopic    string
	ContextTone     string
	ContextCautions string
	DeepTalk        bool // prior conversation was long/deep
	NaturalClose    bool // conversation ended with closing sentiment
}

// Theme tracks a recurring session topic across sessions.
type Theme struct {
	ID               string
	UserID           string
	Name             string
	Status           string
	FirstMentionedAt time.Time
	LastMentionedAt  time.Time
	MentionCount     int
}

// Checkin is one mood/energy reading, recorded when the model asks how
// the user is arriving. Energy is a 1-5 scale.
type Checkin struct {
	ID        string
	UserID    string
	Mood      string
	Energy    int
	CreatedAt time.Time
}

// Commitment is an action the user agreed to take.
type Commitment struct {
	ID            string
	UserID        string
	Title         string
	Description   string
	DueDate       *time.Time
	Status        string
	FollowupCount int
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
