// Package config handles AURA configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/aura/config.yaml, /etc/aura/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aura", "config.yaml"))
	}

	paths = append(paths, "/etc/aura/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all AURA configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	TTS        TTSConfig        `yaml:"tts"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	Timezone   TimezoneConfig   `yaml:"timezone"`
	Session    SessionConfig    `yaml:"session"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Followup   FollowupConfig   `yaml:"followup"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" or "json"
}

// ListenConfig defines the webhook server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr formats the bind address for net/http.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// DatabaseConfig defines the SQLite datastore location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GenerationConfig defines the chat-completion provider settings.
type GenerationConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"` // falls back to Model when empty
	NudgeModel   string `yaml:"nudge_model"`   // falls back to Model when empty
}

// TTSConfig defines the text-to-speech provider settings.
type TTSConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
}

// WhatsAppConfig defines the Cloud API transport settings.
type WhatsAppConfig struct {
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
}

// CheckoutConfig defines the payment-link capability settings.
type CheckoutConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	ShortenURL string `yaml:"shorten_url"` // optional URL shortener endpoint
}

// TimezoneConfig pins the business timezone as an explicit UTC offset.
// The agent must not depend on the host tzdata being present, so the
// offset is configured directly rather than resolved from an IANA name.
type TimezoneConfig struct {
	Name        string `yaml:"name"`         // label only, e.g. "America/Sao_Paulo"
	OffsetHours int    `yaml:"offset_hours"` // e.g. -3
}

// QuietHours is the local-time window during which proactive nudges are
// suppressed. The window may wrap midnight (StartHour > EndHour).
type QuietHours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// SessionConfig holds the structured-session timing and quota knobs.
type SessionConfig struct {
	DurationMinutes     int            `yaml:"duration_minutes"`
	ProximityWindowMin  int            `yaml:"proximity_window_min"`  // ± window for pending confirmation
	PreStartWindowMin   int            `yaml:"pre_start_window_min"`  // auto-start window before scheduled time
	GraceMinutes        int            `yaml:"grace_minutes"`         // abandonment grace after expected end
	PauseLookaheadDays  int            `yaml:"pause_lookahead_days"`  // cap on [PAUSAR_SESSOES] dates
	HistoryWindow       int            `yaml:"history_window"`        // rolling message context size
	InsightBudget       int            `yaml:"insight_budget"`        // max insights injected per turn
	SummaryTurns        int            `yaml:"summary_turns"`         // transcript rows fed to close summarization
	MonthlyQuotaByPlan  map[string]int `yaml:"monthly_quota_by_plan"` // sessions per billing month
	ReactivationWindowH int            `yaml:"reactivation_window_h"` // how far back a missed session can be offered
	Phases              PhaseTable     `yaml:"phases"`
}

// PhaseTable defines the sub-phase boundaries of an active session, in
// minutes of elapsed time. The tail phases are anchored to the session
// duration rather than to fixed offsets from the start.
type PhaseTable struct {
	OpeningEnd        int `yaml:"opening_end"`         // 0..N → opening
	ExplorationEnd    int `yaml:"exploration_end"`     // → exploration
	ReframeEnd        int `yaml:"reframe_end"`         // → reframe
	TransitionBefore  int `yaml:"transition_before"`   // duration-N → transition
	SoftClosingBefore int `yaml:"soft_closing_before"` // duration-N → soft_closing
	FinalClosingDelta int `yaml:"final_closing_delta"` // duration-N → final_closing
}

// SegmenterConfig holds the delivery-unit pacing knobs.
type SegmenterConfig struct {
	MaxUnits       int           `yaml:"max_units"`
	BubbleLimit    int           `yaml:"bubble_limit"`     // chars per text bubble
	AudioLimit     int           `yaml:"audio_limit"`      // chars per spoken segment
	DelayPerChar   time.Duration `yaml:"delay_per_char"`   // simulated typing speed
	MinDelay       time.Duration `yaml:"min_delay"`        // floor per unit
	MaxDelay       time.Duration `yaml:"max_delay"`        // ceiling per unit
	Jitter         float64       `yaml:"jitter"`           // ± multiplicative jitter
	MaxSingleDelay time.Duration `yaml:"max_single_delay"` // hard cap applied at send time
	AudioGap       time.Duration `yaml:"audio_gap"`        // inter-unit gap in audio mode
}

// NudgePolicy pairs an idle threshold with a maximum attempt count for
// one follow-up situation.
type NudgePolicy struct {
	Threshold   time.Duration `yaml:"threshold"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// FollowupConfig is the per-situation nudge policy table plus the quiet
// hours window. All thresholds live here so pacing is tuned in one place.
type FollowupConfig struct {
	InSession    NudgePolicy `yaml:"in_session"`
	NaturalClose NudgePolicy `yaml:"natural_close"`
	DeepTalk     NudgePolicy `yaml:"deep_talk"`
	PlanCredits  NudgePolicy `yaml:"plan_credits"`
	Default      NudgePolicy `yaml:"default"`
	Quiet        QuietHours  `yaml:"quiet_hours"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body (${VAR}) are expanded before unmarshalling so secrets
// can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "aura.db"},
		Timezone: TimezoneConfig{Name: "America/Sao_Paulo", OffsetHours: -3},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "aura.db"
	}
	if c.Timezone.OffsetHours == 0 && c.Timezone.Name == "" {
		c.Timezone = TimezoneConfig{Name: "America/Sao_Paulo", OffsetHours: -3}
	}
	c.Session.applyDefaults()
	c.Segmenter.applyDefaults()
	c.Followup.applyDefaults()
}

func (s *SessionConfig) applyDefaults() {
	if s.DurationMinutes <= 0 {
		s.DurationMinutes = 45
	}
	if s.ProximityWindowMin <= 0 {
		s.ProximityWindowMin = 60
	}
	if s.PreStartWindowMin <= 0 {
		s.PreStartWindowMin = 5
	}
	if s.GraceMinutes <= 0 {
		s.GraceMinutes = 30
	}
	if s.PauseLookaheadDays <= 0 {
		s.PauseLookaheadDays = 90
	}
	if s.HistoryWindow <= 0 {
		s.HistoryWindow = 40
	}
	if s.InsightBudget <= 0 {
		s.InsightBudget = 12
	}
	if s.SummaryTurns <= 0 {
		s.SummaryTurns = 30
	}
	if s.ReactivationWindowH <= 0 {
		s.ReactivationWindowH = 48
	}
	if s.MonthlyQuotaByPlan == nil {
		s.MonthlyQuotaByPlan = map[string]int{
			"essencial": 4,
			"premium":   8,
		}
	}
	s.Phases.applyDefaults()
}

func (s *SegmenterConfig) applyDefaults() {
	if s.MaxUnits <= 0 {
		s.MaxUnits = 5
	}
	if s.BubbleLimit <= 0 {
		s.BubbleLimit = 250
	}
	if s.AudioLimit <= 0 {
		s.AudioLimit = 420
	}
	if s.DelayPerChar <= 0 {
		s.DelayPerChar = 35 * time.Millisecond
	}
	if s.MinDelay <= 0 {
		s.MinDelay = 800 * time.Millisecond
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = 6 * time.Second
	}
	if s.Jitter <= 0 {
		s.Jitter = 0.2
	}
	if s.MaxSingleDelay <= 0 {
		s.MaxSingleDelay = 4 * time.Second
	}
	if s.AudioGap <= 0 {
		s.AudioGap = 500 * time.Millisecond
	}
}

func (f *FollowupConfig) applyDefaults() {
	if f.InSession.Threshold <= 0 {
		f.InSession = NudgePolicy{Threshold: 3 * time.Minute, MaxAttempts: 3}
	}
	if f.NaturalClose.Threshold <= 0 {
		f.NaturalClose = NudgePolicy{Threshold: 24 * time.Hour, MaxAttempts: 1}
	}
	if f.DeepTalk.Threshold <= 0 {
		f.DeepTalk = NudgePolicy{Threshold: 12 * time.Hour, MaxAttempts: 1}
	}
	if f.PlanCredits.Threshold <= 0 {
		f.PlanCredits = NudgePolicy{Threshold: 4 * time.Hour, MaxAttempts: 2}
	}
	if f.Default.Threshold <= 0 {
		f.Default = NudgePolicy{Threshold: 90 * time.Minute, MaxAttempts: 2}
	}
	if f.Quiet.StartHour == 0 && f.Quiet.EndHour == 0 {
		f.Quiet = QuietHours{StartHour: 22, EndHour: 8}
	}
}

func (p *PhaseTable) applyDefaults() {
	if p.OpeningEnd <= 0 {
		p.OpeningEnd = 5
	}
	if p.ExplorationEnd <= 0 {
		p.ExplorationEnd = 25
	}
	if p.ReframeEnd <= 0 {
		p.ReframeEnd = 35
	}
	if p.TransitionBefore <= 0 {
		p.TransitionBefore = 10
	}
	if p.SoftClosingBefore <= 0 {
		p.SoftClosingBefore = 5
	}
	if p.FinalClosingDelta <= 0 {
		p.FinalClosingDelta = 2
	}
}
