// Package store persists AURA's durable state in SQLite: users,
// sessions, the conversation log, insights, follow-up trackers, themes
// and commitments. All cross-invocation state lives here; the turn
// handler itself is stateless.
package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed datastore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'trial',
		status TEXT NOT NULL DEFAULT 'active',
		messages_today INTEGER NOT NULL DEFAULT 0,
		last_message_date TEXT NOT NULL DEFAULT '',
		trial_turns INTEGER NOT NULL DEFAULT 0,
		sessions_used_month INTEGER NOT NULL DEFAULT 0,
		quota_reset_at TIMESTAMP,
		current_session_id TEXT NOT NULL DEFAULT '',
		content_track TEXT NOT NULL DEFAULT '',
		content_episode INTEGER NOT NULL DEFAULT 0,
		dnd_until TIMESTAMP,
		pause_until TIMESTAMP,
		needs_schedule_setup INTEGER NOT NULL DEFAULT 0,
		preferred_weekday INTEGER,
		support_style TEXT NOT NULL DEFAULT '',
		main_challenges TEXT NOT NULL DEFAULT '',
		therapy_history TEXT NOT NULL DEFAULT '',
		first_session_done INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scheduled_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		ended_at TIMESTAMP,
		duration_min INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		type TEXT NOT NULL DEFAULT '',
		focus_topic TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		key_insights TEXT NOT NULL DEFAULT '[]',
		commitments TEXT NOT NULL DEFAULT '[]',
		audio_replies INTEGER NOT NULL DEFAULT 0,
		reminder_day_sent INTEGER NOT NULL DEFAULT 0,
		reminder_hour_sent INTEGER NOT NULL DEFAULT 0,
		start_notif_sent INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_sessions_scheduled ON sessions(status, scheduled_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at);

	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		importance INTEGER NOT NULL,
		last_mentioned_at TIMESTAMP NOT NULL,
		mentioned_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE(user_id, category, key)
	);

	CREATE TABLE IF NOT EXISTS followups (
		user_id TEXT PRIMARY KEY,
		awaiting_since TIMESTAMP,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_followup_at TIMESTAMP,
		context_topic TEXT NOT NULL DEFAULT '',
		context_tone TEXT NOT NULL DEFAULT '',
		context_cautions TEXT NOT NULL DEFAULT '',
		deep_talk INTEGER NOT NULL DEFAULT 0,
		natural_close INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS themes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		first_mentioned_at TIMESTAMP NOT NULL,
		last_mentioned_at TIMESTAMP NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_themes_user ON themes(user_id, status);

	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_date TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'pending',
		followup_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_commitments_user ON commitments(user_id, status);

	CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mood TEXT NOT NULL,
		energy INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkins_user ON checkins(user_id, created_at);

	-- Transport-boundary dedup: one row per inbound provider message id.
	CREATE TABLE IF NOT EXISTS inbound_messages (
		message_id TEXT PRIMARY KEY,
		received_at TIMESTAMP NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
