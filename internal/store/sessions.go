package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, user_id, scheduled_at, started_at, ended_at, duration_min,
	status, type, focus_topic, summary, key_insights, commitments, audio_replies,
	reminder_day_sent, reminder_hour_sent, start_notif_sent, created_at`

// CreateSession persists a new scheduled session.
func (s *Store) CreateSession(sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	// Time columns are stored as text including the zone offset, and
	// range queries compare them as strings. Every stored value and
	// every bound comparison value must therefore be UTC, or times from
	// different zones misorder.
	sess.ScheduledAt = sess.ScheduledAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	if sess.Status == "" {
		sess.Status = SessionScheduled
	}

	insights, err := json.Marshal(emptyIfNil(sess.KeyInsights))
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	commitments, err := json.Marshal(emptyIfNil(sess.Commitments))
	if err != nil {
		return fmt.Errorf("marshal commitments: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, scheduled_at, started_at, ended_at, duration_min,
			status, type, focus_topic, summary, key_insights, commitments, audio_replies,
			reminder_day_sent, reminder_hour_sent, start_notif_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.ScheduledAt, nullTime(sess.StartedAt), nullTime(sess.EndedAt),
		sess.DurationMin, sess.Status, sess.Type, sess.FocusTopic, sess.Summary,
		string(insights), string(commitments), sess.AudioReplies,
		boolInt(sess.ReminderDaySent), boolInt(sess.ReminderHourSent),
		boolInt(sess.StartNotifSent), sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns nil, nil when not found.
func (s *Store) GetSession(id string) (*Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// ActiveSession returns the user's in_progress session regardless of
// whether the user's pointer references it. Used by the state machine's
// orphan reconciliation.
func (s *Store) ActiveSession(userID string) (*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status = 'in_progress'
		ORDER BY started_at DESC LIMIT 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// FindScheduledNear returns a scheduled session within ±window of now.
func (s *Store) FindScheduledNear(userID string, now time.Time, window time.Duration) (*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status = 'scheduled'
			AND scheduled_at BETWEEN ? AND ?
		ORDER BY scheduled_at ASC LIMIT 1`,
		userID, now.Add(-window).UTC(), now.Add(window).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// FindReactivatable returns the most recent cancelled/no_show session
// inside the reactivation window, eligible to be offered again.
func (s *Store) FindReactivatable(userID string, now time.Time, window time.Duration) (*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status IN ('cancelled', 'no_show')
			AND scheduled_at >= ?
		ORDER BY scheduled_at DESC LIMIT 1`,
		userID, now.Add(-window).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// ErrSessionNotStartable is returned when the conditional start update
// affected no rows: the session was already started by a concurrent
// turn, or is in a terminal state.
var ErrSessionNotStartable = errors.New("session not in a startable state")

// StartSession transitions a session to in_progress with an optimistic
// status check. Two concurrent turns cannot both win: only the statement
// that observes a startable status updates the row.
func (s *Store) StartSession(sessionID string, startedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = 'in_progress', started_at = ?
		WHERE id = ? AND status IN ('scheduled', 'cancelled', 'no_show')
	`, startedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotStartable
	}
	return nil
}

// CompleteSession closes a session with its post-hoc summary data.
// Completing an already-completed session is a no-op.
func (s *Store) CompleteSession(sessionID string, endedAt time.Time, summary string, insights, commitments []string) error {
	insightsJSON, err := json.Marshal(emptyIfNil(insights))
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	commitmentsJSON, err := json.Marshal(emptyIfNil(commitments))
	if err != nil {
		return fmt.Errorf("marshal commitments: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE sessions
		SET status = 'completed', ended_at = ?, summary = ?, key_insights = ?, commitments = ?
		WHERE id = ? AND status = 'in_progress'
	`, endedAt.UTC(), summary, string(insightsJSON), string(commitmentsJSON), sessionID)
	return err
}

// AbandonSession force-closes a walked-away-from session as no_show.
// Re-abandoning an already-closed session is a no-op.
func (s *Store) AbandonSession(sessionID string, endedAt time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = 'no_show', ended_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, endedAt.UTC(), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelSession marks a scheduled session cancelled.
func (s *Store) CancelSession(sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = 'cancelled'
		WHERE id = ? AND status = 'scheduled'`, sessionID)
	return err
}

// Reschedule moves a scheduled session to a new time.
func (s *Store) Reschedule(sessionID string, scheduledAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET scheduled_at = ?
		WHERE id = ? AND status = 'scheduled'`, scheduledAt.UTC(), sessionID)
	return err
}

// StaleInProgress returns in_progress sessions whose expected end plus
// grace period has elapsed. Fed to the abandonment sweep.
func (s *Store) StaleInProgress(now time.Time, grace time.Duration) ([]*Session, error) {
	// started_at + duration_min + grace <= now
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'in_progress' AND started_at IS NOT NULL
			AND datetime(started_at, '+' || (duration_min + ?) || ' minutes') <= datetime(?)
	`, int(grace.Minutes()), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// NextScheduled returns the user's next future scheduled session.
func (s *Store) NextScheduled(userID string, now time.Time) (*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status = 'scheduled' AND scheduled_at > ?
		ORDER BY scheduled_at ASC LIMIT 1`, userID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// UpcomingSessions lists the user's future scheduled sessions.
func (s *Store) UpcomingSessions(userID string, now time.Time, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status = 'scheduled' AND scheduled_at > ?
		ORDER BY scheduled_at ASC LIMIT ?`, userID, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// CompletedSessionCount counts the user's completed sessions.
func (s *Store) CompletedSessionCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sessions WHERE user_id = ? AND status = 'completed'
	`, userID).Scan(&n)
	return n, err
}

// IncrementAudioReplies bumps the session's audio reply counter.
func (s *Store) IncrementAudioReplies(sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET audio_replies = audio_replies + 1 WHERE id = ?`, sessionID)
	return err
}

// MarkReminderSent flips one of the reminder idempotency flags. Returns
// true when this call flipped it (the reminder should be sent), false
// when it was already set.
func (s *Store) MarkReminderSent(sessionID, flag string) (bool, error) {
	var column string
	switch flag {
	case "day":
		column = "reminder_day_sent"
	case "hour":
		column = "reminder_hour_sent"
	case "start":
		column = "start_notif_sent"
	default:
		return false, fmt.Errorf("unknown reminder flag %q", flag)
	}

	res, err := s.db.Exec(
		`UPDATE sessions SET `+column+` = 1 WHERE id = ? AND `+column+` = 0`, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SessionsNeedingReminder returns scheduled sessions inside the given
// lead window whose reminder flag is still unset.
func (s *Store) SessionsNeedingReminder(now time.Time, lead time.Duration, flag string) ([]*Session, error) {
	var column string
	switch flag {
	case "day":
		column = "reminder_day_sent"
	case "hour":
		column = "reminder_hour_sent"
	case "start":
		column = "start_notif_sent"
	default:
		return nil, fmt.Errorf("unknown reminder flag %q", flag)
	}

	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'scheduled' AND `+column+` = 0
			AND scheduled_at BETWEEN ? AND ?
		ORDER BY scheduled_at ASC`, now.UTC(), now.Add(lead).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		var sess Session
		var started, ended sql.NullTime
		var insightsJSON, commitmentsJSON string
		var dayFlag, hourFlag, startFlag int

		err := rows.Scan(&sess.ID, &sess.UserID, &sess.ScheduledAt, &started, &ended,
			&sess.DurationMin, &sess.Status, &sess.Type, &sess.FocusTopic, &sess.Summary,
			&insightsJSON, &commitmentsJSON, &sess.AudioReplies,
			&dayFlag, &hourFlag, &startFlag, &sess.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		if started.Valid {
			sess.StartedAt = &started.Time
		}
		if ended.Valid {
			sess.EndedAt = &ended.Time
		}
		_ = json.Unmarshal([]byte(insightsJSON), &sess.KeyInsights)
		_ = json.Unmarshal([]byte(commitmentsJSON), &sess.Commitments)
		sess.ReminderDaySent = dayFlag != 0
		sess.ReminderHourSent = hourFlag != 0
		sess.StartNotifSent = startFlag != 0

		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
