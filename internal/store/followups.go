package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ArmFollowup marks the user as awaiting a reply. Context fields
// describe the conversation so the nudge can be written in context and
// so the sensitivity check has material to veto on.
func (s *Store) ArmFollowup(userID string, since time.Time, topic, tone, cautions string, deepTalk bool) error {
	_, err := s.db.Exec(`
		INSERT INTO followups (user_id, awaiting_since, attempts, context_topic, context_tone, context_cautions, deep_talk, natural_close)
		VALUES (?, ?, 0, ?, ?, ?, ?, 0)
		ON CONFLICT(user_id) DO UPDATE SET
			awaiting_since = excluded.awaiting_since,
			attempts = 0,
			context_topic = excluded.context_topic,
			context_tone = excluded.context_tone,
			context_cautions = excluded.context_cautions,
			deep_talk = excluded.deep_talk,
			natural_close = 0
	`, userID, since.UTC(), topic, tone, cautions, boolInt(deepTalk))
	if err != nil {
		return fmt.Errorf("arm followup: %w", err)
	}
	return nil
}

// DisarmFollowup clears the awaiting marker. naturalClose records that
// the conversation ended on closing sentiment, which lengthens the
// threshold if a later nudge is ever armed for this user.
func (s *Store) DisarmFollowup(userID string, naturalClose bool) error {
	_, err := s.db.Exec(`
		INSERT INTO followups (user_id, awaiting_since, attempts, natural_close)
		VALUES (?, NULL, 0, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			awaiting_since = NULL,
			natural_close = excluded.natural_close
	`, userID, boolInt(naturalClose))
	return err
}

// RecordFollowupSent bumps the attempt counter after a nudge goes out.
func (s *Store) RecordFollowupSent(userID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE followups SET attempts = attempts + 1, last_followup_at = ?
		WHERE user_id = ?`, at.UTC(), userID)
	return err
}

// PendingFollowups returns every tracker with an armed awaiting marker.
// Threshold filtering happens in the sweep, which knows the situation-
// dependent policy.
func (s *Store) PendingFollowups() ([]FollowupTracker, error) {
	rows, err := s.db.Query(`
		SELECT user_id, awaiting_since, attempts, last_followup_at,
			context_topic, context_tone, context_cautions, deep_talk, natural_close
		FROM followups
		WHERE awaiting_since IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trackers []FollowupTracker
	for rows.Next() {
		var tr FollowupTracker
		var since, last sql.NullTime
		var deep, natural int
		err := rows.Scan(&tr.UserID, &since, &tr.Attempts, &last,
			&tr.ContextTopic, &tr.ContextTone, &tr.ContextCautions, &deep, &natural)
		if err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		if since.Valid {
			tr.AwaitingSince = &since.Time
		}
		if last.Valid {
			tr.LastFollowupAt = &last.Time
		}
		tr.DeepTalk = deep != 0
		tr.NaturalClose = natural != 0
		trackers = append(trackers, tr)
	}
	return trackers, rows.Err()
}

// GetFollowup fetches one tracker. Returns nil, nil when not found.
func (s *Store) GetFollowup(userID string) (*FollowupTracker, error) {
	rows, err := s.db.Query(`
		SELECT user_id, awaiting_since, attempts, last_followup_at,
			context_topic, context_tone, context_cautions, deep_talk, natural_close
		FROM followups WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var tr FollowupTracker
	var since, last sql.NullTime
	var deep, natural int
	err = rows.Scan(&tr.UserID, &since, &tr.Attempts, &last,
		&tr.ContextTopic, &tr.ContextTone, &tr.ContextCautions, &deep, &natural)
	if err != nil {
		return nil, fmt.Errorf("scan followup: %w", err)
	}
	if since.Valid {
		tr.AwaitingSince = &since.Time
	}
	if last.Valid {
		tr.LastFollowupAt = &last.Time
	}
	tr.DeepTalk = deep != 0
	tr.NaturalClose = natural != 0
	return &tr, nil
}
