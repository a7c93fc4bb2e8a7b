package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordCheckin stores one mood/energy reading.
func (s *Store) RecordCheckin(userID, mood string, energy int, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO checkins (id, user_id, mood, energy, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, NewID(), userID, mood, energy, at.UTC())
	if err != nil {
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

// LastCheckin returns the most recent reading, or nil when the user has
// none yet.
func (s *Store) LastCheckin(userID string) (*Checkin, error) {
	var c Checkin
	err := s.db.QueryRow(`
		SELECT id, user_id, mood, energy, created_at
		FROM checkins
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&c.ID, &c.UserID, &c.Mood, &c.Energy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last checkin: %w", err)
	}
	return &c, nil
}
