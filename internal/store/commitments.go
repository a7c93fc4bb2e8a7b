package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateCommitment persists a new pending commitment.
func (s *Store) CreateCommitment(c *Commitment) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = CommitmentPending
	}

	_, err := s.db.Exec(`
		INSERT INTO commitments (id, user_id, title, description, due_date, status, followup_count, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Title, c.Description, nullTime(c.DueDate), c.Status,
		c.FollowupCount, c.CreatedAt, nullTime(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}

// PendingCommitments lists the user's open commitments, oldest first.
func (s *Store) PendingCommitments(userID string, limit int) ([]Commitment, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, title, description, due_date, status, followup_count, created_at, resolved_at
		FROM commitments
		WHERE user_id = ? AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommitments(rows)
}

// ResolveCommitment moves the commitment fuzzy-matching title into a
// terminal status. An unknown title is a no-op.
func (s *Store) ResolveCommitment(userID, title, status string, now time.Time) error {
	existing, err := s.findPendingFuzzy(userID, title)
	if err != nil || existing == nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE commitments SET status = ?, resolved_at = ? WHERE id = ?`,
		status, now, existing.ID)
	return err
}

// RenegotiateCommitment retires the commitment fuzzy-matching oldTitle
// and inserts a fresh pending commitment with the new title. When no
// old commitment matches, only the new one is created.
func (s *Store) RenegotiateCommitment(userID, oldTitle, newTitle string, now time.Time) error {
	existing, err := s.findPendingFuzzy(userID, oldTitle)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err = s.db.Exec(`
			UPDATE commitments SET status = 'renegotiated', resolved_at = ? WHERE id = ?`,
			now, existing.ID)
		if err != nil {
			return err
		}
	}

	return s.CreateCommitment(&Commitment{
		UserID:    userID,
		Title:     newTitle,
		CreatedAt: now,
	})
}

// IncrementCommitmentFollowup bumps the follow-up counter on a pending
// commitment when a nudge mentions it.
func (s *Store) IncrementCommitmentFollowup(commitmentID string) error {
	_, err := s.db.Exec(`
		UPDATE commitments SET followup_count = followup_count + 1 WHERE id = ?`, commitmentID)
	return err
}

func (s *Store) findPendingFuzzy(userID, title string) (*Commitment, error) {
	pending, err := s.PendingCommitments(userID, 50)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(title))
	for _, c := range pending {
		have := strings.ToLower(c.Title)
		if have == needle || strings.Contains(have, needle) || strings.Contains(needle, have) {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func collectCommitments(rows *sql.Rows) ([]Commitment, error) {
	var commitments []Commitment
	for rows.Next() {
		var c Commitment
		var due, resolved sql.NullTime
		err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Description, &due,
			&c.Status, &c.FollowupCount, &c.CreatedAt, &resolved)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		if due.Valid {
			c.DueDate = &due.Time
		}
		if resolved.Valid {
			c.ResolvedAt = &resolved.Time
		}
		commitments = append(commitments, c)
	}
	return commitments, rows.Err()
}
