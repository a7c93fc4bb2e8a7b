package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertTheme records a theme mention. An existing theme matching the
// name (fuzzy, substring either way) gets its counters refreshed; a new
// name creates a fresh active theme.
func (s *Store) UpsertTheme(userID, name string, now time.Time) error {
	existing, err := s.findThemeFuzzy(userID, name)
	if err != nil {
		return err
	}

	if existing != nil {
		status := existing.Status
		if status == ThemeResolved {
			status = ThemeRecurring
		}
		_, err := s.db.Exec(`
			UPDATE themes SET last_mentioned_at = ?, mention_count = mention_count + 1, status = ?
			WHERE id = ?`, now, status, existing.ID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO themes (id, user_id, name, status, first_mentioned_at, last_mentioned_at, mention_count)
		VALUES (?, ?, ?, 'active', ?, ?, 1)
	`, NewID(), userID, name, now, now)
	if err != nil {
		return fmt.Errorf("insert theme: %w", err)
	}
	return nil
}

// UpdateThemeStatus sets the status of the theme fuzzy-matching name.
// An unknown name is a no-op: the origin is generated text, so a bad
// reference must degrade silently.
func (s *Store) UpdateThemeStatus(userID, name, status string, now time.Time) error {
	existing, err := s.findThemeFuzzy(userID, name)
	if err != nil || existing == nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE themes SET status = ?, last_mentioned_at = ? WHERE id = ?`,
		status, now, existing.ID)
	return err
}

// ActiveThemes lists the user's non-resolved themes, most recently
// mentioned first.
func (s *Store) ActiveThemes(userID string, limit int) ([]Theme, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, name, status, first_mentioned_at, last_mentioned_at, mention_count
		FROM themes
		WHERE user_id = ? AND status != 'resolved'
		ORDER BY last_mentioned_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectThemes(rows)
}

// GetThemeByName fetches a theme by fuzzy name match. Returns nil, nil
// when nothing matches.
func (s *Store) GetThemeByName(userID, name string) (*Theme, error) {
	return s.findThemeFuzzy(userID, name)
}

func (s *Store) findThemeFuzzy(userID, name string) (*Theme, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, status, first_mentioned_at, last_mentioned_at, mention_count
		FROM themes WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	themes, err := collectThemes(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(name))
	for _, t := range themes {
		have := strings.ToLower(t.Name)
		if have == needle || strings.Contains(have, needle) || strings.Contains(needle, have) {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func collectThemes(rows *sql.Rows) ([]Theme, error) {
	var themes []Theme
	for rows.Next() {
		var t Theme
		err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Status,
			&t.FirstMentionedAt, &t.LastMentionedAt, &t.MentionCount)
		if err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, t)
	}
	return themes, rows.Err()
}
