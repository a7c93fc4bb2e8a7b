package store

import (
	"fmt"
	"time"
)

// AddMessage appends one row to the conversation log. The UUIDv7 id
// keeps insertion order stable even for same-timestamp rows.
func (s *Store) AddMessage(userID, role, content string) (*Message, error) {
	m := &Message{
		ID:        NewID(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// RecentMessages returns the most recent n messages in chronological
// order. This is the rolling context window for generation.
func (s *Store) RecentMessages(userID string, n int) ([]Message, error) {
	if n <= 0 {
		n = 40
	}

	// Fetch newest-first then reverse, so LIMIT picks the right end.
	rows, err := s.db.Query(`
		SELECT id, user_id, role, content, created_at
		FROM messages
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessageCount returns the total number of log rows for a user.
func (s *Store) MessageCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
