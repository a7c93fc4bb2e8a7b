package store

import (
	"fmt"
	"time"
)

// ClaimInbound records an inbound provider message id with
// insert-or-ignore semantics. It returns true when this call inserted
// the row — the caller won the claim and should process the message —
// and false on a duplicate delivery, which must be a no-op.
func (s *Store) ClaimInbound(messageID string, receivedAt time.Time) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO inbound_messages (message_id, received_at)
		VALUES (?, ?)
	`, messageID, receivedAt)
	if err != nil {
		return false, fmt.Errorf("claim inbound: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneInbound deletes dedup rows older than the cutoff. Webhook retries
// arrive within minutes; rows only need to outlive the retry horizon.
func (s *Store) PruneInbound(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM inbound_messages WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
