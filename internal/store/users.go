package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, phone, name, plan, status, messages_today, last_message_date,
	trial_turns, sessions_used_month, quota_reset_at, current_session_id,
	content_track, content_episode, dnd_until, pause_until, needs_schedule_setup,
	preferred_weekday, support_style, main_challenges, therapy_history,
	first_session_done, created_at, updated_at`

// CreateUser persists a new user.
func (s *Store) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Plan == "" {
		u.Plan = PlanTrial
	}
	if u.Status == "" {
		u.Status = "active"
	}
	if u.QuotaResetAt.IsZero() {
		u.QuotaResetAt = now.AddDate(0, 1, 0)
	}
	// Stored as text and range-compared as strings; must be UTC like
	// every other time column.
	u.QuotaResetAt = u.QuotaResetAt.UTC()

	_, err := s.db.Exec(`
		INSERT INTO users (id, phone, name, plan, status, messages_today, last_message_date,
			trial_turns, sessions_used_month, quota_reset_at, current_session_id,
			content_track, content_episode, dnd_until, pause_until, needs_schedule_setup,
			preferred_weekday, support_style, main_challenges, therapy_history,
			first_session_done, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Phone, u.Name, u.Plan, u.Status, u.MessagesToday, u.LastMessageDate,
		u.TrialTurns, u.SessionsUsedMonth, u.QuotaResetAt, u.CurrentSessionID,
		u.ContentTrack, u.ContentEpisode, nullTime(u.DNDUntil), nullTime(u.PauseUntil),
		boolInt(u.NeedsScheduleSetup), nullInt(u.PreferredWeekday), u.SupportStyle,
		u.MainChallenges, u.TherapyHistory, boolInt(u.FirstSessionDone),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id. Returns nil, nil when not found.
func (s *Store) GetUser(id string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByPhone retrieves a user by phone number. Returns nil, nil
// when not found.
func (s *Store) GetUserByPhone(phone string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var quotaReset, dnd, pause sql.NullTime
	var weekday sql.NullInt64
	var needsSetup, firstDone int

	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.Plan, &u.Status, &u.MessagesToday,
		&u.LastMessageDate, &u.TrialTurns, &u.SessionsUsedMonth, &quotaReset,
		&u.CurrentSessionID, &u.ContentTrack, &u.ContentEpisode, &dnd, &pause,
		&needsSetup, &weekday, &u.SupportStyle, &u.MainChallenges, &u.TherapyHistory,
		&firstDone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if quotaReset.Valid {
		u.QuotaResetAt = quotaReset.Time
	}
	if dnd.Valid {
		u.DNDUntil = &dnd.Time
	}
	if pause.Valid {
		u.PauseUntil = &pause.Time
	}
	if weekday.Valid {
		wd := int(weekday.Int64)
		u.PreferredWeekday = &wd
	}
	u.NeedsScheduleSetup = needsSetup != 0
	u.FirstSessionDone = firstDone != 0

	return &u, nil
}

// TouchDailyCounter increments the user's daily message counter, rolling
// it over when the business date has changed. trial turns are counted
// only for trial-plan users.
func (s *Store) TouchDailyCounter(userID, businessDate string) error {
	res, err := s.db.Exec(`
		UPDATE users
		SET messages_today = CASE WHEN last_message_date = ? THEN messages_today + 1 ELSE 1 END,
			trial_turns = CASE WHEN plan = 'trial' THEN trial_turns + 1 ELSE trial_turns END,
			last_message_date = ?,
			updated_at = ?
		WHERE id = ?
	`, businessDate, businessDate, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("touch daily counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touch daily counter: user %s not found", userID)
	}
	return nil
}

// SetCurrentSession links the user's active-session pointer.
func (s *Store) SetCurrentSession(userID, sessionID string) error {
	return s.updateUserField(userID, "current_session_id", sessionID)
}

// ClearCurrentSession unlinks the user's active-session pointer.
func (s *Store) ClearCurrentSession(userID string) error {
	return s.updateUserField(userID, "current_session_id", "")
}

// SetDoNotDisturb sets the do-not-disturb expiry.
func (s *Store) SetDoNotDisturb(userID string, until time.Time) error {
	return s.updateUserField(userID, "dnd_until", until.UTC())
}

// ClearDoNotDisturb clears a pending silence window. Any inbound message
// cancels it, expired or not.
func (s *Store) ClearDoNotDisturb(userID string) error {
	return s.updateUserField(userID, "dnd_until", nil)
}

// SetPauseUntil sets the sessions-paused-until marker and clears the
// schedule-setup nag in the same statement.
func (s *Store) SetPauseUntil(userID string, until time.Time) error {
	_, err := s.db.Exec(`
		UPDATE users SET pause_until = ?, needs_schedule_setup = 0, updated_at = ?
		WHERE id = ?`, until.UTC(), time.Now(), userID)
	return err
}

// SetScheduleSetupDone turns off the "needs schedule setup" flag.
func (s *Store) SetScheduleSetupDone(userID string) error {
	return s.updateUserField(userID, "needs_schedule_setup", 0)
}

// SetPreferredWeekday records the user's preferred session weekday.
func (s *Store) SetPreferredWeekday(userID string, weekday int) error {
	return s.updateUserField(userID, "preferred_weekday", weekday)
}

// IncrementSessionsUsed bumps the monthly session-usage counter.
func (s *Store) IncrementSessionsUsed(userID string) error {
	_, err := s.db.Exec(`
		UPDATE users SET sessions_used_month = sessions_used_month + 1, updated_at = ?
		WHERE id = ?`, time.Now(), userID)
	return err
}

// ResetMonthlyQuota zeroes the usage counter and advances the reset date.
func (s *Store) ResetMonthlyQuota(userID string, nextReset time.Time) error {
	_, err := s.db.Exec(`
		UPDATE users SET sessions_used_month = 0, quota_reset_at = ?, updated_at = ?
		WHERE id = ?`, nextReset.UTC(), time.Now(), userID)
	return err
}

// SetOnboarding populates the long-term profile fields extracted after
// the first completed session.
func (s *Store) SetOnboarding(userID, supportStyle, challenges, therapyHistory, contentTrack string) error {
	_, err := s.db.Exec(`
		UPDATE users
		SET support_style = ?, main_challenges = ?, therapy_history = ?,
			content_track = ?, first_session_done = 1, updated_at = ?
		WHERE id = ?
	`, supportStyle, challenges, therapyHistory, contentTrack, time.Now(), userID)
	return err
}

// UsersDueQuotaReset returns users whose billing month rolled over.
func (s *Store) UsersDueQuotaReset(now time.Time) ([]*User, error) {
	rows, err := s.db.Query(`
		SELECT `+userColumns+` FROM users
		WHERE status = 'active' AND plan != 'trial' AND quota_reset_at <= ?`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectUsers(rows)
}

func (s *Store) collectUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		var u User
		var quotaReset, dnd, pause sql.NullTime
		var weekday sql.NullInt64
		var needsSetup, firstDone int

		err := rows.Scan(&u.ID, &u.Phone, &u.Name, &u.Plan, &u.Status, &u.MessagesToday,
			&u.LastMessageDate, &u.TrialTurns, &u.SessionsUsedMonth, &quotaReset,
			&u.CurrentSessionID, &u.ContentTrack, &u.ContentEpisode, &dnd, &pause,
			&needsSetup, &weekday, &u.SupportStyle, &u.MainChallenges, &u.TherapyHistory,
			&firstDone, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if quotaReset.Valid {
			u.QuotaResetAt = quotaReset.Time
		}
		if dnd.Valid {
			u.DNDUntil = &dnd.Time
		}
		if pause.Valid {
			u.PauseUntil = &pause.Time
		}
		if weekday.Valid {
			wd := int(weekday.Int64)
			u.PreferredWeekday = &wd
		}
		u.NeedsScheduleSetup = needsSetup != 0
		u.FirstSessionDone = firstDone != 0
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *Store) updateUserField(userID, column string, value any) error {
	_, err := s.db.Exec(
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now(), userID)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
