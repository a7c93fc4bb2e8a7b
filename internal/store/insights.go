package store

import (
	"fmt"
	"strings"
	"time"
)

// Insight categories. Importance is assigned per category at write time
// and never changed by later mentions.
const (
	CategoryPerson      = "pessoa"
	CategoryIdentity    = "identidade"
	CategoryGoal        = "objetivo"
	CategoryPattern     = "padrao"
	CategoryAchievement = "conquista"
	CategoryTrauma      = "trauma"
	CategoryPreference  = "preferencia"
	CategoryContext     = "contexto"
	CategoryChallenge   = "desafio"
	CategoryHealth      = "saude"
	CategoryRoutine     = "rotina"
)

// categoryImportance is the fixed per-category weight table. Higher
// weights are retrieved first under the context-window budget.
var categoryImportance = map[string]int{
	CategoryTrauma:      10,
	CategoryPerson:      9,
	CategoryHealth:      9,
	CategoryIdentity:    8,
	CategoryChallenge:   7,
	CategoryGoal:        7,
	CategoryPattern:     6,
	CategoryAchievement: 5,
	CategoryRoutine:     4,
	CategoryPreference:  3,
	CategoryContext:     2,
}

// criticalCategories are always included in the context budget before
// any importance/recency ranking.
var criticalCategories = []string{CategoryTrauma, CategoryPerson, CategoryHealth}

// CategoryImportance returns the fixed weight for a category; unknown
// categories get a low default rather than being rejected, since the
// origin is generated text.
func CategoryImportance(category string) int {
	if w, ok := categoryImportance[strings.ToLower(category)]; ok {
		return w
	}
	return 2
}

// KnownCategory reports whether the category is in the closed set.
func KnownCategory(category string) bool {
	_, ok := categoryImportance[strings.ToLower(category)]
	return ok
}

// UpsertInsight writes a memory fact keyed by (user, category, key).
// A repeat write refreshes the value and last_mentioned_at and bumps the
// mention counter; importance keeps its value from the first write.
func (s *Store) UpsertInsight(userID, category, key, value string, importance int, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO insights (id, user_id, category, key, value, importance, last_mentioned_at, mentioned_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			value = excluded.value,
			last_mentioned_at = excluded.last_mentioned_at,
			mentioned_count = mentioned_count + 1
	`, NewID(), userID, category, key, value, importance, now)
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

// TopInsights returns up to budget insights: critical categories first,
// the remainder ranked by importance then recency.
func (s *Store) TopInsights(userID string, budget int) ([]Insight, error) {
	if budget <= 0 {
		budget = 12
	}

	placeholders := make([]string, len(criticalCategories))
	args := []any{userID}
	for i, c := range criticalCategories {
		placeholders[i] = "?"
		args = append(args, c)
	}
	args = append(args, budget)

	rows, err := s.db.Query(`
		SELECT id, user_id, category, key, value, importance, last_mentioned_at, mentioned_count
		FROM insights
		WHERE user_id = ?
		ORDER BY
			CASE WHEN category IN (`+strings.Join(placeholders, ", ")+`) THEN 0 ELSE 1 END,
			importance DESC,
			last_mentioned_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []Insight
	for rows.Next() {
		var in Insight
		err := rows.Scan(&in.ID, &in.UserID, &in.Category, &in.Key, &in.Value,
			&in.Importance, &in.LastMentionedAt, &in.MentionedCount)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// InsightCount returns the number of insight rows for a user.
func (s *Store) InsightCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM insights WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// GetInsight fetches one insight row. Returns nil, nil when not found.
func (s *Store) GetInsight(userID, category, key string) (*Insight, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, category, key, value, importance, last_mentioned_at, mentioned_count
		FROM insights WHERE user_id = ? AND category = ? AND key = ?`, userID, category, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var in Insight
	err = rows.Scan(&in.ID, &in.UserID, &in.Category, &in.Key, &in.Value,
		&in.Importance, &in.LastMentionedAt, &in.MentionedCount)
	if err != nil {
		return nil, fmt.Errorf("scan insight: %w", err)
	}
	return &in, nil
}
