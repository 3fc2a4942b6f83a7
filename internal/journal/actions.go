package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxTextRunes bounds the stored input and reply.
const maxTextRunes = 2000

// Entry is one resolved action.
type Entry struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Source      string    `json:"source"`
	UserID      string    `json:"user_id"`
	ChatID      string    `json:"chat_id"`
	Kind        string    `json:"kind"`
	Action      string    `json:"action"`
	Outcome     string    `json:"outcome"`
	ProjectID   string    `json:"project_id,omitempty"`
	ProjectName string    `json:"project_name,omitempty"`
	Input       string    `json:"input,omitempty"`
	Reply       string    `json:"reply,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID  string
	Action  string
	Outcome string
	Since   time.Time
	Limit   int
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxTextRunes {
		return s
	}
	return string(r[:maxTextRunes])
}

// Record saves e, filling in its ID and CreatedAt when unset.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}

	query := `
	INSERT INTO actions (
		id, request_id, source, user_id, chat_id, kind, action, outcome,
		project_id, project_name, input, reply, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		e.ID, e.RequestID, e.Source, e.UserID, e.ChatID, e.Kind, e.Action, e.Outcome,
		e.ProjectID, e.ProjectName, clip(e.Input), clip(e.Reply), e.DurationMS, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// History returns the user's most recent entries, newest first.
func (j *Journal) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return j.List(ctx, Filter{UserID: userID, Limit: limit})
}

// List returns entries matching f, newest first. A non-positive limit
// returns at most 100 rows.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var where []string
	var args []interface{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := `
	SELECT id, request_id, source, user_id, chat_id, kind, action, outcome,
	       project_id, project_name, input, reply, duration_ms, created_at
	FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// rowid breaks ties between rows written in the same millisecond
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		err := rows.Scan(
			&e.ID, &e.RequestID, &e.Source, &e.UserID, &e.ChatID, &e.Kind, &e.Action, &e.Outcome,
			&e.ProjectID, &e.ProjectName, &e.Input, &e.Reply, &e.DurationMS, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return entries, nil
}

// Counts returns the number of entries per outcome.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM actions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
