package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailedDelivery is a reply the gateway did not accept.
type FailedDelivery struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	ChatID    string    `json:"chat_id"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordFailure saves a reply that could not be delivered.
func (j *Journal) RecordFailure(ctx context.Context, source, chatID, message string, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO failed_deliveries (id, source, chat_id, message, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), source, chatID, clip(message), errText, j.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}

// ListFailures returns the most recent failed deliveries, newest first.
func (j *Journal) ListFailures(ctx context.Context, limit int) ([]FailedDelivery, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
	SELECT id, source, chat_id, message, error, created_at
	FROM failed_deliveries
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery failures: %w", err)
	}
	defer rows.Close()

	var out []FailedDelivery
	for rows.Next() {
		var f FailedDelivery
		var created int64
		if err := rows.Scan(&f.ID, &f.Source, &f.ChatID, &f.Message, &f.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan delivery failure: %w", err)
		}
		f.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery failures: %w", err)
	}
	return out, nil
}
