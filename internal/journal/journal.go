// Package journal keeps a local SQLite record of every action the bot
// resolved and every reply it failed to deliver.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Journal manages the SQLite database.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

// Option configures Journal.
type Option func(*Journal)

// WithClock replaces time.Now for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dbPath string, logger zerolog.Logger, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(j)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}

	j.logger.Info().Str("path", dbPath).Msg("journal initialized")
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// SizeBytes returns the database size in bytes.
func (j *Journal) SizeBytes(ctx context.Context) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var pageCount, pageSize int64
	if err := j.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := j.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
