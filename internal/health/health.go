// Package health runs readiness checks against the bot's upstream services.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// ErrorCheck adapts a probe that returns an error. A nil error is StatusOK,
// anything else is StatusDown.
func ErrorCheck(probe func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Status {
		if err := probe(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// Report is the outcome of one readiness run.
type Report struct {
	Ready  bool              `json:"ready"`
	Checks map[string]Status `json:"checks"`
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    map[string]Status
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker. Each check gets timeout to
// answer; zero means five seconds.
func NewChecker(logger zerolog.Logger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		last:    make(map[string]Status),
		timeout: timeout,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all health checks concurrently and remembers the results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := f(checkCtx)
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	for name, s := range results {
		if prev, ok := c.last[name]; ok && prev != s {
			c.logger.Warn().Str("check", name).Str("from", string(prev)).Str("to", string(s)).Msg("health status changed")
		}
	}
	c.last = results
	c.mu.Unlock()

	return results
}

// Check runs every check and reports readiness. Degraded dependencies keep
// the service ready; any down dependency does not.
func (c *Checker) Check(ctx context.Context) Report {
	results := c.RunAll(ctx)
	ready := true
	for _, s := range results {
		if s == StatusDown {
			ready = false
			break
		}
	}
	return Report{Ready: ready, Checks: results}
}

// Last returns the results of the most recent run without probing.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
