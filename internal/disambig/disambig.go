// Package disambig holds the one outstanding multiple-choice question per
// user that asks which project an ambiguous message belongs to.
//
// A session is created by Begin and consumed by exactly one successful Handle
// call that carries its token. A selection whose store call fails leaves the
// session in place. Later callbacks for the same token, callbacks for a
// replaced session and callbacks after the TTL all observe no pending state.
package disambig

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/requestid"
	"github.com/p-blackswan/ideabot/internal/resolver"
	"github.com/p-blackswan/ideabot/lru"
)

// Pending is the state kept per user.
type Pending = resolver.Pending

const (
	// DefaultTTL is how long a question stays answerable.
	DefaultTTL = 10 * time.Minute
	// DefaultCapacity bounds the number of users with an open question.
	DefaultCapacity = 1024
	// MaxCandidates is the most projects offered in one question.
	MaxCandidates = 5

	callbackPrefix = "dis:"
	choiceNew      = "new"
	choiceCancel   = "cancel"
)

const (
	textExpired   = "This question has expired. Please send your message again."
	textInvalid   = "That option isn't available. Please pick one of the buttons."
	textCancelled = "Cancelled. Nothing was changed."
)

// Effects are the store operations a selection can trigger.
type Effects interface {
	AddNotesTo(ctx context.Context, p Pending, target project.Project) resolver.Result
	CreateFrom(ctx context.Context, p Pending) resolver.Result
}

// Entry is a pending session with its owner, for listing.
type Entry struct {
	UserID string
	Pending
}

// Manager owns the pending sessions.
type Manager struct {
	effects Effects
	cache   *lru.Cache[string, Pending]
	logger  zerolog.Logger
	now     func() time.Time
	ttl     time.Duration
	gauge   func(int)

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

type settings struct {
	logger   zerolog.Logger
	now      func() time.Time
	ttl      time.Duration
	capacity int
	gauge    func(int)
}

// Option configures a Manager.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithTTL sets how long a session lives. Non-positive values keep the default.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithCapacity bounds the number of sessions; the least recently touched one
// is dropped when a new user exceeds it.
func WithCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithGauge registers fn to receive the session count after every change.
func WithGauge(fn func(int)) Option {
	return func(s *settings) { s.gauge = fn }
}

// New builds a Manager that applies selections through effects.
func New(effects Effects, opts ...Option) *Manager {
	s := settings{
		logger:   zerolog.Nop(),
		now:      time.Now,
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
	}
	for _, o := range opts {
		o(&s)
	}

	m := &Manager{
		effects: effects,
		logger:  s.logger.With().Str("component", "disambig").Logger(),
		now:     s.now,
		ttl:     s.ttl,
		gauge:   s.gauge,
		locks:   make(map[string]*userLock),
	}
	m.cache = lru.New[string, Pending](s.capacity,
		lru.WithTTL[string, Pending](s.ttl),
		lru.WithClock[string, Pending](s.now),
		lru.WithOnEvict[string, Pending](func(userID string, p Pending) {
			m.logger.Debug().Str("user_id", userID).Str("token", p.Token).Msg("pending session dropped")
		}),
	)
	return m
}

// lock serialises all session work for one user.
func (m *Manager) lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Begin stores p for userID, replacing and invalidating any earlier session,
// and returns the options to show: one per candidate, then create-new and
// cancel.
func (m *Manager) Begin(userID string, p Pending) []resolver.Option {
	unlock := m.lock(userID)
	defer unlock()

	p.Token = newToken()
	p.UserID = userID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	if len(p.Candidates) > MaxCandidates {
		p.Candidates = p.Candidates[:MaxCandidates]
	}
	if _, _, evicted := m.cache.Put(userID, p); evicted {
		m.logger.Warn().Str("user_id", userID).Msg("session capacity reached, oldest question dropped")
	}
	m.report()

	m.logger.Info().
		Str("user_id", userID).
		Str("token", p.Token).
		Int("candidates", len(p.Candidates)).
		Msg("disambiguation started")
	return options(p)
}

func newToken() string {
	// Telegram limits callback data to 64 bytes; the compact uuid keeps the
	// longest option at 43.
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func options(p Pending) []resolver.Option {
	opts := make([]resolver.Option, 0, len(p.Candidates)+2)
	for i, c := range p.Candidates {
		label := c.Name
		if c.Type != "" {
			label = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		opts = append(opts, resolver.Option{Label: label, Data: callbackData(p.Token, strconv.Itoa(i))})
	}
	return append(opts,
		resolver.Option{Label: "Create new project", Data: callbackData(p.Token, choiceNew)},
		resolver.Option{Label: "Cancel", Data: callbackData(p.Token, choiceCancel)},
	)
}

func callbackData(token, choice string) string {
	return callbackPrefix + token + ":" + choice
}

// IsCallback reports whether data belongs to this package.
func IsCallback(data string) bool {
	return strings.HasPrefix(data, callbackPrefix)
}

// ParseCallback splits callback data into its token and choice.
func ParseCallback(data string) (token, choice string, ok bool) {
	rest, found := strings.CutPrefix(data, callbackPrefix)
	if !found {
		return "", "", false
	}
	token, choice, found = strings.Cut(rest, ":")
	if !found || token == "" || choice == "" {
		return "", "", false
	}
	return token, choice, true
}

// Handle applies a button press. It never returns an error; every path ends
// in a Result for the user.
func (m *Manager) Handle(ctx context.Context, userID, data string) resolver.Result {
	log := requestid.Logger(ctx, m.logger)
	token, choice, ok := ParseCallback(data)
	if !ok {
		log.Warn().Str("data", data).Msg("malformed callback data")
		return expired()
	}

	unlock := m.lock(userID)
	defer unlock()

	p, ok := m.cache.Peek(userID)
	if !ok || p.Token != token {
		m.report()
		log.Info().Str("user_id", userID).Str("token", token).Msg("callback for no pending session")
		return expired()
	}

	switch choice {
	case choiceCancel:
		m.clear(userID)
		log.Info().Str("user_id", userID).Msg("disambiguation cancelled")
		return resolver.Result{Action: nlu.ActionClarifyIntent, Outcome: resolver.OutcomeCancelled, Text: textCancelled}
	case choiceNew:
		return m.settle(userID, m.effects.CreateFrom(ctx, p))
	}

	i, err := strconv.Atoi(choice)
	if err != nil || i < 0 || i >= len(p.Candidates) {
		log.Info().Str("user_id", userID).Str("choice", choice).Int("candidates", len(p.Candidates)).Msg("invalid selection")
		// The question stays open, so its buttons are offered again.
		return resolver.Result{Action: nlu.ActionClarifyIntent, Outcome: resolver.OutcomeInvalid, Text: textInvalid, Options: options(p)}
	}
	return m.settle(userID, m.effects.AddNotesTo(ctx, p, p.Candidates[i]))
}

// settle closes the session unless the store call failed, in which case the
// same buttons can be pressed again. The caller holds the user lock.
func (m *Manager) settle(userID string, res resolver.Result) resolver.Result {
	if res.Outcome != resolver.OutcomeFailed {
		m.clear(userID)
	}
	return res
}

func expired() resolver.Result {
	return resolver.Result{Action: nlu.ActionClarifyIntent, Outcome: resolver.OutcomeExpired, Text: textExpired}
}

func (m *Manager) clear(userID string) {
	m.cache.Delete(userID)
	m.report()
}

// Cancel drops the session for userID. It reports whether one existed.
func (m *Manager) Cancel(userID string) bool {
	unlock := m.lock(userID)
	defer unlock()

	_, ok := m.cache.Take(userID)
	m.report()
	return ok
}

// Get returns the live session for userID.
func (m *Manager) Get(userID string) (Pending, bool) {
	return m.cache.Peek(userID)
}

// List returns the live sessions, most recently started first.
func (m *Manager) List() []Entry {
	keys := m.cache.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if p, ok := m.cache.Peek(k); ok {
			out = append(out, Entry{UserID: k, Pending: p})
		}
	}
	return out
}

// Len returns the number of stored sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Sweep drops expired sessions and returns how many it removed.
func (m *Manager) Sweep() int {
	n := m.cache.Purge()
	if n > 0 {
		m.logger.Debug().Int("expired", n).Msg("expired sessions swept")
	}
	m.report()
	return n
}

// Run sweeps on every tick until ctx is done. A non-positive interval uses
// a tenth of the TTL.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl / 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) report() {
	if m.gauge != nil {
		m.gauge(m.cache.Len())
	}
}
