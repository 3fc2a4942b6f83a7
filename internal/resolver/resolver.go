// Package resolver turns a decoded intent into exactly one store operation
// and a reply for the user.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ideabot/internal/matcher"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/requestid"
)

// Store is the record store the resolver reads and mutates.
type Store interface {
	Create(ctx context.Context, d project.Draft) (string, error)
	Query(ctx context.Context, f project.Filter) ([]project.Project, error)
	Patch(ctx context.Context, id string, f project.Fields) error
	AddField(ctx context.Context, col project.Column) error
}

// Oracle is the part of the language model the resolver needs.
type Oracle interface {
	Reply(ctx context.Context, kind nlu.ReplyKind, subject string) (string, error)
	AnalyzeColumns(ctx context.Context, text string) (nlu.ColumnPlan, error)
}

// Pending is an ambiguous request waiting for the user to pick a target.
type Pending struct {
	Token      string
	Intent     nlu.ClarifyIntent
	Transcript string
	UserID     string
	ChatID     string
	Candidates []project.Project
	CreatedAt  time.Time
}

// Sessions holds pending disambiguations.
type Sessions interface {
	// Begin stores p for userID, replacing any earlier one, and returns the
	// options to present.
	Begin(userID string, p Pending) []Option
}

// Outcome classifies a Result for metrics and the journal.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	OutcomeEmpty     Outcome = "empty"
	OutcomeChat      Outcome = "chat"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
)

// Option is one selectable reply control.
type Option struct {
	Label string
	Data  string
}

// Request is one intent to resolve.
type Request struct {
	UserID string
	ChatID string
	Intent nlu.Intent
	// Transcript is the raw speech transcription when the message was voice.
	Transcript string
}

// Result is what the user is told, plus the bookkeeping around it.
type Result struct {
	Action      nlu.Action
	Outcome     Outcome
	Text        string
	ProjectID   string
	ProjectName string
	Options     []Option
}

// Resolver dispatches intents to their handlers.
type Resolver struct {
	store          Store
	oracle         Oracle
	sessions       Sessions
	logger         zerolog.Logger
	now            func() time.Time
	limit          int
	analyzeColumns bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l.With().Str("component", "resolver").Logger() }
}

// WithClock replaces time.Now for note timestamps and project dates.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithCandidateLimit caps the candidates offered for disambiguation.
func WithCandidateLimit(n int) ResolverOption {
	return func(r *Resolver) { r.limit = n }
}

// WithColumnAnalysis toggles asking the oracle for extra columns on create.
func WithColumnAnalysis(on bool) ResolverOption {
	return func(r *Resolver) { r.analyzeColumns = on }
}

// New builds a Resolver. oracle may be nil, in which case fixed texts are
// used and no column analysis happens.
func New(store Store, oracle Oracle, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:          store,
		oracle:         oracle,
		logger:         zerolog.Nop(),
		now:            time.Now,
		limit:          matcher.DefaultLimit,
		analyzeColumns: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetSessions attaches the disambiguation manager. It is separate from New
// because the manager itself calls back into the resolver.
func (r *Resolver) SetSessions(s Sessions) {
	r.sessions = s
}

// Resolve runs the handler for req.Intent. It never returns an error: every
// failure becomes a Result the user can read.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	log := requestid.Logger(ctx, r.logger)
	if req.Intent == nil {
		return Result{Action: nlu.ActionUnknown, Outcome: OutcomeUnknown, Text: textNotUnderstood}
	}

	var res Result
	switch in := req.Intent.(type) {
	case nlu.CreateProject:
		res = r.createProject(ctx, req, in.Data)
	case nlu.ClarifyIntent:
		res = r.clarify(ctx, req, in)
	case nlu.UpdateStatus:
		res = r.updateStatus(ctx, in)
	case nlu.UpdateProject:
		res = r.updateProject(ctx, in)
	case nlu.AddNotes:
		res = r.addNotes(ctx, req, in)
	case nlu.UpdateProjectInfo:
		res = r.updateInfo(ctx, in)
	case nlu.ArchiveProject:
		res = r.archive(ctx, in)
	case nlu.QueryProjects:
		res = r.query(ctx, in)
	case nlu.GeneralChat:
		res = r.chat(ctx, in)
	default:
		res = Result{Outcome: OutcomeUnknown, Text: textUnknown}
	}
	res.Action = req.Intent.Action()

	log.Info().
		Str("action", string(res.Action)).
		Str("outcome", string(res.Outcome)).
		Str("project_id", res.ProjectID).
		Msg("intent resolved")
	return res
}

// failed logs err and returns the generic failure result.
func (r *Resolver) failed(ctx context.Context, op string, err error, text string) Result {
	log := requestid.Logger(ctx, r.logger)
	log.Error().Err(err).Str("op", op).Msg("store operation failed")
	return Result{Outcome: OutcomeFailed, Text: text}
}
