// Package bot turns inbound gateway events into resolved actions and sends
// the results back through the gateway the event came from.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/ratelimit"
	"github.com/p-blackswan/ideabot/internal/requestid"
	"github.com/p-blackswan/ideabot/internal/resolver"
)

// Gateway sends replies through one chat network.
type Gateway interface {
	Name() string
	// Send posts text with opts as buttons and returns the new message id.
	Send(ctx context.Context, chatID, text string, opts []resolver.Option) (string, error)
	// Edit replaces a message's text and buttons.
	Edit(ctx context.Context, chatID, messageID, text string, opts []resolver.Option) error
	// AnswerCallback acknowledges a button press.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// FetchAudio downloads a voice note.
	FetchAudio(ctx context.Context, a event.Audio) ([]byte, error)
}

// Oracle is the part of the language model the bot calls directly.
type Oracle interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	ExtractIntent(ctx context.Context, text string) (nlu.Intent, error)
}

// Resolver applies an intent.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Result
}

// Sessions answers button presses on disambiguation questions.
type Sessions interface {
	Handle(ctx context.Context, userID, data string) resolver.Result
	Cancel(userID string) bool
}

// Lister reads projects for the listing commands.
type Lister interface {
	Query(ctx context.Context, f project.Filter) ([]project.Project, error)
}

// Journal records what the bot did.
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
	History(ctx context.Context, userID string, limit int) ([]journal.Entry, error)
	RecordFailure(ctx context.Context, source, chatID, message string, cause error) error
}

// Metrics receives per-event counters.
type Metrics interface {
	RecordEvent(source, kind string)
	RecordAction(action, outcome string, seconds float64)
	RecordError(module, errType string)
}

// Deps are the collaborators every Bot needs.
type Deps struct {
	Oracle   Oracle
	Resolver Resolver
	Sessions Sessions
	Store    Lister
}

// Pseudo-actions for events that never reach the resolver.
const (
	actionTranscribe nlu.Action = "transcribe"
	actionExtract    nlu.Action = "extract_intent"
	actionRefused    nlu.Action = "refused"
	actionLimited    nlu.Action = "rate_limited"
)

const (
	textProcessing  = "💭 Processing your request…"
	textListening   = "🎤 Listening to your message…"
	textHeard       = "📝 I heard: “%s”\n\nProcessing…"
	textNoSpeech    = "Could not recognise the voice message. Please try again."
	textVoiceFailed = "An error occurred while processing the voice message. Please try typing instead."
	textFailed      = "An error occurred during processing. Please try again."
	textRefused     = "Sorry, this assistant is private."
	textRateLimited = "You're sending messages faster than I can keep up. Please wait a moment and try again."
	textEmpty       = "Send me a message or a voice note about your ideas."

	defaultVoiceFilename = "voice.ogg"
)

// Bot handles events. Safe for concurrent use; ordering within a chat is
// the Dispatcher's job.
type Bot struct {
	deps     Deps
	gateways map[string]Gateway
	journal  Journal
	metrics  Metrics
	limiter  *ratelimit.Limiter
	allowed  map[string]bool
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Bot.
type Option func(*Bot)

// WithGateway registers g for events whose Source equals g.Name().
func WithGateway(g Gateway) Option {
	return func(b *Bot) { b.gateways[g.Name()] = g }
}

// WithJournal records every handled event.
func WithJournal(j Journal) Option {
	return func(b *Bot) { b.journal = j }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithLimiter rate limits oracle-backed messages per user.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(b *Bot) { b.limiter = l }
}

// WithAllowedUsers restricts the bot to ids. An empty list allows everyone.
func WithAllowedUsers(ids []string) Option {
	return func(b *Bot) {
		if len(ids) == 0 {
			b.allowed = nil
			return
		}
		b.allowed = make(map[string]bool, len(ids))
		for _, id := range ids {
			b.allowed[id] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bot) { b.logger = l.With().Str("component", "bot").Logger() }
}

// WithClock replaces time.Now for durations.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// New builds a Bot around deps.
func New(deps Deps, opts ...Option) *Bot {
	b := &Bot{
		deps:     deps,
		gateways: make(map[string]Gateway),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// outcome is what one event produced, for delivery and bookkeeping.
type outcome struct {
	resolver.Result
	input string
}

// Handle processes one event end to end. It returns an error only when the
// event cannot be answered at all; failures along the way are reported to
// the user and logged.
func (b *Bot) Handle(ctx context.Context, ev event.Event) error {
	ctx, reqID := requestid.Ensure(ctx)
	log := requestid.Logger(ctx, b.logger).With().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Str("kind", string(ev.Kind)).
		Str("user_id", ev.UserID).
		Logger()
	start := b.now()

	if b.metrics != nil {
		b.metrics.RecordEvent(ev.Source, string(ev.Kind))
	}
	gw, ok := b.gateways[ev.Source]
	if !ok {
		return fmt.Errorf("bot: no gateway for source %q", ev.Source)
	}

	var out outcome
	var placeholder string
	switch {
	case b.allowed != nil && !b.allowed[ev.UserID]:
		log.Warn().Msg("refused event from unlisted user")
		if ev.Kind == event.KindCallback {
			b.answer(ctx, gw, ev, textRefused)
		}
		out = outcome{Result: resolver.Result{Action: actionRefused, Outcome: resolver.OutcomeInvalid, Text: textRefused}}
		b.countError("unauthorized")

	case ev.Kind == event.KindCallback:
		out = b.handleCallback(ctx, gw, ev)
		placeholder = ev.MessageID

	case ev.Kind == event.KindCommand:
		out = b.handleCommand(ctx, ev)

	case (ev.Kind == event.KindText || ev.Kind == event.KindVoice) && !b.limiter.Allow(ev.UserID):
		log.Warn().Msg("user rate limited")
		out = outcome{Result: resolver.Result{Action: actionLimited, Outcome: resolver.OutcomeInvalid, Text: textRateLimited}}
		b.countError("rate_limited")

	case ev.Kind == event.KindVoice:
		out, placeholder = b.handleVoice(ctx, gw, ev)

	default:
		out, placeholder = b.handleText(ctx, gw, ev)
	}

	b.deliver(ctx, gw, ev, placeholder, out.Result)

	elapsed := b.now().Sub(start)
	log.Info().
		Str("action", string(out.Action)).
		Str("outcome", string(out.Outcome)).
		Dur("elapsed", elapsed).
		Msg("event handled")
	if b.metrics != nil {
		b.metrics.RecordAction(string(out.Action), string(out.Outcome), elapsed.Seconds())
	}
	b.record(ctx, reqID, ev, out, elapsed)
	return nil
}

func (b *Bot) handleText(ctx context.Context, gw Gateway, ev event.Event) (outcome, string) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return outcome{Result: resolver.Result{Action: nlu.ActionUnknown, Outcome: resolver.OutcomeInvalid, Text: textEmpty}}, ""
	}
	placeholder := b.placeholder(ctx, gw, ev.ChatID, textProcessing)
	return b.resolve(ctx, ev, text, ""), placeholder
}

func (b *Bot) handleVoice(ctx context.Context, gw Gateway, ev event.Event) (outcome, string) {
	log := requestid.Logger(ctx, b.logger)
	placeholder := b.placeholder(ctx, gw, ev.ChatID, textListening)
	failed := func(text string) (outcome, string) {
		return outcome{Result: resolver.Result{Action: actionTranscribe, Outcome: resolver.OutcomeFailed, Text: text}}, placeholder
	}

	if ev.Audio == nil {
		return failed(textVoiceFailed)
	}
	audio, err := gw.FetchAudio(ctx, *ev.Audio)
	if err != nil {
		log.Error().Err(err).Str("file_id", ev.Audio.FileID).Msg("audio download failed")
		b.countError("fetch_audio")
		return failed(textVoiceFailed)
	}
	filename := ev.Audio.Filename
	if filename == "" {
		filename = defaultVoiceFilename
	}
	transcript, err := b.deps.Oracle.Transcribe(ctx, audio, filename)
	if err != nil {
		log.Error().Err(err).Msg("transcription failed")
		b.countError("transcribe")
		return failed(textVoiceFailed)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return failed(textNoSpeech)
	}

	if placeholder != "" {
		if err := gw.Edit(ctx, ev.ChatID, placeholder, fmt.Sprintf(textHeard, transcript), nil); err != nil {
			log.Warn().Err(err).Msg("could not show transcript")
		}
	}
	return b.resolve(ctx, ev, transcript, transcript), placeholder
}

// resolve extracts the intent from text and applies it. Malformed model
// output resolves as a null intent.
func (b *Bot) resolve(ctx context.Context, ev event.Event, text, transcript string) outcome {
	intent, err := b.deps.Oracle.ExtractIntent(ctx, text)
	if err != nil && !errors.Is(err, nlu.ErrMalformedOutput) {
		log := requestid.Logger(ctx, b.logger)
		log.Error().Err(err).Msg("intent extraction failed")
		b.countError("extract_intent")
		return outcome{Result: resolver.Result{Action: actionExtract, Outcome: resolver.OutcomeFailed, Text: textFailed}, input: text}
	}
	res := b.deps.Resolver.Resolve(ctx, resolver.Request{
		UserID:     ev.UserID,
		ChatID:     ev.ChatID,
		Intent:     intent,
		Transcript: transcript,
	})
	return outcome{Result: res, input: text}
}

func (b *Bot) handleCallback(ctx context.Context, gw Gateway, ev event.Event) outcome {
	b.answer(ctx, gw, ev, "")
	res := b.deps.Sessions.Handle(ctx, ev.UserID, ev.CallbackData)
	return outcome{Result: res, input: ev.CallbackData}
}

func (b *Bot) answer(ctx context.Context, gw Gateway, ev event.Event, text string) {
	if ev.CallbackID == "" {
		return
	}
	if err := gw.AnswerCallback(ctx, ev.CallbackID, text); err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Warn().Err(err).Msg("answer callback failed")
	}
}

// placeholder posts a progress message and returns its id, or "" if the
// gateway refused it.
func (b *Bot) placeholder(ctx context.Context, gw Gateway, chatID, text string) string {
	id, err := gw.Send(ctx, chatID, text, nil)
	if err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Warn().Err(err).Msg("placeholder send failed")
		return ""
	}
	return id
}

// deliver edits messageID with the result when there is one, and sends a new
// message otherwise or when the edit fails.
func (b *Bot) deliver(ctx context.Context, gw Gateway, ev event.Event, messageID string, res resolver.Result) {
	log := requestid.Logger(ctx, b.logger)
	if messageID != "" {
		err := gw.Edit(ctx, ev.ChatID, messageID, res.Text, res.Options)
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("edit failed, sending instead")
	}
	if _, err := gw.Send(ctx, ev.ChatID, res.Text, res.Options); err != nil {
		log.Error().Err(err).Str("chat_id", ev.ChatID).Msg("reply not delivered")
		b.countError("send")
		if b.journal != nil {
			if jerr := b.journal.RecordFailure(ctx, ev.Source, ev.ChatID, res.Text, err); jerr != nil {
				log.Error().Err(jerr).Msg("journal write failed")
			}
		}
	}
}

func (b *Bot) record(ctx context.Context, reqID string, ev event.Event, out outcome, elapsed time.Duration) {
	if b.journal == nil {
		return
	}
	err := b.journal.Record(ctx, &journal.Entry{
		RequestID:   reqID,
		Source:      ev.Source,
		UserID:      ev.UserID,
		ChatID:      ev.ChatID,
		Kind:        string(ev.Kind),
		Action:      string(out.Action),
		Outcome:     string(out.Outcome),
		ProjectID:   out.ProjectID,
		ProjectName: out.ProjectName,
		Input:       out.input,
		Reply:       out.Text,
		DurationMS:  elapsed.Milliseconds(),
	})
	if err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Error().Err(err).Msg("journal write failed")
	}
}

func (b *Bot) countError(errType string) {
	if b.metrics != nil {
		b.metrics.RecordError("bot", errType)
	}
}
