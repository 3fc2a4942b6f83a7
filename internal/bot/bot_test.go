package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/ratelimit"
	"github.com/p-blackswan/ideabot/internal/resolver"
)

type sent struct {
	ChatID    string
	MessageID string
	Text      string
	Options   []resolver.Option
}

type fakeGateway struct {
	mu       sync.Mutex
	nextID   int
	sends    []sent
	edits    []sent
	answers  []string
	audio    []byte
	audioErr error
	sendErr  error
	editErr  error
}

func (g *fakeGateway) Name() string { return event.SourceTelegram }

func (g *fakeGateway) Send(_ context.Context, chatID, text string, opts []resolver.Option) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.nextID++
	id := fmt.Sprintf("m%d", g.nextID)
	g.sends = append(g.sends, sent{ChatID: chatID, MessageID: id, Text: text, Options: opts})
	return id, nil
}

func (g *fakeGateway) Edit(_ context.Context, chatID, messageID, text string, opts []resolver.Option) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editErr != nil {
		return g.editErr
	}
	g.edits = append(g.edits, sent{ChatID: chatID, MessageID: messageID, Text: text, Options: opts})
	return nil
}

func (g *fakeGateway) AnswerCallback(_ context.Context, callbackID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers = append(g.answers, callbackID)
	return nil
}

func (g *fakeGateway) FetchAudio(context.Context, event.Audio) ([]byte, error) {
	return g.audio, g.audioErr
}

func (g *fakeGateway) lastEdit(t *testing.T) sent {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.edits)
	return g.edits[len(g.edits)-1]
}

type fakeOracle struct {
	mu            sync.Mutex
	transcript    string
	transcribeErr error
	intent        nlu.Intent
	intentErr     error
	texts         []string
	filenames     []string
}

func (o *fakeOracle) Transcribe(_ context.Context, _ []byte, filename string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filenames = append(o.filenames, filename)
	return o.transcript, o.transcribeErr
}

func (o *fakeOracle) ExtractIntent(_ context.Context, text string) (nlu.Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
	return o.intent, o.intentErr
}

type fakeResolver struct {
	mu       sync.Mutex
	requests []resolver.Request
	result   resolver.Result
}

func (r *fakeResolver) Resolve(_ context.Context, req resolver.Request) resolver.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	res := r.result
	if req.Intent != nil {
		res.Action = req.Intent.Action()
	} else {
		res.Action, res.Outcome = nlu.ActionUnknown, resolver.OutcomeUnknown
	}
	return res
}

type fakeSessions struct {
	mu      sync.Mutex
	data    []string
	pending bool
	result  resolver.Result
}

func (s *fakeSessions) Handle(_ context.Context, _ string, data string) resolver.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data)
	return s.result
}

func (s *fakeSessions) Cancel(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.pending
	s.pending = false
	return had
}

type fakeLister struct {
	projects []project.Project
	err      error
	filters  []project.Filter
}

func (l *fakeLister) Query(_ context.Context, f project.Filter) ([]project.Project, error) {
	l.filters = append(l.filters, f)
	if l.err != nil {
		return nil, l.err
	}
	var out []project.Project
	for _, p := range l.projects {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fakeJournal struct {
	mu       sync.Mutex
	entries  []journal.Entry
	failures []string
}

func (j *fakeJournal) Record(_ context.Context, e *journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

func (j *fakeJournal) History(_ context.Context, userID string, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.Entry
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if j.entries[i].UserID == userID {
			out = append(out, j.entries[i])
		}
	}
	return out, nil
}

func (j *fakeJournal) RecordFailure(_ context.Context, _, chatID, message string, _ error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures = append(j.failures, chatID+":"+message)
	return nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	events  []string
	actions []string
	errors  []string
}

func (m *fakeMetrics) RecordEvent(source, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, source+"/"+kind)
}

func (m *fakeMetrics) RecordAction(action, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action+"/"+outcome)
}

func (m *fakeMetrics) RecordError(module, errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, module+"/"+errType)
}

type fixture struct {
	gw       *fakeGateway
	oracle   *fakeOracle
	resolver *fakeResolver
	sessions *fakeSessions
	store    *fakeLister
	journal  *fakeJournal
	metrics  *fakeMetrics
	bot      *Bot
}

func newFixture(opts ...Option) *fixture {
	fx := &fixture{
		gw:       &fakeGateway{},
		oracle:   &fakeOracle{},
		resolver: &fakeResolver{result: resolver.Result{Outcome: resolver.OutcomeOK, Text: "done"}},
		sessions: &fakeSessions{},
		store:    &fakeLister{},
		journal:  &fakeJournal{},
		metrics:  &fakeMetrics{},
	}
	base := []Option{
		WithGateway(fx.gw),
		WithJournal(fx.journal),
		WithMetrics(fx.metrics),
		WithLogger(zerolog.Nop()),
	}
	fx.bot = New(Deps{
		Oracle:   fx.oracle,
		Resolver: fx.resolver,
		Sessions: fx.sessions,
		Store:    fx.store,
	}, append(base, opts...)...)
	return fx
}

func textEvent(text string) event.Event {
	return event.NewText(event.SourceTelegram, "u1", "c1", text)
}

func TestTextMessageResolvesAndEditsPlaceholder(t *testing.T) {
	fx := newFixture()
	fx.oracle.intent = nlu.CreateProject{Data: nlu.ProjectData{Name: "Moonlight"}}
	fx.resolver.result = resolver.Result{Outcome: resolver.OutcomeOK, Text: "Saved your new Song 'Moonlight'.", ProjectID: "p1", ProjectName: "Moonlight"}

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("idea for a song called Moonlight")))

	require.Len(t, fx.gw.sends, 1)
	assert.Equal(t, textProcessing, fx.gw.sends[0].Text)
	edit := fx.gw.lastEdit(t)
	assert.Equal(t, "m1", edit.MessageID)
	assert.Equal(t, "Saved your new Song 'Moonlight'.", edit.Text)

	require.Len(t, fx.resolver.requests, 1)
	req := fx.resolver.requests[0]
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "c1", req.ChatID)
	assert.Empty(t, req.Transcript)

	require.Len(t, fx.journal.entries, 1)
	e := fx.journal.entries[0]
	assert.Equal(t, "create_project", e.Action)
	assert.Equal(t, "ok", e.Outcome)
	assert.Equal(t, "p1", e.ProjectID)
	assert.Equal(t, "idea for a song called Moonlight", e.Input)
	assert.NotEmpty(t, e.RequestID)

	assert.Equal(t, []string{"telegram/text"}, fx.metrics.events)
	assert.Equal(t, []string{"create_project/ok"}, fx.metrics.actions)
}

func TestOptionsRideOnTheReply(t *testing.T) {
	fx := newFixture()
	fx.oracle.intent = nlu.ClarifyIntent{SearchKeywords: "moon"}
	opts := []resolver.Option{{Label: "Moon (Song)", Data: "dis:t:0"}, {Label: "Cancel", Data: "dis:t:cancel"}}
	fx.resolver.result = resolver.Result{Outcome: resolver.OutcomePending, Text: "Which one?", Options: opts}

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("about the moon thing")))
	assert.Equal(t, opts, fx.gw.lastEdit(t).Options)
}

func TestMalformedIntentResolvesAsNull(t *testing.T) {
	fx := newFixture()
	fx.oracle.intentErr = fmt.Errorf("decode: %w", nlu.ErrMalformedOutput)

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("blah")))
	require.Len(t, fx.resolver.requests, 1)
	assert.Nil(t, fx.resolver.requests[0].Intent)
	assert.Equal(t, "unknown", fx.journal.entries[0].Outcome)
}

func TestOracleFailureApologises(t *testing.T) {
	fx := newFixture()
	fx.oracle.intentErr = errors.New("connection reset")

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("hello")))
	assert.Empty(t, fx.resolver.requests)
	assert.Equal(t, textFailed, fx.gw.lastEdit(t).Text)
	assert.Equal(t, "extract_intent", fx.journal.entries[0].Action)
	assert.Equal(t, "failed", fx.journal.entries[0].Outcome)
	assert.Contains(t, fx.metrics.errors, "bot/extract_intent")
}

func TestEmptyTextNeverCallsOracle(t *testing.T) {
	fx := newFixture()
	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("   ")))
	assert.Empty(t, fx.oracle.texts)
	require.Len(t, fx.gw.sends, 1)
	assert.Equal(t, textEmpty, fx.gw.sends[0].Text)
}

func voiceEvent() event.Event {
	ev := event.New(event.SourceTelegram, event.KindVoice, "u1", "c1")
	ev.Audio = &event.Audio{FileID: "f1", MIMEType: "audio/ogg"}
	return ev
}

func TestVoiceFlow(t *testing.T) {
	fx := newFixture()
	fx.gw.audio = []byte("OggS")
	fx.oracle.transcript = "  add to moonlight: new verse  "
	fx.oracle.intent = nlu.AddNotes{Identifier: "moonlight", Notes: "new verse"}
	fx.resolver.result = resolver.Result{Outcome: resolver.OutcomeOK, Text: "Notes added to project 'Moonlight'."}

	require.NoError(t, fx.bot.Handle(context.Background(), voiceEvent()))

	require.Len(t, fx.gw.sends, 1)
	assert.Equal(t, textListening, fx.gw.sends[0].Text)
	require.Len(t, fx.gw.edits, 2)
	assert.Equal(t, "📝 I heard: “add to moonlight: new verse”\n\nProcessing…", fx.gw.edits[0].Text)
	assert.Equal(t, "Notes added to project 'Moonlight'.", fx.gw.edits[1].Text)
	assert.Equal(t, "m1", fx.gw.edits[1].MessageID)

	assert.Equal(t, []string{defaultVoiceFilename}, fx.oracle.filenames)
	assert.Equal(t, []string{"add to moonlight: new verse"}, fx.oracle.texts)
	require.Len(t, fx.resolver.requests, 1)
	assert.Equal(t, "add to moonlight: new verse", fx.resolver.requests[0].Transcript)
	assert.Equal(t, "voice", fx.journal.entries[0].Kind)
}

func TestVoiceFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(fx *fixture)
		text  string
	}{
		{"download", func(fx *fixture) { fx.gw.audioErr = errors.New("404") }, textVoiceFailed},
		{"transcribe", func(fx *fixture) { fx.oracle.transcribeErr = errors.New("timeout") }, textVoiceFailed},
		{"silence", func(fx *fixture) { fx.oracle.transcript = "  " }, textNoSpeech},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture()
			tc.setup(fx)
			require.NoError(t, fx.bot.Handle(context.Background(), voiceEvent()))
			assert.Equal(t, tc.text, fx.gw.lastEdit(t).Text)
			assert.Empty(t, fx.resolver.requests)
			assert.Equal(t, "transcribe", fx.journal.entries[0].Action)
			assert.Equal(t, "failed", fx.journal.entries[0].Outcome)
		})
	}
}

func TestCallbackEditsQuestion(t *testing.T) {
	fx := newFixture()
	fx.sessions.result = resolver.Result{Action: nlu.ActionAddNotes, Outcome: resolver.OutcomeOK, Text: "Notes added to project 'Moon'."}

	ev := event.New(event.SourceTelegram, event.KindCallback, "u1", "c1")
	ev.CallbackID, ev.CallbackData, ev.MessageID = "cb1", "dis:t:0", "77"
	require.NoError(t, fx.bot.Handle(context.Background(), ev))

	assert.Equal(t, []string{"cb1"}, fx.gw.answers)
	assert.Equal(t, []string{"dis:t:0"}, fx.sessions.data)
	assert.Empty(t, fx.gw.sends)
	edit := fx.gw.lastEdit(t)
	assert.Equal(t, "77", edit.MessageID)
	assert.Equal(t, "Notes added to project 'Moon'.", edit.Text)
	assert.Nil(t, edit.Options)
	assert.Empty(t, fx.oracle.texts, "callbacks never reach the oracle")
}

func TestEditFailureFallsBackToSend(t *testing.T) {
	fx := newFixture()
	fx.gw.editErr = errors.New("message to edit not found")
	fx.sessions.result = resolver.Result{Outcome: resolver.OutcomeExpired, Text: "expired"}

	ev := event.New(event.SourceTelegram, event.KindCallback, "u1", "c1")
	ev.CallbackData, ev.MessageID = "dis:t:0", "77"
	require.NoError(t, fx.bot.Handle(context.Background(), ev))

	require.Len(t, fx.gw.sends, 1)
	assert.Equal(t, "expired", fx.gw.sends[0].Text)
}

func TestSendFailureIsJournaled(t *testing.T) {
	fx := newFixture()
	fx.gw.sendErr = errors.New("bot was blocked by the user")

	require.NoError(t, fx.bot.Handle(context.Background(), event.NewText(event.SourceTelegram, "u1", "c1", "/start")))
	require.Len(t, fx.journal.failures, 1)
	assert.True(t, strings.HasPrefix(fx.journal.failures[0], "c1:🌟 Hello!"))
	assert.Contains(t, fx.metrics.errors, "bot/send")
}

func TestUnlistedUserIsRefused(t *testing.T) {
	fx := newFixture(WithAllowedUsers([]string{"owner"}))

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("hello")))
	assert.Empty(t, fx.oracle.texts)
	assert.Empty(t, fx.resolver.requests)
	require.Len(t, fx.gw.sends, 1)
	assert.Equal(t, textRefused, fx.gw.sends[0].Text)
	assert.Equal(t, "refused", fx.journal.entries[0].Action)

	ev := event.New(event.SourceTelegram, event.KindCallback, "u1", "c1")
	ev.CallbackID, ev.CallbackData = "cb", "dis:t:new"
	require.NoError(t, fx.bot.Handle(context.Background(), ev))
	assert.Empty(t, fx.sessions.data)
	assert.Equal(t, []string{"cb"}, fx.gw.answers)
}

func TestAllowedUserPasses(t *testing.T) {
	fx := newFixture(WithAllowedUsers([]string{"u1"}))
	fx.oracle.intent = nlu.GeneralChat{}
	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("hi")))
	assert.Len(t, fx.resolver.requests, 1)
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	limiter := ratelimit.New(1.0/60, 1).WithClock(func() time.Time { return now })
	fx := newFixture(WithLimiter(limiter))
	fx.oracle.intent = nlu.GeneralChat{}

	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("one")))
	require.NoError(t, fx.bot.Handle(context.Background(), textEvent("two")))
	assert.Equal(t, []string{"one"}, fx.oracle.texts)
	assert.Equal(t, textRateLimited, fx.gw.sends[len(fx.gw.sends)-1].Text)

	// Commands are not limited
	require.NoError(t, fx.bot.Handle(context.Background(), event.NewText(event.SourceTelegram, "u1", "c1", "/help")))
	assert.Equal(t, textHelp, fx.gw.sends[len(fx.gw.sends)-1].Text)
}

func TestUnknownGateway(t *testing.T) {
	fx := newFixture()
	ev := event.NewText(event.SourceSlack, "u1", "D1", "hi")
	assert.Error(t, fx.bot.Handle(context.Background(), ev))
}

func TestCommands(t *testing.T) {
	fx := newFixture()
	fx.store.projects = []project.Project{
		{ID: "1", Name: "Moonlight", Type: project.TypeSong, Status: project.StatusInProgress, Date: "2026-02-01", Tags: []string{"moon", "night"}},
		{ID: "2", Name: "Roots", Type: project.TypeBook, Status: project.StatusIdea},
		{ID: "3", Name: "Tide", Type: project.TypeSong, Status: project.StatusPaused},
	}
	run := func(text string) string {
		require.NoError(t, fx.bot.Handle(context.Background(), event.NewText(event.SourceTelegram, "u1", "c1", text)))
		return fx.gw.sends[len(fx.gw.sends)-1].Text
	}

	assert.Equal(t, textStart, run("/start"))
	assert.Equal(t, textHelp, run("/help"))
	assert.Equal(t,
		"🌟 All your projects:\n\nSong:\n  🔥 Moonlight – In Progress\n  ⏸️ Tide – Paused\n\nBook:\n  💡 Roots – Idea",
		run("/projects"))
	assert.Equal(t,
		"🔥 Your active projects:\n\n🎯 Moonlight (Song)\n   📅 2026-02-01\n   🏷️ moon, night",
		run("/active"))
	assert.Equal(t, textNothingPending, run("/cancel"))
	fx.sessions.pending = true
	assert.Equal(t, textCancelled, run("/cancel"))
	assert.Equal(t, textUnknownCommand, run("/dance"))

	history := run("/history")
	assert.True(t, strings.HasPrefix(history, "🕘 Recent activity:\n"))
	assert.Contains(t, history, "command_dance (unknown)")
	assert.Contains(t, history, "command_cancel (cancelled)")

	assert.Empty(t, fx.oracle.texts, "commands never reach the oracle")
	assert.Equal(t, "command_projects", fx.journal.entries[2].Action)
}

func TestListingCommandsEmptyAndFailing(t *testing.T) {
	fx := newFixture()
	run := func(text string) string {
		require.NoError(t, fx.bot.Handle(context.Background(), event.NewText(event.SourceTelegram, "u1", "c1", text)))
		return fx.gw.sends[len(fx.gw.sends)-1].Text
	}
	assert.Equal(t, textNoProjects, run("/projects"))
	assert.Equal(t, textNoActive, run("/active"))

	fx.store.err = errors.New("notion down")
	assert.Equal(t, textListFailed, run("/projects"))
	assert.Equal(t, textListFailed, run("/active"))
	assert.Equal(t, project.Filter{Status: project.StatusInProgress}, fx.store.filters[1])
}

func TestHistoryWithoutJournal(t *testing.T) {
	gw := &fakeGateway{}
	b := New(Deps{Oracle: &fakeOracle{}, Resolver: &fakeResolver{}, Sessions: &fakeSessions{}, Store: &fakeLister{}}, WithGateway(gw))
	require.NoError(t, b.Handle(context.Background(), event.NewText(event.SourceTelegram, "u1", "c1", "/history")))
	assert.Equal(t, textHistoryOff, gw.sends[0].Text)
}
