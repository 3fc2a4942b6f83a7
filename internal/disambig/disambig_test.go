package disambig

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/resolver"
)

type fakeEffects struct {
	mu      sync.Mutex
	notes   []project.Project
	creates []Pending
}

func (f *fakeEffects) AddNotesTo(_ context.Context, _ Pending, target project.Project) resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, target)
	return resolver.Result{Action: nlu.ActionAddNotes, Outcome: resolver.OutcomeOK, ProjectID: target.ID}
}

func (f *fakeEffects) CreateFrom(_ context.Context, p Pending) resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, p)
	return resolver.Result{Action: nlu.ActionCreateProject, Outcome: resolver.OutcomeOK}
}

func (f *fakeEffects) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes), len(f.creates)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func candidates(names ...string) []project.Project {
	out := make([]project.Project, len(names))
	for i, n := range names {
		out[i] = project.Project{ID: fmt.Sprintf("p%d", i), Name: n, Type: project.TypeRetreat}
	}
	return out
}

func TestBeginOptions(t *testing.T) {
	m := New(&fakeEffects{})
	opts := m.Begin("u1", Pending{Candidates: candidates("A", "B", "C", "D", "E", "F", "G")})

	require.Len(t, opts, MaxCandidates+2)
	p, ok := m.Get("u1")
	require.True(t, ok)
	assert.Len(t, p.Candidates, MaxCandidates)
	assert.Equal(t, "u1", p.UserID)
	assert.NotEmpty(t, p.Token)
	assert.False(t, p.CreatedAt.IsZero())

	assert.Equal(t, "A (Retreat)", opts[0].Label)
	assert.Equal(t, "dis:"+p.Token+":0", opts[0].Data)
	assert.Equal(t, "dis:"+p.Token+":new", opts[5].Data)
	assert.Equal(t, "dis:"+p.Token+":cancel", opts[6].Data)
	for _, o := range opts {
		assert.LessOrEqual(t, len(o.Data), 64, "fits in Telegram callback data")
	}
}

func TestSelectCandidate(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)
	opts := m.Begin("u1", Pending{Candidates: candidates("Mountain Retreat")})

	res := m.Handle(context.Background(), "u1", opts[0].Data)
	assert.Equal(t, resolver.OutcomeOK, res.Outcome)
	assert.Equal(t, "p0", res.ProjectID)
	assert.Zero(t, m.Len())

	// A replayed press finds nothing.
	res = m.Handle(context.Background(), "u1", opts[0].Data)
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome)
	assert.Equal(t, textExpired, res.Text)
	notes, creates := fx.counts()
	assert.Equal(t, 1, notes)
	assert.Zero(t, creates)
}

func TestCreateNew(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)
	in := nlu.ClarifyIntent{SearchKeywords: "retreat"}
	opts := m.Begin("u1", Pending{Intent: in, Transcript: "t", Candidates: candidates("X")})

	res := m.Handle(context.Background(), "u1", opts[1].Data)
	assert.Equal(t, nlu.ActionCreateProject, res.Action)
	require.Len(t, fx.creates, 1)
	assert.Equal(t, in, fx.creates[0].Intent)
	assert.Equal(t, "t", fx.creates[0].Transcript)
	assert.Zero(t, m.Len())
}

func TestCancelTwice(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)
	opts := m.Begin("u1", Pending{Candidates: candidates("X")})
	cancel := opts[len(opts)-1].Data

	res := m.Handle(context.Background(), "u1", cancel)
	assert.Equal(t, resolver.OutcomeCancelled, res.Outcome)
	assert.Equal(t, textCancelled, res.Text)

	res = m.Handle(context.Background(), "u1", cancel)
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome)

	notes, creates := fx.counts()
	assert.Zero(t, notes+creates)
}

func TestInvalidIndexKeepsSession(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)
	opts := m.Begin("u1", Pending{Candidates: candidates("X", "Y")})
	p, _ := m.Get("u1")

	for _, choice := range []string{"2", "-1", "seven"} {
		res := m.Handle(context.Background(), "u1", "dis:"+p.Token+":"+choice)
		assert.Equal(t, resolver.OutcomeInvalid, res.Outcome, choice)
		assert.Equal(t, textInvalid, res.Text)
		assert.Equal(t, opts, res.Options)
	}
	assert.Equal(t, 1, m.Len())

	res := m.Handle(context.Background(), "u1", opts[1].Data)
	assert.Equal(t, "p1", res.ProjectID, "a corrected retry still works")
}

func TestStaleAndForeignCallbacks(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)

	// No session at all.
	res := m.Handle(context.Background(), "u1", "dis:abc:0")
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome)

	old := m.Begin("u1", Pending{Candidates: candidates("X")})
	fresh := m.Begin("u1", Pending{Candidates: candidates("Y")})
	assert.Equal(t, 1, m.Len(), "one session per user")

	res = m.Handle(context.Background(), "u1", old[0].Data)
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome, "replaced token is dead")

	res = m.Handle(context.Background(), "u2", fresh[0].Data)
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome, "another user's buttons do nothing")

	for _, data := range []string{"", "dis:", "dis:tok", "dis::0", "other:tok:0"} {
		res = m.Handle(context.Background(), "u1", data)
		assert.Equal(t, resolver.OutcomeExpired, res.Outcome, data)
	}

	notes, _ := fx.counts()
	assert.Zero(t, notes)
	assert.Equal(t, 1, m.Len())
}

func TestExpiry(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	fx := &fakeEffects{}
	m := New(fx, WithClock(clk.Now), WithTTL(10*time.Minute))

	opts := m.Begin("u1", Pending{Candidates: candidates("X")})
	clk.Advance(9 * time.Minute)
	_, ok := m.Get("u1")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	res := m.Handle(context.Background(), "u1", opts[0].Data)
	assert.Equal(t, resolver.OutcomeExpired, res.Outcome)
	notes, _ := fx.counts()
	assert.Zero(t, notes)
}

func TestSweepAndGauge(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var gauge atomic.Int64
	m := New(&fakeEffects{}, WithClock(clk.Now), WithTTL(time.Minute), WithGauge(func(n int) { gauge.Store(int64(n)) }))

	m.Begin("u1", Pending{Candidates: candidates("X")})
	m.Begin("u2", Pending{Candidates: candidates("Y")})
	assert.EqualValues(t, 2, gauge.Load())

	clk.Advance(30 * time.Second)
	m.Begin("u3", Pending{Candidates: candidates("Z")})
	clk.Advance(31 * time.Second)

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.EqualValues(t, 1, gauge.Load())

	assert.True(t, m.Cancel("u3"))
	assert.False(t, m.Cancel("u3"))
	assert.EqualValues(t, 0, gauge.Load())
}

func TestRunSweeps(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := New(&fakeEffects{}, WithClock(clk.Now), WithTTL(time.Minute))
	m.Begin("u1", Pending{Candidates: candidates("X")})
	clk.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := New(&fakeEffects{}, WithCapacity(2))
	m.Begin("u1", Pending{Candidates: candidates("X")})
	m.Begin("u2", Pending{Candidates: candidates("X")})
	m.Begin("u3", Pending{Candidates: candidates("X")})

	_, ok := m.Get("u1")
	assert.False(t, ok)
	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "u3", list[0].UserID)
	assert.Equal(t, "u2", list[1].UserID)
}

func TestDoubleSubmitAppliesOnce(t *testing.T) {
	fx := &fakeEffects{}
	m := New(fx)
	opts := m.Begin("u1", Pending{Candidates: candidates("X")})

	var wg sync.WaitGroup
	var expired atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Handle(context.Background(), "u1", opts[0].Data).Outcome == resolver.OutcomeExpired {
				expired.Add(1)
			}
		}()
	}
	wg.Wait()

	notes, _ := fx.counts()
	assert.Equal(t, 1, notes)
	assert.EqualValues(t, 15, expired.Load())
}

func TestParseCallback(t *testing.T) {
	token, choice, ok := ParseCallback("dis:abc123:cancel")
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
	assert.Equal(t, "cancel", choice)
	assert.True(t, IsCallback("dis:x:0"))
	assert.False(t, IsCallback("page:2"))
	assert.False(t, strings.Contains(newToken(), "-"))
}
