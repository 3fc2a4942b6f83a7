package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/event"
)

// EventHandler is what the Dispatcher feeds. *Bot implements it.
type EventHandler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// DispatcherConfig holds dispatcher tuning.
type DispatcherConfig struct {
	// MaxConcurrency limits how many events are handled in parallel.
	MaxConcurrency int

	// EventBufferSize is the capacity of the channel sources write to.
	EventBufferSize int

	// MaxLaneDepth caps the events queued behind one chat. Further events
	// for that chat are dropped until it drains.
	MaxLaneDepth int
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrency:  8,
		EventBufferSize: 256,
		MaxLaneDepth:    64,
	}
}

// Dispatcher wires sources to a handler. Events sharing a Key are handled
// one at a time in arrival order; different keys run in parallel up to
// MaxConcurrency.
type Dispatcher struct {
	config  DispatcherConfig
	handler EventHandler
	sources []event.Source
	sem     chan struct{}
	logger  zerolog.Logger

	mu    sync.Mutex
	ctx   context.Context
	lanes map[string][]event.Event
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Zero config fields take defaults.
func NewDispatcher(cfg DispatcherConfig, handler EventHandler, logger zerolog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.MaxLaneDepth <= 0 {
		cfg.MaxLaneDepth = def.MaxLaneDepth
	}
	return &Dispatcher{
		config:  cfg,
		handler: handler,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		lanes:   make(map[string][]event.Event),
	}
}

// AddSource registers an event source. Must be called before Run.
func (d *Dispatcher) AddSource(src event.Source) {
	d.sources = append(d.sources, src)
}

// Run starts all sources and dispatches their events. Blocks until ctx is
// cancelled, then waits for in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	eventCh := make(chan event.Event, d.config.EventBufferSize)
	for _, src := range d.sources {
		d.logger.Info().Str("source", src.Name()).Msg("starting event source")
		if err := src.Subscribe(ctx, eventCh); err != nil {
			d.mu.Lock()
			d.ctx = nil
			d.mu.Unlock()
			return fmt.Errorf("starting source %s: %w", src.Name(), err)
		}
	}

	d.logger.Info().
		Int("sources", len(d.sources)).
		Int("concurrency", d.config.MaxConcurrency).
		Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher shutting down, waiting for in-flight handlers")
			d.mu.Lock()
			d.ctx = nil
			d.mu.Unlock()
			d.wg.Wait()
			return ctx.Err()
		case ev := <-eventCh:
			if err := d.Submit(ev); err != nil {
				d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("event dropped")
			}
		}
	}
}

// Submit queues ev on its lane. It is how the webhook intake hands over
// events; it fails if the dispatcher is not running or the lane is full.
func (d *Dispatcher) Submit(ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil || d.ctx.Err() != nil {
		return fmt.Errorf("dispatcher: %w: not running", perrors.ErrUnavailable)
	}
	key := ev.Key()
	queue, active := d.lanes[key]
	if len(queue) >= d.config.MaxLaneDepth {
		return fmt.Errorf("dispatcher: %w: %d events queued for %s", perrors.ErrRateLimit, len(queue), key)
	}
	d.lanes[key] = append(queue, ev)
	if !active {
		d.wg.Add(1)
		go d.drain(d.ctx, key)
	}
	return nil
}

// drain handles the lane for key until it is empty, then retires it.
func (d *Dispatcher) drain(ctx context.Context, key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.lanes[key]
		if len(queue) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.mu.Unlock()

		d.sem <- struct{}{} // acquire concurrency slot
		d.handle(ctx, ev)
		<-d.sem // release slot

		// The head is removed only after handling, so a lane with an event
		// in flight still counts as active for Submit.
		d.mu.Lock()
		d.lanes[key] = d.lanes[key][1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("event_id", ev.ID).Msg("handler panicked")
		}
	}()
	if err := d.handler.Handle(ctx, ev); err != nil {
		d.logger.Error().Err(err).Str("event_id", ev.ID).Msg("event handle error")
	}
}

// Pending returns how many events are queued or in flight.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.lanes {
		n += len(q)
	}
	return n
}
