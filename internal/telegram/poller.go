package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ideabot/internal/event"
)

// Poller is an event.Source that long-polls getUpdates.
type Poller struct {
	client  *Client
	offset  int64
	timeout time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

// PollerOption configures Poller.
type PollerOption func(*Poller)

// PollWithTimeout sets the long-poll timeout.
func PollWithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// PollWithBackoff sets the pause after a failed poll.
func PollWithBackoff(d time.Duration) PollerOption {
	return func(p *Poller) { p.backoff = d }
}

// NewPoller creates a polling source on top of client.
func NewPoller(client *Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:  client,
		timeout: 30 * time.Second,
		backoff: 5 * time.Second,
		logger:  client.logger.With().Str("source", "poll").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements event.Source.
func (p *Poller) Name() string { return event.SourceTelegram }

// Subscribe starts long polling in a goroutine.
func (p *Poller) Subscribe(ctx context.Context, out chan<- event.Event) error {
	go p.poll(ctx, out)
	return nil
}

func (p *Poller) poll(ctx context.Context, out chan<- event.Event) {
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
				continue
			}
		}

		for _, upd := range updates {
			// The offset moves past every update, handled or not, so an
			// unsupported update is never redelivered.
			if upd.UpdateID >= p.offset {
				p.offset = upd.UpdateID + 1
			}
			ev, ok := toEvent(upd)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) getUpdates(ctx context.Context) ([]update, error) {
	params := map[string]any{
		"offset":          p.offset,
		"timeout":         int(p.timeout / time.Second),
		"allowed_updates": allowedUpdates,
	}
	var updates []update
	if err := p.client.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
