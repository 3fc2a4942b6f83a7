// Package slack is the optional Slack gateway. Direct messages arrive over
// Socket Mode; options are rendered as Block Kit buttons whose presses come
// back as callback events.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/resolver"
)

// maxDownload caps a fetched audio clip at the transcription upload limit.
const maxDownload = 25 << 20

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// App is the Slack bot application using Socket Mode. It is both an
// event.Source and an outbound gateway.
type App struct {
	api     BotAPI
	socket  *socketmode.Client
	logger  zerolog.Logger
	handler *Handler
}

// NewApp creates a new Slack bot app.
func NewApp(botToken, appToken string, logger zerolog.Logger) *App {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(api)

	return &App{
		api:     api,
		socket:  socket,
		logger:  logger.With().Str("component", "slack").Logger(),
		handler: NewHandler(logger, socket),
	}
}

// newAppWithAPI builds an App without a socket for tests.
func newAppWithAPI(api BotAPI, logger zerolog.Logger) *App {
	return &App{
		api:     api,
		logger:  logger.With().Str("component", "slack").Logger(),
		handler: NewHandler(logger, nil),
	}
}

// Name implements event.Source.
func (a *App) Name() string { return event.SourceSlack }

// Subscribe starts the Socket Mode connection and forwards translated events
// to out until ctx is cancelled.
func (a *App) Subscribe(ctx context.Context, out chan<- event.Event) error {
	if a.socket == nil {
		return fmt.Errorf("slack subscribe: %w: no socket mode client", perrors.ErrInvalidInput)
	}
	a.logger.Info().Msg("starting Slack Socket Mode connection")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.socket.Events:
				if !ok {
					return
				}
				for _, ev := range a.handler.HandleEvent(evt) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("socket mode error")
		}
		a.logger.Info().Msg("shut down Slack Socket Mode")
	}()
	return nil
}

// Send posts text to a channel with opts as buttons and returns the
// message timestamp, which Slack uses as the message id.
func (a *App) Send(ctx context.Context, chatID, text string, opts []resolver.Option) (string, error) {
	_, ts, err := a.api.PostMessageContext(ctx, chatID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(MessageBlocks(text, opts)...),
	)
	if err != nil {
		return "", wrap("chat.postMessage", err)
	}
	return ts, nil
}

// Edit replaces a message in place. Passing no opts removes its buttons.
func (a *App) Edit(ctx context.Context, chatID, messageID, text string, opts []resolver.Option) error {
	_, _, _, err := a.api.UpdateMessageContext(ctx, chatID, messageID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(MessageBlocks(text, opts)...),
	)
	if err != nil {
		return wrap("chat.update", err)
	}
	return nil
}

// AnswerCallback is a no-op: interactions are acknowledged on receipt.
func (a *App) AnswerCallback(context.Context, string, string) error { return nil }

// FetchAudio downloads a shared audio file. The event carries the file's
// private download URL as its FileID.
func (a *App) FetchAudio(ctx context.Context, au event.Audio) ([]byte, error) {
	if !strings.HasPrefix(au.FileID, "https://") {
		return nil, fmt.Errorf("slack fetch audio: %w: not a download url", perrors.ErrInvalidInput)
	}
	if au.Size > maxDownload {
		return nil, fmt.Errorf("slack fetch audio: %w: file is %d bytes", perrors.ErrInvalidInput, au.Size)
	}
	var buf bytes.Buffer
	if err := a.api.GetFileContext(ctx, au.FileID, &buf); err != nil {
		return nil, wrap("files.download", err)
	}
	return buf.Bytes(), nil
}

// Ping checks the bot token with auth.test.
func (a *App) Ping(ctx context.Context) error {
	if _, err := a.api.AuthTestContext(ctx); err != nil {
		return wrap("auth.test", err)
	}
	return nil
}

// wrap converts slack-go errors into APIErrors so retry and logging treat
// every gateway alike.
func wrap(op string, err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &perrors.APIError{Service: "slack", StatusCode: http.StatusTooManyRequests, Message: op, RetryAfter: rl.RetryAfter, Err: perrors.ErrRateLimit}
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return &perrors.APIError{Service: "slack", StatusCode: sc.Code, Message: op + ": " + sc.Status}
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		status := http.StatusBadRequest
		switch se.Err {
		case "invalid_auth", "not_authed", "account_inactive", "token_revoked":
			status = http.StatusUnauthorized
		case "channel_not_found", "message_not_found", "file_not_found":
			status = http.StatusNotFound
		}
		return &perrors.APIError{Service: "slack", StatusCode: status, Message: op + ": " + se.Err}
	}
	return fmt.Errorf("slack %s: %w", op, err)
}
