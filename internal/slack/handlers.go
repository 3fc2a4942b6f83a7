package slack

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/ideabot/internal/event"
)

// acker is the part of the Socket Mode client the handler needs.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// mentionPrefix matches a leading "<@U123>" bot mention.
var mentionPrefix = regexp.MustCompile(`^\s*<@[A-Z0-9]+>\s*`)

// Handler translates Socket Mode envelopes into events.
// Only direct messages, mentions and button presses are translated.
type Handler struct {
	socket acker
	logger zerolog.Logger
}

// NewHandler creates a new event handler. socket may be nil in tests.
func NewHandler(logger zerolog.Logger, socket acker) *Handler {
	return &Handler{
		socket: socket,
		logger: logger.With().Str("component", "slack.handler").Logger(),
	}
}

// HandleEvent acknowledges evt and returns the events it carries.
func (h *Handler) HandleEvent(evt socketmode.Event) []event.Event {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		return h.handleEventsAPI(evt)
	case socketmode.EventTypeInteractive:
		return h.handleInteraction(evt)
	case socketmode.EventTypeConnected:
		h.logger.Info().Msg("connected to Slack")
	case socketmode.EventTypeConnectionError:
		h.logger.Warn().Msg("Slack connection error, retrying")
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
	return nil
}

func (h *Handler) ack(evt socketmode.Event) {
	// Slack requires the ack within 3 seconds
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}
}

func (h *Handler) handleEventsAPI(evt socketmode.Event) []event.Event {
	h.ack(evt)

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		h.logger.Warn().Str("type", string(evt.Type)).Msg("failed to cast events_api data")
		return nil
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return nil
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		text := mentionPrefix.ReplaceAllString(ev.Text, "")
		out := event.NewText(event.SourceSlack, ev.User, ev.Channel, text)
		out.MessageID = ev.TimeStamp
		return []event.Event{out}

	case *slackevents.MessageEvent:
		// Skip bots, channels and edits
		if ev.User == "" || ev.BotID != "" || ev.ChannelType != "im" {
			return nil
		}
		switch ev.SubType {
		case "":
			out := event.NewText(event.SourceSlack, ev.User, ev.Channel, ev.Text)
			out.MessageID = ev.TimeStamp
			return []event.Event{out}
		case "file_share":
			return h.fileShare(ev)
		}
		return nil

	default:
		h.logger.Debug().
			Str("inner_type", eventsAPIEvent.InnerEvent.Type).
			Msg("unhandled callback event type")
	}
	return nil
}

// fileShare turns the first audio attachment of a DM into a voice event.
// Shares without audio fall back to their caption.
func (h *Handler) fileShare(ev *slackevents.MessageEvent) []event.Event {
	for _, f := range ev.Files {
		if !isAudio(f.Mimetype) || f.URLPrivateDownload == "" {
			continue
		}
		out := event.New(event.SourceSlack, event.KindVoice, ev.User, ev.Channel)
		out.MessageID = ev.TimeStamp
		out.Audio = &event.Audio{
			FileID:   f.URLPrivateDownload,
			Filename: f.Name,
			MIMEType: f.Mimetype,
			Size:     int64(f.Size),
		}
		h.logger.Info().Str("user", ev.User).Str("file", f.Name).Msg("audio clip received")
		return []event.Event{out}
	}
	if strings.TrimSpace(ev.Text) == "" {
		return nil
	}
	out := event.NewText(event.SourceSlack, ev.User, ev.Channel, ev.Text)
	out.MessageID = ev.TimeStamp
	return []event.Event{out}
}

func isAudio(mime string) bool {
	return strings.HasPrefix(mime, "audio/") || mime == "video/mp4" || mime == "video/webm"
}

func (h *Handler) handleInteraction(evt socketmode.Event) []event.Event {
	h.ack(evt)

	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok || callback.Type != slack.InteractionTypeBlockActions {
		return nil
	}

	messageTS := callback.Container.MessageTs
	if messageTS == "" {
		messageTS = callback.Message.Timestamp
	}
	channelID := callback.Container.ChannelID
	if channelID == "" {
		channelID = callback.Channel.ID
	}

	var out []event.Event
	for _, action := range callback.ActionCallback.BlockActions {
		if !strings.HasPrefix(action.ActionID, actionPrefix) {
			continue
		}
		h.logger.Info().
			Str("action", action.ActionID).
			Str("user", callback.User.ID).
			Msg("interaction received")

		ev := event.New(event.SourceSlack, event.KindCallback, callback.User.ID, channelID)
		ev.Username = callback.User.Name
		ev.MessageID = messageTS
		ev.CallbackID = callback.TriggerID
		ev.CallbackData = action.Value
		out = append(out, ev)
	}
	return out
}
