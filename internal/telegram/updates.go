package telegram

import (
	"strconv"
	"time"

	"github.com/p-blackswan/ideabot/internal/event"
)

// allowedUpdates are the update kinds the bot subscribes to.
var allowedUpdates = []string{"message", "callback_query"}

// ---- Telegram API wire types ----

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	From      *user  `json:"from,omitempty"`
	Chat      chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Voice     *voice `json:"voice,omitempty"`
	Audio     *audio `json:"audio,omitempty"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MIMEType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type audio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MIMEType string `json:"mime_type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Message *message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

// toEvent converts an update to an Event. ok is false for updates the bot
// ignores, such as stickers or messages from other bots.
func toEvent(u update) (event.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		chatID := formatID(q.From.ID)
		var msgID string
		if q.Message != nil {
			chatID = formatID(q.Message.Chat.ID)
			msgID = formatID(q.Message.MessageID)
		}
		ev := event.New(event.SourceTelegram, event.KindCallback, formatID(q.From.ID), chatID)
		ev.Username = q.From.Username
		ev.MessageID = msgID
		ev.CallbackID = q.ID
		ev.CallbackData = q.Data
		ev.Metadata = map[string]string{"update_id": formatID(u.UpdateID)}
		return ev, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot {
			return event.Event{}, false
		}
		userID, chatID := formatID(m.From.ID), formatID(m.Chat.ID)

		var ev event.Event
		switch {
		case m.Voice != nil:
			ev = event.New(event.SourceTelegram, event.KindVoice, userID, chatID)
			ev.Audio = &event.Audio{
				FileID:   m.Voice.FileID,
				Filename: "voice.ogg",
				MIMEType: m.Voice.MIMEType,
				Duration: m.Voice.Duration,
				Size:     m.Voice.FileSize,
			}
		case m.Audio != nil:
			ev = event.New(event.SourceTelegram, event.KindVoice, userID, chatID)
			name := m.Audio.FileName
			if name == "" {
				name = "audio.mp3"
			}
			ev.Audio = &event.Audio{
				FileID:   m.Audio.FileID,
				Filename: name,
				MIMEType: m.Audio.MIMEType,
				Duration: m.Audio.Duration,
				Size:     m.Audio.FileSize,
			}
		case m.Text != "":
			ev = event.NewText(event.SourceTelegram, userID, chatID, m.Text)
		default:
			return event.Event{}, false
		}
		ev.Username = m.From.Username
		ev.MessageID = formatID(m.MessageID)
		if m.Date > 0 {
			ev.Timestamp = time.Unix(m.Date, 0).UTC()
		}
		ev.Metadata = map[string]string{"update_id": formatID(u.UpdateID), "chat_type": m.Chat.Type}
		return ev, true
	}
	return event.Event{}, false
}
