// Package event defines the gateway-neutral Event and the Source interface.
// Every inbound message, voice note, command and button press flows through
// the bot as an Event.
package event

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifiers for the chat gateways.
const (
	SourceTelegram = "telegram"
	SourceSlack    = "slack"
)

// Kind says what the user did.
type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindCallback Kind = "callback"
	KindCommand  Kind = "command"
)

// Audio references a voice note held by the gateway.
type Audio struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
	Size     int64  `json:"size,omitempty"`
}

// Event is one inbound stimulus, attributed to a user and a chat.
type Event struct {
	ID     string `json:"id"`
	Source string `json:"source"` // e.g. "telegram", "slack"
	Kind   Kind   `json:"kind"`

	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`

	Text    string `json:"text,omitempty"`
	Audio   *Audio `json:"audio,omitempty"`
	Command string `json:"command,omitempty"` // without the slash
	Args    string `json:"args,omitempty"`

	// CallbackID identifies a button press for acknowledgement;
	// CallbackData is the data attached to the pressed button.
	CallbackID   string `json:"callback_id,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Source is implemented by anything that can emit events.
type Source interface {
	// Name returns the source identifier (e.g. "telegram").
	Name() string

	// Subscribe starts delivering events to out until ctx is cancelled.
	// Subscribe must be non-blocking; it should start a goroutine internally.
	Subscribe(ctx context.Context, out chan<- Event) error
}

// New returns an Event with a generated ID and the current time.
func New(source string, kind Kind, userID, chatID string) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Source:    source,
		Kind:      kind,
		UserID:    userID,
		ChatID:    chatID,
		Timestamp: time.Now().UTC(),
	}
}

// NewText builds a text event, turning "/cmd args" into a command event.
func NewText(source, userID, chatID, text string) Event {
	if cmd, args, ok := ParseCommand(text); ok {
		ev := New(source, KindCommand, userID, chatID)
		ev.Command, ev.Args, ev.Text = cmd, args, text
		return ev
	}
	ev := New(source, KindText, userID, chatID)
	ev.Text = text
	return ev
}

// ParseCommand splits "/start@my_bot some args" into ("start", "some args").
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Key is the ordering key for the event: events sharing a key are handled one
// at a time, in arrival order.
func (e Event) Key() string {
	return e.Source + ":" + e.ChatID
}
