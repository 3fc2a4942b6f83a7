package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/event"
)

// SecretHeader carries the secret_token given to setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// CheckSecret compares the header value against the configured secret in
// constant time. An empty secret never matches.
func CheckSecret(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ParseUpdate decodes a webhook body. ok is false for well-formed updates the
// bot ignores.
func ParseUpdate(body []byte) (ev event.Event, ok bool, err error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return event.Event{}, false, fmt.Errorf("telegram webhook: %w: %v", perrors.ErrInvalidInput, err)
	}
	ev, ok = toEvent(u)
	return ev, ok, nil
}
