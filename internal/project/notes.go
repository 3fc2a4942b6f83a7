package project

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// LogSeparator joins segments of the accumulation fields.
const LogSeparator = "\n\n"

// TimestampLayout is the layout of the bracketed prefix on appended segments.
const TimestampLayout = "2006-01-02 15:04"

// AppendLog returns prior with segment appended. prior is always a prefix of
// the result; an empty segment returns prior unchanged.
func AppendLog(prior, segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return prior
	}
	if strings.TrimSpace(prior) == "" {
		return prior + segment
	}
	return prior + LogSeparator + segment
}

// NoteSegment formats a processed-notes entry as "[ts] NoteType: text".
func NoteSegment(now time.Time, noteType, text string) string {
	return fmt.Sprintf("[%s] %s: %s", now.Format(TimestampLayout), NoteLabel(noteType), strings.TrimSpace(text))
}

// AudioSegment formats an original-audio entry as "[ts] text".
func AudioSegment(now time.Time, transcript string) string {
	return fmt.Sprintf("[%s] %s", now.Format(TimestampLayout), strings.TrimSpace(transcript))
}

// NoteLabel turns a note type such as "update" or "status_change" into its
// display label ("Update", "Status Change"). Empty types read as "Update".
func NoteLabel(noteType string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(noteType))
	if len(words) == 0 {
		return "Update"
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
