package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/ideabot/internal/resolver"
)

const (
	// actionPrefix marks buttons built by MessageBlocks; presses on any other
	// button are ignored.
	actionPrefix = "opt_"
	// optionsBlockID is the block id of the button row.
	optionsBlockID = "ideabot_options"

	maxSectionRunes = 3000
	maxButtonRunes  = 75
	maxButtons      = 25
)

// truncate shortens s to max runes, appending "…" if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// escape encodes the three characters Slack's mrkdwn treats as control
// characters.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// MessageBlocks renders text as one or more sections followed by a row of
// buttons, one per option, whose values carry the option data.
func MessageBlocks(text string, opts []resolver.Option) []slack.Block {
	var blocks []slack.Block
	for _, chunk := range sections(escape(text), maxSectionRunes) {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false),
			nil, nil,
		))
	}
	if len(opts) == 0 {
		return blocks
	}
	if len(opts) > maxButtons {
		opts = opts[:maxButtons]
	}
	buttons := make([]slack.BlockElement, 0, len(opts))
	for i, o := range opts {
		buttons = append(buttons, slack.NewButtonBlockElement(
			fmt.Sprintf("%s%d", actionPrefix, i), o.Data,
			slack.NewTextBlockObject(slack.PlainTextType, truncate(o.Label, maxButtonRunes), true, false),
		))
	}
	return append(blocks, slack.NewActionBlock(optionsBlockID, buttons...))
}

// sections splits s into chunks of at most n runes, preferring line breaks.
// Empty input yields a single placeholder so the message is never blank.
func sections(s string, n int) []string {
	if strings.TrimSpace(s) == "" {
		return []string{" "}
	}
	var out []string
	r := []rune(s)
	for len(r) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	return append(out, string(r))
}
