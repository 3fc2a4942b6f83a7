package resolver

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/ideabot/internal/project"
)

var statusEmoji = map[project.Status]string{
	project.StatusIdea:       "💡",
	project.StatusInProgress: "🔥",
	project.StatusPaused:     "⏸️",
	project.StatusCompleted:  "✅",
	project.StatusReleased:   "🚀",
	project.StatusArchived:   "📦",
}

// StatusEmoji returns the marker shown next to a status.
func StatusEmoji(s project.Status) string {
	if e, ok := statusEmoji[s]; ok {
		return e
	}
	return "📋"
}

// FormatGroups renders grouped projects as plain text, one line per project.
func FormatGroups(title string, groups []project.Group) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s:\n", g.Type)
		for _, p := range g.Projects {
			name := p.Name
			if name == "" {
				name = "Untitled"
			}
			status := p.Status
			if status == "" {
				status = "Unknown"
			}
			fmt.Fprintf(&b, "  %s %s – %s\n", StatusEmoji(p.Status), name, status)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
