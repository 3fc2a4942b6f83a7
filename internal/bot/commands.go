package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/requestid"
	"github.com/p-blackswan/ideabot/internal/resolver"
)

// historyLimit is how many journal rows /history shows.
const historyLimit = 10

const textStart = `🌟 Hello! I'm your personal assistant for creative projects.

I'll help you:
• Save new ideas and projects
• Track the status of current projects
• Organise your creative concepts

Just talk to me naturally, in voice or text. I'll work out what you want to do and organise everything for you.

Available commands:
/start    – show this message
/projects – show all projects
/active   – show active projects
/history  – show what I did recently
/cancel   – drop an open question
/help     – command reference

Ready to begin? Tell me about your ideas! ✨`

const textHelp = `🔮 How I work

📝 Creating projects
• "I have an idea for a new song about motherhood"
• "I want to create a course on feminine energy"
• "I'm planning a retreat in the mountains"

📊 Updating status
• "Started working on the moon song"
• "Pausing work on the course"
• "Finished recording the album"

🗒 Adding notes
• "Add to the moon song: second verse about the tide"

📋 Viewing projects
• "What am I working on?"
• "Show me all my songs"

🎯 Project types
Song, Book, Course, Retreat, Workshop, Album, Project

💫 Just write naturally. I'll infer your intentions and organise everything myself!`

const (
	textNoProjects     = "You don't have any saved projects yet. Share your ideas with me! ✨"
	textNoActive       = "You have no active projects. Time to start something new! 🚀"
	textListFailed     = "An error occurred while retrieving the project list. Please try again later."
	textNothingPending = "There is no open question to cancel."
	textCancelled      = "Cancelled. Nothing was changed."
	textHistoryEmpty   = "Nothing recorded yet."
	textHistoryOff     = "History is not available."
	textHistoryFailed  = "An error occurred while reading your history. Please try again later."
	textUnknownCommand = "Unknown command. Send /help to see what I can do."

	historyTimestamp    = "2006-01-02 15:04"
	commandActionPrefix = "command_"
)

func (b *Bot) handleCommand(ctx context.Context, ev event.Event) outcome {
	res := resolver.Result{Action: nlu.Action(commandActionPrefix + ev.Command), Outcome: resolver.OutcomeOK}
	switch ev.Command {
	case "start":
		res.Text = textStart
	case "help":
		res.Text = textHelp
	case "projects":
		res.Outcome, res.Text = b.listAll(ctx)
	case "active":
		res.Outcome, res.Text = b.listActive(ctx)
	case "history":
		res.Outcome, res.Text = b.history(ctx, ev.UserID)
	case "cancel":
		if b.deps.Sessions.Cancel(ev.UserID) {
			res.Outcome, res.Text = resolver.OutcomeCancelled, textCancelled
		} else {
			res.Outcome, res.Text = resolver.OutcomeEmpty, textNothingPending
		}
	default:
		res.Action = nlu.Action(commandActionPrefix + "unknown")
		res.Outcome, res.Text = resolver.OutcomeUnknown, textUnknownCommand
	}
	return outcome{Result: res, input: "/" + ev.Command}
}

func (b *Bot) listAll(ctx context.Context) (resolver.Outcome, string) {
	projects, err := b.deps.Store.Query(ctx, project.Filter{})
	if err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Error().Err(err).Msg("listing projects failed")
		return resolver.OutcomeFailed, textListFailed
	}
	if len(projects) == 0 {
		return resolver.OutcomeEmpty, textNoProjects
	}
	return resolver.OutcomeOK, resolver.FormatGroups("🌟 All your projects:", project.GroupByType(projects))
}

func (b *Bot) listActive(ctx context.Context) (resolver.Outcome, string) {
	projects, err := b.deps.Store.Query(ctx, project.Filter{Status: project.StatusInProgress})
	if err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Error().Err(err).Msg("listing active projects failed")
		return resolver.OutcomeFailed, textListFailed
	}
	if len(projects) == 0 {
		return resolver.OutcomeEmpty, textNoActive
	}

	var sb strings.Builder
	sb.WriteString("🔥 Your active projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&sb, "\n🎯 %s (%s)\n", p.Name, p.Type)
		if p.Date != "" {
			fmt.Fprintf(&sb, "   📅 %s\n", p.Date)
		}
		if len(p.Tags) > 0 {
			fmt.Fprintf(&sb, "   🏷️ %s\n", strings.Join(p.Tags, ", "))
		}
	}
	return resolver.OutcomeOK, strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) history(ctx context.Context, userID string) (resolver.Outcome, string) {
	if b.journal == nil {
		return resolver.OutcomeEmpty, textHistoryOff
	}
	entries, err := b.journal.History(ctx, userID, historyLimit)
	if err != nil {
		log := requestid.Logger(ctx, b.logger)
		log.Error().Err(err).Msg("reading history failed")
		return resolver.OutcomeFailed, textHistoryFailed
	}
	if len(entries) == 0 {
		return resolver.OutcomeEmpty, textHistoryEmpty
	}

	var sb strings.Builder
	sb.WriteString("🕘 Recent activity:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s %s (%s)", e.CreatedAt.Format(historyTimestamp), e.Action, e.Outcome)
		if e.ProjectName != "" {
			fmt.Fprintf(&sb, " – %s", e.ProjectName)
		}
	}
	return resolver.OutcomeOK, sb.String()
}
