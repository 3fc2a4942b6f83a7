package nlu

import (
	"context"
	"fmt"
)

// ReplyKind selects the phrasing of a conversational reply.
type ReplyKind string

const (
	ReplyCreateSuccess ReplyKind = "create_success"
	ReplyUpdateSuccess ReplyKind = "update_success"
	ReplyGeneralChat   ReplyKind = "general_chat"
	ReplyProjectInfo   ReplyKind = "project_info"
)

// Oracle is the language model boundary.
type Oracle interface {
	// Transcribe converts recorded speech to text.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	// ExtractIntent classifies text into an Intent.
	ExtractIntent(ctx context.Context, text string) (Intent, error)
	// Reply phrases a short conversational answer.
	Reply(ctx context.Context, kind ReplyKind, subject string) (string, error)
	// AnalyzeColumns suggests record store columns for a new project.
	AnalyzeColumns(ctx context.Context, text string) (ColumnPlan, error)
}

func replyUserPrompt(kind ReplyKind, subject string) string {
	switch kind {
	case ReplyCreateSuccess:
		return fmt.Sprintf("Project created: %s. Tell the user it was saved.", subject)
	case ReplyUpdateSuccess:
		return fmt.Sprintf("Project updated: %s. Let the user know it was updated.", subject)
	case ReplyGeneralChat:
		return fmt.Sprintf("The user wrote: %s. Respond warmly and supportively.", subject)
	default:
		return fmt.Sprintf("Context: %s. Respond to the user.", subject)
	}
}
