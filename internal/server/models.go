package server

import (
	"time"

	"github.com/p-blackswan/ideabot/internal/disambig"
	"github.com/p-blackswan/ideabot/internal/health"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/project"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ProjectListResponse is the body of GET /api/v1/projects.
type ProjectListResponse struct {
	Projects []project.Project `json:"projects"`
	Total    int               `json:"total"`
}

// SessionView is one open disambiguation question.
type SessionView struct {
	UserID     string    `json:"user_id"`
	ChatID     string    `json:"chat_id"`
	Keywords   string    `json:"keywords"`
	Candidates []string  `json:"candidates"`
	CreatedAt  time.Time `json:"created_at"`
}

func newSessionView(e disambig.Entry) SessionView {
	names := make([]string, 0, len(e.Candidates))
	for _, p := range e.Candidates {
		names = append(names, p.Name)
	}
	return SessionView{
		UserID:     e.UserID,
		ChatID:     e.ChatID,
		Keywords:   e.Intent.SearchKeywords,
		Candidates: names,
		CreatedAt:  e.CreatedAt,
	}
}

// SessionListResponse is the body of GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// ActionListResponse is the body of GET /api/v1/actions.
type ActionListResponse struct {
	Actions []journal.Entry `json:"actions"`
	Total   int             `json:"total"`
}

// FailureListResponse is the body of GET /api/v1/failures.
type FailureListResponse struct {
	Failures []journal.FailedDelivery `json:"failures"`
	Total    int                      `json:"total"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Uptime          string                   `json:"uptime"`
	PendingSessions int                      `json:"pending_sessions"`
	QueuedEvents    int                      `json:"queued_events"`
	Outcomes        map[string]int           `json:"outcomes"`
	Health          map[string]health.Status `json:"health"`
}
