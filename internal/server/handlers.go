package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/requestid"
	"github.com/p-blackswan/ideabot/internal/telegram"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps          Deps
	webhookSecret string
	logger        zerolog.Logger
	startTime     time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, webhookSecret string, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:          deps,
		webhookSecret: webhookSecret,
		logger:        logger.With().Str("component", "handlers").Logger(),
		startTime:     time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Checker == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	report := h.deps.Checker.Check(c.UserContext())
	if !report.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": report.Checks,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": report.Checks})
}

// TelegramWebhook handles POST /telegram/webhook. Updates the bot ignores are
// acknowledged so Telegram does not redeliver them.
func (h *Handlers) TelegramWebhook(c *fiber.Ctx) error {
	if !telegram.CheckSecret(c.Get(telegram.SecretHeader), h.webhookSecret) {
		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_secret", "Unauthorized",
			"Webhook secret does not match")
	}

	ev, ok, err := telegram.ParseUpdate(c.Body())
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			err.Error())
	}
	if !ok {
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := h.deps.Events.Submit(ev); err != nil {
		log := requestid.Logger(c.UserContext(), h.logger)
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook event rejected")
		if errors.Is(err, perrors.ErrRateLimit) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"chat_busy", "Too Many Requests",
				"Too many events queued for this chat")
		}
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"not_running", "Service Unavailable",
			"Event processing is not running")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	if h.deps.Projects == nil {
		return unavailable(c, "projects")
	}

	var f project.Filter
	if s := c.Query("status"); s != "" {
		status, ok := project.ParseStatus(s)
		if !ok {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_status", "Bad Request",
				"Unknown status: "+s)
		}
		f.Status = status
	}
	if s := c.Query("type"); s != "" {
		t, ok := project.ParseType(s)
		if !ok {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_type", "Bad Request",
				"Unknown type: "+s)
		}
		f.Type = t
	}

	projects, err := h.deps.Projects.Query(c.UserContext(), f)
	if err != nil {
		return h.upstreamError(c, "project query failed", err)
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return c.JSON(ProjectListResponse{Projects: projects, Total: len(projects)})
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(c *fiber.Ctx) error {
	if h.deps.Sessions == nil {
		return unavailable(c, "sessions")
	}
	entries := h.deps.Sessions.List()
	views := make([]SessionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newSessionView(e))
	}
	return c.JSON(SessionListResponse{Sessions: views, Total: len(views)})
}

// ListActions handles GET /api/v1/actions.
func (h *Handlers) ListActions(c *fiber.Ctx) error {
	if h.deps.Journal == nil {
		return unavailable(c, "journal")
	}

	f := journal.Filter{
		UserID:  c.Query("user_id"),
		Action:  c.Query("action"),
		Outcome: c.Query("outcome"),
		Limit:   listLimit(c),
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_since", "Bad Request",
				"since must be an RFC 3339 timestamp")
		}
		f.Since = since
	}

	entries, err := h.deps.Journal.List(c.UserContext(), f)
	if err != nil {
		return h.upstreamError(c, "journal query failed", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return c.JSON(ActionListResponse{Actions: entries, Total: len(entries)})
}

// ListFailures handles GET /api/v1/failures.
func (h *Handlers) ListFailures(c *fiber.Ctx) error {
	if h.deps.Journal == nil {
		return unavailable(c, "journal")
	}
	failures, err := h.deps.Journal.ListFailures(c.UserContext(), listLimit(c))
	if err != nil {
		return h.upstreamError(c, "journal query failed", err)
	}
	if failures == nil {
		failures = []journal.FailedDelivery{}
	}
	return c.JSON(FailureListResponse{Failures: failures, Total: len(failures)})
}

// Stats handles GET /api/v1/stats.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	resp := StatsResponse{
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Outcomes: map[string]int{},
	}
	if h.deps.Sessions != nil {
		resp.PendingSessions = len(h.deps.Sessions.List())
	}
	if h.deps.Events != nil {
		resp.QueuedEvents = h.deps.Events.Pending()
	}
	if h.deps.Checker != nil {
		resp.Health = h.deps.Checker.Last()
	}
	if h.deps.Journal != nil {
		counts, err := h.deps.Journal.Counts(c.UserContext())
		if err != nil {
			return h.upstreamError(c, "journal query failed", err)
		}
		resp.Outcomes = counts
	}
	return c.JSON(resp)
}

func (h *Handlers) upstreamError(c *fiber.Ctx, msg string, err error) error {
	log := requestid.Logger(c.UserContext(), h.logger)
	log.Error().Err(err).Str("path", c.Path()).Msg(msg)
	return problemResponse(c, fiber.StatusBadGateway,
		"upstream_error", "Bad Gateway",
		msg)
}

func unavailable(c *fiber.Ctx, what string) error {
	return problemResponse(c, fiber.StatusNotImplemented,
		"not_configured", "Not Implemented",
		what+" not configured")
}

func listLimit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", defaultListLimit)
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
