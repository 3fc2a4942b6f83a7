// Package server is the bot's HTTP surface: probes, Prometheus metrics,
// Telegram webhook intake and a read-only admin API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/ideabot/internal/disambig"
	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/health"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/ratelimit"
	"github.com/p-blackswan/ideabot/internal/requestid"
)

const webhookPath = "/telegram/webhook"

// Checker runs readiness checks.
type Checker interface {
	Check(ctx context.Context) health.Report
	Last() map[string]health.Status
}

// Submitter accepts inbound events for processing.
type Submitter interface {
	Submit(ev event.Event) error
	Pending() int
}

// Projects lists stored projects.
type Projects interface {
	Query(ctx context.Context, f project.Filter) ([]project.Project, error)
}

// Sessions lists open disambiguation questions.
type Sessions interface {
	List() []disambig.Entry
}

// Journal reads the action journal.
type Journal interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
	ListFailures(ctx context.Context, limit int) ([]journal.FailedDelivery, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// Deps are the collaborators behind the routes. Nil members disable the
// routes that need them.
type Deps struct {
	Checker  Checker
	Metrics  http.Handler
	Events   Submitter
	Projects Projects
	Sessions Sessions
	Journal  Journal
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second per client IP
	Burst int // burst size
}

// Config holds configuration for the HTTP server.
type Config struct {
	ListenAddr string
	Auth       AuthConfig
	RateLimit  RateLimitConfig

	// WebhookSecret enables the Telegram webhook route when set.
	WebhookSecret string
}

// Server is the Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
	config   Config
}

// New creates and configures the server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(deps, cfg.WebhookSecret, logger),
		logger:   logger.With().Str("component", "http_server").Logger(),
		config:   cfg,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = ratelimit.New(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupMiddleware(cfg Config, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware, honouring an inbound header
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestid.Header)
		if reqID == "" {
			_, reqID = requestid.New(c.UserContext())
		}
		c.SetUserContext(requestid.WithRequestID(c.UserContext(), reqID))
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if s.limiter != nil {
		s.app.Use(func(c *fiber.Ctx) error {
			if publicPath(c.Path()) || s.limiter.Allow(c.IP()) {
				return c.Next()
			}
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		})
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, logger))

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}
		log := requestid.Logger(c.UserContext(), s.logger)
		log.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Msg("http request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(deps Deps) {
	h := s.handlers

	// Probe endpoints (no auth required, handled in auth middleware)
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	if s.config.WebhookSecret != "" && deps.Events != nil {
		s.app.Post(webhookPath, h.TelegramWebhook)
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/projects", h.ListProjects)
	v1.Get("/sessions", h.ListSessions)
	v1.Get("/actions", h.ListActions)
	v1.Get("/failures", h.ListFailures)
	v1.Get("/stats", h.Stats)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("HTTP server starting")
	return s.app.Listen(addr)
}

// SweepLimits forgets idle rate-limit buckets every interval until ctx is
// cancelled.
func (s *Server) SweepLimits(ctx context.Context, interval time.Duration) {
	if s.limiter == nil {
		return
	}
	s.limiter.Run(ctx, interval)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		// Don't leak internal details
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    http.StatusText(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
