package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/ideabot/internal/bot"
	"github.com/p-blackswan/ideabot/internal/config"
	"github.com/p-blackswan/ideabot/internal/disambig"
	"github.com/p-blackswan/ideabot/internal/health"
	"github.com/p-blackswan/ideabot/internal/journal"
	"github.com/p-blackswan/ideabot/internal/metrics"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/notion"
	"github.com/p-blackswan/ideabot/internal/ratelimit"
	"github.com/p-blackswan/ideabot/internal/resolver"
	"github.com/p-blackswan/ideabot/internal/server"
	slackpkg "github.com/p-blackswan/ideabot/internal/slack"
	"github.com/p-blackswan/ideabot/internal/telegram"
)

const (
	sweepInterval     = time.Minute
	retentionInterval = 6 * time.Hour
	shutdownTimeout   = 15 * time.Second
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPListenAddr).
		Bool("telegram_enabled", cfg.TelegramEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting ideabot")

	// Context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	checker := health.NewChecker(logger, 5*time.Second)

	// Record store
	store := notion.New(notion.Config{
		Token:      cfg.NotionToken,
		DatabaseID: cfg.NotionDatabaseID,
		BaseURL:    cfg.NotionBaseURL,
		Version:    cfg.NotionVersion,
		Timeout:    cfg.NotionTimeout,
	}, notion.WithLogger(logger), notion.WithCallHook(m.RecordStoreCall))
	checker.Register("notion", health.ErrorCheck(store.Ping))
	ensureSchema(ctx, store, cfg.NotionSchemaFile, logger)

	// Language model
	oracle := nlu.NewOpenAI(nlu.Config{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Model:           cfg.OpenAIModel,
		TranscribeModel: cfg.OpenAITranscribeModel,
		Language:        cfg.OpenAILanguage,
		MaxTokens:       cfg.OpenAIMaxTokens,
		Temperature:     cfg.OpenAITemperature,
		JSONMode:        cfg.OpenAIJSONMode,
		Timeout:         cfg.OpenAITimeout,
	}, nlu.WithLogger(logger), nlu.WithCallHook(m.RecordOracleCall))

	// Resolver and disambiguation sessions
	res := resolver.New(store, oracle,
		resolver.WithLogger(logger),
		resolver.WithCandidateLimit(cfg.DisambiguationCandidates),
	)
	sessions := disambig.New(res,
		disambig.WithLogger(logger),
		disambig.WithTTL(cfg.DisambiguationTTL),
		disambig.WithCapacity(cfg.SessionCapacity),
		disambig.WithGauge(m.SetPendingSessions),
	)
	res.SetSessions(sessions)

	// Action journal
	jrnl, err := journal.Open(cfg.JournalPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.JournalPath).Msg("failed to open journal")
	}
	defer jrnl.Close()
	checker.Register("journal", health.ErrorCheck(jrnl.Ping))

	limiter := ratelimit.PerMinute(cfg.UserRateLimit)
	botOpts := []bot.Option{
		bot.WithJournal(jrnl),
		bot.WithMetrics(m),
		bot.WithLimiter(limiter),
		bot.WithAllowedUsers(cfg.AllowedUsers()),
		bot.WithLogger(logger),
	}
	dispatcherCfg := bot.DefaultDispatcherConfig()
	dispatcherCfg.MaxConcurrency = cfg.MaxConcurrency

	// Gateways
	var tg *telegram.Client
	if cfg.TelegramEnabled() {
		tg = telegram.New(cfg.TelegramBotToken,
			telegram.WithBaseURL(cfg.TelegramBaseURL),
			telegram.WithLogger(logger),
		)
		checker.Register("telegram", health.ErrorCheck(tg.Ping))
		botOpts = append(botOpts, bot.WithGateway(tg))
	}
	var slackApp *slackpkg.App
	if cfg.SlackEnabled() {
		slackApp = slackpkg.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, logger)
		checker.Register("slack", health.ErrorCheck(slackApp.Ping))
		botOpts = append(botOpts, bot.WithGateway(slackApp))
	} else {
		logger.Info().Msg("Slack not configured, skipping")
	}

	b := bot.New(bot.Deps{
		Oracle:   oracle,
		Resolver: res,
		Sessions: sessions,
		Store:    store,
	}, botOpts...)
	dispatcher := bot.NewDispatcher(dispatcherCfg, b, logger)

	webhookSecret := ""
	if tg != nil {
		if cfg.TelegramWebhook() {
			webhookSecret = cfg.TelegramWebhookSecret
			if cfg.TelegramWebhookURL != "" {
				if err := tg.SetWebhook(ctx, cfg.TelegramWebhookURL, webhookSecret); err != nil {
					logger.Error().Err(err).Msg("failed to register Telegram webhook")
				}
			} else {
				logger.Warn().Msg("TELEGRAM_WEBHOOK_URL not set, assuming the webhook is registered elsewhere")
			}
		} else {
			// getUpdates is refused while a webhook is registered
			if err := tg.DeleteWebhook(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to clear Telegram webhook")
			}
			dispatcher.AddSource(telegram.NewPoller(tg, telegram.PollWithTimeout(cfg.TelegramPollTimeout)))
		}
		if name, err := tg.GetMe(ctx); err == nil {
			logger.Info().Str("username", name).Msg("Telegram bot identity resolved")
		} else {
			logger.Warn().Err(err).Msg("Telegram getMe failed")
		}
	}
	if slackApp != nil {
		dispatcher.AddSource(slackApp)
	}

	srv := server.New(server.Config{
		ListenAddr: cfg.HTTPListenAddr,
		Auth: server.AuthConfig{
			Mode:      cfg.APIAuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.APIJWTSecret,
		},
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.APIRateLimitRPS,
			Burst: cfg.APIRateLimitBurst,
		},
		WebhookSecret: webhookSecret,
	}, server.Deps{
		Checker:  checker,
		Metrics:  m.Handler(),
		Events:   dispatcher,
		Projects: store,
		Sessions: sessions,
		Journal:  jrnl,
	}, logger)

	// WaitGroup for background work
	var wg sync.WaitGroup
	background := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			logger.Debug().Str("task", name).Msg("background task stopped")
		}()
	}

	background("dispatcher", func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("dispatcher stopped")
			cancel()
		}
	})
	background("sessions", func() { sessions.Run(ctx, sweepInterval) })
	background("user_limits", func() { limiter.Run(ctx, sweepInterval) })
	background("api_limits", func() { srv.SweepLimits(ctx, sweepInterval) })
	background("retention", func() { jrnl.RunRetention(ctx, retentionInterval, cfg.JournalRetention) })

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("ideabot stopped")
}

// ensureSchema provisions the base columns. Failures are logged and the bot
// starts anyway.
func ensureSchema(ctx context.Context, store *notion.Client, path string, logger zerolog.Logger) {
	want, err := notion.LoadSchema(path)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load schema file")
		return
	}
	added, mismatched, err := notion.EnsureSchema(ctx, store, want)
	if err != nil {
		logger.Warn().Err(err).Msg("schema provisioning failed")
	}
	if len(added) > 0 {
		logger.Info().Strs("columns", added).Msg("added missing columns")
	}
	for _, mm := range mismatched {
		logger.Warn().
			Str("column", mm.Column.Name).
			Str("want", string(mm.Column.Kind)).
			Str("have", string(mm.Actual)).
			Msg("column has an unexpected kind")
	}
}
