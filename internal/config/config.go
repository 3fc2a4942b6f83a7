package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`

	// Telegram (primary gateway)
	TelegramBotToken      string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramBaseURL       string        `envconfig:"TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
	TelegramMode          string        `envconfig:"TELEGRAM_MODE" default:"poll"` // "poll" or "webhook"
	TelegramWebhookURL    string        `envconfig:"TELEGRAM_WEBHOOK_URL"`         // public URL registered with setWebhook
	TelegramWebhookSecret string        `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramPollTimeout   time.Duration `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"30s"`
	AllowedUserIDs        string        `envconfig:"ALLOWED_USER_IDS"` // Comma-separated; empty allows everyone

	// OpenAI (transcription, intent extraction, replies)
	OpenAIAPIKey          string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel           string        `envconfig:"OPENAI_MODEL" default:"gpt-4"`
	OpenAIMaxTokens       int           `envconfig:"OPENAI_MAX_TOKENS" default:"1000"`
	OpenAITemperature     float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAITranscribeModel string        `envconfig:"OPENAI_TRANSCRIBE_MODEL" default:"whisper-1"`
	OpenAILanguage        string        `envconfig:"OPENAI_LANGUAGE" default:"en"`
	OpenAIJSONMode        bool          `envconfig:"OPENAI_JSON_MODE" default:"false"` // response_format=json_object; newer models only
	OpenAITimeout         time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`

	// Notion (record store)
	NotionToken      string        `envconfig:"NOTION_TOKEN"`
	NotionDatabaseID string        `envconfig:"NOTION_DATABASE_ID"`
	NotionBaseURL    string        `envconfig:"NOTION_BASE_URL" default:"https://api.notion.com/v1"`
	NotionVersion    string        `envconfig:"NOTION_VERSION" default:"2022-06-28"`
	NotionTimeout    time.Duration `envconfig:"NOTION_TIMEOUT" default:"30s"`
	NotionSchemaFile string        `envconfig:"NOTION_SCHEMA_FILE"` // overrides the embedded schema.yaml

	// Slack (optional second gateway, Socket Mode)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"` // xapp- token for Socket Mode

	// Disambiguation sessions
	DisambiguationTTL        time.Duration `envconfig:"DISAMBIGUATION_TTL" default:"10m"`
	DisambiguationCandidates int           `envconfig:"DISAMBIGUATION_CANDIDATES" default:"5"`
	SessionCapacity          int           `envconfig:"SESSION_CAPACITY" default:"1024"`

	// Journal
	JournalPath      string        `envconfig:"JOURNAL_PATH" default:"ideabot.db"`
	JournalRetention time.Duration `envconfig:"JOURNAL_RETENTION" default:"2160h"` // 90 days

	// Admin API
	APIAuthMode       string `envconfig:"API_AUTH_MODE" default:"api-key"` // "api-key", "jwt" or "none"
	APIKey            string `envconfig:"API_KEY"`
	APIJWTSecret      string `envconfig:"API_JWT_SECRET"`
	APIRateLimitRPS   int    `envconfig:"API_RATE_LIMIT_RPS" default:"20"`
	APIRateLimitBurst int    `envconfig:"API_RATE_LIMIT_BURST" default:"40"`

	// Processing
	UserRateLimit  int `envconfig:"USER_RATE_LIMIT" default:"30"` // oracle-backed messages per user per minute
	MaxConcurrency int `envconfig:"MAX_CONCURRENCY" default:"8"`
}

// TelegramEnabled returns true if a Telegram bot token is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// TelegramWebhook returns true if updates arrive through the HTTP webhook
// instead of long polling.
func (c *Config) TelegramWebhook() bool {
	return strings.EqualFold(c.TelegramMode, "webhook")
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// AllowedUsers returns the parsed list of allowed user IDs.
// Returns nil if not configured, which allows everyone.
func (c *Config) AllowedUsers() []string {
	if c.AllowedUserIDs == "" {
		return nil
	}
	parts := strings.Split(c.AllowedUserIDs, ",")
	ids := make([]string, 0, len(parts))
	for _, id := range parts {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string
	if !c.TelegramEnabled() && !c.SlackEnabled() {
		problems = append(problems, "TELEGRAM_BOT_TOKEN (or SLACK_BOT_TOKEN and SLACK_APP_TOKEN)")
	}
	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY")
	}
	if c.NotionToken == "" {
		problems = append(problems, "NOTION_TOKEN")
	}
	if c.NotionDatabaseID == "" {
		problems = append(problems, "NOTION_DATABASE_ID")
	}
	if c.TelegramEnabled() && c.TelegramWebhook() && c.TelegramWebhookSecret == "" {
		problems = append(problems, "TELEGRAM_WEBHOOK_SECRET (required when TELEGRAM_MODE=webhook)")
	}
	switch strings.ToLower(c.APIAuthMode) {
	case "api-key":
		if c.APIKey == "" {
			problems = append(problems, "API_KEY (required when API_AUTH_MODE=api-key)")
		}
	case "jwt":
		if c.APIJWTSecret == "" {
			problems = append(problems, "API_JWT_SECRET (required when API_AUTH_MODE=jwt)")
		}
	case "none":
	default:
		problems = append(problems, fmt.Sprintf("API_AUTH_MODE %q (want api-key, jwt or none)", c.APIAuthMode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("missing or invalid configuration: %s", strings.Join(problems, ", "))
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
