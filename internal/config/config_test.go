// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnvs(t *testing.T) {
	t.Helper()
	envs := map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"OPENAI_API_KEY":     "sk-test",
		"NOTION_TOKEN":       "secret_test",
		"NOTION_DATABASE_ID": "db-123",
		"API_KEY":            "admin-key",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Success(t *testing.T) {
	setRequiredEnvs(t)
	cfg, err := LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.TelegramBotToken)
	assert.Equal(t, "db-123", cfg.NotionDatabaseID)
	assert.Equal(t, "development", cfg.Environment)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "poll", cfg.TelegramMode)
	assert.Equal(t, 30*time.Second, cfg.TelegramPollTimeout)
	assert.Equal(t, "gpt-4", cfg.OpenAIModel)
	assert.Equal(t, 1000, cfg.OpenAIMaxTokens)
	assert.InDelta(t, 0.7, cfg.OpenAITemperature, 1e-9)
	assert.Equal(t, "whisper-1", cfg.OpenAITranscribeModel)
	assert.Equal(t, "2022-06-28", cfg.NotionVersion)
	assert.Equal(t, 10*time.Minute, cfg.DisambiguationTTL)
	assert.Equal(t, 5, cfg.DisambiguationCandidates)
	assert.Equal(t, "api-key", cfg.APIAuthMode)
}

func TestLoad_Durations(t *testing.T) {
	setRequiredEnvs(t)
	t.Setenv("DISAMBIGUATION_TTL", "90s")
	t.Setenv("NOTION_TIMEOUT", "5s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.DisambiguationTTL)
	assert.Equal(t, 5*time.Second, cfg.NotionTimeout)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("DISAMBIGUATION_TTL", "forever")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ListsEveryMissingVar(t *testing.T) {
	cfg := &Config{APIAuthMode: "api-key"}
	err := cfg.Validate()
	require.Error(t, err)
	for _, name := range []string{"TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY", "NOTION_TOKEN", "NOTION_DATABASE_ID", "API_KEY"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestValidate_SlackOnly(t *testing.T) {
	cfg := &Config{
		SlackBotToken:    "xoxb-test",
		SlackAppToken:    "xapp-test",
		OpenAIAPIKey:     "sk",
		NotionToken:      "n",
		NotionDatabaseID: "db",
		APIAuthMode:      "none",
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AuthModes(t *testing.T) {
	base := Config{TelegramBotToken: "t", OpenAIAPIKey: "sk", NotionToken: "n", NotionDatabaseID: "db"}

	jwtCfg := base
	jwtCfg.APIAuthMode = "jwt"
	assert.ErrorContains(t, jwtCfg.Validate(), "API_JWT_SECRET")
	jwtCfg.APIJWTSecret = "s3cret"
	assert.NoError(t, jwtCfg.Validate())

	bad := base
	bad.APIAuthMode = "basic"
	assert.ErrorContains(t, bad.Validate(), "API_AUTH_MODE")
}

func TestValidate_WebhookNeedsSecret(t *testing.T) {
	cfg := &Config{TelegramBotToken: "t", TelegramMode: "webhook", OpenAIAPIKey: "sk",
		NotionToken: "n", NotionDatabaseID: "db", APIAuthMode: "none"}
	assert.ErrorContains(t, cfg.Validate(), "TELEGRAM_WEBHOOK_SECRET")
	cfg.TelegramWebhookSecret = "hook"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.TelegramEnabled())
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.TelegramWebhook())

	cfg.TelegramBotToken = "t"
	cfg.TelegramMode = "Webhook"
	assert.True(t, cfg.TelegramEnabled())
	assert.True(t, cfg.TelegramWebhook())

	cfg.SlackBotToken = "xoxb-test"
	assert.False(t, cfg.SlackEnabled())
	cfg.SlackAppToken = "xapp-test"
	assert.True(t, cfg.SlackEnabled())
}

func TestConfig_AllowedUsers(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.AllowedUsers())

	cfg.AllowedUserIDs = " 42, ,7 "
	assert.Equal(t, []string{"42", "7"}, cfg.AllowedUsers())
}
