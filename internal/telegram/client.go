// Package telegram is the Telegram Bot API gateway: long polling or webhook
// intake on the way in, messages with inline keyboards on the way out.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/event"
	"github.com/p-blackswan/ideabot/internal/resolver"
	"github.com/p-blackswan/ideabot/internal/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// maxMessageRunes is Telegram's limit on a message's text.
	maxMessageRunes = 4096
	// maxDownload is the largest file the Bot API lets a bot fetch.
	maxDownload = 20 << 20
)

// Client calls the Bot API.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	retry   retry.Config
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL points the client at another API host, e.g. a local Bot API
// server or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its timeout must exceed the long
// poll timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "telegram").Logger() }
}

// WithRetry sets the backoff for outbound sends, edits and answers.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for the bot with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  zerolog.Nop(),
		retry:   retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying telegram call")
	}
	return c
}

// Name implements bot.Gateway.
func (c *Client) Name() string { return event.SourceTelegram }

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// call POSTs params as JSON to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("telegram %s: %w: %v", method, perrors.ErrTimeout, ctx.Err())
		}
		// The token is part of the URL; keep it out of the error text.
		return fmt.Errorf("telegram %s: %w: %s", method, perrors.ErrUnavailable, strings.ReplaceAll(err.Error(), c.token, "<token>"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}
	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode >= 300 {
			return perrors.NewAPIError("telegram", resp.StatusCode, string(raw))
		}
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !ar.OK {
		code := ar.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		apiErr := perrors.NewAPIError("telegram", code, ar.Description)
		if ar.Parameters != nil && ar.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
		}
		return fmt.Errorf("telegram %s: %w", method, apiErr)
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// callRetry is call wrapped in the client's backoff.
func (c *Client) callRetry(ctx context.Context, method string, params, out any) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.call(ctx, method, params, out)
	})
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// keyboard lays options out one per row.
func keyboard(opts []resolver.Option) *inlineKeyboard {
	if len(opts) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, []inlineButton{{Text: o.Label, CallbackData: o.Data}})
	}
	return &inlineKeyboard{InlineKeyboard: rows}
}

type sendMessageParams struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type editMessageParams struct {
	ChatID      string          `json:"chat_id"`
	MessageID   int64           `json:"message_id"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// Send posts text to chatID with opts as inline buttons and returns the id
// of the last message sent. Text over Telegram's limit is split across
// several messages; the buttons go on the last one.
func (c *Client) Send(ctx context.Context, chatID, text string, opts []resolver.Option) (string, error) {
	chunks := splitText(text, maxMessageRunes)
	var last message
	for i, chunk := range chunks {
		params := sendMessageParams{ChatID: chatID, Text: chunk}
		if i == len(chunks)-1 {
			params.ReplyMarkup = keyboard(opts)
		}
		if err := c.callRetry(ctx, "sendMessage", params, &last); err != nil {
			return "", err
		}
	}
	return formatID(last.MessageID), nil
}

// Edit replaces the text and buttons of a message sent earlier. Overflow
// beyond the first chunk is sent as follow-up messages.
func (c *Client) Edit(ctx context.Context, chatID, messageID, text string, opts []resolver.Option) error {
	id, err := parseID(messageID)
	if err != nil {
		return fmt.Errorf("telegram edit: %w: message id %q", perrors.ErrInvalidInput, messageID)
	}
	chunks := splitText(text, maxMessageRunes)
	params := editMessageParams{ChatID: chatID, MessageID: id, Text: chunks[0]}
	if len(chunks) == 1 {
		params.ReplyMarkup = keyboard(opts)
	}
	if err := c.callRetry(ctx, "editMessageText", params, nil); err != nil && !notModified(err) {
		return err
	}
	if len(chunks) > 1 {
		_, err := c.Send(ctx, chatID, strings.Join(chunks[1:], ""), opts)
		return err
	}
	return nil
}

// notModified matches the error Telegram returns when an edit would leave the
// message unchanged, which happens on replayed button presses.
func notModified(err error) bool {
	return perrors.StatusCode(err) == http.StatusBadRequest && strings.Contains(err.Error(), "message is not modified")
}

// AnswerCallback stops the spinner on a pressed button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.callRetry(ctx, "answerCallbackQuery", params, nil)
}

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

// FetchAudio downloads a voice note through getFile.
func (c *Client) FetchAudio(ctx context.Context, a event.Audio) ([]byte, error) {
	if a.FileID == "" {
		return nil, fmt.Errorf("telegram fetch audio: %w: empty file id", perrors.ErrInvalidInput)
	}
	var f file
	if err := c.callRetry(ctx, "getFile", map[string]string{"file_id": a.FileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile %s: %w: no file path", a.FileID, perrors.ErrNotFound)
	}
	if f.FileSize > maxDownload {
		return nil, fmt.Errorf("telegram fetch audio: %w: %d bytes exceeds the download limit", perrors.ErrInvalidInput, f.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/file/bot"+c.token+"/"+f.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", perrors.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, perrors.NewAPIError("telegram", resp.StatusCode, "file download failed")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("telegram download: read: %w", err)
	}
	if len(data) > maxDownload {
		return nil, fmt.Errorf("telegram fetch audio: %w: file exceeds the download limit", perrors.ErrInvalidInput)
	}
	return data, nil
}

type user struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// GetMe returns the bot's own username. It doubles as the readiness probe.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	var u user
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return "", err
	}
	return u.Username, nil
}

// Ping checks that the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetMe(ctx)
	return err
}

// SetWebhook registers url for update delivery with secret echoed back in
// the SecretHeader of every request.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := map[string]any{
		"url":             url,
		"secret_token":    secret,
		"allowed_updates": allowedUpdates,
	}
	if err := c.call(ctx, "setWebhook", params, nil); err != nil {
		return err
	}
	c.logger.Info().Str("url", url).Msg("webhook registered")
	return nil
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": false}, nil)
}

// splitText cuts s into pieces of at most n runes, preferring line breaks.
func splitText(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	var out []string
	for len(runes) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
