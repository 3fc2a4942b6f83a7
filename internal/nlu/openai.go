package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultModel           = "gpt-4"
	defaultTranscribeModel = "whisper-1"
	defaultMaxTokens       = 1000
	defaultTemperature     = 0.7
	defaultTimeout         = 60 * time.Second

	// maxAudioBytes is the transcription endpoint's upload limit.
	maxAudioBytes = 25 << 20
)

// Config configures the OpenAI-compatible oracle.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL         string
	Model           string
	TranscribeModel string
	// Language is the ISO-639-1 hint passed to transcription. Empty lets the
	// model detect it.
	Language    string
	MaxTokens   int
	Temperature float64
	// JSONMode requests response_format=json_object. Only newer chat models
	// accept it.
	JSONMode bool
	Timeout  time.Duration
}

// OpenAI implements Oracle over the chat completions and audio
// transcription endpoints. Safe for concurrent use.
type OpenAI struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
	onCall func(op string, err error)
}

// Option configures OpenAI.
type Option func(*OpenAI)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) { o.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *OpenAI) { o.logger = l.With().Str("component", "nlu").Logger() }
}

// WithCallHook registers fn to observe every API call by operation name.
func WithCallHook(fn func(op string, err error)) Option {
	return func(o *OpenAI) { o.onCall = fn }
}

// NewOpenAI returns an Oracle backed by the OpenAI API.
func NewOpenAI(cfg Config, opts ...Option) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = defaultTranscribeModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	o := &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    float64      `json:"temperature"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiTranscription struct {
	Text  string    `json:"text"`
	Error *oaiError `json:"error,omitempty"`
}

// Transcribe uploads audio and returns the trimmed transcript.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename string) (text string, err error) {
	defer func() { o.observe("transcribe", err) }()

	if len(audio) == 0 {
		return "", fmt.Errorf("nlu: transcribe: %w: no audio", perrors.ErrInvalidInput)
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("nlu: transcribe: %w: audio is %d bytes", perrors.ErrInvalidInput, len(audio))
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("nlu: transcribe: form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("nlu: transcribe: write audio: %w", err)
	}
	_ = mw.WriteField("model", o.cfg.TranscribeModel)
	if o.cfg.Language != "" {
		_ = mw.WriteField("language", o.cfg.Language)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("nlu: transcribe: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("nlu: transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	raw, err := o.do(req)
	if err != nil {
		return "", fmt.Errorf("nlu: transcribe: %w", err)
	}
	var out oaiTranscription
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("nlu: transcribe: decode response: %w", err)
	}
	text = strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	o.logger.Debug().Int("chars", len(text)).Msg("audio transcribed")
	return text, nil
}

// ExtractIntent classifies text. A reply that is not valid JSON yields
// ErrMalformedOutput.
func (o *OpenAI) ExtractIntent(ctx context.Context, text string) (intent Intent, err error) {
	defer func() { o.observe("extract_intent", err) }()

	content, err := o.chat(ctx, intentPrompt, "Message from the user: "+text, o.cfg.JSONMode)
	if err != nil {
		return nil, fmt.Errorf("nlu: extract intent: %w", err)
	}
	intent, err = DecodeIntent(content)
	if err != nil {
		o.logger.Warn().Str("raw", truncate(content, 200)).Msg("intent reply was not JSON")
		return nil, err
	}
	o.logger.Debug().Str("action", string(intent.Action())).Float64("confidence", intent.Metadata().Confidence).Msg("intent extracted")
	return intent, nil
}

// Reply phrases a short conversational answer about subject.
func (o *OpenAI) Reply(ctx context.Context, kind ReplyKind, subject string) (text string, err error) {
	defer func() { o.observe("reply", err) }()

	text, err = o.chat(ctx, replyPrompt, replyUserPrompt(kind, subject), false)
	if err != nil {
		return "", fmt.Errorf("nlu: reply: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("nlu: reply: %w", ErrMalformedOutput)
	}
	return text, nil
}

// AnalyzeColumns asks which columns a new project would benefit from.
func (o *OpenAI) AnalyzeColumns(ctx context.Context, text string) (plan ColumnPlan, err error) {
	defer func() { o.observe("analyze_columns", err) }()

	content, err := o.chat(ctx, columnsPrompt, "Analyze this project request for optimal database columns: "+text, o.cfg.JSONMode)
	if err != nil {
		return ColumnPlan{}, fmt.Errorf("nlu: analyze columns: %w", err)
	}
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &plan); err != nil {
		return ColumnPlan{}, fmt.Errorf("%w: column plan: %v", ErrMalformedOutput, err)
	}
	plan.Priority = Priority(strings.ToLower(string(plan.Priority)))
	return plan, nil
}

func (o *OpenAI) chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	body := oaiRequest{
		Model: o.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	if jsonMode {
		body.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	raw, err := o.do(req)
	if err != nil {
		return "", err
	}
	var resp oaiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return "", perrors.NewAPIError("openai", http.StatusOK, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// do sends req and returns the body of a 2xx response. Other statuses become
// an *errors.APIError.
func (o *OpenAI) do(req *http.Request) ([]byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := truncate(string(raw), 300)
		var e struct {
			Error *oaiError `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		apiErr := perrors.NewAPIError("openai", resp.StatusCode, msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, apiErr
	}
	return raw, nil
}

func (o *OpenAI) observe(op string, err error) {
	if err != nil {
		o.logger.Error().Err(err).Str("op", op).Msg("openai call failed")
	}
	if o.onCall != nil {
		o.onCall(op, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
