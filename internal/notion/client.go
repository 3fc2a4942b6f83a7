// Package notion stores projects in a Notion database through the public
// REST API.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
	"github.com/p-blackswan/ideabot/internal/project"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	defaultVersion = "2022-06-28"
	defaultTimeout = 30 * time.Second
	pageSize       = 100
	// maxPages bounds a single Query at maxPages*pageSize rows.
	maxPages = 10
)

// Config configures the client.
type Config struct {
	Token      string
	DatabaseID string
	BaseURL    string
	Version    string
	Timeout    time.Duration
}

// Client implements the record store over one Notion database.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
	onCall func(op string, err error)
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l.With().Str("component", "notion").Logger() }
}

// WithCallHook registers fn to observe every API call by operation name.
func WithCallHook(fn func(op string, err error)) Option {
	return func(cl *Client) { cl.onCall = fn }
}

// New constructs a client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type createRequest struct {
	Parent     map[string]string        `json:"parent"`
	Properties map[string]writeProperty `json:"properties"`
}

type patchRequest struct {
	Properties map[string]writeProperty `json:"properties"`
}

type sortSpec struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

type queryRequest struct {
	Filter      any        `json:"filter,omitempty"`
	Sorts       []sortSpec `json:"sorts"`
	PageSize    int        `json:"page_size"`
	StartCursor string     `json:"start_cursor,omitempty"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type database struct {
	ID         string                    `json:"id"`
	Properties map[string]databaseColumn `json:"properties"`
}

type databaseColumn struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Create adds a page for d and returns its id. The caller applies defaults.
func (c *Client) Create(ctx context.Context, d project.Draft) (id string, err error) {
	defer func() { c.observe("create", err) }()

	body := createRequest{
		Parent:     map[string]string{"database_id": c.cfg.DatabaseID},
		Properties: draftProperties(d),
	}
	var created page
	if err := c.do(ctx, http.MethodPost, "/pages", body, &created); err != nil {
		return "", fmt.Errorf("notion: create page: %w", err)
	}
	c.logger.Info().Str("page_id", created.ID).Str("name", d.Name).Msg("project created")
	return created.ID, nil
}

// Query returns projects matching f, newest Date first. Archived Notion
// pages (trash) are skipped.
func (c *Client) Query(ctx context.Context, f project.Filter) (projects []project.Project, err error) {
	defer func() { c.observe("query", err) }()

	req := queryRequest{
		Filter:   buildFilter(f),
		Sorts:    []sortSpec{{Property: PropDate, Direction: "descending"}},
		PageSize: pageSize,
	}
	endpoint := "/databases/" + c.cfg.DatabaseID + "/query"
	for i := 0; i < maxPages; i++ {
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
			return nil, fmt.Errorf("notion: query database: %w", err)
		}
		for _, p := range resp.Results {
			if p.Archived {
				continue
			}
			projects = append(projects, decodePage(p))
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		req.StartCursor = resp.NextCursor
	}
	c.logger.Debug().Int("count", len(projects)).Str("status", string(f.Status)).Str("type", string(f.Type)).Msg("projects queried")
	return projects, nil
}

func buildFilter(f project.Filter) any {
	var conds []map[string]any
	if f.Status != "" {
		conds = append(conds, map[string]any{"property": PropStatus, "select": map[string]string{"equals": string(f.Status)}})
	}
	if f.Type != "" {
		conds = append(conds, map[string]any{"property": PropType, "select": map[string]string{"equals": string(f.Type)}})
	}
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return map[string]any{"and": conds}
	}
}

// Patch updates the provided fields of page id.
func (c *Client) Patch(ctx context.Context, id string, f project.Fields) (err error) {
	defer func() { c.observe("patch", err) }()

	if id == "" {
		return fmt.Errorf("notion: patch: %w: empty page id", perrors.ErrInvalidInput)
	}
	if f.IsEmpty() {
		return nil
	}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+id, patchRequest{Properties: fieldProperties(f)}, nil); err != nil {
		return fmt.Errorf("notion: patch page %s: %w", id, err)
	}
	return nil
}

// Schema returns the database's columns by name.
func (c *Client) Schema(ctx context.Context) (cols map[string]project.ColumnKind, err error) {
	defer func() { c.observe("schema", err) }()

	var db database
	if err := c.do(ctx, http.MethodGet, "/databases/"+c.cfg.DatabaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("notion: get database: %w", err)
	}
	cols = make(map[string]project.ColumnKind, len(db.Properties))
	for name, col := range db.Properties {
		cols[name] = project.ColumnKind(col.Type)
	}
	return cols, nil
}

// AddField adds col to the database. A column that already exists under the
// same name is left as it is and reported as success.
func (c *Client) AddField(ctx context.Context, col project.Column) error {
	if col.Name == "" || !col.Kind.Valid() {
		return fmt.Errorf("notion: add field %q: %w: kind %q", col.Name, perrors.ErrInvalidInput, col.Kind)
	}
	schema, err := c.Schema(ctx)
	if err != nil {
		return err
	}
	if _, ok := schema[col.Name]; ok {
		return nil
	}

	defer func() { c.observe("add_field", err) }()
	body := map[string]any{
		"properties": map[string]any{col.Name: columnDefinition(col)},
	}
	if err = c.do(ctx, http.MethodPatch, "/databases/"+c.cfg.DatabaseID, body, nil); err != nil {
		return fmt.Errorf("notion: add field %q: %w", col.Name, err)
	}
	c.logger.Info().Str("column", col.Name).Str("kind", string(col.Kind)).Msg("column added")
	return nil
}

func columnDefinition(col project.Column) map[string]any {
	switch col.Kind {
	case project.ColumnSelect, project.ColumnMultiSelect:
		opts := make([]selectOption, 0, len(col.Options))
		for _, o := range col.Options {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, selectOption{Name: o})
			}
		}
		return map[string]any{string(col.Kind): map[string]any{"options": opts}}
	case project.ColumnNumber:
		return map[string]any{"number": map[string]string{"format": "number"}}
	default:
		return map[string]any{string(col.Kind): map[string]any{}}
	}
}

// Ping checks that the database is reachable with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Schema(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", c.cfg.Version)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		var e apiErrorBody
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			msg = e.Code + ": " + e.Message
		}
		apiErr := perrors.NewAPIError("notion", resp.StatusCode, msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) observe(op string, err error) {
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Msg("notion call failed")
	}
	if c.onCall != nil {
		c.onCall(op, err)
	}
}
