// Package client provides a REST client for the patching backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/raphaelgruber/rackpatch/internal/metrics"
	"github.com/raphaelgruber/rackpatch/internal/models"
)

// DefaultBaseURL is used when neither an explicit URL nor RACKPATCH_API_BASE_URL is set.
const DefaultBaseURL = "http://localhost:3000"

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %s - %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the patching backend's REST API. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Collector
	logger     *slog.Logger
	validate   *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records per-operation timings.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a backend client.
// If baseURL is empty, uses RACKPATCH_API_BASE_URL or DefaultBaseURL.
// If timeout is zero, uses RACKPATCH_CLIENT_TIMEOUT (default 30s).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("RACKPATCH_API_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
		if t := os.Getenv("RACKPATCH_CLIENT_TIMEOUT"); t != "" {
			if d, err := time.ParseDuration(t); err == nil {
				timeout = d
			}
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one request and decodes the JSON body into result (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, result any) (err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(op, start, err) }()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("backend request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(data))}
	}

	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// =============================================================================
// ENVELOPES
// =============================================================================

var listKeys = []string{"data", "rows", "result", "items"}

// rowsFromPayload accepts an array or an object wrapping one.
func rowsFromPayload(payload any) []models.RawRow {
	switch v := payload.(type) {
	case []any:
		rows := make([]models.RawRow, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, models.RawRow(m))
			}
		}
		return rows
	case map[string]any:
		for _, k := range listKeys {
			if inner, ok := v[k].([]any); ok {
				return rowsFromPayload(inner)
			}
		}
	}
	return []models.RawRow{}
}

var echoKeys = []string{"updated", "row", "run"}

// echoFromPayload extracts the row echoed by a write.
func echoFromPayload(payload any) models.RawRow {
	switch v := payload.(type) {
	case []any:
		rows := rowsFromPayload(v)
		if len(rows) > 0 {
			return rows[0]
		}
	case map[string]any:
		for _, k := range echoKeys {
			if inner, ok := v[k].(map[string]any); ok {
				return models.RawRow(inner)
			}
		}
		if rows := rowsFromPayload(v); len(rows) > 0 {
			return rows[0]
		}
		if len(v) > 0 {
			return models.RawRow(v)
		}
	}
	return nil
}

// =============================================================================
// RUNS
// =============================================================================

// ListRuns fetches the primary run listing.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RawRow, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var payload any
	if err := c.do(ctx, metrics.OpListRuns, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return rowsFromPayload(payload), nil
}

// ListRunsView fetches the secondary rack/process status view.
func (c *Client) ListRunsView(ctx context.Context) ([]models.RawRow, error) {
	var payload any
	if err := c.do(ctx, metrics.OpListRunsView, http.MethodGet, "/api/views/v_rack_process_status", nil, &payload); err != nil {
		return nil, fmt.Errorf("list runs view: %w", err)
	}
	return rowsFromPayload(payload), nil
}

// LookupRun asks the backend for one run by natural key.
// Returns nil, nil when the backend has no such run.
func (c *Client) LookupRun(ctx context.Context, q models.LookupQuery) (models.RawRow, error) {
	if err := c.validate.Struct(q); err != nil {
		return nil, fmt.Errorf("lookup run: invalid query: %w", err)
	}
	params := url.Values{}
	params.Set("su_key", q.SiteUnit)
	params.Set("rack_name", q.RackName)
	params.Set("process_name", q.ProcessName)

	var payload any
	err := c.do(ctx, metrics.OpLookupRun, http.MethodGet, "/api/runs/lookup?"+params.Encode(), nil, &payload)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup run: %w", err)
	}
	row := echoFromPayload(payload)
	if row.Number("rack_process_run_id", "run_id", "id") <= 0 {
		return nil, nil
	}
	return row, nil
}

// UpdateRunStatus sets the status of a known run and returns the echoed row.
func (c *Client) UpdateRunStatus(ctx context.Context, runID int64, upd models.StatusUpdate) (models.RawRow, error) {
	upd.RunID = runID
	if err := c.validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("update run status: invalid payload: %w", err)
	}

	var payload any
	if err := c.do(ctx, metrics.OpUpdateRun, http.MethodPost, "/api/runs/status", upd, &payload); err != nil {
		return nil, fmt.Errorf("update run status: %w", err)
	}
	return echoFromPayload(payload), nil
}

// UpsertRun creates or updates a run by natural key and returns the echoed row.
func (c *Client) UpsertRun(ctx context.Context, req models.UpsertRequest) (models.RawRow, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("upsert run: invalid payload: %w", err)
	}

	var payload any
	if err := c.do(ctx, metrics.OpUpsertRun, http.MethodPost, "/api/runs/status", req, &payload); err != nil {
		return nil, fmt.Errorf("upsert run: %w", err)
	}
	row := echoFromPayload(payload)
	if row == nil {
		return nil, errors.New("upsert run: backend did not return updated row")
	}
	return row, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// ListProcesses fetches the backend's process definitions.
func (c *Client) ListProcesses(ctx context.Context) ([]models.Process, error) {
	var payload any
	if err := c.do(ctx, metrics.OpListProcesses, http.MethodGet, "/api/processes", nil, &payload); err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	rows := rowsFromPayload(payload)
	out := make([]models.Process, 0, len(rows))
	for _, r := range rows {
		p := models.Process{
			ID:          r.Number("id", "process_id"),
			Description: r.Text("description", "process_name", "name"),
		}
		if p.ID > 0 && p.Description != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListProcessStatuses fetches the allowed statuses of one process.
func (c *Client) ListProcessStatuses(ctx context.Context, processID int64) ([]models.ProcessStatus, error) {
	path := fmt.Sprintf("/api/processes/%d/statuses", processID)

	var payload any
	if err := c.do(ctx, metrics.OpListStatuses, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("list statuses for process %d: %w", processID, err)
	}

	rows := rowsFromPayload(payload)
	out := make([]models.ProcessStatus, 0, len(rows))
	for _, r := range rows {
		s := models.ProcessStatus{
			ID:   r.Number("id", "status_id"),
			Name: r.Text("name", "status_name", "description"),
		}
		if s.ID > 0 && s.Name != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
