// Package clickup is a small client for the ClickUp v2 REST API, covering
// tasks, comments, attachments and webhooks, plus the webhook payload types.
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clickgram/internal/otel"
)

// DefaultBaseURL is the public ClickUp API root.
const DefaultBaseURL = "https://api.clickup.com/api/v2"

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("clickup: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("clickup: %d: %s", e.Status, e.Message)
}

type Options struct {
	BaseURL    string
	Token      string
	Team       string
	HTTPClient *http.Client
	Tracer     trace.Tracer
	Metrics    *otel.Metrics
}

// Client calls the API with a personal token. Credentials may be set after
// construction, once secrets arrive.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	metrics *otel.Metrics

	mu    sync.RWMutex
	token string
	team  string
}

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.NoopTracer()
	}
	return &Client{
		baseURL: base,
		http:    hc,
		tracer:  tracer,
		metrics: opts.Metrics,
		token:   opts.Token,
		team:    opts.Team,
	}
}

// SetCredentials installs the API token and the team used by webhook routes.
// An empty team keeps the current one.
func (c *Client) SetCredentials(token, team string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if team != "" {
		c.team = team
	}
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.team
}

// do sends one API request. body is JSON-encoded unless it is an io.Reader,
// in which case contentType must be set. out, when non-nil, receives the
// decoded response. attrs are added to the request span.
func (c *Client) do(ctx context.Context, op, method, path string, body any, contentType string, out any, attrs ...attribute.KeyValue) (err error) {
	attrs = append([]attribute.KeyValue{otel.AttrRemoteOp.String(op)}, attrs...)
	ctx, span := otel.StartClientSpan(ctx, c.tracer, "clickup."+op, attrs...)
	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(ctx, "clickup", op, time.Since(start), err)
		otel.EndSpan(span, err)
	}()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("clickup %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("clickup %s: %w", op, err)
	}
	token, _ := c.credentials()
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clickup %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("clickup %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("clickup %s: decode response: %w", op, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var body struct {
		Err   string `json:"err"`
		ECode string `json:"ECODE"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(raw, &body) == nil && body.Err != "" {
		apiErr.Message = body.Err
		apiErr.Code = body.ECode
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}

// Download fetches an attachment URL. Attachment URLs are pre-signed, so no
// credentials are sent.
func (c *Client) Download(ctx context.Context, url string) (data []byte, err error) {
	ctx, span := otel.StartClientSpan(ctx, c.tracer, "clickup.download", otel.AttrRemoteOp.String("download"))
	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(ctx, "clickup", "download", time.Since(start), err)
		otel.EndSpan(span, err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("clickup download: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickup download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: "download " + http.StatusText(resp.StatusCode)}
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("clickup download: %w", err)
	}
	return data, nil
}
