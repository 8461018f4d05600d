// Package backend is the HTTP client of the Backend Liveness Service, which
// creates remote liveness sessions and returns their verdicts.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// Operation names used in errors, logs and metrics.
const (
	OpCreateSession = "create_session"
	OpGetResult     = "get_result"
)

const (
	sessionPath = "/api/aws-liveness/session"
	resultPath  = "/api/aws-liveness/result/"

	// DefaultTimeout bounds a single backend request.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 512
)

// Client calls the Backend Liveness Service.
type Client struct {
	baseURL       string
	defaultRegion string
	httpClient    *http.Client
	logger        observability.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithDefaultRegion sets the region used when the backend returns none.
func WithDefaultRegion(region string) Option {
	return func(c *Client) {
		if region = strings.TrimSpace(region); region != "" {
			c.defaultRegion = region
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		defaultRegion: liveness.DefaultRegion,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		logger:        observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateSession asks the backend for a new liveness session.
// An empty region in the response is replaced with the client's default
// region (liveness.DefaultRegion unless WithDefaultRegion says otherwise).
func (c *Client) CreateSession(ctx context.Context, token string) (liveness.SessionInfo, error) {
	var info liveness.SessionInfo
	if err := c.do(ctx, OpCreateSession, http.MethodPost, c.baseURL+sessionPath, token, &info); err != nil {
		return liveness.SessionInfo{}, err
	}
	if info.SessionID == "" {
		return liveness.SessionInfo{}, fmt.Errorf("%s: response without sessionId", OpCreateSession)
	}
	if strings.TrimSpace(info.Region) == "" {
		info.Region = c.defaultRegion
	}
	return info, nil
}

// GetResult fetches the verdict of a session. subjectID is optional.
// The returned verdict's approval flag is derived locally.
func (c *Client) GetResult(ctx context.Context, token, sessionID, subjectID string) (liveness.Verdict, error) {
	if sessionID == "" {
		return liveness.Verdict{}, fmt.Errorf("%s: empty session id", OpGetResult)
	}

	target := c.baseURL + resultPath + url.PathEscape(sessionID)
	if subjectID != "" {
		target += "?" + url.Values{"id": {subjectID}}.Encode()
	}

	var verdict liveness.Verdict
	if err := c.do(ctx, OpGetResult, http.MethodGet, target, token, &verdict); err != nil {
		return liveness.Verdict{}, err
	}
	if verdict.SessionID == "" {
		verdict.SessionID = sessionID
	}
	return verdict.Normalize(), nil
}

func (c *Client) do(ctx context.Context, op, method, target, token string, out any) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("backend.operation", op),
	)

	start := time.Now()
	status := observability.BackendStatusRequestError
	defer func() {
		observability.RecordBackendCall(op, status, int(time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status = observability.BackendStatusTransportError
		c.logger.Warn("backend_transport_failed", "operation", op, "error", err.Error())
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = observability.BackendStatusHTTPError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("backend_status_failed", "operation", op, "status", resp.StatusCode)
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		status = observability.BackendStatusDecodeError
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	status = observability.BackendStatusSuccess
	return nil
}
