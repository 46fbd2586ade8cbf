// Package httpjson is the shared JSON-over-HTTP caller for read-style
// collaborators. Calls retry with exponential backoff on retryable failures
// and stop early while the collaborator's circuit is open.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"vericrop/internal/signals/ports"
	"vericrop/pkg/platform/circuit"
	"vericrop/pkg/platform/retry"
)

const maxResponseBytes = 1 << 20

// Client calls one collaborator.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuit.Breaker
	policy  retry.Policy
	logger  *slog.Logger
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a client for the collaborator at baseURL. timeout bounds a
// single attempt; the caller's context bounds the whole retry loop.
func New(name, baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.New(name),
		policy:  retry.DefaultPolicy(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// PostJSON sends in as JSON to path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return ports.NewCollaboratorError(ports.ErrorInternal, c.name, "encode request", err)
	}
	if !c.breaker.Allow() {
		return ports.NewCollaboratorError(ports.ErrorCircuitOpen, c.name, "circuit open", nil)
	}

	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		err := c.attempt(ctx, path, body, out)
		if err != nil && !ports.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	c.record(ctx, err)
	return err
}

func (c *Client) attempt(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return ports.NewCollaboratorError(ports.ErrorInternal, c.name, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return ports.NewCollaboratorError(ports.ErrorTimeout, c.name, "request timed out", err)
		}
		return ports.NewCollaboratorError(ports.ErrorOutage, c.name, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.NewCollaboratorError(ports.ErrorOutage, c.name, "read response", err)
	}
	return Decode(c.name, resp.StatusCode, respBody, out)
}

// Decode maps a collaborator response onto out or a categorized error.
func Decode(name string, status int, body []byte, out any) error {
	switch {
	case status == http.StatusNotFound:
		return ports.NewCollaboratorError(ports.ErrorNotFound, name, "resource not found", nil)
	case status == http.StatusTooManyRequests:
		return ports.NewCollaboratorError(ports.ErrorRateLimit, name, "rate limited", nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ports.NewCollaboratorError(ports.ErrorTimeout, name, fmt.Sprintf("status %d", status), nil)
	case status >= 500:
		return ports.NewCollaboratorError(ports.ErrorOutage, name, fmt.Sprintf("status %d", status), nil)
	case status >= 400:
		return ports.NewCollaboratorError(ports.ErrorBadData, name, fmt.Sprintf("status %d", status), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return ports.NewCollaboratorError(ports.ErrorBadData, name, "malformed response", err)
	}
	return nil
}

// record feeds the outcome to the breaker. Bad data and not-found answers
// prove the collaborator is up, so they count as successes.
func (c *Client) record(ctx context.Context, err error) {
	var change circuit.Change
	switch ports.CategoryOf(err) {
	case ports.ErrorOutage, ports.ErrorTimeout, ports.ErrorRateLimit:
		if err != nil {
			_, change = c.breaker.RecordFailure()
		}
	default:
		_, change = c.breaker.RecordSuccess()
	}
	if change.Opened {
		c.logger.WarnContext(ctx, "collaborator circuit opened", "collaborator", c.name, "error", err)
	}
	if change.Closed {
		c.logger.InfoContext(ctx, "collaborator circuit closed", "collaborator", c.name)
	}
}
