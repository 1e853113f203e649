// Package adapter is the HTTP boundary to the game engine. The engine
// owns rules and legality; this client only submits actions and
// acknowledges receipt. Resulting events always arrive via the stream,
// never in the action response.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrUnavailable reports that the engine could not be reached within the
// retry budget. Callers treat it as a terminal transport error.
var ErrUnavailable = errors.New("game engine unavailable")

const (
	defaultTimeout     = 2 * time.Second
	defaultMaxAttempts = 3
	defaultRetryWait   = 200 * time.Millisecond
)

// ActionRequest submits one player action for a session.
type ActionRequest struct {
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
}

// ActionResponse acknowledges an action. Success only means the engine
// accepted the submission; Data carries engine-specific context and
// Error names a domain-level rejection.
type ActionResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Options tunes an adapter client.
type Options struct {
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
	// Timeout bounds each attempt. Defaults to 2s.
	Timeout time.Duration
	// MaxAttempts bounds retries on transport failure. Defaults to 3.
	MaxAttempts int
	// RetryWait is the initial wait between attempts. Defaults to 200ms.
	RetryWait time.Duration
}

// Client submits actions to the engine's action endpoint.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	retryWait   time.Duration
}

// NewClient builds an adapter client for the engine at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		retryWait:   opts.RetryWait,
	}, nil
}

// Do submits one action, retrying transport failures up to the attempt
// budget. A domain-level rejection (Success=false) is not an error and
// is never retried.
func (c *Client) Do(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return ActionResponse{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(req.Action) == "" {
		return ActionResponse{}, fmt.Errorf("action is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("marshal action request: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "actions")
	if err != nil {
		return ActionResponse{}, fmt.Errorf("build action url: %w", err)
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.retryWait
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.Reset()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(schedule.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				return ActionResponse{}, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.attempt(ctx, endpoint, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ActionResponse{}, ctx.Err()
		}
		lastErr = err
	}
	return ActionResponse{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte) (ActionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ActionResponse{}, fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("submit action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ActionResponse{}, fmt.Errorf("engine status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// Client errors are not transient; report without retrying by
		// shaping them as a domain rejection.
		return ActionResponse{Success: false, Error: fmt.Sprintf("engine rejected action: status %d", resp.StatusCode)}, nil
	}

	var decoded ActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ActionResponse{}, fmt.Errorf("decode action response: %w", err)
	}
	return decoded, nil
}
