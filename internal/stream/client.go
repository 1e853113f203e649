// Package stream implements the client side of the session event
// channel. It consumes server-sent events, enforces ordering, and feeds
// every accepted event to the live session projector exactly once.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/session"
	"github.com/louisbranch/gauntlet/internal/storage"
	"github.com/louisbranch/gauntlet/internal/telemetry"
)

// State describes the transport connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Control message names that are not session events.
const (
	controlConnected   = "connected"
	controlReconnected = "reconnected"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 15 * time.Second
	defaultMaxAttempts    = 8
)

// Options configures a stream client.
type Options struct {
	// BaseURL is the hub's root URL, e.g. http://localhost:8422.
	BaseURL string
	// SessionID selects the session event channel to consume.
	SessionID string
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
	// OnEvent is invoked once per accepted event, after the event has
	// been appended to the log and applied to the projector. Optional.
	OnEvent func(evt event.Event, state session.State)
	// OnStatus is invoked on every connection state transition. The
	// reason is non-empty for the terminal error state. Optional.
	OnStatus func(state State, reason string)
	// OnReconnected is invoked after a resume replay completes, with the
	// number of events missed while disconnected. Optional.
	OnReconnected func(missed int)
	// OnRecoverableError is invoked for error events the session can
	// survive. Unrecoverable error events terminate the client instead.
	OnRecoverableError func(message string)
	// Telemetry records drops and state transitions. Optional.
	Telemetry *telemetry.Emitter
	// MaxAttempts bounds consecutive failed connection attempts before
	// the client enters the terminal error state. Defaults to 8.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the reconnect schedule.
	// Defaults: 500ms doubling up to 15s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client consumes one session's event channel. All exported methods are
// safe for concurrent use.
type Client struct {
	opts       Options
	httpClient *http.Client

	mu          sync.Mutex
	state       State
	lastSeq     uint64
	lastEventID string
	eventLog    []event.Event
	projected   session.State
	cancel      context.CancelFunc
	done        chan struct{}
	started     bool
	connected   bool
}

// NewClient builds a client for one session channel.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		state:      StateDisconnected,
		projected:  session.Initial(),
	}, nil
}

// Connect starts the consume loop. It returns immediately; delivery and
// reconnection run in the background until Close or a terminal error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("client already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(runCtx)
	return nil
}

// Close synchronously stops delivery, cancels any pending reconnect
// timer, and waits for the consume loop to exit. Late in-flight reads
// are dropped.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionState returns the live projection built from accepted events.
func (c *Client) SessionState() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projected
}

// Log returns a copy of the accepted event log.
func (c *Client) Log() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.eventLog))
	copy(out, c.eventLog)
	return out
}

// LastSeq returns the highest accepted sequence number.
func (c *Client) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.opts.InitialBackoff
	schedule.MaxInterval = c.opts.MaxBackoff
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.Reset()

	attempts := 0
	c.setState(StateConnecting, "")
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, "")
			return
		}
		if terminal, reason := isTerminal(err); terminal {
			c.setState(StateError, reason)
			return
		}

		// The transport is down the moment consume returns, so the state
		// flips before the backoff wait, not after it.
		c.setState(StateReconnecting, "")

		attempts++
		if attempts >= c.opts.MaxAttempts {
			c.setState(StateError, fmt.Sprintf("gave up after %d attempts: %v", attempts, err))
			return
		}

		wait := schedule.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected, "")
			return
		case <-timer.C:
		}
		// A session that handshook successfully restores the full attempt
		// budget; only consecutive failures walk toward the cap.
		if c.resetPending() {
			attempts = 0
			schedule.Reset()
		}
	}
}

// consume opens one SSE connection and processes frames until the
// stream ends or fails.
func (c *Client) consume(ctx context.Context) error {
	req, err := c.newRequest(ctx)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return terminalError{reason: "session not found"}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	return c.readFrames(ctx, resp.Body)
}

func (c *Client) newRequest(ctx context.Context) (*http.Request, error) {
	endpoint, err := url.JoinPath(c.opts.BaseURL, "sessions", c.opts.SessionID, "events")
	if err != nil {
		return nil, fmt.Errorf("build stream url: %w", err)
	}
	c.mu.Lock()
	lastID := c.lastEventID
	c.mu.Unlock()
	if lastID != "" {
		endpoint += "?lastEventId=" + url.QueryEscape(lastID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	return req, nil
}

// frame is one parsed SSE message.
type frame struct {
	name string
	id   string
	data string
}

func (c *Client) readFrames(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current frame
	var dataLines []string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			if current.name != "" || len(dataLines) > 0 {
				current.data = strings.Join(dataLines, "\n")
				if err := c.dispatch(ctx, current); err != nil {
					return err
				}
			}
			current = frame{}
			dataLines = nil
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment, keep-alive only.
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			current.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return fmt.Errorf("event stream closed")
}

func (c *Client) dispatch(ctx context.Context, f frame) error {
	switch f.name {
	case controlConnected:
		c.markConnected(ctx, 0, false)
		return nil
	case controlReconnected:
		missed := parseMissedCount(f.data)
		c.markConnected(ctx, missed, true)
		return nil
	case "":
		return nil
	}

	evt, err := event.Decode([]byte(f.data))
	if err != nil {
		log.Printf("stream: dropping malformed event: %v", err)
		c.emitTelemetry(ctx, telemetry.KindMalformed, err.Error())
		return nil
	}
	if string(evt.Type) != f.name {
		log.Printf("stream: event name %q does not match envelope type %q, dropping", f.name, evt.Type)
		c.emitTelemetry(ctx, telemetry.KindDropped, fmt.Sprintf("name mismatch: %s vs %s", f.name, evt.Type))
		return nil
	}

	c.mu.Lock()
	if evt.Seq <= c.lastSeq {
		last := c.lastSeq
		c.mu.Unlock()
		log.Printf("stream: dropping out-of-order event seq=%d last=%d", evt.Seq, last)
		c.emitTelemetry(ctx, telemetry.KindDropped, fmt.Sprintf("out of order: seq=%d last=%d", evt.Seq, last))
		return nil
	}
	c.lastSeq = evt.Seq
	if f.id != "" {
		c.lastEventID = f.id
	} else {
		c.lastEventID = evt.ID
	}
	c.eventLog = append(c.eventLog, evt)
	c.projected = session.Reduce(c.projected, evt)
	state := c.projected
	onEvent := c.opts.OnEvent
	c.mu.Unlock()

	if onEvent != nil {
		onEvent(evt, state)
	}

	if evt.Type == event.TypeError {
		payload, err := event.DecodePayload(evt)
		if err != nil {
			return nil
		}
		if errPayload, ok := payload.(*event.ErrorPayload); ok {
			if !errPayload.Recoverable {
				return terminalError{reason: errPayload.Message}
			}
			if c.opts.OnRecoverableError != nil {
				c.opts.OnRecoverableError(errPayload.Message)
			}
		}
	}
	return nil
}

// markConnected records a successful handshake so the run loop resets
// its attempt budget.
func (c *Client) markConnected(ctx context.Context, missed int, resumed bool) {
	c.setState(StateConnected, "")
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if resumed {
		c.emitTelemetry(ctx, telemetry.KindReconnected, fmt.Sprintf("missed=%d", missed))
		if c.opts.OnReconnected != nil {
			c.opts.OnReconnected(missed)
		}
	}
}

// resetPending reports whether the previous connection handshook
// successfully, consuming the flag.
func (c *Client) resetPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.connected
	c.connected = false
	return ok
}

func (c *Client) setState(next State, reason string) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	onStatus := c.opts.OnStatus
	c.mu.Unlock()
	if prev == next {
		return
	}
	detail := fmt.Sprintf("%s -> %s", prev, next)
	if reason != "" {
		detail += ": " + reason
	}
	c.emitTelemetry(context.Background(), telemetry.KindStateChange, detail)
	if onStatus != nil {
		onStatus(next, reason)
	}
}

func (c *Client) emitTelemetry(ctx context.Context, kind, detail string) {
	if c.opts.Telemetry == nil {
		return
	}
	if err := c.opts.Telemetry.Emit(ctx, storage.TelemetryEvent{
		Component: telemetry.ComponentStream,
		Kind:      kind,
		Detail:    detail,
		SessionID: c.opts.SessionID,
	}); err != nil {
		log.Printf("stream: emit telemetry: %v", err)
	}
}

// terminalError stops the reconnect loop with a human-readable reason.
type terminalError struct {
	reason string
}

func (e terminalError) Error() string {
	return e.reason
}

func isTerminal(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if terminal, ok := err.(terminalError); ok {
		return true, terminal.reason
	}
	return false, ""
}

func parseMissedCount(data string) int {
	var payload struct {
		MissedCount int `json:"missedCount"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return 0
	}
	return payload.MissedCount
}
