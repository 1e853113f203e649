package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestAdapter(t *testing.T, server *httptest.Server, opts Options) *Client {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = 5 * time.Millisecond
	}
	client, err := NewClient(server.URL, opts)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("   ", Options{}); err == nil {
		t.Fatal("NewClient(blank) expected error")
	}
}

func TestDoValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{})

	if _, err := client.Do(context.Background(), ActionRequest{Action: "move"}); err == nil {
		t.Fatal("Do() without session id expected error")
	}
	if _, err := client.Do(context.Background(), ActionRequest{SessionID: "sess-1"}); err == nil {
		t.Fatal("Do() without action expected error")
	}
}

func TestDoSubmitsAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions" {
			t.Errorf("path = %q, want /actions", r.URL.Path)
		}
		var req ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SessionID != "sess-1" || req.Action != "move" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ActionResponse{Success: true, Data: json.RawMessage(`{"ack":true}`)})
	}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{})

	resp, err := client.Do(context.Background(), ActionRequest{
		SessionID: "sess-1",
		Action:    "move",
		Args:      map[string]any{"move": "e4"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("Do() response = %+v, want success", resp)
	}
}

func TestDoDomainRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(ActionResponse{Success: false, Error: "illegal move"})
	}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{})

	resp, err := client.Do(context.Background(), ActionRequest{SessionID: "sess-1", Action: "move"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Success || resp.Error != "illegal move" {
		t.Fatalf("Do() response = %+v", resp)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ActionResponse{Success: true})
	}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{MaxAttempts: 3})

	resp, err := client.Do(context.Background(), ActionRequest{SessionID: "sess-1", Action: "move"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("Do() response = %+v, want success", resp)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{MaxAttempts: 3})

	_, err := client.Do(context.Background(), ActionRequest{SessionID: "sess-1", Action: "move"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do() error = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDoPerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so a client disconnect cancels the request
		// context and the handler can exit during cleanup.
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	client := newTestAdapter(t, server, Options{Timeout: 20 * time.Millisecond, MaxAttempts: 2})

	start := time.Now()
	_, err := client.Do(context.Background(), ActionRequest{SessionID: "sess-1", Action: "move"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do() error = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Do() took %v, per-attempt timeout not applied", elapsed)
	}
}
