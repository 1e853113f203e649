package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/gauntlet/internal/achievement"
	"github.com/louisbranch/gauntlet/internal/adapter"
	"github.com/louisbranch/gauntlet/internal/hub"
	"github.com/louisbranch/gauntlet/internal/storage"
	"github.com/louisbranch/gauntlet/internal/storage/sqlite"
	"github.com/louisbranch/gauntlet/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server bundles the stream daemon's storage, hub and HTTP surface.
type Server struct {
	store      storage.Store
	sessionHub *hub.Hub
	engine     *adapter.Client
	httpServer *http.Server
}

// NewServer assembles a stream server from configuration.
func NewServer(cfg Config) (*Server, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var defs []achievement.Achievement
	if strings.TrimSpace(cfg.DefinitionsPath) != "" {
		defs, err = achievement.LoadDefinitions(cfg.DefinitionsPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load achievement definitions: %w", err)
		}
		log.Printf("stream: loaded %d achievement definitions", len(defs))
	}

	emitter := telemetry.NewEmitter(store)
	sessionHub := hub.New(store, defs, hub.Options{
		Retention: cfg.Retention,
		Telemetry: emitter,
	})

	var engine *adapter.Client
	if strings.TrimSpace(cfg.EngineURL) != "" {
		engine, err = adapter.NewClient(cfg.EngineURL, adapter.Options{})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("build engine adapter: %w", err)
		}
	}

	server := &Server{
		store:      store,
		sessionHub: sessionHub,
		engine:     engine,
	}
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return server, nil
}

// ListenAndServe runs the HTTP server until the context ends, draining
// in-flight streams on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	log.Printf("stream listening on %s", s.httpServer.Addr)
	group.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close releases storage resources.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("stream: close storage: %v", err)
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := s.sessionHub.Routes()
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/actions", s.handleAction)
	return mux
}

// createSessionRequest is the JSON body of POST /sessions.
type createSessionRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	ChallengeID string   `json:"challenge_id"`
	UserID      string   `json:"user_id,omitempty"`
	LevelID     string   `json:"level_id,omitempty"`
	Seed        int64    `json:"seed,omitempty"`
	StateToken  string   `json:"state_token"`
	LegalMoves  []string `json:"legal_moves,omitempty"`
	Turn        string   `json:"turn,omitempty"`
}

type createSessionResponse struct {
	ID          string `json:"id"`
	ChallengeID string `json:"challenge_id"`
	Status      string `json:"status"`
	StartedAt   int64  `json:"started_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.sessionHub.CreateSession(r.Context(), hub.SessionParams{
		SessionID:   req.SessionID,
		ChallengeID: req.ChallengeID,
		UserID:      req.UserID,
		LevelID:     req.LevelID,
		Seed:        req.Seed,
		StateToken:  req.StateToken,
		LegalMoves:  req.LegalMoves,
		Turn:        req.Turn,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createSessionResponse{
		ID:          record.ID,
		ChallengeID: record.ChallengeID,
		Status:      string(record.Status),
		StartedAt:   record.StartedAt.UnixMilli(),
	}); err != nil {
		log.Printf("stream: encode create session response: %v", err)
	}
}

// actionRequest is the JSON body of POST /sessions/{id}/actions. The
// response only acknowledges; resulting events arrive via the stream.
type actionRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "no game engine configured", http.StatusNotImplemented)
		return
	}
	sessionID := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "load session", http.StatusInternalServerError)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.engine.Do(r.Context(), adapter.ActionRequest{
		SessionID: sessionID,
		Action:    req.Action,
		Args:      req.Args,
	})
	if err != nil {
		if errors.Is(err, adapter.ErrUnavailable) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("stream: encode action response: %v", err)
	}
}
