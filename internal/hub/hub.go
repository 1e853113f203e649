// Package hub owns the server side of session event channels: one
// ordered log per session, subscriber fan-out, and the achievement
// pipeline that runs when a game completes.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/gauntlet/internal/achievement"
	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/replay"
	"github.com/louisbranch/gauntlet/internal/session"
	"github.com/louisbranch/gauntlet/internal/storage"
	"github.com/louisbranch/gauntlet/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRetention bounds how many recent events a channel keeps for
	// resume replays before falling back to a full resync.
	DefaultRetention = 512

	defaultHeartbeat = 15 * time.Second
	listPageSize     = 256
	subscriberBuffer = 64
)

// Options tunes a hub.
type Options struct {
	// Retention is the per-session count of recent events kept for resume
	// replays. Defaults to DefaultRetention.
	Retention int
	// Heartbeat is the SSE keep-alive comment interval.
	Heartbeat time.Duration
	// Telemetry records drops and pipeline failures. Optional.
	Telemetry *telemetry.Emitter
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Hub is the single writer for session event logs. Events enter through
// Append, get a storage-assigned sequence number, and fan out to every
// subscriber of the session's channel.
type Hub struct {
	store     storage.Store
	defs      []achievement.Achievement
	emitter   *telemetry.Emitter
	tracer    trace.Tracer
	retention int
	heartbeat time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	meta     map[string]sessionMeta
}

// sessionMeta carries challenge context the event log does not repeat on
// every event. It seeds the frozen replay at completion time.
type sessionMeta struct {
	LevelID string
	Seed    int64
}

// New builds a hub over the given store and achievement definitions.
func New(store storage.Store, defs []achievement.Achievement, opts Options) *Hub {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Hub{
		store:     store,
		defs:      defs,
		emitter:   opts.Telemetry,
		tracer:    otel.Tracer("github.com/louisbranch/gauntlet/internal/hub"),
		retention: opts.Retention,
		heartbeat: opts.Heartbeat,
		clock:     opts.Clock,
		channels:  make(map[string]*channel),
		meta:      make(map[string]sessionMeta),
	}
}

// SessionParams describes a new challenge attempt.
type SessionParams struct {
	// SessionID is optional; a fresh id is generated when empty.
	SessionID   string
	ChallengeID string
	UserID      string
	LevelID     string
	Seed        int64
	// StateToken is the engine's opaque encoding of the starting position.
	StateToken string
	LegalMoves []string
	Turn       string
}

// CreateSession persists a new session record and appends its
// session_created event.
func (h *Hub) CreateSession(ctx context.Context, params SessionParams) (session.Session, error) {
	if strings.TrimSpace(params.ChallengeID) == "" {
		return session.Session{}, fmt.Errorf("challenge id is required")
	}
	if strings.TrimSpace(params.StateToken) == "" {
		return session.Session{}, fmt.Errorf("state token is required")
	}
	id := strings.TrimSpace(params.SessionID)
	if id == "" {
		id = event.NewID()
	}
	turn := params.Turn
	if turn == "" {
		turn = event.TurnPlayer
	}

	record := session.Session{
		ID:          id,
		ChallengeID: params.ChallengeID,
		UserID:      params.UserID,
		StartedAt:   h.clock().UTC(),
		Status:      session.StatusActive,
	}
	if err := h.store.PutSession(ctx, record); err != nil {
		return session.Session{}, fmt.Errorf("persist session: %w", err)
	}

	h.mu.Lock()
	h.meta[id] = sessionMeta{LevelID: params.LevelID, Seed: params.Seed}
	h.mu.Unlock()

	_, err := h.Append(ctx, id, event.TypeSessionCreated, event.SessionCreatedPayload{
		ChallengeID: params.ChallengeID,
		StateToken:  params.StateToken,
		LegalMoves:  params.LegalMoves,
		Turn:        turn,
	})
	if err != nil {
		return session.Session{}, err
	}
	return record, nil
}

// ExpireSession marks an abandoned session and appends session_expired.
func (h *Hub) ExpireSession(ctx context.Context, sessionID, reason string) error {
	record, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if record.Status != session.StatusActive {
		return nil
	}
	record.Status = session.StatusExpired
	if err := h.store.PutSession(ctx, record); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	_, err = h.Append(ctx, sessionID, event.TypeSessionExpired, event.SessionExpiredPayload{Reason: reason})
	return err
}

// Append is the only way events enter a session's log. It assigns the
// next sequence number through storage, keeps the retention window, and
// broadcasts to subscribers. A game_completed event additionally runs
// the completion pipeline.
func (h *Hub) Append(ctx context.Context, sessionID string, typ event.Type, payload any) (event.Event, error) {
	if strings.TrimSpace(sessionID) == "" {
		return event.Event{}, fmt.Errorf("session id is required")
	}
	if !typ.IsValid() {
		return event.Event{}, fmt.Errorf("unknown event type: %s", typ)
	}

	var payloadJSON []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		payloadJSON = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return event.Event{}, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = data
	}

	stored, err := h.store.AppendEvent(ctx, event.Event{
		ID:          event.NewID(),
		SessionID:   sessionID,
		Timestamp:   h.clock().UTC(),
		Type:        typ,
		PayloadJSON: payloadJSON,
	})
	if err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	dropped := h.channel(sessionID).publish(stored, h.retention)
	if dropped > 0 {
		h.emitTelemetry(ctx, sessionID, telemetry.KindDropped,
			fmt.Sprintf("slow subscribers dropped event seq=%d count=%d", stored.Seq, dropped))
	}

	if typ == event.TypeGameCompleted {
		if err := h.finalize(ctx, sessionID); err != nil {
			log.Printf("hub: completion pipeline for session %s: %v", sessionID, err)
			h.emitTelemetry(ctx, sessionID, telemetry.KindRuleFailure, err.Error())
		}
	}
	return stored, nil
}

// Restore projects the full log and appends a session_restored snapshot
// event, the resync path for resume cursors that fell out of retention.
func (h *Hub) Restore(ctx context.Context, sessionID string) (event.Event, error) {
	eventLog, err := h.fullLog(ctx, sessionID)
	if err != nil {
		return event.Event{}, err
	}
	state := session.Project(eventLog)
	if state.StateToken == "" {
		return event.Event{}, fmt.Errorf("session %s has no restorable state", sessionID)
	}
	return h.Append(ctx, sessionID, event.TypeSessionRestored, event.SessionRestoredPayload{
		ChallengeID: state.ChallengeID,
		StateToken:  state.StateToken,
		LegalMoves:  state.LegalMoves,
		Turn:        string(state.Turn),
		MoveCount:   state.MoveCount,
	})
}

// finalize freezes the completed session into a replay, evaluates the
// achievement set, persists grants, and appends the award events. It is
// idempotent: a session whose replay already exists is left alone.
func (h *Hub) finalize(ctx context.Context, sessionID string) error {
	ctx, span := h.tracer.Start(ctx, "hub.finalize",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	record, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if record.Status != session.StatusCompleted {
		record.Status = session.StatusCompleted
		if err := h.store.PutSession(ctx, record); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	eventLog, err := h.fullLog(ctx, sessionID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	meta := h.meta[sessionID]
	h.mu.Unlock()

	// One replay per session; the session id doubles as the replay id so
	// re-running the pipeline collides on the immutable record.
	frozen, err := replay.Build(sessionID, record.ChallengeID, meta.LevelID, meta.Seed, eventLog, h.clock())
	if err != nil {
		return fmt.Errorf("freeze replay: %w", err)
	}
	if err := h.store.PutReplay(ctx, frozen); err != nil {
		if errors.Is(err, storage.ErrImmutable) {
			return nil
		}
		return fmt.Errorf("persist replay: %w", err)
	}

	stats := replay.Stats(frozen)
	earned := achievement.EvaluateAll(h.defs, stats, func(id string, evalErr error) {
		log.Printf("hub: achievement rule %s failed: %v", id, evalErr)
		h.emitTelemetry(ctx, sessionID, telemetry.KindRuleFailure,
			fmt.Sprintf("rule %s: %v", id, evalErr))
	})

	var earnedIDs []string
	for _, def := range earned {
		created, err := h.store.PutGrant(ctx, storage.Grant{
			AchievementID: def.ID,
			UserID:        record.UserID,
			ReplayID:      frozen.ID,
			AwardedAt:     h.clock().UTC(),
		})
		if err != nil {
			log.Printf("hub: persist grant %s: %v", def.ID, err)
			continue
		}
		earnedIDs = append(earnedIDs, def.ID)
		if !created {
			continue
		}
		if _, err := h.Append(ctx, sessionID, event.TypeAchievementEarned, event.AchievementEarnedPayload{
			AchievementID: def.ID,
			Name:          def.Name,
			Points:        def.Points,
		}); err != nil {
			log.Printf("hub: append achievement_earned %s: %v", def.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("achievements.earned", len(earnedIDs)))

	if earnedIDs == nil {
		earnedIDs = []string{}
	}
	_, err = h.Append(ctx, sessionID, event.TypeAchievementEvaluationComplete,
		event.AchievementEvaluationCompletePayload{ReplayID: frozen.ID, Earned: earnedIDs})
	if err != nil {
		return fmt.Errorf("append evaluation complete: %w", err)
	}
	return nil
}

// fullLog pages the whole event log for a session out of storage.
func (h *Hub) fullLog(ctx context.Context, sessionID string) ([]event.Event, error) {
	var eventLog []event.Event
	var after uint64
	for {
		batch, err := h.store.ListEvents(ctx, sessionID, after, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		eventLog = append(eventLog, batch...)
		if len(batch) < listPageSize {
			return eventLog, nil
		}
		after = batch[len(batch)-1].Seq
	}
}

func (h *Hub) channel(sessionID string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[sessionID]
	if !ok {
		ch = newChannel()
		h.channels[sessionID] = ch
	}
	return ch
}

func (h *Hub) emitTelemetry(ctx context.Context, sessionID, kind, detail string) {
	if h.emitter == nil {
		return
	}
	if err := h.emitter.Emit(ctx, storage.TelemetryEvent{
		Component: telemetry.ComponentHub,
		Kind:      kind,
		Detail:    detail,
		SessionID: sessionID,
	}); err != nil {
		log.Printf("hub: emit telemetry: %v", err)
	}
}

// channel is one session's fan-out point plus its retention window.
type channel struct {
	mu      sync.Mutex
	recent  []event.Event
	subs    map[int]chan event.Event
	nextSub int
}

func newChannel() *channel {
	return &channel{subs: make(map[int]chan event.Event)}
}

// publish appends to the retention window and delivers to every
// subscriber without blocking. It returns the number of subscribers that
// were too slow to receive the event.
func (c *channel) publish(evt event.Event, retention int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, evt)
	if len(c.recent) > retention {
		c.recent = c.recent[len(c.recent)-retention:]
	}
	dropped := 0
	for _, sub := range c.subs {
		select {
		case sub <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

// subscribe registers a delivery channel and returns it together with a
// consistent copy of the retention window taken under the same lock, so
// catch-up replay and live delivery cannot miss an event between them.
func (c *channel) subscribe() (<-chan event.Event, []event.Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	sub := make(chan event.Event, subscriberBuffer)
	c.subs[id] = sub
	snapshot := make([]event.Event, len(c.recent))
	copy(snapshot, c.recent)
	return sub, snapshot, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}
