// Package storage defines the persistence interfaces for session event
// logs, finalized replays and achievement grants.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/replay"
	"github.com/louisbranch/gauntlet/internal/session"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrImmutable indicates a write would mutate an append-only record.
var ErrImmutable = errors.New("record is immutable")

// EventStore persists a session's ordered, append-only event log. The
// store assigns sequence numbers on append; delivered events are never
// mutated or deleted.
type EventStore interface {
	// AppendEvent persists evt, assigning the next sequence number for
	// its session, and returns the stored event.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// ListEvents returns up to limit events with Seq > afterSeq in
	// ascending order.
	ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error)
	// LatestSeq returns the highest assigned sequence number, 0 when the
	// log is empty.
	LatestSeq(ctx context.Context, sessionID string) (uint64, error)
}

// SessionStore persists session lifecycle records.
type SessionStore interface {
	PutSession(ctx context.Context, record session.Session) error
	GetSession(ctx context.Context, id string) (session.Session, error)
}

// ReplayStore persists frozen replays of completed sessions. Replays are
// immutable once written; a second write under the same id fails with
// ErrImmutable.
type ReplayStore interface {
	PutReplay(ctx context.Context, record replay.Replay) error
	GetReplay(ctx context.Context, id string) (replay.Replay, error)
}

// Grant records one earned achievement. The triple key is the dedupe
// boundary that keeps re-evaluation of a replay idempotent.
type Grant struct {
	AchievementID string
	UserID        string
	ReplayID      string
	AwardedAt     time.Time
}

// GrantStore persists earned achievements.
type GrantStore interface {
	// PutGrant records a grant. It reports whether the grant was newly
	// created; replaying an award is a no-op.
	PutGrant(ctx context.Context, grant Grant) (created bool, err error)
	// ListGrants returns grants filtered by user and/or replay; empty
	// arguments match everything.
	ListGrants(ctx context.Context, userID, replayID string) ([]Grant, error)
}

// TelemetryEvent records one operational observation.
type TelemetryEvent struct {
	Timestamp time.Time
	Component string
	Kind      string
	Detail    string
	SessionID string
}

// TelemetryStore persists operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}

// Store aggregates every persistence concern of the stream service.
type Store interface {
	EventStore
	SessionStore
	ReplayStore
	GrantStore
	TelemetryStore
	Close() error
}
