// Package sqlite provides the SQLite-backed stream storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/gauntlet/internal/event"
	"github.com/louisbranch/gauntlet/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/gauntlet/internal/replay"
	"github.com/louisbranch/gauntlet/internal/session"
	"github.com/louisbranch/gauntlet/internal/storage"
	"github.com/louisbranch/gauntlet/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists sessions, event logs, replays and grants in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite stream store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEvent persists evt with the next sequence number for its session.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.ID) == "" {
		return event.Event{}, fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(evt.SessionID) == "" {
		return event.Event{}, fmt.Errorf("session id is required")
	}
	if !evt.Type.IsValid() {
		return event.Event{}, fmt.Errorf("unknown event type: %s", evt.Type)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin append transaction: %w", err)
	}

	var lastSeq uint64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = ?`,
		evt.SessionID,
	)
	if err := row.Scan(&lastSeq); err != nil {
		_ = tx.Rollback()
		return event.Event{}, fmt.Errorf("read last seq: %w", err)
	}
	evt.Seq = lastSeq + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_events (session_id, seq, id, timestamp, type, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		evt.SessionID,
		evt.Seq,
		evt.ID,
		toMillis(evt.Timestamp),
		string(evt.Type),
		string(evt.PayloadJSON),
	); err != nil {
		_ = tx.Rollback()
		return event.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append transaction: %w", err)
	}
	return evt, nil
}

// ListEvents returns up to limit events with seq greater than afterSeq.
func (s *Store) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id, seq, id, timestamp, type, payload
		   FROM session_events
		  WHERE session_id = ? AND seq > ?
		  ORDER BY seq ASC
		  LIMIT ?`,
		sessionID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			evt     event.Event
			millis  int64
			evtType string
			payload string
		)
		if err := rows.Scan(&evt.SessionID, &evt.Seq, &evt.ID, &millis, &evtType, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Timestamp = fromMillis(millis)
		evt.Type = event.Type(evtType)
		if payload != "" {
			evt.PayloadJSON = []byte(payload)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestSeq returns the highest assigned sequence number for a session.
func (s *Store) LatestSeq(ctx context.Context, sessionID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("session id is required")
	}
	var lastSeq uint64
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = ?`,
		sessionID,
	)
	if err := row.Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("read latest seq: %w", err)
	}
	return lastSeq, nil
}

// PutSession inserts or updates a session lifecycle record.
func (s *Store) PutSession(ctx context.Context, record session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, challenge_id, user_id, status, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   challenge_id = excluded.challenge_id,
		   user_id = excluded.user_id,
		   status = excluded.status`,
		record.ID,
		record.ChallengeID,
		record.UserID,
		string(record.Status),
		toMillis(startedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession fetches one session record.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}

	var (
		record    session.Session
		status    string
		startedAt int64
	)
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, challenge_id, user_id, status, started_at FROM sessions WHERE id = ?`,
		id,
	)
	if err := row.Scan(&record.ID, &record.ChallengeID, &record.UserID, &status, &startedAt); err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("scan session: %w", err)
	}
	record.Status = session.Status(status)
	record.StartedAt = fromMillis(startedAt)
	return record, nil
}

// PutReplay persists a frozen replay. Replays are immutable: a second
// write under the same id fails with storage.ErrImmutable.
func (s *Store) PutReplay(ctx context.Context, record replay.Replay) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	movesJSON, err := json.Marshal(record.MovesLog)
	if err != nil {
		return fmt.Errorf("marshal moves log: %w", err)
	}
	eventsJSON, err := marshalEventLog(record.EventLog)
	if err != nil {
		return fmt.Errorf("marshal event log: %w", err)
	}
	summaryJSON, err := json.Marshal(record.ResultSummary)
	if err != nil {
		return fmt.Errorf("marshal result summary: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO replays
		   (id, challenge_id, level_id, seed, moves_log, event_log, result_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ChallengeID,
		record.LevelID,
		record.Seed,
		string(movesJSON),
		string(eventsJSON),
		string(summaryJSON),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("insert replay: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replay rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrImmutable
	}
	return nil
}

// GetReplay fetches one frozen replay.
func (s *Store) GetReplay(ctx context.Context, id string) (replay.Replay, error) {
	if err := ctx.Err(); err != nil {
		return replay.Replay{}, err
	}
	if s == nil || s.sqlDB == nil {
		return replay.Replay{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return replay.Replay{}, fmt.Errorf("replay id is required")
	}

	var (
		record      replay.Replay
		movesJSON   string
		eventsJSON  string
		summaryJSON string
		createdAt   int64
	)
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, challenge_id, level_id, seed, moves_log, event_log, result_summary, created_at
		   FROM replays WHERE id = ?`,
		id,
	)
	if err := row.Scan(
		&record.ID, &record.ChallengeID, &record.LevelID, &record.Seed,
		&movesJSON, &eventsJSON, &summaryJSON, &createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return replay.Replay{}, storage.ErrNotFound
		}
		return replay.Replay{}, fmt.Errorf("scan replay: %w", err)
	}
	if err := json.Unmarshal([]byte(movesJSON), &record.MovesLog); err != nil {
		return replay.Replay{}, fmt.Errorf("decode moves log: %w", err)
	}
	events, err := unmarshalEventLog([]byte(eventsJSON))
	if err != nil {
		return replay.Replay{}, fmt.Errorf("decode event log: %w", err)
	}
	record.EventLog = events
	if err := json.Unmarshal([]byte(summaryJSON), &record.ResultSummary); err != nil {
		return replay.Replay{}, fmt.Errorf("decode result summary: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutGrant records an earned achievement. The (achievement, user, replay)
// key makes retried submissions idempotent.
func (s *Store) PutGrant(ctx context.Context, grant storage.Grant) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(grant.AchievementID) == "" {
		return false, fmt.Errorf("achievement id is required")
	}
	if strings.TrimSpace(grant.ReplayID) == "" {
		return false, fmt.Errorf("replay id is required")
	}
	awardedAt := grant.AwardedAt
	if awardedAt.IsZero() {
		awardedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO achievement_grants (achievement_id, user_id, replay_id, awarded_at)
		 VALUES (?, ?, ?, ?)`,
		grant.AchievementID,
		grant.UserID,
		grant.ReplayID,
		toMillis(awardedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListGrants returns grants filtered by user and/or replay.
func (s *Store) ListGrants(ctx context.Context, userID, replayID string) ([]storage.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT achievement_id, user_id, replay_id, awarded_at FROM achievement_grants WHERE 1=1`
	var args []any
	if strings.TrimSpace(userID) != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if strings.TrimSpace(replayID) != "" {
		query += " AND replay_id = ?"
		args = append(args, replayID)
	}
	query += " ORDER BY awarded_at ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []storage.Grant
	for rows.Next() {
		var (
			grant     storage.Grant
			awardedAt int64
		)
		if err := rows.Scan(&grant.AchievementID, &grant.UserID, &grant.ReplayID, &awardedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grant.AwardedAt = fromMillis(awardedAt)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

// AppendTelemetryEvent records one operational observation.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.Component) == "" {
		return fmt.Errorf("telemetry component is required")
	}
	timestamp := evt.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO telemetry_events (timestamp, component, kind, detail, session_id)
		 VALUES (?, ?, ?, ?, ?)`,
		toMillis(timestamp),
		evt.Component,
		evt.Kind,
		evt.Detail,
		evt.SessionID,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

// wireEvent is the JSON shape used to persist event logs inside replays.
type wireEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func marshalEventLog(events []event.Event) ([]byte, error) {
	wire := make([]wireEvent, 0, len(events))
	for _, evt := range events {
		wire = append(wire, wireEvent{
			ID:        evt.ID,
			SessionID: evt.SessionID,
			Seq:       evt.Seq,
			Timestamp: toMillis(evt.Timestamp),
			Type:      string(evt.Type),
			Payload:   evt.PayloadJSON,
		})
	}
	return json.Marshal(wire)
}

func unmarshalEventLog(data []byte) ([]event.Event, error) {
	var wire []wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(wire))
	for _, w := range wire {
		events = append(events, event.Event{
			ID:          w.ID,
			SessionID:   w.SessionID,
			Seq:         w.Seq,
			Timestamp:   fromMillis(w.Timestamp),
			Type:        event.Type(w.Type),
			PayloadJSON: w.Payload,
		})
	}
	return events, nil
}
