// Package replay defines the frozen record of a completed session and the
// statistics summary derived from it.
package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gauntlet/internal/event"
)

// Move is one entry of a replay's ordered move log.
type Move struct {
	Index    int       `json:"index"`
	Move     string    `json:"move"`
	Actor    string    `json:"actor"`
	PlayedAt time.Time `json:"played_at"`
}

// ResultSummary captures the terminal verdict of a finished session.
type ResultSummary struct {
	Result    string   `json:"result"`
	MoveCount int      `json:"move_count"`
	Mistakes  int      `json:"mistakes"`
	Patterns  []string `json:"patterns,omitempty"`
}

// Replay is the persisted event and move log of a completed session,
// immutable once written. It is the sole input to achievement evaluation
// and to scrubbing finished games.
type Replay struct {
	ID            string
	ChallengeID   string
	LevelID       string
	Seed          int64
	MovesLog      []Move
	EventLog      []event.Event
	ResultSummary ResultSummary
	CreatedAt     time.Time
}

// Validate checks the structural invariants of a replay record.
func (r Replay) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("replay id is required")
	}
	if strings.TrimSpace(r.ChallengeID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if len(r.EventLog) == 0 {
		return fmt.Errorf("event log is required")
	}
	return nil
}

// Build freezes a completed session's event log into a replay record.
// The move log and result summary are derived from the events so the log
// stays the single source of truth.
func Build(id, challengeID, levelID string, seed int64, log []event.Event, createdAt time.Time) (Replay, error) {
	if strings.TrimSpace(id) == "" {
		return Replay{}, fmt.Errorf("replay id is required")
	}
	if strings.TrimSpace(challengeID) == "" {
		return Replay{}, fmt.Errorf("challenge id is required")
	}
	if len(log) == 0 {
		return Replay{}, fmt.Errorf("event log is required")
	}

	frozen := make([]event.Event, len(log))
	copy(frozen, log)

	var moves []Move
	summary := ResultSummary{}
	for _, evt := range frozen {
		payload, err := event.DecodePayload(evt)
		if err != nil {
			continue
		}
		switch p := payload.(type) {
		case *event.MoveExecutedPayload:
			moves = append(moves, Move{
				Index:    len(moves),
				Move:     p.Move,
				Actor:    event.TurnPlayer,
				PlayedAt: evt.Timestamp,
			})
			summary.MoveCount = p.MoveCount
		case *event.AIMovedPayload:
			moves = append(moves, Move{
				Index:    len(moves),
				Move:     p.Move,
				Actor:    event.TurnOpponent,
				PlayedAt: evt.Timestamp,
			})
		case *event.MoveValidatedPayload:
			if !p.Legal {
				summary.Mistakes++
			}
		case *event.GameCompletedPayload:
			summary.Result = p.Result
			if p.MoveCount > 0 {
				summary.MoveCount = p.MoveCount
			}
			if len(p.Patterns) > 0 {
				summary.Patterns = append([]string(nil), p.Patterns...)
			}
		}
	}
	if summary.Result == "" {
		return Replay{}, fmt.Errorf("event log has no game_completed event")
	}

	return Replay{
		ID:            id,
		ChallengeID:   challengeID,
		LevelID:       levelID,
		Seed:          seed,
		MovesLog:      moves,
		EventLog:      frozen,
		ResultSummary: summary,
		CreatedAt:     createdAt.UTC(),
	}, nil
}
