// Package event defines the domain event vocabulary shared by the stream,
// the session projector, the scrubber and the achievement evaluator.
package event

import (
	"time"
)

// Type identifies the type of a session event.
type Type string

// Session lifecycle events.
const (
	// TypeSessionCreated records the creation of a challenge session.
	TypeSessionCreated Type = "session_created"
	// TypeSessionRestored records a server-issued full state resync.
	TypeSessionRestored Type = "session_restored"
	// TypeSessionExpired records the expiry of an abandoned session.
	TypeSessionExpired Type = "session_expired"
)

// Move lifecycle events.
const (
	// TypeMoveValidated records the legality verdict for a submitted move.
	TypeMoveValidated Type = "move_validated"
	// TypeMoveExecuted records a move applied to the game state.
	TypeMoveExecuted Type = "move_executed"
)

// Opponent lifecycle events.
const (
	// TypeAIThinking records that the opponent engine started selecting a move.
	TypeAIThinking Type = "ai_thinking"
	// TypeAIMoved records a move played by the opponent engine.
	TypeAIMoved Type = "ai_moved"
)

// State transition and terminal events.
const (
	// TypeGameStateChanged records a generalized game state update.
	TypeGameStateChanged Type = "game_state_changed"
	// TypeGameCompleted records the terminal outcome of a session.
	TypeGameCompleted Type = "game_completed"
)

// Achievement events.
const (
	// TypeAchievementEarned records a single achievement award.
	TypeAchievementEarned Type = "achievement_earned"
	// TypeAchievementEvaluationComplete records the end of rule evaluation.
	TypeAchievementEvaluationComplete Type = "achievement_evaluation_complete"
)

// TypeError records a domain error surfaced on the stream.
const TypeError Type = "error"

// Event represents an immutable entry in a session's ordered event log.
type Event struct {
	// ID is the globally unique event identity, used for deduplication
	// and as the resume cursor.
	ID string
	// SessionID is the session this event belongs to.
	SessionID string
	// Seq is the event sequence number within the session (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// Types lists the closed event-type set in a stable order.
func Types() []Type {
	return []Type{
		TypeSessionCreated,
		TypeSessionRestored,
		TypeSessionExpired,
		TypeMoveValidated,
		TypeMoveExecuted,
		TypeAIThinking,
		TypeAIMoved,
		TypeGameStateChanged,
		TypeGameCompleted,
		TypeAchievementEarned,
		TypeAchievementEvaluationComplete,
		TypeError,
	}
}

// IsValid reports whether the type belongs to the closed event-type set.
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionCreated, TypeSessionRestored, TypeSessionExpired,
		TypeMoveValidated, TypeMoveExecuted,
		TypeAIThinking, TypeAIMoved,
		TypeGameStateChanged, TypeGameCompleted,
		TypeAchievementEarned, TypeAchievementEvaluationComplete,
		TypeError:
		return true
	default:
		return false
	}
}

// IsSignificant reports whether the type participates in historical state
// reconstruction. Cosmetic events (ai_thinking, achievement_earned) show up
// on the timeline but never change reconstructed state.
func (t Type) IsSignificant() bool {
	switch t {
	case TypeSessionCreated, TypeSessionRestored,
		TypeMoveExecuted, TypeAIMoved,
		TypeGameStateChanged, TypeGameCompleted:
		return true
	default:
		return false
	}
}

// IsGameplay reports whether the type mutates gameplay projection fields.
// Gameplay events arriving after game_completed are ignored by the reducer.
func (t Type) IsGameplay() bool {
	switch t {
	case TypeMoveValidated, TypeMoveExecuted, TypeAIThinking, TypeAIMoved,
		TypeGameStateChanged:
		return true
	default:
		return false
	}
}
