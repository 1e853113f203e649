package session

import (
	"github.com/louisbranch/gauntlet/internal/event"
)

// Turn identifies whose move it is.
type Turn string

const (
	// TurnSelf is the challenger's turn.
	TurnSelf Turn = "player"
	// TurnOpponent is the opponent engine's turn.
	TurnOpponent Turn = "opponent"
)

// State is the projection derived by folding a session's event log. It is
// recomputed, never patched in place from outside the reducer.
type State struct {
	SessionID   string
	ChallengeID string
	// StateToken is the opaque authoritative position encoding supplied by
	// the game engine adapter through event payloads.
	StateToken string
	LegalMoves []string
	Turn       Turn
	MoveCount  int
	GameOver   bool
	Result     string
	// Thinking reports that the opponent engine is selecting a move.
	Thinking bool
	// Expired reports that the session lapsed before completion.
	Expired bool
	// EarnedAchievements lists awarded achievement ids, set semantics.
	EarnedAchievements []string
	// EvaluationComplete reports that the achievement pass has finished.
	EvaluationComplete bool
	// LastError carries the most recent recoverable domain error message.
	LastError string
}

// Initial returns the empty projection a log is folded from.
func Initial() State {
	return State{Turn: TurnSelf}
}

// Project folds an ordered event log into its final state.
func Project(log []event.Event) State {
	state := Initial()
	for _, evt := range log {
		state = Reduce(state, evt)
	}
	return state
}

// Reduce applies one event to the projection. It is pure and total over
// the closed event-type set: unknown types and undecodable payloads are
// no-ops, and gameplay events observed after game_completed never
// resurrect the session.
func Reduce(state State, evt event.Event) State {
	if evt.SessionID != "" && state.SessionID == "" {
		state.SessionID = evt.SessionID
	}

	if state.GameOver && evt.Type.IsGameplay() {
		return state
	}

	payload, err := event.DecodePayload(evt)
	if err != nil {
		return state
	}

	switch p := payload.(type) {
	case *event.SessionCreatedPayload:
		next := Initial()
		next.SessionID = state.SessionID
		next.ChallengeID = p.ChallengeID
		next.StateToken = p.StateToken
		next.LegalMoves = cloneMoves(p.LegalMoves)
		next.Turn = parseTurn(p.Turn, TurnSelf)
		return next
	case *event.SessionRestoredPayload:
		next := Initial()
		next.SessionID = state.SessionID
		next.ChallengeID = p.ChallengeID
		next.StateToken = p.StateToken
		next.LegalMoves = cloneMoves(p.LegalMoves)
		next.Turn = parseTurn(p.Turn, TurnSelf)
		next.MoveCount = p.MoveCount
		next.EarnedAchievements = state.EarnedAchievements
		return next
	case *event.SessionExpiredPayload:
		state.Expired = true
		state.Thinking = false
		return state
	case *event.MoveValidatedPayload:
		// Legality verdicts inform the caller and the stats pass only.
		return state
	case *event.MoveExecutedPayload:
		state.StateToken = p.StateToken
		state.LegalMoves = cloneMoves(p.LegalMoves)
		state.MoveCount = p.MoveCount
		state.Turn = parseTurn(p.Turn, flip(state.Turn))
		return state
	case *event.AIThinkingPayload:
		state.Thinking = true
		return state
	case *event.AIMovedPayload:
		state.StateToken = p.StateToken
		state.LegalMoves = cloneMoves(p.LegalMoves)
		state.MoveCount = p.MoveCount
		state.Turn = parseTurn(p.Turn, flip(state.Turn))
		state.Thinking = false
		return state
	case *event.GameStateChangedPayload:
		state.StateToken = p.StateToken
		if p.Turn != "" {
			state.Turn = parseTurn(p.Turn, state.Turn)
		}
		if p.MoveCount != nil {
			state.MoveCount = *p.MoveCount
		}
		if p.LegalMoves != nil {
			state.LegalMoves = cloneMoves(p.LegalMoves)
		}
		if p.GameOver {
			state.GameOver = true
			state.Result = p.Result
			state.Thinking = false
			state.LegalMoves = nil
		}
		return state
	case *event.GameCompletedPayload:
		if state.GameOver {
			// Terminal state is frozen; a duplicate completion never
			// rewrites the result.
			return state
		}
		state.GameOver = true
		state.Result = p.Result
		if p.MoveCount > 0 {
			state.MoveCount = p.MoveCount
		}
		state.Thinking = false
		state.LegalMoves = nil
		return state
	case *event.AchievementEarnedPayload:
		for _, id := range state.EarnedAchievements {
			if id == p.AchievementID {
				return state
			}
		}
		earned := make([]string, 0, len(state.EarnedAchievements)+1)
		earned = append(earned, state.EarnedAchievements...)
		earned = append(earned, p.AchievementID)
		state.EarnedAchievements = earned
		return state
	case *event.AchievementEvaluationCompletePayload:
		state.EvaluationComplete = true
		return state
	case *event.ErrorPayload:
		// Unrecoverable errors change the transport's state, never the
		// projection. Both kinds surface as informational context here.
		state.LastError = p.Message
		return state
	default:
		return state
	}
}

func parseTurn(value string, fallback Turn) Turn {
	switch value {
	case event.TurnPlayer:
		return TurnSelf
	case event.TurnOpponent:
		return TurnOpponent
	default:
		return fallback
	}
}

func flip(turn Turn) Turn {
	if turn == TurnSelf {
		return TurnOpponent
	}
	return TurnSelf
}

func cloneMoves(moves []string) []string {
	if len(moves) == 0 {
		return nil
	}
	cloned := make([]string, len(moves))
	copy(cloned, moves)
	return cloned
}
