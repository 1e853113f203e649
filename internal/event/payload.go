package event

// Turn labels used inside payloads. The projector owns the typed view.
const (
	TurnPlayer   = "player"
	TurnOpponent = "opponent"
)

// Result labels carried by game_completed payloads.
const (
	ResultWon  = "won"
	ResultLost = "lost"
	ResultDraw = "draw"
)

// SessionCreatedPayload captures the payload for session_created events.
type SessionCreatedPayload struct {
	ChallengeID string   `json:"challenge_id"`
	StateToken  string   `json:"state_token"`
	LegalMoves  []string `json:"legal_moves,omitempty"`
	Turn        string   `json:"turn"`
}

// SessionRestoredPayload captures the payload for session_restored events.
// It carries the full authoritative snapshot used for resync after the
// resume cursor falls outside server retention.
type SessionRestoredPayload struct {
	ChallengeID string   `json:"challenge_id"`
	StateToken  string   `json:"state_token"`
	LegalMoves  []string `json:"legal_moves,omitempty"`
	Turn        string   `json:"turn"`
	MoveCount   int      `json:"move_count"`
}

// SessionExpiredPayload captures the payload for session_expired events.
type SessionExpiredPayload struct {
	Reason string `json:"reason,omitempty"`
}

// MoveValidatedPayload captures the payload for move_validated events.
type MoveValidatedPayload struct {
	Move   string `json:"move"`
	Legal  bool   `json:"legal"`
	Reason string `json:"reason,omitempty"`
}

// MoveExecutedPayload captures the payload for move_executed events.
// StateToken is the authoritative post-move encoding produced by the game
// engine adapter; the projector adopts it without recomputing legality.
type MoveExecutedPayload struct {
	Move       string   `json:"move"`
	Turn       string   `json:"turn"`
	MoveCount  int      `json:"move_count"`
	StateToken string   `json:"state_token"`
	LegalMoves []string `json:"legal_moves,omitempty"`
}

// AIThinkingPayload captures the payload for ai_thinking events.
type AIThinkingPayload struct {
	EstimatedMs int64 `json:"estimated_ms,omitempty"`
}

// AIMovedPayload captures the payload for ai_moved events.
type AIMovedPayload struct {
	Move       string   `json:"move"`
	Turn       string   `json:"turn"`
	MoveCount  int      `json:"move_count"`
	StateToken string   `json:"state_token"`
	LegalMoves []string `json:"legal_moves,omitempty"`
}

// GameStateChangedPayload captures the payload for game_state_changed
// events, the generalized update used by games that do not map onto the
// move/ai-move pair.
type GameStateChangedPayload struct {
	StateToken string   `json:"state_token"`
	Turn       string   `json:"turn,omitempty"`
	MoveCount  *int     `json:"move_count,omitempty"`
	LegalMoves []string `json:"legal_moves,omitempty"`
	GameOver   bool     `json:"game_over,omitempty"`
	Result     string   `json:"result,omitempty"`
}

// GameCompletedPayload captures the payload for game_completed events.
// Patterns carries game-specific tags detected by the engine adapter
// (e.g. "fork", "en_passant"); this core treats them as opaque.
type GameCompletedPayload struct {
	Result    string   `json:"result"`
	MoveCount int      `json:"move_count,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
}

// AchievementEarnedPayload captures the payload for achievement_earned events.
type AchievementEarnedPayload struct {
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name,omitempty"`
	Points        int    `json:"points,omitempty"`
}

// AchievementEvaluationCompletePayload captures the payload for
// achievement_evaluation_complete events.
type AchievementEvaluationCompletePayload struct {
	ReplayID string   `json:"replay_id"`
	Earned   []string `json:"earned"`
}

// ErrorPayload captures the payload for error events. Recoverable errors
// are informational; unrecoverable ones force the transport into its
// terminal error state.
type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}
