package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MalformedEventError reports an event that failed structural validation.
// Malformed events are dropped before they reach the projector.
type MalformedEventError struct {
	EventType Type
	Reason    string
	Err       error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %q event: %s: %v", e.EventType, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %q event: %s", e.EventType, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func malformed(t Type, reason string, err error) *MalformedEventError {
	return &MalformedEventError{EventType: t, Reason: reason, Err: err}
}

// NewID returns a globally unique event identity.
func NewID() string {
	return uuid.NewString()
}

// envelope is the JSON wire form of an Event. Timestamps travel as epoch
// milliseconds.
type envelope struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes an event into its wire form.
func Encode(evt Event) ([]byte, error) {
	if strings.TrimSpace(evt.ID) == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if !evt.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type: %s", evt.Type)
	}
	data, err := json.Marshal(envelope{
		ID:        evt.ID,
		SessionID: evt.SessionID,
		Seq:       evt.Seq,
		Timestamp: evt.Timestamp.UTC().UnixMilli(),
		Type:      string(evt.Type),
		Payload:   evt.PayloadJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire-form event. An unrecognized type or a
// payload that fails shape validation yields a *MalformedEventError; such
// events must never be applied to the projector.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, malformed("", "invalid envelope JSON", err)
	}

	t := Type(strings.TrimSpace(env.Type))
	if !t.IsValid() {
		return Event{}, malformed(t, "unrecognized event type", nil)
	}
	if strings.TrimSpace(env.ID) == "" {
		return Event{}, malformed(t, "event id is required", nil)
	}
	if env.Seq == 0 {
		return Event{}, malformed(t, "event seq is required", nil)
	}

	evt := Event{
		ID:          env.ID,
		SessionID:   env.SessionID,
		Seq:         env.Seq,
		Timestamp:   time.UnixMilli(env.Timestamp).UTC(),
		Type:        t,
		PayloadJSON: env.Payload,
	}
	if _, err := DecodePayload(evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// DecodePayload parses an event's payload into its typed form, enforcing
// the per-type shape contract.
func DecodePayload(evt Event) (any, error) {
	raw := evt.PayloadJSON
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	decode := func(target any) error {
		if err := json.Unmarshal(raw, target); err != nil {
			return malformed(evt.Type, "payload shape mismatch", err)
		}
		return nil
	}

	switch evt.Type {
	case TypeSessionCreated:
		var p SessionCreatedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.StateToken) == "" {
			return nil, malformed(evt.Type, "state token is required", nil)
		}
		return &p, nil
	case TypeSessionRestored:
		var p SessionRestoredPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.StateToken) == "" {
			return nil, malformed(evt.Type, "state token is required", nil)
		}
		if p.MoveCount < 0 {
			return nil, malformed(evt.Type, "move count must not be negative", nil)
		}
		return &p, nil
	case TypeSessionExpired:
		var p SessionExpiredPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypeMoveValidated:
		var p MoveValidatedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Move) == "" {
			return nil, malformed(evt.Type, "move is required", nil)
		}
		return &p, nil
	case TypeMoveExecuted:
		var p MoveExecutedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Move) == "" {
			return nil, malformed(evt.Type, "move is required", nil)
		}
		if strings.TrimSpace(p.StateToken) == "" {
			return nil, malformed(evt.Type, "state token is required", nil)
		}
		if p.MoveCount < 0 {
			return nil, malformed(evt.Type, "move count must not be negative", nil)
		}
		return &p, nil
	case TypeAIThinking:
		var p AIThinkingPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypeAIMoved:
		var p AIMovedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Move) == "" {
			return nil, malformed(evt.Type, "move is required", nil)
		}
		if strings.TrimSpace(p.StateToken) == "" {
			return nil, malformed(evt.Type, "state token is required", nil)
		}
		if p.MoveCount < 0 {
			return nil, malformed(evt.Type, "move count must not be negative", nil)
		}
		return &p, nil
	case TypeGameStateChanged:
		var p GameStateChangedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.StateToken) == "" {
			return nil, malformed(evt.Type, "state token is required", nil)
		}
		if p.MoveCount != nil && *p.MoveCount < 0 {
			return nil, malformed(evt.Type, "move count must not be negative", nil)
		}
		return &p, nil
	case TypeGameCompleted:
		var p GameCompletedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Result) == "" {
			return nil, malformed(evt.Type, "result is required", nil)
		}
		return &p, nil
	case TypeAchievementEarned:
		var p AchievementEarnedPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.AchievementID) == "" {
			return nil, malformed(evt.Type, "achievement id is required", nil)
		}
		return &p, nil
	case TypeAchievementEvaluationComplete:
		var p AchievementEvaluationCompletePayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypeError:
		var p ErrorPayload
		if err := decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Message) == "" {
			return nil, malformed(evt.Type, "error message is required", nil)
		}
		return &p, nil
	default:
		return nil, malformed(evt.Type, "unrecognized event type", nil)
	}
}
