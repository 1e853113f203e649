// Package session holds the challenge session record and the pure
// projection that derives live state from the session's event log.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Status describes the lifecycle state of a session.
type Status string

const (
	// StatusActive marks a session that is still accepting gameplay events.
	StatusActive Status = "active"
	// StatusCompleted marks a session that observed game_completed.
	StatusCompleted Status = "completed"
	// StatusExpired marks a session abandoned past its deadline.
	StatusExpired Status = "expired"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// Session is the unit of account for one challenge attempt. Its state is
// derived solely from the event log; nothing here is authoritative for
// gameplay.
type Session struct {
	ID          string
	ChallengeID string
	UserID      string
	StartedAt   time.Time
	Status      Status
}

// Validate checks the structural invariants of a session record.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(s.ChallengeID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("unknown session status: %s", s.Status)
	}
	return nil
}
