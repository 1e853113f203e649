// Package telemetry records operational observations such as transport
// state changes, dropped events and achievement rule failures.
package telemetry

import (
	"context"
	"time"

	"github.com/louisbranch/gauntlet/internal/storage"
)

// Component names used across the stream service.
const (
	ComponentStream      = "stream"
	ComponentHub         = "hub"
	ComponentAdapter     = "adapter"
	ComponentAchievement = "achievement"
)

// Kind names the observation being recorded.
const (
	KindStateChange = "state_change"
	KindReconnected = "reconnected"
	KindDropped     = "dropped_event"
	KindMalformed   = "malformed_event"
	KindRuleFailure = "rule_failure"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.store.AppendTelemetryEvent(ctx, evt)
}
