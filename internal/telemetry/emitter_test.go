package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/gauntlet/internal/storage"
)

type captureStore struct {
	events []storage.TelemetryEvent
}

func (c *captureStore) AppendTelemetryEvent(_ context.Context, evt storage.TelemetryEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func TestEmitNilStoreIsNoop(t *testing.T) {
	emitter := NewEmitter(nil)
	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{Component: ComponentStream}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	var nilEmitter *Emitter
	if err := nilEmitter.Emit(context.Background(), storage.TelemetryEvent{}); err != nil {
		t.Fatalf("nil Emitter Emit() error = %v", err)
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	store := &captureStore{}
	emitter := NewEmitter(store)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	emitter.clock = func() time.Time { return fixed }

	err := emitter.Emit(context.Background(), storage.TelemetryEvent{
		Component: ComponentStream,
		Kind:      KindStateChange,
		Detail:    "connecting -> connected",
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(store.events))
	}
	if !store.events[0].Timestamp.Equal(fixed) {
		t.Fatalf("Timestamp = %v, want %v", store.events[0].Timestamp, fixed)
	}
}

func TestEmitPreservesExplicitTimestamp(t *testing.T) {
	store := &captureStore{}
	emitter := NewEmitter(store)
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := emitter.Emit(context.Background(), storage.TelemetryEvent{
		Timestamp: stamp,
		Component: ComponentHub,
		Kind:      KindDropped,
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !store.events[0].Timestamp.Equal(stamp) {
		t.Fatalf("Timestamp = %v, want %v", store.events[0].Timestamp, stamp)
	}
}
