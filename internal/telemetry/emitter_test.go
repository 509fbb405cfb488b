package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/storage"
)

type captureStore struct {
	events []storage.TelemetryEvent
}

func (c *captureStore) AppendTelemetryEvent(_ context.Context, evt storage.TelemetryEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func TestEmitStampsTimestampAndSeverity(t *testing.T) {
	store := &captureStore{}
	emitter := NewEmitter(store)
	emitter.clock = func() time.Time {
		return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	}

	err := emitter.Emit(context.Background(), storage.TelemetryEvent{
		EventName: EventGroupActivated,
		SessionID: "sess-1",
		GroupID:   "grp-1",
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	got := store.events[0]
	if got.Severity != string(SeverityInfo) {
		t.Fatalf("severity = %q, want INFO default", got.Severity)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp was not stamped")
	}
	if !got.Timestamp.Equal(time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("timestamp = %v", got.Timestamp)
	}
}

func TestEmitPreservesExplicitFields(t *testing.T) {
	store := &captureStore{}
	emitter := NewEmitter(store)

	stamp := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	err := emitter.Emit(context.Background(), storage.TelemetryEvent{
		Timestamp: stamp,
		EventName: EventRoundAdvanced,
		Severity:  string(SeverityWarn),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := store.events[0]
	if got.Severity != string(SeverityWarn) || !got.Timestamp.Equal(stamp) {
		t.Fatalf("event = %+v", got)
	}
}

func TestEmitIsNilSafe(t *testing.T) {
	var emitter *Emitter
	if err := emitter.Emit(context.Background(), storage.TelemetryEvent{EventName: EventSessionCreated}); err != nil {
		t.Fatalf("nil emitter emit: %v", err)
	}
	if err := NewEmitter(nil).Emit(context.Background(), storage.TelemetryEvent{EventName: EventSessionCreated}); err != nil {
		t.Fatalf("nil store emit: %v", err)
	}
}
