// Package telemetry records operational events emitted by game commands.
package telemetry

import (
	"context"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event names emitted by the session service.
const (
	EventSessionCreated   = "session_created"
	EventSessionReset     = "session_reset"
	EventGroupAdded       = "group_added"
	EventParticipantAdded = "participant_added"
	EventGroupActivated   = "group_activated"
	EventGroupTerminated  = "group_terminated"
	EventGroupReset       = "group_reset"
	EventReportSubmitted  = "report_submitted"
	EventRoundAdvanced    = "round_advanced"
	EventTrainingAdvanced = "training_advanced"
	EventCollaboratorDown = "collaborator_unavailable"
)

// Emitter records operational telemetry events. A nil emitter or a nil store
// silently drops events so callers never branch on configuration.
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
	if evt.Severity == "" {
		evt.Severity = string(SeverityInfo)
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
