// Package storage defines the persistence boundary for session documents.
//
// The store keeps exactly one document per session and exposes two write
// primitives with very different concurrency contracts: list appends are
// commutative and never lose a concurrent append, while whole-document
// replaces are last-write-wins. Callers own the read-modify-write protocol;
// the store only promises that every accepted write bumps the document
// version by one and fans the fresh snapshot out to subscribers.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/session"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrVersionConflict indicates a versioned replace lost the race: the stored
// version advanced past the snapshot the caller read. Only returned by
// ReplaceSessionVersioned; the unversioned replace silently wins.
var ErrVersionConflict = apperrors.New(apperrors.CodeVersionConflict, "session version has advanced past the read snapshot")

// Snapshot pairs a session value with the monotonically increasing version it
// was read at.
type Snapshot struct {
	Session session.Session
	Version uint64
}

// SubscribeFunc receives a fresh snapshot after every accepted write.
// Deliveries coalesce: a subscriber always sees a monotonically
// non-decreasing version but not necessarily every intermediate value.
type SubscribeFunc func(Snapshot)

// SessionStore owns the one-document-per-session persistence boundary.
type SessionStore interface {
	// CreateSession writes a fresh session document at version 1.
	CreateSession(ctx context.Context, s session.Session) error
	// GetSession returns the current snapshot for a session id.
	GetSession(ctx context.Context, id string) (Snapshot, error)
	// FindByMembership returns the session where identity is the facilitator
	// or a participant. Facilitator matches win; among multiple matches the
	// first by creation order is returned deterministically.
	FindByMembership(ctx context.Context, identity string) (Snapshot, error)
	// Subscribe registers fn for a session. It is invoked once immediately
	// with the current snapshot and again after every accepted write. The
	// returned cancel function releases resources and guarantees no further
	// callbacks once it returns.
	Subscribe(ctx context.Context, id string, fn SubscribeFunc) (cancel func(), err error)
	// AppendGroup atomically appends a group to the session's group list.
	AppendGroup(ctx context.Context, sessionID string, g session.Group) error
	// AppendParticipant atomically appends a participant to a group's roster
	// and unions the identity into the session's membership list.
	AppendParticipant(ctx context.Context, sessionID, groupID string, p session.Participant) error
	// AppendAnnotation atomically appends an annotation to a group's current
	// round.
	AppendAnnotation(ctx context.Context, sessionID, groupID string, a session.Annotation) error
	// ReplaceSession unconditionally overwrites the whole document.
	// Last write wins; a concurrent writer's change is silently discarded.
	ReplaceSession(ctx context.Context, sessionID string, s session.Session) error
	// ReplaceSessionVersioned overwrites the whole document only when the
	// stored version still equals readVersion, otherwise ErrVersionConflict.
	ReplaceSessionVersioned(ctx context.Context, sessionID string, s session.Session, readVersion uint64) error
}

// TelemetryEvent captures one operational observation from command execution.
type TelemetryEvent struct {
	Timestamp     time.Time
	EventName     string
	Severity      string
	SessionID     string
	GroupID       string
	ActorIdentity string
	Attributes    map[string]any
}

// TelemetryStore persists operational telemetry records for audits.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}

// Statistics contains aggregate counters used by dashboards and housekeeping.
type Statistics struct {
	SessionCount     int64 `json:"sessionCount"`
	GroupCount       int64 `json:"groupCount"`
	ParticipantCount int64 `json:"participantCount"`
	AnnotationCount  int64 `json:"annotationCount"`
}

// StatisticsStore centralizes aggregate count queries.
type StatisticsStore interface {
	GetStatistics(ctx context.Context) (Statistics, error)
}

// Store is the composite persistence interface the service layer consumes.
type Store interface {
	SessionStore
	TelemetryStore
	StatisticsStore
	Close() error
}
