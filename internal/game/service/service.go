// Package service orchestrates session commands across the store, the
// scenario catalog, and the scoring collaborator.
//
// Commands follow one shape: read a snapshot, run a pure transition, persist.
// List-shaped changes persist through the store's append primitives so
// concurrent writers compose; state-machine changes persist through a whole
// document replace whose concurrency contract is selected by WriteMode.
package service

import (
	"context"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/scenario"
	"github.com/louisbranch/chartdetectives/internal/game/scoring"
	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/platform/id"
	"github.com/louisbranch/chartdetectives/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriteMode selects the concurrency contract for whole-document replaces.
type WriteMode string

const (
	// WriteModeLastWins overwrites unconditionally. A facilitator holding a
	// stale read silently discards concurrent changes.
	WriteModeLastWins WriteMode = "LAST_WINS"
	// WriteModeVersioned rejects replaces whose read snapshot is stale with
	// a version conflict the caller can retry.
	WriteModeVersioned WriteMode = "VERSIONED"
)

const defaultCollaboratorTimeout = 30 * time.Second

// Config carries Service dependencies.
type Config struct {
	Store        storage.Store
	Collaborator scoring.Collaborator
	Catalog      scenario.Catalog
	Emitter      *telemetry.Emitter
	WriteMode    WriteMode
	// CollaboratorTimeout bounds each model call. Zero means a default.
	CollaboratorTimeout time.Duration
	// Clock and IDGenerator exist for tests; nil means real implementations.
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Service executes game commands against one session store.
type Service struct {
	store               storage.Store
	collaborator        scoring.Collaborator
	catalog             scenario.Catalog
	emitter             *telemetry.Emitter
	writeMode           WriteMode
	collaboratorTimeout time.Duration
	clock               func() time.Time
	idGenerator         func() (string, error)
	tracer              trace.Tracer
}

// New creates a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "store is required")
	}
	if cfg.Catalog.Len() == 0 {
		cfg.Catalog = scenario.Default()
	}
	if cfg.WriteMode == "" {
		cfg.WriteMode = WriteModeLastWins
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Service{
		store:               cfg.Store,
		collaborator:        cfg.Collaborator,
		catalog:             cfg.Catalog,
		emitter:             cfg.Emitter,
		writeMode:           cfg.WriteMode,
		collaboratorTimeout: cfg.CollaboratorTimeout,
		clock:               cfg.Clock,
		idGenerator:         cfg.IDGenerator,
		tracer:              otel.Tracer("chartdetectives/game/service"),
	}, nil
}

// startCollaboratorSpan opens a bounded context and a span around one
// collaborator call.
func (s *Service) startCollaboratorSpan(ctx context.Context, operation, sessionID, groupID string) (context.Context, func(error)) {
	cctx, cancel := context.WithTimeout(ctx, s.collaboratorTimeout)
	cctx, span := s.tracer.Start(cctx, "collaborator."+operation, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("group.id", groupID),
	))
	return cctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		cancel()
	}
}

// CreateSession creates and persists an empty session for the facilitator.
func (s *Service) CreateSession(ctx context.Context, facilitatorIdentity string) (session.Session, error) {
	sess, err := session.New(facilitatorIdentity, s.clock, s.idGenerator)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventSessionCreated, sess.ID, "", facilitatorIdentity, nil)
	return sess, nil
}

// GetSession returns the current snapshot for a session id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	return s.store.GetSession(ctx, sessionID)
}

// FindSession returns the session where identity is the facilitator or a
// participant.
func (s *Service) FindSession(ctx context.Context, identity string) (storage.Snapshot, error) {
	return s.store.FindByMembership(ctx, identity)
}

// Watch subscribes fn to a session's snapshot stream. fn fires once
// immediately and again after every accepted write.
func (s *Service) Watch(ctx context.Context, sessionID string, fn storage.SubscribeFunc) (func(), error) {
	return s.store.Subscribe(ctx, sessionID, fn)
}

// ResetSession wipes every group and participant, keeping the session id and
// facilitator so running clients stay attached.
func (s *Service) ResetSession(ctx context.Context, sessionID string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next := session.Reset(snap.Session)
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventSessionReset, sessionID, "", snap.Session.FacilitatorIdentity, nil)
	return next, nil
}

// AddGroup appends an empty group in SETUP to the session.
func (s *Service) AddGroup(ctx context.Context, sessionID, name string) (session.Group, error) {
	g, err := session.NewGroup(name, s.idGenerator)
	if err != nil {
		return session.Group{}, err
	}
	if err := s.store.AppendGroup(ctx, sessionID, g); err != nil {
		return session.Group{}, err
	}
	s.emit(ctx, telemetry.EventGroupAdded, sessionID, g.ID, "", map[string]any{"name": name})
	return g, nil
}

// AddParticipant joins identity to a group with the given tag assignment.
// The transition is validated against the current snapshot; the roster cap
// and duplicate-identity rules are re-checked by the store's append path.
func (s *Service) AddParticipant(ctx context.Context, sessionID, groupID, identity string, assigned []issue.Tag) (session.Participant, error) {
	p, err := session.NewParticipant(identity, assigned)
	if err != nil {
		return session.Participant{}, err
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Participant{}, err
	}
	if _, err := session.AddParticipant(snap.Session, groupID, p); err != nil {
		return session.Participant{}, err
	}
	if err := s.store.AppendParticipant(ctx, sessionID, groupID, p); err != nil {
		return session.Participant{}, err
	}
	s.emit(ctx, telemetry.EventParticipantAdded, sessionID, groupID, identity, nil)
	return p, nil
}

// ActivateGroup moves a group from SETUP to ACTIVE and deals the first
// case's target issues.
func (s *Service) ActivateGroup(ctx context.Context, sessionID, groupID string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.ActivateGroup(snap.Session, groupID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventGroupActivated, sessionID, groupID, "", nil)
	return next, nil
}

// TerminateGroup moves a group to TERMINATED from any state.
func (s *Service) TerminateGroup(ctx context.Context, sessionID, groupID string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.TerminateGroup(snap.Session, groupID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventGroupTerminated, sessionID, groupID, "", nil)
	return next, nil
}

// ResetGroup returns a group to SETUP, clearing round and training progress
// while keeping the roster and tag assignments.
func (s *Service) ResetGroup(ctx context.Context, sessionID, groupID string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.ResetGroup(snap.Session, groupID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventGroupReset, sessionID, groupID, "", nil)
	return next, nil
}

// Annotate appends one annotation to a group's current round.
func (s *Service) Annotate(ctx context.Context, sessionID, groupID, authorIdentity string, x, y float64, reason, impact string) (session.Annotation, error) {
	a, err := session.NewAnnotation(authorIdentity, x, y, reason, impact, s.clock, s.idGenerator)
	if err != nil {
		return session.Annotation{}, err
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Annotation{}, err
	}
	if _, err := session.AddAnnotation(snap.Session, groupID, a); err != nil {
		return session.Annotation{}, err
	}
	if err := s.store.AppendAnnotation(ctx, sessionID, groupID, a); err != nil {
		return session.Annotation{}, err
	}
	return a, nil
}

// SaveDraft stores a manually edited report draft on an active group.
func (s *Service) SaveDraft(ctx context.Context, sessionID, groupID, draft string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.SetDraftReport(snap.Session, groupID, draft)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	return next, nil
}

func (s *Service) replace(ctx context.Context, sessionID string, next session.Session, readVersion uint64) error {
	if s.writeMode == WriteModeVersioned {
		return s.store.ReplaceSessionVersioned(ctx, sessionID, next, readVersion)
	}
	return s.store.ReplaceSession(ctx, sessionID, next)
}

func (s *Service) emit(ctx context.Context, name, sessionID, groupID, actor string, attrs map[string]any) {
	// Telemetry must never fail a command.
	_ = s.emitter.Emit(ctx, storage.TelemetryEvent{
		EventName:     name,
		SessionID:     sessionID,
		GroupID:       groupID,
		ActorIdentity: actor,
		Attributes:    attrs,
	})
}
