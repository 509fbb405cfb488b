// Package memory provides an in-memory Store used by tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	"github.com/louisbranch/chartdetectives/internal/game/storage/watch"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

type record struct {
	sess    session.Session
	version uint64
	seq     uint64
}

// Store keeps every session document in process memory. Appends run under a
// single mutex, so concurrent appends serialize and never lose each other;
// whole-document replaces overwrite unconditionally.
type Store struct {
	mu       sync.Mutex
	nextSeq  uint64
	sessions map[string]*record
	events   []storage.TelemetryEvent
	hub      *watch.Hub
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*record),
		hub:      watch.NewHub(),
	}
}

// CreateSession stores a fresh document at version 1.
func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return apperrors.WithMetadata(apperrors.CodeAlreadyExists, "session already exists", map[string]string{"session_id": sess.ID})
	}
	s.nextSeq++
	s.sessions[sess.ID] = &record{sess: sess.Clone(), version: 1, seq: s.nextSeq}
	return nil
}

// GetSession returns the current snapshot for id.
func (s *Store) GetSession(ctx context.Context, id string) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return storage.Snapshot{Session: rec.sess.Clone(), Version: rec.version}, nil
}

// FindByMembership returns the first session, by creation order, where
// identity is the facilitator. Participant matches are only considered when
// no facilitator match exists.
func (s *Store) FindByMembership(ctx context.Context, identity string) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var facilitator, participant *record
	for _, rec := range s.sessions {
		if rec.sess.FacilitatorIdentity == identity {
			if facilitator == nil || rec.seq < facilitator.seq {
				facilitator = rec
			}
			continue
		}
		for _, member := range rec.sess.ParticipantIdentities {
			if member == identity {
				if participant == nil || rec.seq < participant.seq {
					participant = rec
				}
				break
			}
		}
	}

	match := facilitator
	if match == nil {
		match = participant
	}
	if match == nil {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return storage.Snapshot{Session: match.sess.Clone(), Version: match.version}, nil
}

// Subscribe registers fn for id with an immediate initial delivery. The
// initial snapshot is captured and the subscriber registered under the write
// lock, so a write committing during registration is either reflected in the
// initial delivery or triggers a callback of its own.
func (s *Store) Subscribe(ctx context.Context, id string, fn storage.SubscribeFunc) (func(), error) {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	initial := storage.Snapshot{Session: rec.sess.Clone(), Version: rec.version}
	cancel := s.hub.Subscribe(id, initial, fn)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// AppendGroup appends g to the session's group list.
func (s *Store) AppendGroup(ctx context.Context, sessionID string, g session.Group) error {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return storage.AppendGroupDocument(sess, g)
	})
}

// AppendParticipant appends p to a group roster and unions the identity into
// the session membership list. The roster cap and the one-group-per-identity
// rule are re-checked under the write lock so concurrent joins cannot both
// slip past a stale read.
func (s *Store) AppendParticipant(ctx context.Context, sessionID, groupID string, p session.Participant) error {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return storage.AppendParticipantDocument(sess, groupID, p)
	})
}

// AppendAnnotation appends a to a group's current round.
func (s *Store) AppendAnnotation(ctx context.Context, sessionID, groupID string, a session.Annotation) error {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return storage.AppendAnnotationDocument(sess, groupID, a)
	})
}

// ReplaceSession unconditionally overwrites the whole document.
func (s *Store) ReplaceSession(ctx context.Context, sessionID string, sess session.Session) error {
	return s.replace(sessionID, sess, nil)
}

// ReplaceSessionVersioned overwrites the document only when the stored
// version still equals readVersion.
func (s *Store) ReplaceSessionVersioned(ctx context.Context, sessionID string, sess session.Session, readVersion uint64) error {
	return s.replace(sessionID, sess, &readVersion)
}

// AppendTelemetryEvent records evt for later audits.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// TelemetryEvents returns a copy of every recorded event, oldest first.
func (s *Store) TelemetryEvents() []storage.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.TelemetryEvent, len(s.events))
	copy(out, s.events)
	return out
}

// GetStatistics returns aggregate counters across every stored session.
func (s *Store) GetStatistics(ctx context.Context) (storage.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats storage.Statistics
	for _, rec := range s.sessions {
		stats.SessionCount++
		for _, g := range rec.sess.Groups {
			stats.GroupCount++
			stats.ParticipantCount += int64(len(g.Participants))
			stats.AnnotationCount += int64(len(g.Annotations))
		}
	}
	return stats, nil
}

// Close stops all subscriptions.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

// mutate commits an in-place document change and notifies subscribers before
// releasing the write lock, so notifications reach the hub in commit order.
// Notify only posts to subscriber mailboxes and never blocks on callbacks.
func (s *Store) mutate(sessionID string, apply func(*session.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	next := rec.sess.Clone()
	if err := apply(&next); err != nil {
		return err
	}
	rec.sess = next
	rec.version++
	s.hub.Notify(sessionID, storage.Snapshot{Session: rec.sess.Clone(), Version: rec.version})
	return nil
}

func (s *Store) replace(sessionID string, sess session.Session, readVersion *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if readVersion != nil && rec.version != *readVersion {
		return storage.ErrVersionConflict
	}
	rec.sess = sess.Clone()
	rec.version++
	s.hub.Notify(sessionID, storage.Snapshot{Session: rec.sess.Clone(), Version: rec.version})
	return nil
}

