// Package sqlite provides a SQLite-backed session storage implementation.
//
// The session document is stored as one JSON blob per row alongside a
// version counter. Appends run as read-modify-write transactions serialized
// by a store-level mutex, so concurrent appends in one process never lose
// each other; whole-document replaces overwrite unconditionally unless the
// versioned variant is used.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	"github.com/louisbranch/chartdetectives/internal/game/storage/sqlite/migrations"
	"github.com/louisbranch/chartdetectives/internal/game/storage/watch"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	sqlitemigrate "github.com/louisbranch/chartdetectives/internal/platform/storage/sqlitemigrate"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists session state in SQLite.
type Store struct {
	sqlDB *sql.DB
	// writeMu serializes read-modify-write cycles so appends from concurrent
	// goroutines compose instead of clobbering each other.
	writeMu sync.Mutex
	hub     *watch.Hub
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, hub: watch.NewHub()}, nil
}

// Close stops subscriptions and closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.hub.Close()
	return s.sqlDB.Close()
}

// CreateSession inserts a fresh session document at version 1.
func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sess.ID) == "" {
		return apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	document, err := json.Marshal(sess)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "encode session document", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sessions (id, facilitator_identity, document, version, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		sess.ID,
		sess.FacilitatorIdentity,
		string(document),
		toMillis(sess.CreatedAt),
		toMillis(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.WithMetadata(apperrors.CodeAlreadyExists, "session already exists", map[string]string{"session_id": sess.ID})
		}
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "insert session", err)
	}
	if err := syncMembers(ctx, tx, sess.ID, sess.ParticipantIdentities, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "commit transaction", err)
	}
	return nil
}

// GetSession returns the current snapshot for id.
func (s *Store) GetSession(ctx context.Context, id string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT document, version FROM sessions WHERE id = ?`, id)
	return scanSnapshot(row)
}

// FindByMembership returns the first session, by creation order, where
// identity is the facilitator, or failing that the first where identity is a
// participant.
func (s *Store) FindByMembership(ctx context.Context, identity string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT document, version FROM sessions
		 WHERE facilitator_identity = ?
		 ORDER BY rowid ASC
		 LIMIT 1`,
		identity,
	)
	snap, err := scanSnapshot(row)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Snapshot{}, err
	}

	row = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT s.document, s.version FROM sessions s
		 JOIN session_members m ON m.session_id = s.id
		 WHERE m.identity = ?
		 ORDER BY s.rowid ASC
		 LIMIT 1`,
		identity,
	)
	return scanSnapshot(row)
}

// Subscribe registers fn for id with an immediate initial delivery. The
// returned cancel releases the subscription; ctx cancellation does the same.
// The initial read and the hub registration happen under the write mutex, so
// a write committing during registration is either reflected in the initial
// delivery or triggers a callback of its own.
func (s *Store) Subscribe(ctx context.Context, id string, fn storage.SubscribeFunc) (func(), error) {
	s.writeMu.Lock()
	initial, err := s.GetSession(ctx, id)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	cancel := s.hub.Subscribe(id, initial, fn)
	s.writeMu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// AppendGroup appends g to the session's group list.
func (s *Store) AppendGroup(ctx context.Context, sessionID string, g session.Group) error {
	return s.mutate(ctx, sessionID, func(sess *session.Session) error {
		return storage.AppendGroupDocument(sess, g)
	})
}

// AppendParticipant appends p to a group roster and unions the identity into
// the session membership list and index. Roster invariants are re-checked
// inside the write transaction.
func (s *Store) AppendParticipant(ctx context.Context, sessionID, groupID string, p session.Participant) error {
	return s.mutate(ctx, sessionID, func(sess *session.Session) error {
		return storage.AppendParticipantDocument(sess, groupID, p)
	})
}

// AppendAnnotation appends a to a group's current round.
func (s *Store) AppendAnnotation(ctx context.Context, sessionID, groupID string, a session.Annotation) error {
	return s.mutate(ctx, sessionID, func(sess *session.Session) error {
		return storage.AppendAnnotationDocument(sess, groupID, a)
	})
}

// ReplaceSession unconditionally overwrites the whole document.
func (s *Store) ReplaceSession(ctx context.Context, sessionID string, sess session.Session) error {
	return s.replace(ctx, sessionID, sess, nil)
}

// ReplaceSessionVersioned overwrites the document only when the stored
// version still equals readVersion.
func (s *Store) ReplaceSessionVersioned(ctx context.Context, sessionID string, sess session.Session, readVersion uint64) error {
	return s.replace(ctx, sessionID, sess, &readVersion)
}

// AppendTelemetryEvent inserts one telemetry record.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attributes := "{}"
	if len(evt.Attributes) > 0 {
		encoded, err := json.Marshal(evt.Attributes)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStoreUnavailable, "encode telemetry attributes", err)
		}
		attributes = string(encoded)
	}
	occurredAt := evt.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO telemetry_events (occurred_at, event_name, severity, session_id, group_id, actor_identity, attributes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toMillis(occurredAt),
		evt.EventName,
		evt.Severity,
		evt.SessionID,
		evt.GroupID,
		evt.ActorIdentity,
		attributes,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "insert telemetry event", err)
	}
	return nil
}

// ListTelemetryEvents returns up to limit telemetry records, oldest first.
func (s *Store) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT occurred_at, event_name, severity, session_id, group_id, actor_identity, attributes
		 FROM telemetry_events
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list telemetry events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []storage.TelemetryEvent
	for rows.Next() {
		var evt storage.TelemetryEvent
		var occurredAt int64
		var attributes string
		if err := rows.Scan(&occurredAt, &evt.EventName, &evt.Severity, &evt.SessionID, &evt.GroupID, &evt.ActorIdentity, &attributes); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "scan telemetry event", err)
		}
		evt.Timestamp = fromMillis(occurredAt)
		if attributes != "" && attributes != "{}" {
			if err := json.Unmarshal([]byte(attributes), &evt.Attributes); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "decode telemetry attributes", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list telemetry events", err)
	}
	return events, nil
}

// GetStatistics returns aggregate counters across every stored session.
func (s *Store) GetStatistics(ctx context.Context) (storage.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return storage.Statistics{}, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT document FROM sessions`)
	if err != nil {
		return storage.Statistics{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var stats storage.Statistics
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return storage.Statistics{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "scan session", err)
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(document), &sess); err != nil {
			return storage.Statistics{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "decode session document", err)
		}
		stats.SessionCount++
		for _, g := range sess.Groups {
			stats.GroupCount++
			stats.ParticipantCount += int64(len(g.Participants))
			stats.AnnotationCount += int64(len(g.Annotations))
		}
	}
	if err := rows.Err(); err != nil {
		return storage.Statistics{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list sessions", err)
	}
	return stats, nil
}

func (s *Store) mutate(ctx context.Context, sessionID string, apply func(*session.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var document string
	var version uint64
	err = tx.QueryRowContext(ctx, `SELECT document, version FROM sessions WHERE id = ?`, sessionID).Scan(&document, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "read session", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(document), &sess); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "decode session document", err)
	}
	if err := apply(&sess); err != nil {
		return err
	}
	encoded, err := json.Marshal(sess)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "encode session document", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE sessions SET document = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		string(encoded),
		toMillis(time.Now()),
		sessionID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "update session", err)
	}
	if err := syncMembers(ctx, tx, sessionID, sess.ParticipantIdentities, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "commit transaction", err)
	}

	s.hub.Notify(sessionID, storage.Snapshot{Session: sess.Clone(), Version: version + 1})
	return nil
}

func (s *Store) replace(ctx context.Context, sessionID string, sess session.Session, readVersion *uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(sess)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "encode session document", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE sessions SET document = ?, version = version + 1, updated_at = ? WHERE id = ?`
	args := []any{string(encoded), toMillis(time.Now()), sessionID}
	if readVersion != nil {
		query += ` AND version = ?`
		args = append(args, *readVersion)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "update session", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "update session", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStoreUnavailable, "read session", err)
		}
		return storage.ErrVersionConflict
	}

	// A replace can remove members, so rebuild the index rather than union.
	if err := syncMembers(ctx, tx, sessionID, sess.ParticipantIdentities, true); err != nil {
		return err
	}

	var version uint64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, sessionID).Scan(&version); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "read session version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "commit transaction", err)
	}

	s.hub.Notify(sessionID, storage.Snapshot{Session: sess.Clone(), Version: version})
	return nil
}

func syncMembers(ctx context.Context, tx *sql.Tx, sessionID string, identities []string, rebuild bool) error {
	if rebuild {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_members WHERE session_id = ?`, sessionID); err != nil {
			return apperrors.Wrap(apperrors.CodeStoreUnavailable, "clear session members", err)
		}
	}
	for _, identity := range identities {
		_, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO session_members (session_id, identity) VALUES (?, ?)`,
			sessionID,
			identity,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStoreUnavailable, "index session member", err)
		}
	}
	return nil
}

func scanSnapshot(row *sql.Row) (storage.Snapshot, error) {
	var document string
	var version uint64
	err := row.Scan(&document, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read session", err)
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(document), &sess); err != nil {
		return storage.Snapshot{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "decode session document", err)
	}
	return storage.Snapshot{Session: sess, Version: version}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "sessions.id")
}

var _ storage.Store = (*Store)(nil)
