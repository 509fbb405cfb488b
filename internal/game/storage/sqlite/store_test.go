package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func fixedNow() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func sequenceIDs(prefix string) func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

func createSession(t *testing.T, store *Store, facilitator string) session.Session {
	t.Helper()
	sess, err := session.New(facilitator, fixedNow, sequenceIDs(facilitator))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func appendGroup(t *testing.T, store *Store, sessionID, name string) session.Group {
	t.Helper()
	g, err := session.NewGroup(name, sequenceIDs(name))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if err := store.AppendGroup(context.Background(), sessionID, g); err != nil {
		t.Fatalf("append group: %v", err)
	}
	return g
}

func annotation(t *testing.T, author string) session.Annotation {
	t.Helper()
	a, err := session.NewAnnotation(author, 42, 17, "axis starts at 80", "growth looks steeper than it is", fixedNow, sequenceIDs("ann-"+author))
	if err != nil {
		t.Fatalf("new annotation: %v", err)
	}
	return a
}

func TestCreateGetSessionRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")

	snap, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
	if snap.Session.FacilitatorIdentity != "facilitator@example.com" {
		t.Fatalf("facilitator = %q", snap.Session.FacilitatorIdentity)
	}
	if !snap.Session.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("created_at = %v, want %v", snap.Session.CreatedAt, fixedNow())
	}
}

func TestCreateSessionReturnsAlreadyExistsOnDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")

	err := store.CreateSession(context.Background(), sess)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeAlreadyExists {
		t.Fatalf("err = %v, want ALREADY_EXISTS", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendGroupAndParticipantPersist(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")

	p, err := session.NewParticipant("detective@example.com", []issue.Tag{issue.TagCherryPickedRange})
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if err := store.AppendParticipant(context.Background(), sess.ID, g.ID, p); err != nil {
		t.Fatalf("append participant: %v", err)
	}

	snap, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if snap.Version != 3 {
		t.Fatalf("version = %d, want 3", snap.Version)
	}
	if len(snap.Session.Groups) != 1 || len(snap.Session.Groups[0].Participants) != 1 {
		t.Fatalf("unexpected document shape: %+v", snap.Session.Groups)
	}
	got := snap.Session.Groups[0].Participants[0]
	if got.Identity != "detective@example.com" {
		t.Fatalf("identity = %q", got.Identity)
	}
	if got.TrainingStage[issue.TagCherryPickedRange] != issue.StageNotStarted {
		t.Fatalf("training stage = %q, want NOT_STARTED", got.TrainingStage[issue.TagCherryPickedRange])
	}
	if len(snap.Session.ParticipantIdentities) != 1 || snap.Session.ParticipantIdentities[0] != "detective@example.com" {
		t.Fatalf("identities = %v", snap.Session.ParticipantIdentities)
	}
}

func TestAppendToMissingSessionOrGroup(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")

	g, err := session.NewGroup("Alpha", sequenceIDs("grp"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if err := store.AppendGroup(context.Background(), "missing", g); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("append to missing session: err = %v, want ErrNotFound", err)
	}
	if err := store.AppendAnnotation(context.Background(), sess.ID, "missing", annotation(t, "a@example.com")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("append to missing group: err = %v, want ErrNotFound", err)
	}
}

func TestFindByMembershipPrefersFacilitatorAndCreationOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)

	other := createSession(t, store, "other@example.com")
	g := appendGroup(t, store, other.ID, "Alpha")
	p, err := session.NewParticipant("shared@example.com", nil)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if err := store.AppendParticipant(context.Background(), other.ID, g.ID, p); err != nil {
		t.Fatalf("append participant: %v", err)
	}

	first, err := session.New("shared@example.com", fixedNow, sequenceIDs("first"))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	second, err := session.New("shared@example.com", fixedNow, sequenceIDs("second"))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.CreateSession(context.Background(), first); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.CreateSession(context.Background(), second); err != nil {
		t.Fatalf("create session: %v", err)
	}

	snap, err := store.FindByMembership(context.Background(), "shared@example.com")
	if err != nil {
		t.Fatalf("find by membership: %v", err)
	}
	if snap.Session.ID != first.ID {
		t.Fatalf("matched %q, want first facilitator-owned %q", snap.Session.ID, first.ID)
	}

	snap, err = store.FindByMembership(context.Background(), "other@example.com")
	if err != nil {
		t.Fatalf("find by membership: %v", err)
	}
	if snap.Session.ID != other.ID {
		t.Fatalf("matched %q, want %q", snap.Session.ID, other.ID)
	}
}

func TestFindByMembershipParticipantMatch(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")
	p, err := session.NewParticipant("detective@example.com", nil)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if err := store.AppendParticipant(context.Background(), sess.ID, g.ID, p); err != nil {
		t.Fatalf("append participant: %v", err)
	}

	snap, err := store.FindByMembership(context.Background(), "detective@example.com")
	if err != nil {
		t.Fatalf("find by membership: %v", err)
	}
	if snap.Session.ID != sess.ID {
		t.Fatalf("matched %q, want %q", snap.Session.ID, sess.ID)
	}

	if _, err := store.FindByMembership(context.Background(), "stranger@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAnnotationAppendsAllSurvive(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := fmt.Sprintf("writer%d@example.com", i)
			if err := store.AppendAnnotation(context.Background(), sess.ID, g.ID, annotation(t, author)); err != nil {
				t.Errorf("append annotation: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got := len(snap.Session.Groups[0].Annotations); got != writers {
		t.Fatalf("annotations survived = %d, want %d", got, writers)
	}
}

// The unversioned replace is last-write-wins: a writer holding a stale read
// silently discards anything appended since that read. The versioned replace
// exists for callers who want the conflict surfaced instead.
func TestReplaceSessionLastWriteWins(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")

	stale, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if err := store.AppendAnnotation(context.Background(), sess.ID, g.ID, annotation(t, "other@example.com")); err != nil {
		t.Fatalf("append annotation: %v", err)
	}

	modified := stale.Session.Clone()
	modified.Groups[0].DraftReport = "stale facilitator edit"
	if err := store.ReplaceSession(context.Background(), sess.ID, modified); err != nil {
		t.Fatalf("replace session: %v", err)
	}

	snap, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got := len(snap.Session.Groups[0].Annotations); got != 0 {
		t.Fatalf("annotations = %d, want 0 (last write wins)", got)
	}
	if snap.Session.Groups[0].DraftReport != "stale facilitator edit" {
		t.Fatalf("draft = %q", snap.Session.Groups[0].DraftReport)
	}
}

func TestReplaceSessionVersionedConflict(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")

	stale, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if err := store.AppendAnnotation(context.Background(), sess.ID, g.ID, annotation(t, "other@example.com")); err != nil {
		t.Fatalf("append annotation: %v", err)
	}

	err = store.ReplaceSessionVersioned(context.Background(), sess.ID, stale.Session, stale.Version)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	current, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if err := store.ReplaceSessionVersioned(context.Background(), sess.ID, current.Session, current.Version); err != nil {
		t.Fatalf("replace at current version: %v", err)
	}

	if err := store.ReplaceSessionVersioned(context.Background(), "missing", current.Session, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplaceRebuildsMembershipIndex(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")
	p, err := session.NewParticipant("detective@example.com", nil)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if err := store.AppendParticipant(context.Background(), sess.ID, g.ID, p); err != nil {
		t.Fatalf("append participant: %v", err)
	}

	// Reset wipes the roster; a replace with the reset document must also
	// drop the membership index rows.
	snap, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	reset := session.Reset(snap.Session)
	if err := store.ReplaceSession(context.Background(), sess.ID, reset); err != nil {
		t.Fatalf("replace session: %v", err)
	}

	if _, err := store.FindByMembership(context.Background(), "detective@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after reset", err)
	}
}

func TestSubscribeDuringWritesConvergesToLatest(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")

	// A write racing the subscription either lands in the initial snapshot
	// or triggers its own callback; the last delivery converges on the
	// stored version without any further write.
	for i := 0; i < 10; i++ {
		var mu sync.Mutex
		last := uint64(0)

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			if err := store.ReplaceSession(context.Background(), sess.ID, sess); err != nil {
				t.Errorf("ReplaceSession: %v", err)
			}
		}()

		cancel, err := store.Subscribe(context.Background(), sess.ID, func(snap storage.Snapshot) {
			mu.Lock()
			if snap.Version > last {
				last = snap.Version
			}
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		<-writeDone

		current, err := store.GetSession(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			delivered := last
			mu.Unlock()
			if delivered == current.Version {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("iteration %d: last delivered version = %d, want %d", i, delivered, current.Version)
			}
			time.Sleep(time.Millisecond)
		}
		cancel()
	}
}

func TestSubscribeDeliversWrites(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")

	snaps := make(chan storage.Snapshot, 8)
	cancel, err := store.Subscribe(context.Background(), sess.ID, func(snap storage.Snapshot) {
		snaps <- snap
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	select {
	case snap := <-snaps:
		if snap.Version != 1 {
			t.Fatalf("initial version = %d, want 1", snap.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial snapshot was not delivered")
	}

	appendGroup(t, store, sess.ID, "Alpha")

	select {
	case snap := <-snaps:
		if snap.Version != 2 || len(snap.Session.Groups) != 1 {
			t.Fatalf("snapshot = version %d, groups %d", snap.Version, len(snap.Session.Groups))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write snapshot was not delivered")
	}
}

func TestTelemetryEventsRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)

	evt := storage.TelemetryEvent{
		Timestamp:     fixedNow(),
		EventName:     "round_advanced",
		Severity:      "info",
		SessionID:     "sess-1",
		GroupID:       "grp-1",
		ActorIdentity: "facilitator@example.com",
		Attributes:    map[string]any{"case_index": float64(2)},
	}
	if err := store.AppendTelemetryEvent(context.Background(), evt); err != nil {
		t.Fatalf("append telemetry event: %v", err)
	}

	events, err := store.ListTelemetryEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list telemetry events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	got := events[0]
	if got.EventName != "round_advanced" || got.GroupID != "grp-1" {
		t.Fatalf("event = %+v", got)
	}
	if !got.Timestamp.Equal(fixedNow()) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, fixedNow())
	}
	if got.Attributes["case_index"] != float64(2) {
		t.Fatalf("attributes = %v", got.Attributes)
	}
}

func TestGetStatistics(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sess := createSession(t, store, "facilitator@example.com")
	g := appendGroup(t, store, sess.ID, "Alpha")
	appendGroup(t, store, sess.ID, "Beta")
	p, err := session.NewParticipant("detective@example.com", nil)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if err := store.AppendParticipant(context.Background(), sess.ID, g.ID, p); err != nil {
		t.Fatalf("append participant: %v", err)
	}
	if err := store.AppendAnnotation(context.Background(), sess.ID, g.ID, annotation(t, "detective@example.com")); err != nil {
		t.Fatalf("append annotation: %v", err)
	}

	stats, err := store.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("get statistics: %v", err)
	}
	want := storage.Statistics{SessionCount: 1, GroupCount: 2, ParticipantCount: 1, AnnotationCount: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}
