package session

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

// sequenceIDs returns an id generator producing prefix-1, prefix-2, ...
func sequenceIDs(prefix string) func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

func newTestSession(t *testing.T) Session {
	t.Helper()
	s, err := New("facilitator@example.com", fixedNow, sequenceIDs("sess"))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func newTestGroup(t *testing.T, name string) Group {
	t.Helper()
	g, err := NewGroup(name, sequenceIDs("group-"+name))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	return g
}

func newTestParticipant(t *testing.T, identity string, tags ...issue.Tag) Participant {
	t.Helper()
	p, err := NewParticipant(identity, tags)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	return p
}

// sessionWithActiveGroup builds a session holding one ACTIVE group with a
// single participant assigned the inverted-axis tag.
func sessionWithActiveGroup(t *testing.T) (Session, string) {
	t.Helper()
	s := newTestSession(t)
	g := newTestGroup(t, "Alpha")
	s, err := AddGroup(s, g)
	if err != nil {
		t.Fatalf("add group: %v", err)
	}
	s, err = AddParticipant(s, g.ID, newTestParticipant(t, "p1@example.com", issue.TagInvertedAxis))
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	s, err = ActivateGroup(s, g.ID)
	if err != nil {
		t.Fatalf("activate group: %v", err)
	}
	return s, g.ID
}

func mustGroup(t *testing.T, s Session, groupID string) Group {
	t.Helper()
	g, ok := s.GroupByID(groupID)
	if !ok {
		t.Fatalf("group %s not found", groupID)
	}
	return g
}

func assertUnchanged(t *testing.T, before, after Session) {
	t.Helper()
	if !reflect.DeepEqual(before, after) {
		t.Fatal("rejected transition mutated its input")
	}
}
