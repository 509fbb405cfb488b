// Package session holds the session aggregate and its pure transition
// functions.
//
// Every lifecycle rule is expressed as a function from a session value to a
// new session value, so transitions are testable without a store or network.
// Callers pass sessions by value; a rejected transition returns the zero
// value and an error, and never mutates its input.
package session

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/platform/id"
)

var (
	// ErrEmptyFacilitator indicates a missing facilitator identity.
	ErrEmptyFacilitator = apperrors.New(apperrors.CodeSessionEmptyFacilitator, "facilitator identity is required")
	// ErrGroupNotFound indicates the targeted group does not exist in the session.
	ErrGroupNotFound = apperrors.New(apperrors.CodeGroupNotFound, "group not found in session")
)

// Session is the aggregate root for one facilitator-run game.
//
// ParticipantIdentities is the denormalized union of every group's roster,
// kept for fast membership lookups. Transitions maintain the invariant that
// it matches the group rosters exactly in both directions.
type Session struct {
	ID                    string    `json:"id"`
	FacilitatorIdentity   string    `json:"facilitatorIdentity"`
	ParticipantIdentities []string  `json:"participantIdentities"`
	Groups                []Group   `json:"groups"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// New creates an empty session owned by the facilitator.
func New(facilitatorIdentity string, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	facilitatorIdentity = strings.TrimSpace(facilitatorIdentity)
	if facilitatorIdentity == "" {
		return Session{}, ErrEmptyFacilitator
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeUnknown, "generate session id", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:                    sessionID,
		FacilitatorIdentity:   facilitatorIdentity,
		ParticipantIdentities: []string{},
		Groups:                []Group{},
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}, nil
}

// Reset wipes every group and participant from the session while keeping its
// identity and facilitator, so the facilitator can start over without
// re-creating the session document.
func Reset(s Session) Session {
	s = s.Clone()
	s.ParticipantIdentities = []string{}
	s.Groups = []Group{}
	return s
}

// HasMember reports whether identity is the facilitator or any group member.
func (s Session) HasMember(identity string) bool {
	if identity == s.FacilitatorIdentity {
		return true
	}
	for _, member := range s.ParticipantIdentities {
		if member == identity {
			return true
		}
	}
	return false
}

// GroupByID returns the group with the given id, or false when absent.
func (s Session) GroupByID(groupID string) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == groupID {
			return g.Clone(), true
		}
	}
	return Group{}, false
}

// GroupOf returns the group containing the participant identity, or false.
func (s Session) GroupOf(identity string) (Group, bool) {
	for _, g := range s.Groups {
		for _, p := range g.Participants {
			if p.Identity == identity {
				return g.Clone(), true
			}
		}
	}
	return Group{}, false
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.ParticipantIdentities = append([]string(nil), s.ParticipantIdentities...)
	out.Groups = make([]Group, len(s.Groups))
	for i, g := range s.Groups {
		out.Groups[i] = g.Clone()
	}
	return out
}

func (s Session) groupIndex(groupID string) int {
	for i := range s.Groups {
		if s.Groups[i].ID == groupID {
			return i
		}
	}
	return -1
}
