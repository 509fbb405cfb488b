package session

import (
	"strings"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/platform/id"
)

// Status is the lifecycle state of a group.
type Status string

const (
	// StatusSetup allows roster changes; the round has not begun.
	StatusSetup Status = "SETUP"
	// StatusActive means the group is training and annotating the current case.
	StatusActive Status = "ACTIVE"
	// StatusFinished means the current case's report has been evaluated.
	StatusFinished Status = "FINISHED"
	// StatusTerminated is the facilitator-forced terminal state, reversible
	// only through Reset.
	StatusTerminated Status = "TERMINATED"
)

// MaxParticipants caps the group roster. Enforced at the transition boundary,
// not by the store.
const MaxParticipants = 3

var (
	// ErrEmptyGroupName indicates a missing group name.
	ErrEmptyGroupName = apperrors.New(apperrors.CodeGroupEmptyName, "group name is required")
	// ErrRosterFull indicates the group already has the maximum participants.
	ErrRosterFull = apperrors.New(apperrors.CodeGroupRosterFull, "group roster is full")
	// ErrDuplicateParticipant indicates the identity already belongs to a
	// group in this session.
	ErrDuplicateParticipant = apperrors.New(apperrors.CodeGroupDuplicateParticipant, "identity already belongs to a group in this session")
	// ErrNoParticipants indicates activation was attempted on an empty roster.
	ErrNoParticipants = apperrors.New(apperrors.CodeGroupNoParticipants, "group has no participants")
	// ErrInvalidTransition indicates the group status disallows the operation.
	ErrInvalidTransition = apperrors.New(apperrors.CodeGroupInvalidStatusTransition, "group status disallows this transition")
)

// Group is a team of detectives progressing through cases together.
type Group struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	Status                  Status        `json:"status"`
	Participants            []Participant `json:"participants"`
	CurrentCaseIndex        int           `json:"currentCaseIndex"`
	CurrentCaseTargetIssues []issue.Tag   `json:"currentCaseTargetIssues"`
	Annotations             []Annotation  `json:"annotations"`
	DraftReport             string        `json:"draftReport"`
	EvaluationResult        *Evaluation   `json:"evaluationResult,omitempty"`
	RoundHistory            []RoundRecord `json:"roundHistory"`
}

// NewGroup creates an empty SETUP group.
func NewGroup(name string, idGenerator func() (string, error)) (Group, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrEmptyGroupName
	}

	groupID, err := idGenerator()
	if err != nil {
		return Group{}, apperrors.Wrap(apperrors.CodeUnknown, "generate group id", err)
	}

	return Group{
		ID:                      groupID,
		Name:                    name,
		Status:                  StatusSetup,
		Participants:            []Participant{},
		CurrentCaseIndex:        0,
		CurrentCaseTargetIssues: []issue.Tag{},
		Annotations:             []Annotation{},
		RoundHistory:            []RoundRecord{},
	}, nil
}

// Clone returns a deep copy of the group.
func (g Group) Clone() Group {
	out := g
	out.Participants = make([]Participant, len(g.Participants))
	for i, p := range g.Participants {
		out.Participants[i] = p.Clone()
	}
	out.CurrentCaseTargetIssues = append([]issue.Tag(nil), g.CurrentCaseTargetIssues...)
	out.Annotations = append([]Annotation(nil), g.Annotations...)
	out.RoundHistory = make([]RoundRecord, len(g.RoundHistory))
	for i, r := range g.RoundHistory {
		out.RoundHistory[i] = r.Clone()
	}
	if g.EvaluationResult != nil {
		eval := g.EvaluationResult.Clone()
		out.EvaluationResult = &eval
	}
	return out
}

// AddGroup appends a new group to the session.
func AddGroup(s Session, g Group) (Session, error) {
	s = s.Clone()
	s.Groups = append(s.Groups, g.Clone())
	return s, nil
}

// AddParticipant adds a participant to a SETUP group.
//
// The identity must not already belong to any group in the session; the
// denormalized identity union makes this one lookup. Duplicate enforcement
// lives here, in the transition layer, for every mutation path.
func AddParticipant(s Session, groupID string, p Participant) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	group := s.Groups[idx]
	if group.Status != StatusSetup {
		return Session{}, ErrInvalidTransition
	}
	if len(group.Participants) >= MaxParticipants {
		return Session{}, ErrRosterFull
	}
	for _, member := range s.ParticipantIdentities {
		if member == p.Identity {
			return Session{}, ErrDuplicateParticipant
		}
	}

	s = s.Clone()
	s.Groups[idx].Participants = append(s.Groups[idx].Participants, p.Clone())
	s.ParticipantIdentities = append(s.ParticipantIdentities, p.Identity)
	return s, nil
}

// ActivateGroup starts the first round for a SETUP group with a roster.
//
// Activation generates the target-issue answer key for case index 0. Training
// completeness is informational and never gates activation.
func ActivateGroup(s Session, groupID string) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	group := s.Groups[idx]
	if group.Status != StatusSetup {
		return Session{}, ErrInvalidTransition
	}
	if len(group.Participants) == 0 {
		return Session{}, ErrNoParticipants
	}

	s = s.Clone()
	s.Groups[idx].Status = StatusActive
	s.Groups[idx].CurrentCaseTargetIssues = GenerateTargetIssues(group.Participants, group.CurrentCaseIndex)
	return s, nil
}

// TerminateGroup force-ends a group from any state.
func TerminateGroup(s Session, groupID string) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	s = s.Clone()
	s.Groups[idx].Status = StatusTerminated
	return s, nil
}

// ResetGroup returns a group to SETUP, clearing round and training state
// while keeping participant identities and their assigned tags.
//
// Resetting a SETUP group is legal and idempotent.
func ResetGroup(s Session, groupID string) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}

	s = s.Clone()
	group := &s.Groups[idx]
	group.Status = StatusSetup
	group.CurrentCaseIndex = 0
	group.CurrentCaseTargetIssues = []issue.Tag{}
	group.Annotations = []Annotation{}
	group.DraftReport = ""
	group.EvaluationResult = nil
	group.RoundHistory = []RoundRecord{}
	for i := range group.Participants {
		group.Participants[i] = group.Participants[i].withFreshTraining()
	}
	return s, nil
}

// SetDraftReport overwrites the group's draft report. Last write observed by
// the store wins; the overwrite itself is idempotent.
func SetDraftReport(s Session, groupID string, draft string) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	if s.Groups[idx].Status != StatusActive {
		return Session{}, ErrInvalidTransition
	}

	s = s.Clone()
	s.Groups[idx].DraftReport = draft
	return s, nil
}

// CompleteEvaluation records the scoring result and finishes the round.
func CompleteEvaluation(s Session, groupID string, eval Evaluation) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	if s.Groups[idx].Status != StatusActive {
		return Session{}, ErrInvalidTransition
	}
	if eval.Score < 0 || eval.Score > 100 {
		return Session{}, apperrors.New(apperrors.CodeEvaluationScoreOutOfRange, "evaluation score must be within 0..100")
	}

	s = s.Clone()
	eval = eval.Clone()
	s.Groups[idx].EvaluationResult = &eval
	s.Groups[idx].Status = StatusFinished
	return s, nil
}
