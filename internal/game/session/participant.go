package session

import (
	"strings"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

var (
	// ErrEmptyIdentity indicates a missing participant identity.
	ErrEmptyIdentity = apperrors.New(apperrors.CodeParticipantEmptyIdentity, "participant identity is required")
	// ErrInvalidTag indicates an assigned tag outside the closed issue set.
	ErrInvalidTag = apperrors.New(apperrors.CodeParticipantInvalidTag, "assigned issue tag is not recognized")
	// ErrParticipantNotFound indicates the identity is not in the group.
	ErrParticipantNotFound = apperrors.New(apperrors.CodeParticipantNotFound, "participant not found in group")
	// ErrTagUnassigned indicates training was attempted on a tag outside the
	// participant's assignment.
	ErrTagUnassigned = apperrors.New(apperrors.CodeTrainingTagUnassigned, "issue tag is not assigned to this participant")
	// ErrStageOrder indicates a training transition that skips or repeats a stage.
	ErrStageOrder = apperrors.New(apperrors.CodeTrainingStageOrder, "training stages are strictly sequential")
)

// DefaultAssignedTag is assigned when the facilitator adds a participant
// without selecting any tags.
const DefaultAssignedTag = issue.TagInvertedAxis

// Participant is one detective identity within a group.
//
// AssignedIssueTags is immutable once training begins; TrainingAnswers keeps
// the verbatim justification text for audit only.
type Participant struct {
	Identity          string                    `json:"identity"`
	AssignedIssueTags []issue.Tag               `json:"assignedIssueTags"`
	TrainingStage     map[issue.Tag]issue.Stage `json:"trainingStage"`
	TrainingAnswers   map[issue.Tag]string      `json:"trainingAnswers"`
}

// NewParticipant creates a participant with the given tag assignment.
// An empty assignment defaults to a single canonical tag.
func NewParticipant(identity string, assigned []issue.Tag) (Participant, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Participant{}, ErrEmptyIdentity
	}
	if len(assigned) == 0 {
		assigned = []issue.Tag{DefaultAssignedTag}
	}
	for _, tag := range assigned {
		if !tag.Valid() {
			return Participant{}, ErrInvalidTag
		}
	}

	p := Participant{
		Identity:          identity,
		AssignedIssueTags: append([]issue.Tag(nil), assigned...),
		TrainingStage:     make(map[issue.Tag]issue.Stage, len(assigned)),
		TrainingAnswers:   map[issue.Tag]string{},
	}
	for _, tag := range assigned {
		p.TrainingStage[tag] = issue.StageNotStarted
	}
	return p, nil
}

// Clone returns a deep copy of the participant.
func (p Participant) Clone() Participant {
	out := p
	out.AssignedIssueTags = append([]issue.Tag(nil), p.AssignedIssueTags...)
	out.TrainingStage = make(map[issue.Tag]issue.Stage, len(p.TrainingStage))
	for tag, stage := range p.TrainingStage {
		out.TrainingStage[tag] = stage
	}
	out.TrainingAnswers = make(map[issue.Tag]string, len(p.TrainingAnswers))
	for tag, answer := range p.TrainingAnswers {
		out.TrainingAnswers[tag] = answer
	}
	return out
}

// TrainingComplete reports whether every assigned tag reached the terminal
// Analyzed stage. Informational only; it gates nothing at the engine level.
func (p Participant) TrainingComplete() bool {
	for _, tag := range p.AssignedIssueTags {
		if p.TrainingStage[tag] != issue.StageAnalyzed {
			return false
		}
	}
	return len(p.AssignedIssueTags) > 0
}

// withFreshTraining resets stages and answers, keeping the assignment.
func (p Participant) withFreshTraining() Participant {
	out := p.Clone()
	out.TrainingStage = make(map[issue.Tag]issue.Stage, len(p.AssignedIssueTags))
	for _, tag := range p.AssignedIssueTags {
		out.TrainingStage[tag] = issue.StageNotStarted
	}
	out.TrainingAnswers = map[issue.Tag]string{}
	return out
}

// advanceTraining moves one participant one stage forward on one tag.
func advanceTraining(s Session, groupID, identity string, tag issue.Tag, want issue.Stage, answer string) (Session, error) {
	gi := s.groupIndex(groupID)
	if gi < 0 {
		return Session{}, ErrGroupNotFound
	}
	pi := -1
	for i := range s.Groups[gi].Participants {
		if s.Groups[gi].Participants[i].Identity == identity {
			pi = i
			break
		}
	}
	if pi < 0 {
		return Session{}, ErrParticipantNotFound
	}

	participant := s.Groups[gi].Participants[pi]
	assigned := false
	for _, t := range participant.AssignedIssueTags {
		if t == tag {
			assigned = true
			break
		}
	}
	if !assigned {
		return Session{}, ErrTagUnassigned
	}

	current := participant.TrainingStage[tag]
	next, ok := current.Next()
	if !ok || next != want {
		return Session{}, ErrStageOrder
	}

	s = s.Clone()
	target := &s.Groups[gi].Participants[pi]
	target.TrainingStage[tag] = want
	if want == issue.StageAnalyzed {
		target.TrainingAnswers[tag] = answer
	}
	return s, nil
}

// MarkLearned records that the participant viewed the tag's explanation.
func MarkLearned(s Session, groupID, identity string, tag issue.Tag) (Session, error) {
	return advanceTraining(s, groupID, identity, tag, issue.StageLearned, "")
}

// MarkPracticed records a correct semi-guided identification.
func MarkPracticed(s Session, groupID, identity string, tag issue.Tag) (Session, error) {
	return advanceTraining(s, groupID, identity, tag, issue.StagePracticed, "")
}

// MarkAnalyzed records a correct novel-instance analysis and stores the
// justification text verbatim. Terminal for the tag.
func MarkAnalyzed(s Session, groupID, identity string, tag issue.Tag, answer string) (Session, error) {
	return advanceTraining(s, groupID, identity, tag, issue.StageAnalyzed, answer)
}
