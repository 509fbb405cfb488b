package session

import (
	"github.com/louisbranch/chartdetectives/internal/game/issue"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

// Evaluation is the scoring collaborator's verdict on a submitted report.
type Evaluation struct {
	Success        bool        `json:"success"`
	Score          int         `json:"score"`
	Feedback       string      `json:"feedback"`
	DetectedIssues []issue.Tag `json:"detectedIssues"`
}

// Clone returns a deep copy of the evaluation.
func (e Evaluation) Clone() Evaluation {
	out := e
	out.DetectedIssues = append([]issue.Tag(nil), e.DetectedIssues...)
	return out
}

// RoundRecord is the frozen snapshot of a completed case. Archival only.
type RoundRecord struct {
	CaseIndex    int          `json:"caseIndex"`
	CaseTitle    string       `json:"caseTitle"`
	TargetIssues []issue.Tag  `json:"targetIssues"`
	Annotations  []Annotation `json:"annotations"`
	DraftReport  string       `json:"draftReport"`
	Evaluation   Evaluation   `json:"evaluation"`
}

// Clone returns a deep copy of the round record.
func (r RoundRecord) Clone() RoundRecord {
	out := r
	out.TargetIssues = append([]issue.Tag(nil), r.TargetIssues...)
	out.Annotations = append([]Annotation(nil), r.Annotations...)
	out.Evaluation = r.Evaluation.Clone()
	return out
}

// failedRoundFeedback is archived when a round is advanced without an
// evaluation on record.
const failedRoundFeedback = "No evaluation was recorded for this round; it was archived as a failed case."

// GenerateTargetIssues computes the answer key for one case.
//
// The set is the union of every participant's assigned tags plus one
// supplemental tag chosen deterministically from the case index, preferring a
// tag no participant was trained on so the group must transfer the skill to a
// novel distortion. When the union already covers the whole vocabulary the
// supplemental pick is absorbed by the union. Pure: identical inputs always
// produce the identical set, in canonical tag order.
func GenerateTargetIssues(participants []Participant, caseIndex int) []issue.Tag {
	if caseIndex < 0 {
		caseIndex = 0
	}

	assigned := make(map[issue.Tag]bool)
	for _, p := range participants {
		for _, tag := range p.AssignedIssueTags {
			assigned[tag] = true
		}
	}

	vocabulary := issue.Tags()
	target := make(map[issue.Tag]bool, len(assigned)+1)
	for tag := range assigned {
		target[tag] = true
	}

	// Scan the canonical vocabulary starting at a case-derived offset and
	// take the first tag outside every assignment.
	offset := caseIndex % len(vocabulary)
	supplemental := vocabulary[offset]
	for i := 0; i < len(vocabulary); i++ {
		candidate := vocabulary[(offset+i)%len(vocabulary)]
		if !assigned[candidate] {
			supplemental = candidate
			break
		}
	}
	target[supplemental] = true

	out := make([]issue.Tag, 0, len(target))
	for _, tag := range vocabulary {
		if target[tag] {
			out = append(out, tag)
		}
	}
	return out
}

// AdvanceRound archives the finished case and opens the next one.
//
// Legal only from FINISHED. A missing evaluation does not block advancing:
// the archived record substitutes a zero-score failure so every round stays
// archivable. The transition itself places no ceiling on the case index;
// bounding against the scenario catalog is the caller's concern.
func AdvanceRound(s Session, groupID string, caseTitle string) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	group := s.Groups[idx]
	if group.Status != StatusFinished {
		return Session{}, apperrors.New(apperrors.CodeGroupInvalidStatusTransition, "round can only advance from a finished group")
	}

	eval := Evaluation{Success: false, Score: 0, Feedback: failedRoundFeedback, DetectedIssues: []issue.Tag{}}
	if group.EvaluationResult != nil {
		eval = group.EvaluationResult.Clone()
	}

	record := RoundRecord{
		CaseIndex:    group.CurrentCaseIndex,
		CaseTitle:    caseTitle,
		TargetIssues: append([]issue.Tag(nil), group.CurrentCaseTargetIssues...),
		Annotations:  append([]Annotation(nil), group.Annotations...),
		DraftReport:  group.DraftReport,
		Evaluation:   eval,
	}

	s = s.Clone()
	next := &s.Groups[idx]
	next.RoundHistory = append(next.RoundHistory, record)
	next.CurrentCaseIndex++
	next.CurrentCaseTargetIssues = GenerateTargetIssues(next.Participants, next.CurrentCaseIndex)
	next.Annotations = []Annotation{}
	next.DraftReport = ""
	next.EvaluationResult = nil
	next.Status = StatusActive
	return s, nil
}
