// Package scoring defines the external collaborator that drafts and judges
// inspection reports.
//
// The collaborator is a remote model endpoint and therefore unreliable by
// contract: every method takes a context for cancellation and returns
// CodeCollaboratorUnavailable errors on transport failures so callers can
// degrade without corrupting game state.
package scoring

import (
	"context"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/scenario"
	"github.com/louisbranch/chartdetectives/internal/game/session"
)

// JudgeStage selects which training exercise an answer is judged against.
type JudgeStage string

const (
	// JudgeStagePractice checks that the answer identifies the issue.
	JudgeStagePractice JudgeStage = "PRACTICE"
	// JudgeStageAnalysis additionally checks the misinterpretation analysis.
	JudgeStageAnalysis JudgeStage = "ANALYSIS"
)

// DraftInput carries the material a report draft is generated from.
type DraftInput struct {
	Context     scenario.Context
	Annotations []session.Annotation
}

// EvaluateInput carries a submitted report and the ground-truth targets.
type EvaluateInput struct {
	Report       string
	TargetIssues []issue.Tag
}

// EvaluationResult is the judged outcome of a submitted report.
// DetectedIssues only ever contains tags present in the evaluated round's
// target set.
type EvaluationResult struct {
	Success        bool
	Score          int
	Feedback       string
	DetectedIssues []issue.Tag
}

// JudgeInput carries one training answer for judging.
type JudgeInput struct {
	Tag          issue.Tag
	Stage        JudgeStage
	Answer       string
	ImpactAnswer string
}

// JudgeResult is the judged outcome of a training answer.
type JudgeResult struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// Collaborator drafts reports, evaluates submissions, and judges training
// answers.
type Collaborator interface {
	// DraftReport composes an inspection report from the group's annotations.
	DraftReport(ctx context.Context, input DraftInput) (string, error)
	// Evaluate scores a submitted report against the round's target issues.
	Evaluate(ctx context.Context, input EvaluateInput) (EvaluationResult, error)
	// Judge grades one participant training answer.
	Judge(ctx context.Context, input JudgeInput) (JudgeResult, error)
}
