package service

import (
	"context"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/scoring"
	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/telemetry"
)

// GenerateDraft asks the collaborator to compose a report from the group's
// annotations and stores it as the group's draft. On collaborator failure
// the group is left untouched.
func (s *Service) GenerateDraft(ctx context.Context, sessionID, groupID string) (string, error) {
	if s.collaborator == nil {
		return "", apperrors.New(apperrors.CodeCollaboratorUnavailable, "no collaborator configured")
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	group, ok := snap.Session.GroupByID(groupID)
	if !ok {
		return "", session.ErrGroupNotFound
	}
	if group.Status != session.StatusActive {
		return "", session.ErrInvalidTransition
	}
	sc, ok := s.catalog.At(group.CurrentCaseIndex)
	if !ok {
		return "", apperrors.New(apperrors.CodeGroupNoMoreCases, "case index is outside the scenario catalog")
	}

	cctx, finish := s.startCollaboratorSpan(ctx, "draft_report", sessionID, groupID)
	draft, err := s.collaborator.DraftReport(cctx, scoring.DraftInput{
		Context:     sc.Context,
		Annotations: group.Annotations,
	})
	finish(err)
	if err != nil {
		s.emitCollaboratorFailure(ctx, sessionID, groupID, err)
		return "", err
	}

	next, err := session.SetDraftReport(snap.Session, groupID, draft)
	if err != nil {
		return "", err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return "", err
	}
	return draft, nil
}

// SubmitReport evaluates the submitted report against the round's target
// issues and, on success, finishes the group with the evaluation attached.
// Collaborator failures leave the group untouched so the report can be
// resubmitted.
func (s *Service) SubmitReport(ctx context.Context, sessionID, groupID, report string) (session.Evaluation, error) {
	if s.collaborator == nil {
		return session.Evaluation{}, apperrors.New(apperrors.CodeCollaboratorUnavailable, "no collaborator configured")
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Evaluation{}, err
	}
	group, ok := snap.Session.GroupByID(groupID)
	if !ok {
		return session.Evaluation{}, session.ErrGroupNotFound
	}
	if group.Status != session.StatusActive {
		return session.Evaluation{}, session.ErrInvalidTransition
	}

	cctx, finish := s.startCollaboratorSpan(ctx, "evaluate", sessionID, groupID)
	result, err := s.collaborator.Evaluate(cctx, scoring.EvaluateInput{
		Report:       report,
		TargetIssues: group.CurrentCaseTargetIssues,
	})
	finish(err)
	if err != nil {
		s.emitCollaboratorFailure(ctx, sessionID, groupID, err)
		return session.Evaluation{}, err
	}

	// The target-set filter is enforced here as well as in the adapter, so
	// no Collaborator implementation can write out-of-set tags into state.
	eval := session.Evaluation{
		Success:        result.Success,
		Score:          result.Score,
		Feedback:       result.Feedback,
		DetectedIssues: filterToTargets(result.DetectedIssues, group.CurrentCaseTargetIssues),
	}
	next, err := session.SetDraftReport(snap.Session, groupID, report)
	if err != nil {
		return session.Evaluation{}, err
	}
	next, err = session.CompleteEvaluation(next, groupID, eval)
	if err != nil {
		return session.Evaluation{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Evaluation{}, err
	}
	s.emit(ctx, telemetry.EventReportSubmitted, sessionID, groupID, "", map[string]any{
		"score":   eval.Score,
		"success": eval.Success,
	})
	return eval, nil
}

// AdvanceRound archives the finished case and opens the next one from the
// catalog. Advancing past the last case fails with GROUP_NO_MORE_CASES.
func (s *Service) AdvanceRound(ctx context.Context, sessionID, groupID string) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	group, ok := snap.Session.GroupByID(groupID)
	if !ok {
		return session.Session{}, session.ErrGroupNotFound
	}
	if group.CurrentCaseIndex+1 >= s.catalog.Len() {
		return session.Session{}, apperrors.New(apperrors.CodeGroupNoMoreCases, "the scenario catalog has no more cases")
	}
	finished, ok := s.catalog.At(group.CurrentCaseIndex)
	if !ok {
		return session.Session{}, apperrors.New(apperrors.CodeGroupNoMoreCases, "case index is outside the scenario catalog")
	}

	next, err := session.AdvanceRound(snap.Session, groupID, finished.Title)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventRoundAdvanced, sessionID, groupID, "", map[string]any{
		"case_index": group.CurrentCaseIndex + 1,
	})
	return next, nil
}

// filterToTargets drops detected tags outside the round's answer key and
// deduplicates the rest, preserving first-seen order.
func filterToTargets(detected, targets []issue.Tag) []issue.Tag {
	allowed := make(map[issue.Tag]bool, len(targets))
	for _, tag := range targets {
		allowed[tag] = true
	}
	kept := make([]issue.Tag, 0, len(detected))
	for _, tag := range detected {
		if allowed[tag] {
			kept = append(kept, tag)
			delete(allowed, tag)
		}
	}
	return kept
}

func (s *Service) emitCollaboratorFailure(ctx context.Context, sessionID, groupID string, cause error) {
	_ = s.emitter.Emit(ctx, storage.TelemetryEvent{
		EventName: telemetry.EventCollaboratorDown,
		Severity:  string(telemetry.SeverityError),
		SessionID: sessionID,
		GroupID:   groupID,
		Attributes: map[string]any{
			"error": cause.Error(),
		},
	})
}
