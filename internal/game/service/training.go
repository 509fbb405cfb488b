package service

import (
	"context"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/scoring"
	"github.com/louisbranch/chartdetectives/internal/game/session"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/telemetry"
)

// MarkLearned records that a participant finished the study material for an
// assigned tag. No judging is involved at this stage.
func (s *Service) MarkLearned(ctx context.Context, sessionID, groupID, identity string, tag issue.Tag) (session.Session, error) {
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.MarkLearned(snap.Session, groupID, identity, tag)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return session.Session{}, err
	}
	s.emit(ctx, telemetry.EventTrainingAdvanced, sessionID, groupID, identity, map[string]any{
		"tag":   string(tag),
		"stage": string(issue.StageLearned),
	})
	return next, nil
}

// SubmitPractice judges an identification answer and, when correct, advances
// the participant's stage for the tag. A wrong answer returns the judge's
// feedback without touching state; stage-order violations are rejected
// before any model call is spent.
func (s *Service) SubmitPractice(ctx context.Context, sessionID, groupID, identity string, tag issue.Tag, answer string) (scoring.JudgeResult, error) {
	if s.collaborator == nil {
		return scoring.JudgeResult{}, apperrors.New(apperrors.CodeCollaboratorUnavailable, "no collaborator configured")
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return scoring.JudgeResult{}, err
	}
	next, err := session.MarkPracticed(snap.Session, groupID, identity, tag)
	if err != nil {
		return scoring.JudgeResult{}, err
	}

	cctx, finish := s.startCollaboratorSpan(ctx, "judge_practice", sessionID, groupID)
	result, err := s.collaborator.Judge(cctx, scoring.JudgeInput{
		Tag:    tag,
		Stage:  scoring.JudgeStagePractice,
		Answer: answer,
	})
	finish(err)
	if err != nil {
		s.emitCollaboratorFailure(ctx, sessionID, groupID, err)
		return scoring.JudgeResult{}, err
	}
	if !result.Correct {
		return result, nil
	}

	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return scoring.JudgeResult{}, err
	}
	s.emit(ctx, telemetry.EventTrainingAdvanced, sessionID, groupID, identity, map[string]any{
		"tag":   string(tag),
		"stage": string(issue.StagePracticed),
	})
	return result, nil
}

// SubmitAnalysis judges a deep-analysis answer pair and, when correct,
// completes training for the tag, archiving the answer verbatim.
func (s *Service) SubmitAnalysis(ctx context.Context, sessionID, groupID, identity string, tag issue.Tag, answer, impactAnswer string) (scoring.JudgeResult, error) {
	if s.collaborator == nil {
		return scoring.JudgeResult{}, apperrors.New(apperrors.CodeCollaboratorUnavailable, "no collaborator configured")
	}
	snap, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return scoring.JudgeResult{}, err
	}
	next, err := session.MarkAnalyzed(snap.Session, groupID, identity, tag, answer)
	if err != nil {
		return scoring.JudgeResult{}, err
	}

	cctx, finish := s.startCollaboratorSpan(ctx, "judge_analysis", sessionID, groupID)
	result, err := s.collaborator.Judge(cctx, scoring.JudgeInput{
		Tag:          tag,
		Stage:        scoring.JudgeStageAnalysis,
		Answer:       answer,
		ImpactAnswer: impactAnswer,
	})
	finish(err)
	if err != nil {
		s.emitCollaboratorFailure(ctx, sessionID, groupID, err)
		return scoring.JudgeResult{}, err
	}
	if !result.Correct {
		return result, nil
	}

	if err := s.replace(ctx, sessionID, next, snap.Version); err != nil {
		return scoring.JudgeResult{}, err
	}
	s.emit(ctx, telemetry.EventTrainingAdvanced, sessionID, groupID, identity, map[string]any{
		"tag":   string(tag),
		"stage": string(issue.StageAnalyzed),
	})
	return result, nil
}
