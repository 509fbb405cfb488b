package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
)

// OpenAIConfig configures the OpenAI-compatible responses endpoint.
type OpenAIConfig struct {
	ResponsesURL     string
	Model            string
	CredentialSecret string
	HTTPClient       *http.Client
}

// OpenAICollaborator talks to an OpenAI-compatible responses endpoint.
type OpenAICollaborator struct {
	cfg OpenAIConfig
}

// NewOpenAICollaborator builds a collaborator backed by an HTTP model endpoint.
func NewOpenAICollaborator(cfg OpenAIConfig) (*OpenAICollaborator, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(cfg.CredentialSecret) == "" {
		return nil, fmt.Errorf("credential secret is required")
	}
	return &OpenAICollaborator{cfg: cfg}, nil
}

// DraftReport composes an inspection report from the group's annotations.
func (c *OpenAICollaborator) DraftReport(ctx context.Context, input DraftInput) (string, error) {
	output, err := c.invoke(ctx, buildDraftPrompt(input))
	if err != nil {
		return "", err
	}
	return output, nil
}

// Evaluate scores a submitted report against the round's target issues.
// Tags the model hallucinates outside the target set are dropped.
func (c *OpenAICollaborator) Evaluate(ctx context.Context, input EvaluateInput) (EvaluationResult, error) {
	output, err := c.invoke(ctx, buildEvaluatePrompt(input))
	if err != nil {
		return EvaluationResult{}, err
	}

	var payload struct {
		Success        bool     `json:"success"`
		Score          int      `json:"score"`
		Feedback       string   `json:"feedback"`
		DetectedIssues []string `json:"detectedIssues"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(output)), &payload); err != nil {
		return EvaluationResult{}, apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "decode evaluation payload", err)
	}

	score := payload.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	targets := make(map[issue.Tag]bool, len(input.TargetIssues))
	for _, tag := range input.TargetIssues {
		targets[tag] = true
	}
	detected := make([]issue.Tag, 0, len(payload.DetectedIssues))
	for _, raw := range payload.DetectedIssues {
		tag := issue.Tag(strings.TrimSpace(raw))
		if targets[tag] {
			detected = append(detected, tag)
			delete(targets, tag)
		}
	}

	return EvaluationResult{
		Success:        payload.Success,
		Score:          score,
		Feedback:       payload.Feedback,
		DetectedIssues: detected,
	}, nil
}

// Judge grades one participant training answer.
func (c *OpenAICollaborator) Judge(ctx context.Context, input JudgeInput) (JudgeResult, error) {
	output, err := c.invoke(ctx, buildJudgePrompt(input))
	if err != nil {
		return JudgeResult{}, err
	}

	var payload struct {
		Correct  bool   `json:"correct"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(output)), &payload); err != nil {
		return JudgeResult{}, apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "decode judge payload", err)
	}
	return JudgeResult{Correct: payload.Correct, Feedback: payload.Feedback}, nil
}

func (c *OpenAICollaborator) invoke(ctx context.Context, prompt string) (string, error) {
	requestBody, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"input": prompt,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "marshal invoke request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "build invoke request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is never
	// echoed in errors or response payloads.
	req.Header.Set("Authorization", "Bearer "+c.cfg.CredentialSecret)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "invoke request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "read invoke error body", err)
		}
		return "", apperrors.New(apperrors.CodeCollaboratorUnavailable, fmt.Sprintf("invoke request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", apperrors.Wrap(apperrors.CodeCollaboratorUnavailable, "decode invoke response", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return "", apperrors.New(apperrors.CodeCollaboratorUnavailable, "invoke response missing output text")
	}
	return outputText, nil
}

// stripCodeFence unwraps a markdown-fenced JSON block some models emit even
// when asked for bare JSON.
func stripCodeFence(output string) string {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

var _ Collaborator = (*OpenAICollaborator)(nil)
