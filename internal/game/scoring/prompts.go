package scoring

import (
	"fmt"
	"strings"

	"github.com/louisbranch/chartdetectives/internal/game/scenario"
)

// Report prose is anchored by fixed opening and closing sentences so drafts
// from different model versions stay comparable across sessions.
const reportIntroSentence = "The detectives have executed an inspection on this case, and the results are as follows."

func reportConclusionSentence(label string) string {
	return fmt.Sprintf("Therefore, this %s report, which is based on a graph containing misleading elements, is a misled report.", label)
}

func contextLabel(c scenario.Context) string {
	if c == scenario.ContextPolicy {
		return "Policy"
	}
	return "Marketing"
}

func buildDraftPrompt(input DraftInput) string {
	var notes strings.Builder
	for _, a := range input.Annotations {
		fmt.Fprintf(&notes, "- Issue found: %s -> Misunderstanding caused: %s\n", a.Reason, a.Impact)
	}
	label := contextLabel(input.Context)

	var b strings.Builder
	b.WriteString("You are an automated report generator for a detective agency.\n\n")
	b.WriteString("Data Source (Detective Notes):\n")
	b.WriteString(notes.String())
	b.WriteString("\nCase Type: ")
	b.WriteString(label)
	b.WriteString("\n\nInstructions:\n")
	fmt.Fprintf(&b, "1. Introduction: Strictly start with exactly this sentence: %q\n", reportIntroSentence)
	b.WriteString("2. Body: Summarize the notes into a concise paragraph describing the misleading components found and their specific impact on interpretation. Keep it brief.\n")
	fmt.Fprintf(&b, "3. Conclusion: Strictly end with exactly this sentence: %q\n", reportConclusionSentence(label))
	return b.String()
}

func buildEvaluatePrompt(input EvaluateInput) string {
	targets := make([]string, 0, len(input.TargetIssues))
	for _, tag := range input.TargetIssues {
		targets = append(targets, string(tag))
	}

	var b strings.Builder
	b.WriteString("You are a Game Evaluator.\n")
	fmt.Fprintf(&b, "Target Issues (Ground Truth): %s.\n\n", strings.Join(targets, ", "))
	fmt.Fprintf(&b, "Submitted Inspection Report: %q\n\n", input.Report)
	b.WriteString("Task:\n")
	b.WriteString("1. Determine if the report correctly identifies the Target Issues.\n")
	b.WriteString("2. List exactly which of the Target Issues provided above were correctly identified in the report. Return them as an array of strings in 'detectedIssues'.\n")
	b.WriteString("3. Provide a score from 0 to 100 based on accuracy and depth.\n")
	b.WriteString("4. Provide brief feedback (max 2 sentences).\n\n")
	b.WriteString(`Return only JSON: { "success": boolean, "score": integer, "feedback": string, "detectedIssues": [string] }`)
	return b.String()
}

func buildJudgePrompt(input JudgeInput) string {
	var b strings.Builder
	if input.Stage == JudgeStageAnalysis {
		fmt.Fprintf(&b, "Context: User is analyzing %q (Deep Analysis).\n", string(input.Tag))
		fmt.Fprintf(&b, "User's Answer for \"What is misleading?\": %q\n", input.Answer)
		fmt.Fprintf(&b, "User's Answer for \"What is the misinterpretation?\": %q\n\n", input.ImpactAnswer)
		b.WriteString("Task:\n")
		fmt.Fprintf(&b, "1. Determine if the user correctly identified %q AND understood the specific misinterpretation it causes in this context.\n", string(input.Tag))
		b.WriteString("2. Provide feedback.\n\n")
	} else {
		fmt.Fprintf(&b, "Context: User is learning to spot %q in charts (Identification).\n", string(input.Tag))
		fmt.Fprintf(&b, "User's Answer for \"What is misleading?\": %q\n\n", input.Answer)
		b.WriteString("Task:\n")
		fmt.Fprintf(&b, "1. Determine if the user correctly identified %q.\n", string(input.Tag))
		b.WriteString("2. Provide feedback. If correct, briefly explain WHY this component is misleading. If wrong, give a hint.\n\n")
	}
	b.WriteString(`Return only JSON: { "correct": boolean, "feedback": string }`)
	return b.String()
}
