package analysis

import (
	"fmt"
	"strings"
)

// Intensity selects how far the enhancer may rewrite a prompt.
type Intensity string

const (
	IntensityLight      Intensity = "light"
	IntensityMedium     Intensity = "medium"
	IntensityAggressive Intensity = "aggressive"
)

// ParseIntensity maps unknown values to medium.
func ParseIntensity(s string) Intensity {
	switch Intensity(strings.ToLower(strings.TrimSpace(s))) {
	case IntensityLight:
		return IntensityLight
	case IntensityAggressive:
		return IntensityAggressive
	default:
		return IntensityMedium
	}
}

const scoreSystemPrompt = `You are an expert reviewer of prompts written for AI coding assistants.
You grade how well a prompt will let an assistant do the right thing on the first try.
Respond with a single JSON object and nothing else.`

const enhanceSystemPrompt = `You rewrite prompts for AI coding assistants so they are clearer and more actionable.
Keep the author's intent and voice. Never invent requirements, files, or APIs that are not implied.
Respond with a single JSON object and nothing else.`

const goalSystemPrompt = `You infer the goal of a coding session from its first prompt.
Respond with a single JSON object and nothing else.`

var intensityGuide = map[Intensity]string{
	IntensityLight:      "Make minimal edits: fix ambiguity and add at most one missing detail.",
	IntensityMedium:     "Restructure where useful: state the goal, the relevant files or components, and the expected result.",
	IntensityAggressive: "Rewrite fully: add explicit context, constraints, acceptance criteria, and a step-by-step request.",
}

// buildScorePrompt renders the scoring request.
func buildScorePrompt(text, context string) string {
	var sb strings.Builder
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("<prompt_to_score>\n")
	sb.WriteString(text)
	sb.WriteString("\n</prompt_to_score>\n\n")
	sb.WriteString(`Score the prompt on four dimensions, each an integer from 0 to 10:
- clarity: is the intent unambiguous?
- specificity: does it name concrete files, functions, errors, or values?
- context: does it give the background the assistant needs?
- actionability: can the assistant act on it immediately?

Return exactly:
{"clarity": <0-10>, "specificity": <0-10>, "context": <0-10>, "actionability": <0-10>, "explanation": "<one or two sentences>", "suggestions": ["<short improvement>", "..."]}
`)
	return sb.String()
}

// buildEnhancePrompt renders the enhancement request at the given intensity.
func buildEnhancePrompt(text, context string, intensity Intensity) string {
	var sb strings.Builder
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("<original_prompt>\n")
	sb.WriteString(text)
	sb.WriteString("\n</original_prompt>\n\n")
	sb.WriteString(fmt.Sprintf("<intensity level=%q>%s</intensity>\n\n", intensity, intensityGuide[intensity]))
	sb.WriteString(`Return exactly:
{"enhanced": "<the improved prompt>", "improvements": ["<what changed>", "..."]}
`)
	return sb.String()
}

// buildGoalPrompt renders the goal-inference request.
func buildGoalPrompt(text, context string) string {
	var sb strings.Builder
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("<first_prompt>\n")
	sb.WriteString(text)
	sb.WriteString("\n</first_prompt>\n\n")
	sb.WriteString(`Infer what the developer is trying to accomplish in this session.
Return exactly:
{"suggestedGoal": "<goal in under 12 words>", "detectedTheme": "<one of: feature, bugfix, refactor, testing, docs, setup, exploration>", "confidence": <0.0-1.0>}
`)
	return sb.String()
}
