package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/pkg/models"
)

// Provider call parameters.
const (
	scoreTemperature   = 0.2
	enhanceTemperature = 0.5
	goalTemperature    = 0.2
	scoreMaxTokens     = 800
	enhanceMaxTokens   = 1500
	goalMaxTokens      = 300
	maxSuggestions     = 5
	maxGoalLength      = 120
)

// Input is the common input of the analysis tools.
type Input struct {
	Text      string
	Context   string
	Intensity Intensity
}

func validateInput(in Input) error {
	return Validate(in.Text)
}

// ScoreResult is the parsed scorer output.
type ScoreResult struct {
	Legacy      models.LegacyScores
	Breakdown   models.ScoreBreakdown
	Explanation string
	Suggestions []string
}

type scoreTool struct{}

func (scoreTool) ToolName() string { return "prompt-scorer" }
func (scoreTool) ValidateInput(in Input) error { return validateInput(in) }
func (scoreTool) BuildPrompt(in Input) llm.Request {
	return llm.Request{
		Prompt:       buildScorePrompt(in.Text, in.Context),
		SystemPrompt: scoreSystemPrompt,
		Temperature:  scoreTemperature,
		MaxTokens:    scoreMaxTokens,
	}
}

func (t scoreTool) ParseResponse(text string) (ScoreResult, error) {
	var raw struct {
		Clarity       *float64 `json:"clarity"`
		Specificity   *float64 `json:"specificity"`
		Context       *float64 `json:"context"`
		Actionability *float64 `json:"actionability"`
		Explanation   string   `json:"explanation"`
		Suggestions   []string `json:"suggestions"`
	}
	if err := llm.DecodeObject(t.ToolName(), text, &raw); err != nil {
		return ScoreResult{}, err
	}

	dims := map[string]*float64{
		"clarity": raw.Clarity, "specificity": raw.Specificity,
		"context": raw.Context, "actionability": raw.Actionability,
	}
	vals := map[string]int{}
	for name, v := range dims {
		if v == nil {
			return ScoreResult{}, &llm.ParseError{Tool: t.ToolName(), Raw: text, Err: fmt.Errorf("missing %s", name)}
		}
		if math.IsNaN(*v) || *v < 0 || *v > 10 {
			return ScoreResult{}, &llm.ParseError{Tool: t.ToolName(), Raw: text, Err: fmt.Errorf("%s out of range: %v", name, *v)}
		}
		vals[name] = int(math.Round(*v))
	}

	legacy := models.LegacyScores{
		Clarity:       vals["clarity"],
		Specificity:   vals["specificity"],
		Context:       vals["context"],
		Actionability: vals["actionability"],
	}
	return ScoreResult{
		Legacy:      legacy,
		Breakdown:   models.FromLegacy(legacy),
		Explanation: strings.TrimSpace(raw.Explanation),
		Suggestions: cleanList(raw.Suggestions, maxSuggestions),
	}, nil
}

// EnhanceResult is the parsed enhancer output.
type EnhanceResult struct {
	Enhanced     string
	Improvements []string
}

type enhanceTool struct{}

func (enhanceTool) ToolName() string { return "prompt-enhancer" }
func (enhanceTool) ValidateInput(in Input) error { return validateInput(in) }
func (enhanceTool) BuildPrompt(in Input) llm.Request {
	return llm.Request{
		Prompt:       buildEnhancePrompt(in.Text, in.Context, ParseIntensity(string(in.Intensity))),
		SystemPrompt: enhanceSystemPrompt,
		Temperature:  enhanceTemperature,
		MaxTokens:    enhanceMaxTokens,
	}
}

func (t enhanceTool) ParseResponse(text string) (EnhanceResult, error) {
	var raw struct {
		Enhanced     string   `json:"enhanced"`
		Improvements []string `json:"improvements"`
	}
	if err := llm.DecodeObject(t.ToolName(), text, &raw); err != nil {
		return EnhanceResult{}, err
	}
	enhanced := strings.TrimSpace(raw.Enhanced)
	if enhanced == "" {
		return EnhanceResult{}, &llm.ParseError{Tool: t.ToolName(), Raw: text, Err: errors.New("empty enhanced prompt")}
	}
	return EnhanceResult{
		Enhanced:     models.Clamp(enhanced, MaxPromptLength),
		Improvements: cleanList(raw.Improvements, maxSuggestions),
	}, nil
}

type goalTool struct{}

func (goalTool) ToolName() string { return "goal-inference" }
func (goalTool) ValidateInput(in Input) error { return validateInput(in) }
func (goalTool) BuildPrompt(in Input) llm.Request {
	return llm.Request{
		Prompt:       buildGoalPrompt(in.Text, in.Context),
		SystemPrompt: goalSystemPrompt,
		Temperature:  goalTemperature,
		MaxTokens:    goalMaxTokens,
	}
}

func (t goalTool) ParseResponse(text string) (models.GoalInference, error) {
	var g models.GoalInference
	if err := llm.DecodeObject(t.ToolName(), text, &g); err != nil {
		return g, err
	}
	g.SuggestedGoal = models.TruncateText(strings.TrimSpace(g.SuggestedGoal), maxGoalLength)
	if g.SuggestedGoal == "" {
		return g, &llm.ParseError{Tool: t.ToolName(), Raw: text, Err: errors.New("empty goal")}
	}
	g.Confidence = math.Max(0, math.Min(1, g.Confidence))
	return g, nil
}

func cleanList(in []string, limit int) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}
