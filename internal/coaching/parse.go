package coaching

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/pkg/models"
	"github.com/thebtf/devark/pkg/similarity"
)

const (
	toolName           = "coaching"
	defaultConfidence  = 0.5
	fallbackConfidence = 0.5
)

type rawSuggestion struct {
	Confidence      *float64 `json:"confidence"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	SuggestedPrompt string   `json:"suggestedPrompt"`
	Reasoning       string   `json:"reasoning"`
}

// parseSuggestions decodes the first JSON array in text, normalizes each
// entry, drops low-confidence and near-duplicate entries, and caps the list.
func parseSuggestions(text string, minConfidence float64, limit int) ([]models.CoachingSuggestion, error) {
	var raw []rawSuggestion
	if err := llm.DecodeArray(toolName, text, &raw); err != nil {
		return nil, err
	}

	out := make([]models.CoachingSuggestion, 0, len(raw))
	for _, r := range raw {
		s := normalize(r)
		if s.Title == "" && s.SuggestedPrompt == "" {
			continue
		}
		if s.Confidence < minConfidence {
			continue
		}
		out = append(out, s)
	}
	out = similarity.DedupeSuggestions(out, similarity.DefaultThreshold)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func normalize(r rawSuggestion) models.CoachingSuggestion {
	conf := defaultConfidence
	if r.Confidence != nil && !math.IsNaN(*r.Confidence) {
		conf = math.Max(0, math.Min(1, *r.Confidence))
	}
	return models.CoachingSuggestion{
		ID:              uuid.NewString(),
		Type:            models.CoerceSuggestionType(strings.TrimSpace(r.Type)),
		Title:           models.TruncateText(strings.TrimSpace(r.Title), models.MaxSuggestionTitle),
		Description:     models.TruncateText(strings.TrimSpace(r.Description), models.MaxSuggestionDescription),
		SuggestedPrompt: models.TruncateText(strings.TrimSpace(r.SuggestedPrompt), models.MaxSuggestionPrompt),
		Reasoning:       models.TruncateText(strings.TrimSpace(r.Reasoning), models.MaxSuggestionReasoning),
		Confidence:      conf,
	}
}

// fallbackSuggestions builds a deterministic list from the response analysis.
func fallbackSuggestions(a models.ResponseAnalysis, limit int) []models.CoachingSuggestion {
	var out []models.CoachingSuggestion
	add := func(t models.SuggestionType, title, desc, prompt, reasoning string) {
		out = append(out, models.CoachingSuggestion{
			ID:              uuid.NewString(),
			Type:            t,
			Title:           title,
			Description:     desc,
			SuggestedPrompt: models.TruncateText(prompt, models.MaxSuggestionPrompt),
			Reasoning:       reasoning,
			Confidence:      fallbackConfidence,
		})
	}

	if n := len(a.FilesModified); n > 0 {
		files := strings.Join(a.FilesModified, ", ")
		title := fmt.Sprintf("Add tests for %s", filepath.Base(a.FilesModified[0]))
		if n > 1 {
			title = fmt.Sprintf("Add tests for the %d changed files", n)
		}
		add(models.SuggestionTest, title,
			"Cover the code that was just changed before moving on.",
			fmt.Sprintf("Write tests that cover the changes you just made in %s, including edge cases.", files),
			"Files were modified without accompanying tests.")
	}
	if hasTopic(a.Topics, TopicBugFix) {
		add(models.SuggestionErrorPrevention, "Verify the fix",
			"Reproduce the original failure and confirm it no longer happens.",
			"Add a regression test that reproduces the original bug, then run it to confirm the fix works.",
			"Bug fixes regress without a test that pins the behavior.")
	}
	if a.Outcome == models.OutcomeSuccess {
		add(models.SuggestionDocumentation, "Document the change",
			"Record what changed and why while it is fresh.",
			"Update the relevant documentation or README to describe the change you just made.",
			"The task completed successfully.")
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasTopic(topics []string, want string) bool {
	for _, t := range topics {
		if t == want {
			return true
		}
	}
	return false
}
