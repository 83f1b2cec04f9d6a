package analysis

import (
	"regexp"
	"strings"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/pkg/models"
)

var (
	actionVerbs = map[string]bool{
		"add": true, "fix": true, "create": true, "implement": true, "refactor": true, "remove": true,
		"delete": true, "update": true, "rename": true, "write": true, "test": true, "explain": true,
		"debug": true, "optimize": true, "migrate": true, "build": true, "change": true, "replace": true,
		"move": true, "extract": true, "convert": true, "review": true, "document": true, "make": true,
	}
	constraintWords = regexp.MustCompile(`(?i)\b(must|should|without|only|never|don't|do not|avoid|keep|ensure|exactly|at most|at least|instead)\b`)
	numberPattern   = regexp.MustCompile(`\b\d+\b`)
)

// HeuristicScore grades text without a provider from its length, question
// marks, action verbs, and technical tokens.
func HeuristicScore(text string) ScoreResult {
	words := strings.Fields(strings.ToLower(text))
	sig := contextbuilder.ExtractSignals(text)

	verbs := 0
	for _, w := range words {
		if actionVerbs[strings.Trim(w, ".,:;!?")] {
			verbs++
		}
	}
	technical := len(sig.Files) + len(sig.Entities) + len(sig.Tech)
	hasQuestion := strings.Contains(text, "?")
	numbers := len(numberPattern.FindAllString(text, -1))

	length := 0
	switch n := len(words); {
	case n >= 40:
		length = 4
	case n >= 20:
		length = 3
	case n >= 10:
		length = 2
	case n >= 5:
		length = 1
	}

	intent := 3 + min(verbs, 2)*2
	if hasQuestion {
		intent++
	}
	legacy := models.LegacyScores{
		Clarity:       models.ClampDimension(intent + length/2),
		Specificity:   models.ClampDimension(2 + min(technical, 4) + min(numbers, 2)),
		Context:       models.ClampDimension(2 + length + min(len(sig.Files), 2)),
		Actionability: models.ClampDimension(2 + min(verbs, 3)*2 + boolInt(technical > 0)),
	}
	br := models.FromLegacy(legacy)
	if c := len(constraintWords.FindAllString(text, -1)); c > 0 {
		v := br.Dimensions
		br = models.CreateScoreBreakdown(models.DimensionValues{
			Specificity:   v.Specificity.Score,
			Context:       v.Context.Score,
			Intent:        v.Intent.Score,
			Actionability: v.Actionability.Score,
			Constraints:   v.Constraints.Score + min(c, 3),
		})
	}

	var tips []string
	if len(sig.Files) == 0 {
		tips = append(tips, "Name the files or functions involved")
	}
	if verbs == 0 {
		tips = append(tips, "Start with a clear action such as fix, add, or refactor")
	}
	if length < 2 {
		tips = append(tips, "Describe the current behavior and the result you expect")
	}

	return ScoreResult{
		Legacy:      legacy,
		Breakdown:   br,
		Explanation: "Estimated locally from prompt structure; a provider gives a more accurate score.",
		Suggestions: tips,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
