// Package similarity provides text similarity and de-duplication utilities.
package similarity

import (
	"strings"

	"github.com/thebtf/devark/pkg/models"
)

// DefaultThreshold is the Jaccard similarity at which two suggestions are duplicates.
const DefaultThreshold = 0.8

// DedupeSuggestions drops suggestions whose title and prompt terms are at
// least threshold similar to an earlier suggestion. Order is preserved; the
// first of each cluster is kept.
func DedupeSuggestions(suggestions []models.CoachingSuggestion, threshold float64) []models.CoachingSuggestion {
	if len(suggestions) <= 1 {
		return suggestions
	}

	termSets := make([]map[string]bool, len(suggestions))
	for i, s := range suggestions {
		termSets[i] = SuggestionTerms(s)
	}

	clustered := make([]bool, len(suggestions))
	result := make([]models.CoachingSuggestion, 0, len(suggestions))
	for i := range suggestions {
		if clustered[i] {
			continue
		}
		result = append(result, suggestions[i])
		clustered[i] = true

		for j := i + 1; j < len(suggestions); j++ {
			if !clustered[j] && JaccardSimilarity(termSets[i], termSets[j]) >= threshold {
				clustered[j] = true
			}
		}
	}
	return result
}

// IsSimilarToAny reports whether s is at least threshold similar to any of existing.
func IsSimilarToAny(s models.CoachingSuggestion, existing []models.CoachingSuggestion, threshold float64) bool {
	terms := SuggestionTerms(s)
	if len(terms) == 0 {
		return false
	}
	for _, e := range existing {
		if JaccardSimilarity(terms, SuggestionTerms(e)) >= threshold {
			return true
		}
	}
	return false
}

// SuggestionTerms extracts the comparable terms of a suggestion.
func SuggestionTerms(s models.CoachingSuggestion) map[string]bool {
	terms := make(map[string]bool)
	addTerms(terms, s.Title)
	addTerms(terms, s.SuggestedPrompt)
	return terms
}

// Terms tokenizes free text into a term set.
func Terms(text string) map[string]bool {
	terms := make(map[string]bool)
	addTerms(terms, text)
	return terms
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true, "you": true, "your": true,
}

// addTerms splits on non-alphanumerics and keeps words of three or more characters.
func addTerms(terms map[string]bool, text string) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})
	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms[word] = true
		}
	}
}

// JaccardSimilarity calculates the Jaccard similarity between two term sets.
// Returns a value between 0 (no overlap) and 1 (identical).
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
