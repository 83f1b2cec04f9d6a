// Package analysis scores and enhances prompts through the provider layer.
package analysis

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prompt length limits.
const (
	MinPromptLength = 3
	MaxPromptLength = 10000
)

// Validation errors. Their messages are shown to the user verbatim.
var (
	ErrEmptyPrompt    = errors.New("Prompt is empty or contains only whitespace")
	ErrPromptTooShort = fmt.Errorf("Prompt is too short to analyze (minimum %d characters)", MinPromptLength)
	ErrPromptTooLong  = fmt.Errorf("Prompt exceeds maximum length of %d characters", MaxPromptLength)
)

// Validate checks that text is analyzable.
func Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n == 0:
		return ErrEmptyPrompt
	case n < MinPromptLength:
		return ErrPromptTooShort
	case utf8.RuneCountInString(text) > MaxPromptLength:
		return ErrPromptTooLong
	}
	return nil
}
