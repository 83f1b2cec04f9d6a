// Package privacy strips private, injected, and source-code content from
// text before it leaves the machine.
package privacy

import (
	"regexp"
	"strings"
)

// Replacement markers.
const (
	CodeBlockMarker  = "[code block removed]"
	InlineCodeMarker = "[code]"
	SecretMarker     = "[redacted]"
	PathMarker       = "[path]"
)

var (
	// privateTagRegex matches <private>...</private> tags
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// injectedTagRegexes match context blocks that agent tools inject into prompts
	injectedTagRegexes = tagRegexes("system-reminder", "command-name", "command-message", "command-args", "local-command-stdout", "context")

	fencedCodeRegex = regexp.MustCompile("(?s)```.*?(```|$)")
	inlineCodeRegex = regexp.MustCompile("`[^`\n]+`")

	secretRegexes = []*regexp.Regexp{
		regexp.MustCompile(`\b(sk|pk|rk)-[A-Za-z0-9_-]{16,}\b`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{30,}\b`),
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
		regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key)\s*[:=]\s*\S+`),
	}

	absPathRegex = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[\w.-]+[/\\])+[\w.-]+`)
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripInjectedTags removes tool-injected context blocks.
func StripInjectedTags(text string) string {
	for _, re := range injectedTagRegexes {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

func tagRegexes(tags ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(tags))
	for _, t := range tags {
		out = append(out, regexp.MustCompile(`(?s)<`+t+`>.*?</`+t+`>`))
	}
	return out
}

// StripAllTags removes both private and injected context tags.
func StripAllTags(text string) string {
	text = StripPrivateTags(text)
	text = StripInjectedTags(text)
	return text
}

// StripCode replaces fenced code blocks and inline code spans.
func StripCode(text string) string {
	text = fencedCodeRegex.ReplaceAllString(text, CodeBlockMarker)
	return inlineCodeRegex.ReplaceAllString(text, InlineCodeMarker)
}

// RedactSecrets replaces credential-looking tokens.
func RedactSecrets(text string) string {
	for _, re := range secretRegexes {
		text = re.ReplaceAllString(text, SecretMarker)
	}
	return text
}

// RedactPaths replaces absolute file system paths.
func RedactPaths(text string) string {
	return absPathRegex.ReplaceAllString(text, PathMarker)
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean performs full privacy cleaning on text.
// This is the function to use before uploading any user content.
func Clean(text string) string {
	text = StripAllTags(text)
	text = StripCode(text)
	text = RedactSecrets(text)
	text = RedactPaths(text)
	return strings.TrimSpace(text)
}
