// Package coaching generates next-step suggestions for agent responses.
package coaching

import (
	"regexp"
	"strings"

	"github.com/thebtf/devark/pkg/models"
)

const maxSummary = 200

var (
	partialPattern = regexp.MustCompile(`(?i)\b(i (couldn't|could not|was unable to|am unable to)|unable to|failed to|did not succeed)\b`)
	codePattern    = regexp.MustCompile("(?m)(```|^\\s*(func|def|class|const|let|var|import|package|return)\\s|=>)")
	markdownPrefix = regexp.MustCompile(`^[#>*\-\s]+`)
)

type topicRule struct {
	name    string
	pattern *regexp.Regexp
}

// TopicBugFix is the topic that triggers verification suggestions.
const TopicBugFix = "Bug Fix"

var topicRules = []topicRule{
	{TopicBugFix, regexp.MustCompile(`(?i)\b(fix(ed|es|ing)?|bug|crash(es|ed)?|regression|broken)\b`)},
	{"Testing", regexp.MustCompile(`(?i)\b(tests?|specs?|coverage|assert(ion)?s?)\b`)},
	{"Refactoring", regexp.MustCompile(`(?i)\b(refactor(ed|ing)?|clean(ed)? up|restructur(e|ed|ing)|renam(e|ed|ing))\b`)},
	{"New Feature", regexp.MustCompile(`(?i)\b(add(ed|s)?|implement(ed|s)?|creat(e|ed|es)|new feature)\b`)},
	{"Documentation", regexp.MustCompile(`(?i)\b(readme|docs?|documentation|docstrings?|comments?)\b`)},
	{"Performance", regexp.MustCompile(`(?i)\b(performance|optimi[sz](e|ed|ation)|faster|latency|caching)\b`)},
	{"Configuration", regexp.MustCompile(`(?i)\b(config(uration)?|settings|env(ironment)? var(iable)?s?)\b`)},
	{"Database", regexp.MustCompile(`(?i)\b(database|sql|migrations?|schema|query|queries)\b`)},
	{"API", regexp.MustCompile(`(?i)\b(api|endpoints?|routes?|handlers?)\b`)},
	{"Styling", regexp.MustCompile(`(?i)\b(css|styles?|styling|layout|tailwind)\b`)},
}

// AnalyzeResponse reads a response deterministically: outcome, summary,
// touched files, tools, and topics.
func AnalyzeResponse(r *models.Response) models.ResponseAnalysis {
	a := models.ResponseAnalysis{Outcome: models.OutcomeUnknown}
	if r == nil {
		return a
	}
	a.FilesModified = dedupe(r.FilesModified)
	tools := make([]string, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		tools = append(tools, tc.Name)
	}
	a.ToolsUsed = dedupe(tools)
	a.Summary = summarize(r.Response)
	a.HasCode = codePattern.MatchString(r.Response)
	a.Topics = detectTopics(r.PromptText + "\n" + r.Response)
	a.Outcome = outcome(r, a)
	return a
}

func outcome(r *models.Response, a models.ResponseAnalysis) models.Outcome {
	switch {
	case !r.Success, r.Reason == models.ReasonError, r.StopReason == models.StopError:
		return models.OutcomeError
	case r.Reason == models.ReasonCancelled, r.StopReason == models.StopAborted:
		return models.OutcomePartial
	case partialPattern.MatchString(r.Response):
		return models.OutcomePartial
	case strings.TrimSpace(r.Response) == "" && len(a.FilesModified) == 0 && len(a.ToolsUsed) == 0:
		return models.OutcomeUnknown
	}
	return models.OutcomeSuccess
}

func summarize(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(markdownPrefix.ReplaceAllString(line, ""))
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		return models.TruncateText(line, maxSummary)
	}
	return ""
}

func detectTopics(text string) []string {
	var topics []string
	for _, rule := range topicRules {
		if rule.pattern.MatchString(text) {
			topics = append(topics, rule.name)
		}
	}
	return topics
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
