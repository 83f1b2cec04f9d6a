package coaching

import (
	"fmt"
	"strings"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/pkg/models"
)

// Context caps in runes.
const (
	MaxResponseChars        = 3000
	MaxPromptChars          = 500
	MaxFirstPromptChars     = 500
	MaxHistoryPromptChars   = 400
	MaxHistoryResponseChars = 600
	HistoryInteractions     = 3
)

const systemPrompt = `You are a senior engineer pairing with a developer who works with an AI coding agent.
After each agent response you suggest what the developer should ask the agent to do next.

Hard rules:
- No generic advice. Every suggestion must reference specific files, functions, or behavior from the context.
- Tie suggestions to the session goal when one is set.
- The suggestedPrompt must be ready to paste into the agent as-is.
- Return ONLY a JSON array. No prose before or after it.`

// Interaction is a clamped history entry.
type Interaction struct {
	Prompt        string
	Response      string
	FilesModified []string
}

// Context is everything the coaching prompt is rendered from.
type Context struct {
	Analysis     models.ResponseAnalysis
	Response     string
	Prompt       string
	Goal         string
	FirstPrompt  string
	GoalProgress *int
	TechStack    []string
	History      []Interaction
	Snippets     []contextbuilder.Snippet
}

func buildPrompt(c Context) string {
	var sb strings.Builder

	sb.WriteString("<coaching_context>\n")
	fmt.Fprintf(&sb, "<response outcome=%q>\n%s\n</response>\n", c.Analysis.Outcome, models.TruncateText(c.Response, MaxResponseChars))
	if c.Analysis.Summary != "" {
		fmt.Fprintf(&sb, "<response_summary>%s</response_summary>\n", c.Analysis.Summary)
	}
	if c.Prompt != "" {
		fmt.Fprintf(&sb, "<triggering_prompt>\n%s\n</triggering_prompt>\n", models.TruncateText(c.Prompt, MaxPromptChars))
	}
	if c.Goal != "" {
		if c.GoalProgress != nil {
			fmt.Fprintf(&sb, "<session_goal progress=\"%d%%\">%s</session_goal>\n", *c.GoalProgress, c.Goal)
		} else {
			fmt.Fprintf(&sb, "<session_goal>%s</session_goal>\n", c.Goal)
		}
	}
	if len(c.TechStack) > 0 {
		fmt.Fprintf(&sb, "<tech_stack>%s</tech_stack>\n", strings.Join(c.TechStack, ", "))
	}
	if len(c.Analysis.Topics) > 0 {
		fmt.Fprintf(&sb, "<recent_topics>%s</recent_topics>\n", strings.Join(c.Analysis.Topics, ", "))
	}
	if len(c.Analysis.FilesModified) > 0 {
		fmt.Fprintf(&sb, "<files_modified>%s</files_modified>\n", strings.Join(c.Analysis.FilesModified, ", "))
	}
	if len(c.Analysis.ToolsUsed) > 0 {
		fmt.Fprintf(&sb, "<tools_used>%s</tools_used>\n", strings.Join(c.Analysis.ToolsUsed, ", "))
	}
	if c.FirstPrompt != "" {
		fmt.Fprintf(&sb, "<first_prompt>\n%s\n</first_prompt>\n", models.TruncateText(c.FirstPrompt, MaxFirstPromptChars))
	}
	if len(c.History) > 0 {
		sb.WriteString("<recent_interactions>\n")
		for _, it := range c.History {
			sb.WriteString("<interaction>\n")
			fmt.Fprintf(&sb, "<prompt>%s</prompt>\n", it.Prompt)
			if it.Response != "" {
				fmt.Fprintf(&sb, "<response>%s</response>\n", it.Response)
			}
			if len(it.FilesModified) > 0 {
				fmt.Fprintf(&sb, "<files_modified>%s</files_modified>\n", strings.Join(it.FilesModified, ", "))
			}
			sb.WriteString("</interaction>\n")
		}
		sb.WriteString("</recent_interactions>\n")
	}
	if len(c.Snippets) > 0 {
		sb.WriteString("<code_snippets>\n")
		for _, s := range c.Snippets {
			fmt.Fprintf(&sb, "<snippet path=%q>\n%s\n</snippet>\n", s.Path, s.Content)
		}
		sb.WriteString("</code_snippets>\n")
	}
	sb.WriteString("</coaching_context>\n\n")

	sb.WriteString(`Suggest 1 to 3 next steps. Return ONLY a JSON array:
[{"type": "follow_up|test|error_prevention|documentation|refactor|goal_alignment|celebration", "title": "<under 100 chars>", "description": "<under 300 chars>", "suggestedPrompt": "<prompt to send>", "reasoning": "<why now>", "confidence": <0.0-1.0>}]
`)
	return sb.String()
}
