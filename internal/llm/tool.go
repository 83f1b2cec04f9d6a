package llm

import (
	"context"
	"fmt"
	"strings"
)

// Tool is one structured provider exchange: it validates its input, renders
// a request, and parses the completion text into O.
type Tool[I, O any] interface {
	ToolName() string
	ValidateInput(in I) error
	BuildPrompt(in I) Request
	ParseResponse(text string) (O, error)
}

// RunTool executes t against c. Completion failures are returned wrapped;
// unparseable text surfaces as a *ParseError from the tool.
func RunTool[I, O any](ctx context.Context, c Completer, t Tool[I, O], in I) (O, error) {
	var zero O
	if c == nil {
		return zero, ErrProviderUnavailable
	}
	if err := t.ValidateInput(in); err != nil {
		return zero, fmt.Errorf("%s: %w", t.ToolName(), err)
	}
	resp, err := c.GenerateCompletion(ctx, t.BuildPrompt(in))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", t.ToolName(), err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return zero, &ParseError{Tool: t.ToolName()}
	}
	return t.ParseResponse(resp.Text)
}
