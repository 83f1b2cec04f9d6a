// Package contextbuilder assembles the workspace and session context sent
// alongside a prompt to the analysis provider, under a hard time budget.
package contextbuilder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// Defaults.
const (
	DefaultTimeout      = 2 * time.Second
	HistoryInteractions = 3
	MaxHistoryPrompt    = 400
	MaxHistoryResponse  = 600
	DefaultTokenBudget  = 2000
)

// History supplies the interactions of the session the prompt belongs to.
type History interface {
	GetFirstInteractions(n int) []session.Interaction
	GetLastInteractions(n int) []session.Interaction
}

// Interaction is a clamped prompt/response pair.
type Interaction struct {
	Prompt        string   `json:"prompt"`
	Response      string   `json:"response,omitempty"`
	FilesModified []string `json:"filesModified,omitempty"`
}

// PromptContext is the best-effort context for one prompt.
type PromptContext struct {
	ProjectName       string        `json:"projectName,omitempty"`
	Signals           Signals       `json:"signals"`
	TechStack         []string      `json:"techStack,omitempty"`
	Snippets          []Snippet     `json:"snippets,omitempty"`
	FirstInteractions []Interaction `json:"firstInteractions,omitempty"`
	LastInteractions  []Interaction `json:"lastInteractions,omitempty"`
}

// Builder produces PromptContexts.
type Builder struct {
	history   History
	openFiles func() []string
	tokens    session.TokenCounter
	root      string
	timeout   time.Duration
	budget    int
	mu        sync.RWMutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistory sets the session history source.
func WithHistory(h History) Option { return func(b *Builder) { b.history = h } }

// WithOpenFiles sets the source of files the user is currently working in.
func WithOpenFiles(fn func() []string) Option { return func(b *Builder) { b.openFiles = fn } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithTokenCounter sets the counter used to enforce the render budget.
func WithTokenCounter(tc session.TokenCounter) Option { return func(b *Builder) { b.tokens = tc } }

// WithTokenBudget overrides DefaultTokenBudget.
func WithTokenBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

// New creates a builder for the workspace at root.
func New(root string, opts ...Option) *Builder {
	b := &Builder{root: root, timeout: DefaultTimeout, budget: DefaultTokenBudget}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Root returns the workspace root.
func (b *Builder) Root() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.root
}

// SetRoot changes the workspace root; the daemon follows the active session's project.
func (b *Builder) SetRoot(root string) {
	b.mu.Lock()
	b.root = root
	b.mu.Unlock()
}

// Build gathers context for prompt. It returns nil when the deadline passes
// before gathering finishes; it never fails.
func (b *Builder) Build(ctx context.Context, prompt string) *PromptContext {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	root := b.Root()
	done := make(chan *PromptContext, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("panic", fmt.Sprint(r)).Msg("Context builder failed")
				done <- nil
			}
		}()
		done <- b.gather(root, prompt)
	}()

	select {
	case pc := <-done:
		return pc
	case <-ctx.Done():
		log.Debug().Dur("timeout", b.timeout).Msg("Context gathering timed out")
		return nil
	}
}

func (b *Builder) gather(root, prompt string) *PromptContext {
	pc := &PromptContext{Signals: ExtractSignals(prompt)}
	if root != "" {
		pc.ProjectName = filepath.Base(root)
	}
	pc.TechStack = mergeUnique(pc.Signals.Tech, DetectTechStack(root))

	var open []string
	if b.openFiles != nil {
		open = b.openFiles()
	}
	pc.Snippets = collectSnippets(root, pc.Signals, open, prompt)

	if b.history != nil {
		pc.FirstInteractions = clampInteractions(b.history.GetFirstInteractions(HistoryInteractions))
		pc.LastInteractions = clampInteractions(b.history.GetLastInteractions(HistoryInteractions))
	}
	return pc
}

// TechStack returns the detected stack of the current root.
func (b *Builder) TechStack() []string {
	return DetectTechStack(b.Root())
}

func clampInteractions(in []session.Interaction) []Interaction {
	out := make([]Interaction, 0, len(in))
	for _, it := range in {
		if it.Prompt == nil {
			continue
		}
		x := Interaction{Prompt: models.TruncateText(it.Prompt.Text, MaxHistoryPrompt)}
		if it.Response != nil {
			x.Response = models.TruncateText(it.Response.Response, MaxHistoryResponse)
			x.FilesModified = it.Response.FilesModified
		}
		out = append(out, x)
	}
	return out
}

func mergeUnique(lists ...[]string) []string {
	set := newOrderedSet()
	for _, l := range lists {
		for _, v := range l {
			set.add(v)
		}
	}
	return set.items
}

// Render formats the context as tagged sections for a provider prompt.
// Snippets are dropped from the end until the estimate fits the token budget.
func (b *Builder) Render(pc *PromptContext) string {
	if pc == nil {
		return ""
	}
	snippets := pc.Snippets
	for {
		out := render(pc, snippets)
		if b.tokens == nil || len(snippets) == 0 || b.tokens.Count(out) <= b.budget {
			return out
		}
		snippets = snippets[:len(snippets)-1]
	}
}

func render(pc *PromptContext, snippets []Snippet) string {
	var sb strings.Builder
	sb.WriteString("<context>\n")
	if pc.ProjectName != "" {
		fmt.Fprintf(&sb, "  <project>%s</project>\n", pc.ProjectName)
	}
	if len(pc.TechStack) > 0 {
		fmt.Fprintf(&sb, "  <tech_stack>%s</tech_stack>\n", strings.Join(pc.TechStack, ", "))
	}
	if len(pc.Signals.Files) > 0 {
		fmt.Fprintf(&sb, "  <referenced_files>%s</referenced_files>\n", strings.Join(pc.Signals.Files, ", "))
	}
	if len(pc.Signals.Entities) > 0 {
		fmt.Fprintf(&sb, "  <entities>%s</entities>\n", strings.Join(pc.Signals.Entities, ", "))
	}
	writeInteractions(&sb, "session_start", pc.FirstInteractions)
	writeInteractions(&sb, "recent_interactions", pc.LastInteractions)
	for _, s := range snippets {
		if s.Entity != "" {
			fmt.Fprintf(&sb, "  <snippet path=%q entity=%q>\n%s\n  </snippet>\n", s.Path, s.Entity, s.Content)
			continue
		}
		fmt.Fprintf(&sb, "  <snippet path=%q>\n%s\n  </snippet>\n", s.Path, s.Content)
	}
	sb.WriteString("</context>")
	return sb.String()
}

func writeInteractions(sb *strings.Builder, tag string, list []Interaction) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintf(sb, "  <%s>\n", tag)
	for _, it := range list {
		fmt.Fprintf(sb, "    <prompt>%s</prompt>\n", it.Prompt)
		if it.Response != "" {
			fmt.Fprintf(sb, "    <response>%s</response>\n", it.Response)
		}
		if len(it.FilesModified) > 0 {
			fmt.Fprintf(sb, "    <files_modified>%s</files_modified>\n", strings.Join(it.FilesModified, ", "))
		}
	}
	fmt.Fprintf(sb, "  </%s>\n", tag)
}
