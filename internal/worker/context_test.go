package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

func TestBuilderUsesActiveSessionFiles(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	ctx := context.Background()

	project := t.TempDir()
	var files []string
	for i := range 4 {
		p := filepath.Join(project, fmt.Sprintf("file%d.go", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("package app\n\nfunc F%d() {}\n", i)), 0o600))
		files = append(files, p)
	}

	_, err := svc.sessionManager.OnPromptDetected(ctx, session.PromptInput{
		ID: "p1", Text: "tidy up the handlers", SourceID: models.SourceClaudeCode,
		SourceSessionID: "claude-ctx", ProjectPath: project,
	})
	require.NoError(t, err)
	svc.sessionManager.AddResponse(ctx, &models.Response{
		ID: "r1", Source: models.SourceClaudeCode, SessionID: "claude-ctx", FilesModified: files,
	}, "p1")
	svc.builder.SetRoot(project)

	pc := svc.builder.Build(ctx, "tidy up")
	require.NotNil(t, pc)
	require.Len(t, pc.Snippets, contextbuilder.MaxOpenFileSnippets)
	for _, s := range pc.Snippets {
		assert.Contains(t, s.Content, "package app")
	}
}

func TestBuilderRenderStaysWithinTokenBudget(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	words := strings.Repeat("alpha beta gamma delta ", 22)
	pc := &contextbuilder.PromptContext{ProjectName: "app"}
	for i := range 40 {
		pc.Snippets = append(pc.Snippets, contextbuilder.Snippet{Path: fmt.Sprintf("f%d.go", i), Content: words})
	}

	out := svc.builder.Render(pc)
	kept := strings.Count(out, "<snippet ")
	assert.Positive(t, kept)
	assert.Less(t, kept, len(pc.Snippets))
	assert.Contains(t, out, `path="f0.go"`)
	assert.LessOrEqual(t, session.NewTokenCounter().Count(out), contextbuilder.DefaultTokenBudget)
}
