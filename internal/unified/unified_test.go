package unified

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func newSession(id string, platform models.Source, sourceID, path string, start time.Time, prompts ...string) *models.Session {
	s := &models.Session{
		ID:        id,
		ProjectID: models.ProjectID(path),
		Platform:  platform,
		StartTime: start,
		Metadata:  models.SessionMetadata{SourceSessionID: sourceID, ProjectPath: path},
		Prompts:   []*models.Prompt{},
		Responses: []*models.Response{},
	}
	for i, text := range prompts {
		s.Prompts = append(s.Prompts, models.NewPrompt(id+"-p"+string(rune('0'+i)), id, text, start.Add(time.Duration(i)*time.Minute)))
	}
	s.SortPromptsNewestFirst()
	s.Recompute(start.Add(time.Hour))
	return s
}

func project(path string, sessions ...*models.Session) *models.Project {
	p := models.NewProject(path, "")
	p.Sessions = sessions
	p.Recompute()
	return p
}

type sessionView struct {
	ID           string
	Goal         string
	Progress     int
	PromptCount  int
	Platform     models.Source
	CustomName   string
	ProjectCount int
}

func view(projects []*models.Project) []sessionView {
	var out []sessionView
	for _, p := range projects {
		for _, s := range p.Sessions {
			v := sessionView{ID: s.ID, Goal: s.Goal, PromptCount: s.PromptCount, Platform: s.Platform, CustomName: s.CustomName, ProjectCount: len(projects)}
			if s.GoalProgress != nil {
				v.Progress = *s.GoalProgress
			}
			out = append(out, v)
		}
	}
	return out
}

func TestMergeCrossSourceDedup(t *testing.T) {
	hookSess := newSession("hook-1", models.SourceCursor, "abc", "/Users/alice/Repo", t0, "fix login")
	hookSess.GoalProgress = intp(40)
	hookSess.Goal = "ship login"
	external := newSession("cursor-abc", models.SourceCursor, "", "/Users/alice/Repo", t0, "fix login")

	got := Merge(
		[]*models.Project{project("/Users/alice/Repo", hookSess)},
		[]*models.Project{project("/users/alice/repo/", external)},
		NewGoalCache(nil), true,
	)

	want := []sessionView{{ID: "hook-1", Goal: "ship login", Progress: 40, PromptCount: 1, Platform: models.SourceCursor, ProjectCount: 1}}
	if diff := cmp.Diff(want, view(got)); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].TotalSessions)
	assert.Equal(t, 1, got[0].TotalPrompts)
}

func TestMergeAppendsSortsAndFilters(t *testing.T) {
	early := newSession("hook-1", models.SourceClaudeCode, "s1", "/a", t0, "first")
	late := newSession("cursor-x", models.SourceCursor, "", "/a", t0.Add(2*time.Hour), "second")
	empty := newSession("cursor-y", models.SourceCursor, "", "/a", t0.Add(3*time.Hour))
	other := newSession("cursor-z", models.SourceCursor, "", "/b", t0.Add(5*time.Hour), "elsewhere")

	hook := []*models.Project{project("/a", early)}
	ext := []*models.Project{project("/a", late, empty), project("/b", other)}

	ui := Merge(hook, ext, nil, true)
	require.Len(t, ui, 2)
	assert.Equal(t, "b", ui[0].Name, "projects sorted by last activity")
	ids := []string{}
	for _, s := range ui[1].Sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"cursor-x", "hook-1"}, ids, "sessions sorted by start time desc, empty ones hidden")

	all := Merge(hook, ext, nil, false)
	assert.Len(t, all[1].Sessions, 3)
	assert.Len(t, hook[0].Sessions, 1, "inputs untouched")
}

func TestGoalCacheFillsOnlyUnset(t *testing.T) {
	kv := state.NewMemory()
	cache := NewGoalCache(kv)
	cache.Update([]string{"cursor-abc", "abc"}, func(e *GoalEntry) {
		e.Progress = intp(70)
		e.Goal = "cached goal"
		e.CustomName = "Cached"
	})

	ext := newSession("cursor-abc", models.SourceCursor, "", "/r", t0, "x")
	cache.Apply(ext)
	assert.Equal(t, 70, *ext.GoalProgress)
	assert.Equal(t, "cached goal", ext.Goal)
	assert.Equal(t, "Cached", ext.CustomName)

	hook := newSession("hook-2", models.SourceCursor, "abc", "/r", t0, "x")
	hook.Goal = "own goal"
	cache.Apply(hook)
	assert.Equal(t, "own goal", hook.Goal, "existing values win")
	assert.Equal(t, 70, *hook.GoalProgress, "found through source identity")

	restored := NewGoalCache(kv)
	assert.Equal(t, 2, restored.Len())
}

type fakeReader struct {
	projects []*models.Project
	err      error
	calls    int
}

func (f *fakeReader) ReadProjects(context.Context) ([]*models.Project, error) {
	f.calls++
	return f.projects, f.err
}

func TestServiceRoutesEdits(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager()
	_, err := mgr.OnPromptDetected(ctx, session.PromptInput{
		ID: "p1", Text: "add auth", SourceID: models.SourceClaudeCode, SourceSessionID: "s1", ProjectPath: "/a",
	})
	require.NoError(t, err)
	hookSessionID := mgr.ActiveSessionID()

	reader := &fakeReader{projects: []*models.Project{project("/b", newSession("cursor-q", models.SourceCursor, "", "/b", t0, "external"))}}
	svc := NewService(mgr, nil, reader)

	require.NoError(t, svc.SetGoal(ctx, hookSessionID, "auth"))
	require.NoError(t, svc.UpdateGoalProgress(ctx, "cursor-q", 250))
	require.NoError(t, svc.RenameSession(ctx, "cursor-q", "Side quest"))
	assert.ErrorIs(t, svc.SetGoal(ctx, "nope", "x"), session.ErrSessionNotFound)

	projects, err := svc.Projects(ctx, true)
	require.NoError(t, err)
	byID := map[string]*models.Session{}
	for _, p := range projects {
		for _, s := range p.Sessions {
			byID[s.ID] = s
		}
	}
	require.Contains(t, byID, hookSessionID)
	assert.Equal(t, "auth", byID[hookSessionID].Goal)
	require.Contains(t, byID, "cursor-q")
	assert.Equal(t, 100, *byID["cursor-q"].GoalProgress)
	assert.Equal(t, "Side quest", byID["cursor-q"].CustomName)
	assert.Equal(t, 1, reader.calls, "external reads are cached")

	svc.Invalidate()
	reader.err = errors.New("READ_ERROR: locked")
	reader.projects = nil
	projects, err = svc.Projects(ctx, true)
	assert.Error(t, err)
	require.Len(t, projects, 1, "hook sessions survive external failures")
}
