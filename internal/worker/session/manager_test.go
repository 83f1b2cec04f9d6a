package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/devark/internal/db/sqlite"
	"github.com/thebtf/devark/pkg/models"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(text) }

// ManagerSuite is a test suite for Manager operations.
type ManagerSuite struct {
	suite.Suite
	manager *Manager
	now     time.Time
	events  []Event
	ctx     context.Context
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.events = nil
	s.ctx = context.Background()
	s.manager = NewManager(WithClock(func() time.Time { return s.now }), WithTokenCounter(wordCounter{}))
	s.manager.Events.Subscribe(func(ev Event) { s.events = append(s.events, ev) })
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) types() []string {
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

var cursorApp = SourceInfo{SourceID: models.SourceCursor, ProjectPath: "/home/u/app", SourceSessionID: "c1"}

func (s *ManagerSuite) TestSyncFromSourceIsIdempotent() {
	id1, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.Require().NoError(err)
	id2, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.Require().NoError(err)

	s.Equal(id1, id2)
	projects := s.manager.Projects(false)
	s.Require().Len(projects, 1)
	s.Len(projects[0].Sessions, 1)
	s.Equal("app", projects[0].Name)
	s.Equal([]string{EventProjectCreated, EventSessionCreated}, s.types())
}

func (s *ManagerSuite) TestOnPromptDetected() {
	first, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
		ID: "p1", Text: "fix the bug in auth.ts", Timestamp: s.now.Add(-time.Minute),
		SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/home/u/app",
	})
	s.Require().NoError(err)
	s.Equal("p1", first)

	generated, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
		Text: "[Tool result]", Timestamp: s.now,
		SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/home/u/app",
	})
	s.Require().NoError(err)
	s.NotEmpty(generated)

	active := s.manager.ActiveSession()
	s.Require().NotNil(active)
	s.Require().Len(active.Prompts, 2)
	s.Equal(generated, active.Prompts[0].ID, "newest first")
	s.Equal(1, active.PromptCount, "tool markers are not user prompts")
	s.Equal(s.now, active.LastActivityTime)
	s.Equal(s.now.Add(-time.Minute), active.StartTime)
	s.Require().NotNil(active.TokenUsage)
	s.Equal(len("fix the bug in auth.ts")+len("[Tool result]"), active.TokenUsage.PromptTokens)

	s.Contains(s.types(), EventPromptAdded)
	s.Contains(s.types(), EventSessionActivity)
}

func (s *ManagerSuite) TestUIFilterHidesEmptySessions() {
	_, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.Require().NoError(err)
	_, err = s.manager.OnPromptDetected(s.ctx, PromptInput{
		ID: "p1", Text: "add tests", SourceID: models.SourceClaudeCode, SourceSessionID: "s1", ProjectPath: "/home/u/api",
	})
	s.Require().NoError(err)

	s.Len(s.manager.Projects(false), 2)
	ui := s.manager.Projects(true)
	s.Require().Len(ui, 1)
	s.Equal(models.ProjectID("/home/u/api"), ui[0].ID)
	for _, p := range ui {
		for _, sess := range p.Sessions {
			s.GreaterOrEqual(sess.PromptCount, 1)
		}
	}
}

func (s *ManagerSuite) TestAddResponse() {
	_, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
		ID: "p1", Text: "fix it", SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/home/u/app",
	})
	s.Require().NoError(err)

	s.manager.AddResponse(s.ctx, &models.Response{
		ID: "r1", Source: models.SourceCursor, ConversationID: "c1", Response: "done",
		FilesModified: []string{"auth.ts"}, Timestamp: s.now.Add(time.Second), Success: true,
	}, "p1")
	s.manager.AddResponse(s.ctx, &models.Response{ID: "r2", Source: models.SourceCursor, ConversationID: "unknown"}, "")

	active := s.manager.ActiveSession()
	s.Require().Len(active.Responses, 1)
	s.Equal("p1", active.Responses[0].PromptID)
	s.Equal(active.ID, active.Responses[0].SessionID)
	s.Equal([]string{"auth.ts"}, active.Metadata.Files)
	s.Equal([]string{"auth.ts"}, s.manager.RecentFiles(5))

	inter := s.manager.GetLastInteractions(3)
	s.Require().Len(inter, 1)
	s.Require().NotNil(inter[0].Response)
	s.Equal("r1", inter[0].Response.ID)
}

func (s *ManagerSuite) TestUpdatePromptScoreIsIdempotent() {
	_, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
		ID: "p1", Text: "fix it", Timestamp: s.now, SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/a",
	})
	s.Require().NoError(err)

	b := models.CreateScoreBreakdown(models.DimensionValues{Specificity: 5, Context: 5, Intent: 5, Actionability: 5, Constraints: 5})
	update := ScoreUpdate{Score: 5, Breakdown: &b, EnhancedText: "Fix the null check"}
	s.Require().NoError(s.manager.UpdatePromptScore(s.ctx, "p1", update))
	s.Require().NoError(s.manager.UpdatePromptScore(s.ctx, "p1", update))

	prompts, total, err := s.manager.GetPrompts(PromptQuery{})
	s.Require().NoError(err)
	s.Equal(1, total)
	p := prompts[0]
	s.Equal("fix it", p.Text)
	s.Equal(s.now, p.Timestamp)
	s.InDelta(5.0, *p.Score, 0.001)
	s.Equal("Fix the null check", p.EnhancedText)

	s.ErrorIs(s.manager.UpdatePromptScore(s.ctx, "missing", update), ErrPromptNotFound)
}

func (s *ManagerSuite) TestGetPromptsPagination() {
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
			ID: id, Text: "prompt " + id, Timestamp: s.now.Add(time.Duration(i) * time.Second),
			SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/a",
		})
		s.Require().NoError(err)
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []string
	}{
		{"first page", 0, 2, []string{"e", "d"}},
		{"second page", 2, 2, []string{"c", "b"}},
		{"tail", 4, 2, []string{"a"}},
		{"past end", 9, 2, []string{}},
		{"no limit", 1, 0, []string{"d", "c", "b", "a"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			page, total, err := s.manager.GetPrompts(PromptQuery{Offset: tt.offset, Limit: tt.limit})
			s.Require().NoError(err)
			s.Equal(5, total)
			ids := make([]string, 0, len(page))
			for _, p := range page {
				ids = append(ids, p.ID)
			}
			s.Equal(tt.want, ids)
		})
	}

	_, _, err := s.manager.GetPrompts(PromptQuery{SessionID: "nope"})
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *ManagerSuite) TestGoalLifecycle() {
	id, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.Require().NoError(err)
	s.events = nil

	s.Require().NoError(s.manager.SetGoal(s.ctx, id, "ship auth"))
	s.Require().NoError(s.manager.UpdateGoalProgress(s.ctx, id, 60))
	s.Require().NoError(s.manager.UpdateGoalProgress(s.ctx, id, 150))
	s.Require().NoError(s.manager.UpdateGoalProgress(s.ctx, id, 100))
	s.Require().NoError(s.manager.RenameSession(s.ctx, id, "Auth"))

	s.Equal([]string{
		EventGoalSet,
		EventSessionUpdated,
		EventSessionUpdated, EventGoalCompleted,
		EventSessionUpdated,
		EventSessionUpdated,
	}, s.types())

	sess, err := s.manager.Session(id)
	s.Require().NoError(err)
	s.Equal(100, *sess.GoalProgress)
	s.Equal("Auth", sess.DisplayName())
	s.ErrorIs(s.manager.SetGoal(s.ctx, "nope", "x"), ErrSessionNotFound)
}

func (s *ManagerSuite) TestSwitchSession() {
	a, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.Require().NoError(err)
	b, err := s.manager.SyncFromSource(s.ctx, SourceInfo{SourceID: models.SourceClaudeCode, ProjectPath: "/b", SourceSessionID: "s9"})
	s.Require().NoError(err)

	s.Equal(a, s.manager.ActiveSessionID())
	s.Require().NoError(s.manager.SwitchSession(b))
	s.Equal(b, s.manager.ActiveSessionID())
	s.ErrorIs(s.manager.SwitchSession("missing"), ErrSessionNotFound)
}

func (s *ManagerSuite) TestListenerPanicDoesNotStopOthers() {
	s.manager.Events.Subscribe(func(Event) { panic("boom") })
	var after int
	s.manager.Events.Subscribe(func(Event) { after++ })

	_, err := s.manager.SyncFromSource(s.ctx, cursorApp)
	s.NoError(err)
	s.Equal(2, after)
}

func TestManagerPersistsAndReloads(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "devark.db"))
	require.NoError(t, err)
	defer store.Close()
	repo := sqlite.NewRepository(store)
	ctx := context.Background()

	m := NewManager(WithStore(repo), WithTokenCounter(wordCounter{}))
	_, err = m.OnPromptDetected(ctx, PromptInput{
		ID: "p1", Text: "write a migration", Timestamp: time.Now(),
		SourceID: models.SourceClaudeCode, SourceSessionID: "s1", ProjectPath: "/home/u/api",
	})
	require.NoError(t, err)
	id := m.ActiveSessionID()
	require.NoError(t, m.SetGoal(ctx, id, "migrate users"))

	reloaded := NewManager(WithStore(repo))
	require.NoError(t, reloaded.Load(ctx))
	sess, err := reloaded.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "migrate users", sess.Goal)
	require.Len(t, sess.Prompts, 1)
	assert.Equal(t, "p1", sess.Prompts[0].ID)
	assert.Equal(t, 1, sess.PromptCount)

	again, err := reloaded.SyncFromSource(ctx, SourceInfo{SourceID: models.SourceClaudeCode, ProjectPath: "/home/u/api", SourceSessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func (s *ManagerSuite) TestRecentFilesNewestFirst() {
	s.Nil(s.manager.RecentFiles(3))

	_, err := s.manager.OnPromptDetected(s.ctx, PromptInput{
		ID: "p1", Text: "refactor", SourceID: models.SourceCursor, SourceSessionID: "c1", ProjectPath: "/home/u/app",
	})
	s.Require().NoError(err)
	s.manager.AddResponse(s.ctx, &models.Response{
		ID: "r1", Source: models.SourceCursor, ConversationID: "c1", FilesModified: []string{"a.go", "b.go"},
	}, "p1")
	s.manager.AddResponse(s.ctx, &models.Response{
		ID: "r2", Source: models.SourceCursor, ConversationID: "c1", FilesModified: []string{"c.go", "a.go"},
	}, "p1")

	s.Equal([]string{"c.go", "b.go"}, s.manager.RecentFiles(2))
	s.Equal([]string{"c.go", "b.go", "a.go"}, s.manager.RecentFiles(10))
	s.Nil(s.manager.RecentFiles(0))
}
