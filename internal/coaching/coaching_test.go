package coaching

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/internal/storage"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

const suggestionsJSON = `Sure, here you go:
[
  {"type": "test", "title": "Add tests for login", "description": "Cover the null check in auth.ts.", "suggestedPrompt": "Write a test for login() in auth.ts that passes a missing user.", "reasoning": "The fix has no test.", "confidence": 0.9},
  {"type": "mystery", "title": "Check token expiry", "description": "", "suggestedPrompt": "Review refreshToken in auth.ts for expiry handling.", "reasoning": "", "confidence": 0.7},
  {"type": "documentation", "title": "Low value", "suggestedPrompt": "Maybe document stuff", "confidence": 0.1},
  {"type": "test", "title": "Add tests for login", "suggestedPrompt": "Write a test for login() in auth.ts that passes a missing user.", "confidence": 0.8}
]`

type scriptedCompleter struct {
	err   error
	reply string
	reqs  []llm.Request
	mu    sync.Mutex
}

func (c *scriptedCompleter) GenerateCompletion(_ context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{Text: c.reply}, nil
}

type fakeClock struct {
	t  time.Time
	mu sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSessions struct {
	session *models.Session
	history []session.Interaction
}

func (f *fakeSessions) ActiveSession() *models.Session { return f.session }

func (f *fakeSessions) GetFirstInteractions(n int) []session.Interaction {
	if len(f.history) == 0 {
		return nil
	}
	return f.history[len(f.history)-1:]
}

func (f *fakeSessions) GetLastInteractions(n int) []session.Interaction {
	if n > len(f.history) {
		n = len(f.history)
	}
	return f.history[:n]
}

type fakeWorkspace struct{ root string }

func (w fakeWorkspace) Root() string        { return w.root }
func (w fakeWorkspace) TechStack() []string { return []string{"TypeScript", "React"} }

type ServiceSuite struct {
	suite.Suite
	clock     *fakeClock
	completer *scriptedCompleter
	hub       *events.Hub
	store     *storage.Store[models.CoachingData]
	svc       *Service
	updates   []events.CoachingUpdated
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.clock = &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.completer = &scriptedCompleter{reply: suggestionsJSON}
	s.hub = events.NewHub()
	s.updates = nil
	s.hub.CoachingUpdated.Subscribe(func(u events.CoachingUpdated) { s.updates = append(s.updates, u) })

	store, err := storage.New[models.CoachingData](filepath.Join(s.T().TempDir(), "coaching"))
	s.Require().NoError(err)
	s.store = store
	s.svc = NewService(s.completer, s.hub, store, DefaultConfig(), WithClock(s.clock.Now))
}

func response(id, promptID string) *models.Response {
	return &models.Response{
		ID:            id,
		PromptID:      promptID,
		PromptText:    "fix the bug in auth.ts line 42",
		Source:        models.SourceCursor,
		Response:      "Fixed the null check in auth.ts so login no longer crashes.",
		FilesModified: []string{"auth.ts"},
		ToolCalls:     []models.ToolCall{{Name: "editor.apply"}},
		Success:       true,
	}
}

func (s *ServiceSuite) TestGeneratesAndStores() {
	res, err := s.svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Require().True(res.Generated)
	s.Empty(res.Reason)

	sugg := res.Coaching.Suggestions
	s.Require().Len(sugg, 2, "low confidence and duplicate entries are dropped")
	s.Equal(models.SuggestionTest, sugg[0].Type)
	s.Equal(models.SuggestionFollowUp, sugg[1].Type)
	for _, sg := range sugg {
		s.NotEmpty(sg.ID)
		s.GreaterOrEqual(sg.Confidence, DefaultMinConfidence)
	}

	stored, err := s.svc.Coaching("p1")
	s.Require().NoError(err)
	s.Equal("r1", stored.ResponseID)
	s.Same(res.Coaching, s.svc.Latest())
	s.Require().Len(s.updates, 1)
	s.Same(res.Coaching, s.updates[0].Coaching)

	s.Require().Len(s.completer.reqs, 1)
	req := s.completer.reqs[0]
	s.Equal(temperature, req.Temperature)
	s.Equal(maxOutputTokens, req.MaxTokens)
	s.Contains(req.Prompt, "<triggering_prompt>")
	s.Contains(req.Prompt, "auth.ts")
}

func (s *ServiceSuite) TestThrottlingWindow() {
	ctx := context.Background()
	res, err := s.svc.ProcessResponse(ctx, response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Require().True(res.Generated)

	s.clock.Advance(DefaultMinInterval - time.Second)
	res, err = s.svc.ProcessResponse(ctx, response("r2", "p2"), false)
	s.Require().NoError(err)
	s.False(res.Generated)
	s.Equal(ReasonThrottled, res.Reason)

	s.clock.Advance(2 * time.Second)
	res, err = s.svc.ProcessResponse(ctx, response("r3", "p3"), false)
	s.Require().NoError(err)
	s.True(res.Generated)
	s.Require().NotNil(res.Coaching)
	s.GreaterOrEqual(len(res.Coaching.Suggestions), 1)
	s.LessOrEqual(len(res.Coaching.Suggestions), 3)
}

func (s *ServiceSuite) TestDisabledUnlessForced() {
	s.svc.SetEnabled(false)
	res, err := s.svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Equal(ReasonThrottled, res.Reason)

	res, err = s.svc.ProcessResponse(context.Background(), response("r1", "p1"), true)
	s.Require().NoError(err)
	s.True(res.Generated)
}

func (s *ServiceSuite) TestDismissStartsCooldown() {
	s.svc.Dismiss()
	res, err := s.svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Equal(ReasonCooldown, res.Reason)

	s.clock.Advance(DefaultCooldown + time.Second)
	res, err = s.svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.True(res.Generated)
}

func (s *ServiceSuite) TestErrorResponseSkipped() {
	r := response("r1", "p1")
	r.Success = false
	r.Reason = models.ReasonError
	res, err := s.svc.ProcessResponse(context.Background(), r, false)
	s.Require().NoError(err)
	s.Equal(ReasonErrorResponse, res.Reason)
	s.Empty(s.completer.reqs)
}

func (s *ServiceSuite) TestInFlightDropsDuplicate() {
	blocking := &blockingCompleter{release: make(chan struct{}), entered: make(chan struct{})}
	svc := NewService(blocking, s.hub, s.store, DefaultConfig(), WithClock(s.clock.Now))

	done := make(chan Result)
	go func() {
		res, _ := svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
		done <- res
	}()
	<-blocking.entered

	res, err := svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Equal(ReasonInFlight, res.Reason)

	close(blocking.release)
	first := <-done
	s.True(first.Generated)

	svc.mu.Lock()
	s.Empty(svc.inFlight)
	svc.mu.Unlock()
}

type blockingCompleter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCompleter) GenerateCompletion(ctx context.Context, _ llm.Request) (llm.Response, error) {
	close(b.entered)
	<-b.release
	return llm.Response{Text: suggestionsJSON}, nil
}

func (s *ServiceSuite) TestFallbackOnProviderFailure() {
	s.completer.err = errors.New("rate limit exceeded (429): API quota")
	res, err := s.svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	s.Require().True(res.Generated)

	var types []models.SuggestionType
	for _, sg := range res.Coaching.Suggestions {
		types = append(types, sg.Type)
	}
	s.Equal([]models.SuggestionType{models.SuggestionTest, models.SuggestionErrorPrevention, models.SuggestionDocumentation}, types)
}

func (s *ServiceSuite) TestFallbackOnUnparseableReply() {
	s.completer.reply = "Looks good to me!"
	res, err := s.svc.ProcessResponse(context.Background(), response("r1", ""), false)
	s.Require().NoError(err)
	s.Require().True(res.Generated)
	s.NotEmpty(res.Coaching.Suggestions)

	stored, err := s.store.Get("r1")
	s.Require().NoError(err)
	s.NotNil(stored, "response id is the key without a prompt id")
}

func (s *ServiceSuite) TestContextIncludesSessionAndSnippets() {
	root := s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(root, "auth.ts"), []byte("export function login(user) {\n  if (!user) return null\n}\n"), 0o644))

	progress := 40
	sessions := &fakeSessions{
		session: &models.Session{Goal: "Harden authentication", GoalProgress: &progress},
		history: []session.Interaction{
			{Prompt: &models.Prompt{Text: strings.Repeat("p", 1000)}, Response: &models.Response{Response: "ok", FilesModified: []string{"auth.ts"}}},
			{Prompt: &models.Prompt{Text: "set up login for the app"}},
		},
	}
	svc := NewService(s.completer, s.hub, s.store, DefaultConfig(),
		WithClock(s.clock.Now), WithSessions(sessions), WithWorkspace(fakeWorkspace{root: root}))

	_, err := svc.ProcessResponse(context.Background(), response("r1", "p1"), false)
	s.Require().NoError(err)
	prompt := s.completer.reqs[0].Prompt
	s.Contains(prompt, `<session_goal progress="40%">Harden authentication</session_goal>`)
	s.Contains(prompt, "<tech_stack>TypeScript, React</tech_stack>")
	s.Contains(prompt, `<snippet path="auth.ts">`)
	s.Contains(prompt, "export function login")
	s.Contains(prompt, "<first_prompt>\nset up login for the app\n</first_prompt>")
	s.NotContains(prompt, strings.Repeat("p", MaxHistoryPromptChars+1))
}

func TestAnalyzeResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    *models.Response
		outcome models.Outcome
		topics  []string
	}{
		{
			name:    "success with fix",
			resp:    &models.Response{Success: true, PromptText: "fix the crash", Response: "Fixed the crash in parser.go"},
			outcome: models.OutcomeSuccess,
			topics:  []string{TopicBugFix},
		},
		{
			name:    "failed",
			resp:    &models.Response{Success: false, Response: "something"},
			outcome: models.OutcomeError,
		},
		{
			name:    "stop error",
			resp:    &models.Response{Success: true, StopReason: models.StopError},
			outcome: models.OutcomeError,
		},
		{
			name:    "aborted",
			resp:    &models.Response{Success: true, StopReason: models.StopAborted, Response: "partway"},
			outcome: models.OutcomePartial,
		},
		{
			name:    "could not finish",
			resp:    &models.Response{Success: true, Response: "I was unable to run the migration."},
			outcome: models.OutcomePartial,
			topics:  []string{"Database"},
		},
		{
			name:    "empty",
			resp:    &models.Response{Success: true},
			outcome: models.OutcomeUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeResponse(tt.resp)
			assert.Equal(t, tt.outcome, a.Outcome)
			if tt.topics != nil {
				assert.Equal(t, tt.topics, a.Topics)
			}
		})
	}
}

func TestAnalyzeResponseDetails(t *testing.T) {
	a := AnalyzeResponse(&models.Response{
		Success:       true,
		Response:      "## Summary\nAdded a cache.\n```go\nfunc get() {}\n```",
		FilesModified: []string{"cache.go", "cache.go", " "},
		ToolCalls:     []models.ToolCall{{Name: "edit"}, {Name: "edit"}, {Name: "bash"}},
	})
	assert.Equal(t, "Summary", a.Summary)
	assert.Equal(t, []string{"cache.go"}, a.FilesModified)
	assert.Equal(t, []string{"edit", "bash"}, a.ToolsUsed)
	assert.True(t, a.HasCode)
}

func TestParseSuggestions(t *testing.T) {
	out, err := parseSuggestions(suggestionsJSON, DefaultMinConfidence, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Add tests for login", out[0].Title)

	long := `[{"title": "` + strings.Repeat("t", 300) + `", "suggestedPrompt": "go", "confidence": 7}]`
	out, err = parseSuggestions(long, DefaultMinConfidence, 3)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, []rune(out[0].Title), models.MaxSuggestionTitle)
	assert.Equal(t, 1.0, out[0].Confidence)

	_, err = parseSuggestions("no array here", DefaultMinConfidence, 3)
	var pe *llm.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, toolName, pe.Tool)
}

func TestFallbackSuggestions(t *testing.T) {
	tests := []struct {
		name     string
		analysis models.ResponseAnalysis
		want     []models.SuggestionType
	}{
		{
			name:     "files and success",
			analysis: models.ResponseAnalysis{Outcome: models.OutcomeSuccess, FilesModified: []string{"a.go", "b.go"}},
			want:     []models.SuggestionType{models.SuggestionTest, models.SuggestionDocumentation},
		},
		{
			name:     "bug fix partial",
			analysis: models.ResponseAnalysis{Outcome: models.OutcomePartial, Topics: []string{TopicBugFix}},
			want:     []models.SuggestionType{models.SuggestionErrorPrevention},
		},
		{
			name:     "nothing to go on",
			analysis: models.ResponseAnalysis{Outcome: models.OutcomeUnknown},
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []models.SuggestionType
			for _, s := range fallbackSuggestions(tt.analysis, DefaultMaxSuggestions) {
				got = append(got, s.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
