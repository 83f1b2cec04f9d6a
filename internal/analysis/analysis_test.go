package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

const (
	scoreJSON   = `Here's the score: {"clarity": 8, "specificity": 9, "context": 6, "actionability": 8, "explanation": "Names the file and line.", "suggestions": ["Describe the bug", ""]}`
	enhanceJSON = "```json\n{\"enhanced\": \"Fix the null check bug in auth.ts at line 42 so login no longer panics.\", \"improvements\": [\"States the symptom\"]}\n```"
	goalJSON    = `{"suggestedGoal": "Fix authentication bugs", "detectedTheme": "bugfix", "confidence": 1.4}`
)

type fakeCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   map[string]int
	prompts []string
	mu      sync.Mutex
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		replies: map[string]string{
			scoreSystemPrompt:   scoreJSON,
			enhanceSystemPrompt: enhanceJSON,
			goalSystemPrompt:    goalJSON,
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeCompleter) GenerateCompletion(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.SystemPrompt]++
	f.prompts = append(f.prompts, req.Prompt)
	if err := f.errs[req.SystemPrompt]; err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Text: f.replies[req.SystemPrompt]}, nil
}

type fakePersister struct {
	updates map[string]session.ScoreUpdate
	mu      sync.Mutex
}

func (p *fakePersister) UpdatePromptScore(_ context.Context, id string, u session.ScoreUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updates == nil {
		p.updates = map[string]session.ScoreUpdate{}
	}
	p.updates[id] = u
	return nil
}

type memStore struct {
	records map[string]*models.PromptAnalysis
	mu      sync.Mutex
}

func (s *memStore) Save(id string, v *models.PromptAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string]*models.PromptAnalysis{}
	}
	s.records[id] = v
	return nil
}

type recorder struct {
	names    []string
	payloads []any
	mu       sync.Mutex
}

func record(hub *events.Hub) *recorder {
	r := &recorder{}
	hub.Tap(func(name string, payload any) {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.payloads = append(r.payloads, payload)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) has(name string) bool {
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

func fixedClock() time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestAnalyzeStreamsEventsAndPersists(t *testing.T) {
	hub := events.NewHub()
	rec := record(hub)
	fc := newFakeCompleter()
	persister := &fakePersister{}
	store := &memStore{}
	o := NewOrchestrator(fc, hub, WithPersister(persister), WithStore(store), WithClock(fixedClock))

	a, err := o.Analyze(context.Background(), Request{
		PromptID:  "p1",
		SessionID: "s1",
		Text:      "fix the bug in auth.ts line 42",
		First:     true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, rec.names)
	assert.Equal(t, events.NamePromptAnalyzing, rec.names[0])
	assert.Equal(t, events.NameAnalysisComplete, rec.names[len(rec.names)-1])
	for _, name := range []string{events.NameScoreReceived, events.NameEnhancedPromptReady, events.NameEnhancedScoreReady, events.NameGoalInference} {
		assert.True(t, rec.has(name), name)
	}
	assert.False(t, rec.has(events.NameAnalysisFailed))

	require.NotNil(t, a.Breakdown)
	assert.GreaterOrEqual(t, a.Score, 0.0)
	assert.LessOrEqual(t, a.Score, 10.0)
	assert.Equal(t, models.CalculateWeightedTotal(a.Breakdown.Dimensions), a.Breakdown.Total)
	assert.Equal(t, 8, a.Breakdown.Dimensions.Intent.Score)
	assert.Equal(t, []string{"Describe the bug"}, a.Suggestions)
	assert.Contains(t, a.EnhancedText, "auth.ts")
	require.NotNil(t, a.EnhancedScore)
	require.NotNil(t, a.Goal)
	assert.Equal(t, 1.0, a.Goal.Confidence)
	assert.False(t, a.Heuristic)

	last := rec.payloads[len(rec.payloads)-1].(events.AnalysisComplete)
	require.NotNil(t, last.Prompt.Score)
	assert.Equal(t, a.Score, *last.Prompt.Score)
	assert.Equal(t, "p1", last.Prompt.ID)

	assert.Contains(t, persister.updates, "p1")
	assert.Equal(t, a.Score, persister.updates["p1"].Score)
	assert.Same(t, a, store.records["p1"])
	assert.Equal(t, 2, fc.calls[scoreSystemPrompt])
}

func TestAnalyzeSkipsGoalAfterFirstPrompt(t *testing.T) {
	hub := events.NewHub()
	rec := record(hub)
	fc := newFakeCompleter()
	o := NewOrchestrator(fc, hub)

	a, err := o.Analyze(context.Background(), Request{PromptID: "p2", Text: "add a retry to the upload loop"})
	require.NoError(t, err)
	assert.Nil(t, a.Goal)
	assert.False(t, rec.has(events.NameGoalInference))
	assert.Zero(t, fc.calls[goalSystemPrompt])
}

func TestAnalyzeRejectsInvalidPrompt(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{name: "empty", text: "   ", want: ErrEmptyPrompt},
		{name: "short", text: "hi", want: ErrPromptTooShort},
		{name: "long", text: strings.Repeat("a", MaxPromptLength+1), want: ErrPromptTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := events.NewHub()
			rec := record(hub)
			fc := newFakeCompleter()
			o := NewOrchestrator(fc, hub)

			a, err := o.Analyze(context.Background(), Request{PromptID: "p", Text: tt.text})
			require.ErrorIs(t, err, tt.want)
			require.NotNil(t, a)
			assert.Zero(t, a.Score)
			assert.Equal(t, tt.want.Error(), a.Explanation)
			assert.Equal(t, []string{events.NamePromptAnalyzing, events.NameAnalysisFailed}, rec.names)
			failed := rec.payloads[1].(events.AnalysisFailed)
			assert.Equal(t, tt.want.Error(), failed.Message)
			assert.Empty(t, fc.calls)
		})
	}
}

func TestAnalyzeWithoutProviderUsesHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		completer llm.Completer
	}{
		{name: "nil completer", completer: nil},
		{name: "empty manager", completer: llm.NewManager()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := events.NewHub()
			rec := record(hub)
			persister := &fakePersister{}
			o := NewOrchestrator(tt.completer, hub, WithPersister(persister))

			a, err := o.Analyze(context.Background(), Request{PromptID: "p1", Text: "fix the bug in auth.ts line 42"})
			require.NoError(t, err)
			assert.True(t, a.Heuristic)
			assert.Equal(t, []string{events.NamePromptAnalyzing, events.NameScoreReceived, events.NameAnalysisComplete}, rec.names)
			assert.True(t, rec.payloads[1].(events.ScoreReceived).Heuristic)
			assert.Contains(t, persister.updates, "p1")
		})
	}
}

func TestAnalyzeScoreFailure(t *testing.T) {
	hub := events.NewHub()
	rec := record(hub)
	fc := newFakeCompleter()
	fc.replies[scoreSystemPrompt] = "I cannot grade this prompt."
	persister := &fakePersister{}
	o := NewOrchestrator(fc, hub, WithPersister(persister))

	a, err := o.Analyze(context.Background(), Request{PromptID: "p1", Text: "fix the bug in auth.ts line 42"})
	var pe *llm.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "prompt-scorer", pe.Tool)
	require.NotNil(t, a)
	assert.True(t, a.Heuristic)
	assert.Positive(t, a.Score)
	assert.True(t, rec.has(events.NameAnalysisFailed))
	assert.Equal(t, events.NameAnalysisComplete, rec.names[len(rec.names)-1])
	require.Contains(t, persister.updates, "p1")
	assert.Equal(t, a.Score, persister.updates["p1"].Score)

	for i, name := range rec.names {
		if name == events.NameAnalysisFailed {
			assert.Equal(t, MsgParse, rec.payloads[i].(events.AnalysisFailed).Message)
		}
	}
}

func TestAnalyzeScoreProviderErrorPersistsHeuristic(t *testing.T) {
	hub := events.NewHub()
	rec := record(hub)
	fc := newFakeCompleter()
	fc.errs[scoreSystemPrompt] = errors.New("429 quota exceeded")
	store := &memStore{}
	sessions := session.NewManager()
	ctx := context.Background()

	_, err := sessions.OnPromptDetected(ctx, session.PromptInput{
		ID: "p1", Text: "fix the bug in auth.ts line 42", SourceID: models.SourceCursor,
		SourceSessionID: "c1", ProjectPath: "/home/u/app",
	})
	require.NoError(t, err)

	o := NewOrchestrator(fc, hub, WithPersister(sessions), WithStore(store))
	a, err := o.Analyze(ctx, Request{PromptID: "p1", Text: "fix the bug in auth.ts line 42"})
	require.Error(t, err)
	assert.True(t, a.Heuristic)

	require.Contains(t, store.records, "p1")
	assert.True(t, store.records["p1"].Heuristic)

	active := sessions.ActiveSession()
	require.NotNil(t, active)
	require.Len(t, active.Prompts, 1)
	require.NotNil(t, active.Prompts[0].Score)
	assert.Equal(t, a.Score, *active.Prompts[0].Score)

	var heuristicScores int
	for i, name := range rec.names {
		if name == events.NameScoreReceived && rec.payloads[i].(events.ScoreReceived).Heuristic {
			heuristicScores++
		}
	}
	assert.Equal(t, 1, heuristicScores)
	assert.True(t, rec.has(events.NameAnalysisFailed))
	assert.Equal(t, events.NameAnalysisComplete, rec.names[len(rec.names)-1])
}

type slowHistory struct{ delay time.Duration }

func (h slowHistory) GetFirstInteractions(int) []session.Interaction {
	time.Sleep(h.delay)
	return nil
}

func (h slowHistory) GetLastInteractions(int) []session.Interaction { return nil }

func TestAnalyzeProceedsWithoutContextOnDeadline(t *testing.T) {
	hub := events.NewHub()
	fc := newFakeCompleter()
	builder := contextbuilder.New(t.TempDir(),
		contextbuilder.WithHistory(slowHistory{delay: 500 * time.Millisecond}),
		contextbuilder.WithTimeout(20*time.Millisecond),
	)
	o := NewOrchestrator(fc, hub, WithContext(builder))

	start := time.Now()
	a, err := o.Analyze(context.Background(), Request{PromptID: "p1", Text: "fix the bug in auth.ts line 42"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.False(t, a.Heuristic)
	assert.Positive(t, a.Score)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NotEmpty(t, fc.prompts)
	for _, p := range fc.prompts {
		assert.NotContains(t, p, "<context>")
	}
}

func TestAnalyzeEnhanceFailureKeepsScore(t *testing.T) {
	hub := events.NewHub()
	rec := record(hub)
	fc := newFakeCompleter()
	fc.errs[enhanceSystemPrompt] = errors.New("dial tcp: connection refused")
	o := NewOrchestrator(fc, hub)

	a, err := o.Analyze(context.Background(), Request{PromptID: "p1", Text: "fix the bug in auth.ts line 42"})
	require.NoError(t, err)
	assert.Empty(t, a.EnhancedText)
	assert.Nil(t, a.EnhancedScore)
	assert.False(t, rec.has(events.NameEnhancedPromptReady))
	assert.False(t, rec.has(events.NameEnhancedScoreReady))
	assert.True(t, rec.has(events.NameScoreReceived))
	assert.Equal(t, events.NameAnalysisComplete, rec.names[len(rec.names)-1])
}

func TestScoreToolParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		intent  int
	}{
		{name: "valid", text: `{"clarity": 7, "specificity": 5, "context": 4, "actionability": 6}`, intent: 7},
		{name: "rounds", text: `{"clarity": 6.6, "specificity": 5, "context": 4, "actionability": 6}`, intent: 7},
		{name: "missing dimension", text: `{"clarity": 7, "specificity": 5, "context": 4}`, wantErr: true},
		{name: "out of range", text: `{"clarity": 11, "specificity": 5, "context": 4, "actionability": 6}`, wantErr: true},
		{name: "negative", text: `{"clarity": -1, "specificity": 5, "context": 4, "actionability": 6}`, wantErr: true},
		{name: "no json", text: "nothing here", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scoreTool{}.ParseResponse(tt.text)
			if tt.wantErr {
				var pe *llm.ParseError
				require.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.intent, res.Breakdown.Dimensions.Intent.Score)
			assert.Equal(t, models.CalculateWeightedTotal(res.Breakdown.Dimensions), res.Breakdown.Total)
		})
	}
}

func TestEnhancePromptMentionsIntensity(t *testing.T) {
	for _, level := range []Intensity{IntensityLight, IntensityMedium, IntensityAggressive} {
		req := enhanceTool{}.BuildPrompt(Input{Text: "add logging", Intensity: level})
		assert.Contains(t, req.Prompt, fmt.Sprintf("level=%q", level))
		assert.Contains(t, req.Prompt, intensityGuide[level])
	}
	assert.Equal(t, IntensityMedium, ParseIntensity("extreme"))
	assert.Equal(t, IntensityLight, ParseIntensity(" Light "))
}

func TestHeuristicScore(t *testing.T) {
	vague := HeuristicScore("fix it")
	detailed := HeuristicScore("Refactor the parseConfig function in internal/config/config.go to return an error instead of calling log.Fatal, and add a table-driven test in config_test.go covering missing files and invalid JSON.")

	for _, r := range []ScoreResult{vague, detailed} {
		assert.GreaterOrEqual(t, r.Breakdown.Total, 0.0)
		assert.LessOrEqual(t, r.Breakdown.Total, 10.0)
		assert.Equal(t, models.CalculateWeightedTotal(r.Breakdown.Dimensions), r.Breakdown.Total)
		assert.NotEmpty(t, r.Explanation)
	}
	assert.Greater(t, detailed.Breakdown.Total, vague.Breakdown.Total)
	assert.NotEmpty(t, vague.Suggestions)
}

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "unavailable", err: fmt.Errorf("score: %w", llm.ErrProviderUnavailable), want: MsgNotConfigured},
		{name: "api key", err: errors.New("missing API key"), want: MsgNotConfigured},
		{name: "quota", err: errors.New("rate limit exceeded (429): API quota"), want: MsgQuota},
		{name: "network", err: errors.New("Post \"https://x\": dial tcp: lookup x: no such host"), want: MsgNetwork},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: MsgTimeout},
		{name: "parse", err: &llm.ParseError{Tool: "prompt-scorer", Err: errors.New("no JSON")}, want: MsgParse},
		{name: "validation", err: ErrPromptTooShort, want: ErrPromptTooShort.Error()},
		{name: "other", err: errors.New("boom"), want: MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FriendlyMessage(tt.err))
		})
	}
}
