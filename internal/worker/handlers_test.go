package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/internal/config"
	"github.com/thebtf/devark/internal/state"
	devsync "github.com/thebtf/devark/internal/sync"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/hooks"
	"github.com/thebtf/devark/pkg/models"
)

type fakeBackend struct {
	token bool
}

func (f fakeBackend) HasToken() bool                           { return f.token }
func (f fakeBackend) VerifyToken(context.Context) (bool, error) { return true, nil }

func (f fakeBackend) LastSessionTimestamp(context.Context) (*time.Time, error) {
	return nil, nil
}

func (f fakeBackend) UploadSessions(_ context.Context, s []devsync.SanitizedSession) (devsync.UploadResult, error) {
	return devsync.UploadResult{Success: true, SessionsProcessed: len(s)}, nil
}

// testService creates a Service on temp dirs and in-memory state, without a provider.
func testService(t *testing.T) (*Service, func()) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.HookDir = filepath.Join(dir, "hooks")
	cfg.AutoAnalyzePrompts = true
	cfg.AutoAnalyzeResponses = true
	cfg.CoachingEnabled = true

	svc, err := assemble("test-version", cfg, components{
		kv:          state.NewMemory(),
		backend:     fakeBackend{},
		analysisDir: filepath.Join(dir, "analysis"),
		coachingDir: filepath.Join(dir, "coaching"),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))
	svc.subscribe()
	svc.ready.Store(true)

	cleanup := func() {
		require.NoError(t, svc.Shutdown(context.Background()))
	}
	return svc, cleanup
}

func do(t *testing.T, svc *Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

// seedPrompt records a prompt directly in the session model.
func seedPrompt(t *testing.T, svc *Service, id, text string) string {
	t.Helper()
	_, err := svc.sessionManager.OnPromptDetected(context.Background(), session.PromptInput{
		ID:              id,
		Text:            text,
		SourceID:        models.SourceClaudeCode,
		SourceSessionID: "claude-1",
		ProjectPath:     "/home/u/app",
	})
	require.NoError(t, err)
	return svc.sessionManager.ActiveSessionID()
}

func TestHandleHealth(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := do(t, svc, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	svc.ready.Store(false)
	rec = do(t, svc, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStats(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	seedPrompt(t, svc, "p1", "Refactor the login handler to use the new session store")

	rec := do(t, svc, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "test-version", stats.Version)
	assert.Equal(t, "none", stats.Provider)
	assert.True(t, stats.Ready)
	assert.False(t, stats.Syncing)
	require.NotNil(t, stats.ActiveSession)
	assert.Equal(t, 1, stats.ActiveSession.PromptCount)
	assert.Equal(t, models.SourceClaudeCode, stats.ActiveSession.Platform)
}

func TestHandlePromptsPagination(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	var sessionID string
	for i := range 5 {
		sessionID = seedPrompt(t, svc, "p"+string(rune('a'+i)), "Prompt number "+string(rune('a'+i))+" about the parser")
	}

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantLen   int
		wantTotal int
	}{
		{"default page", "/api/sessions/" + sessionID + "/prompts", http.StatusOK, 5, 5},
		{"limited", "/api/sessions/" + sessionID + "/prompts?limit=2", http.StatusOK, 2, 5},
		{"offset", "/api/sessions/" + sessionID + "/prompts?offset=4&limit=2", http.StatusOK, 1, 5},
		{"past end", "/api/sessions/" + sessionID + "/prompts?offset=10", http.StatusOK, 0, 5},
		{"active alias", "/api/sessions/active/prompts", http.StatusOK, 5, 5},
		{"unknown", "/api/sessions/nope/prompts", http.StatusNotFound, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, svc, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var page PromptPage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
			assert.Len(t, page.Prompts, tt.wantLen)
			assert.Equal(t, tt.wantTotal, page.Total)
		})
	}
}

func TestHandleGoal(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	sessionID := seedPrompt(t, svc, "p1", "Add pagination to the prompts endpoint")

	var got []session.Event
	unsub := svc.sessionManager.Events.Subscribe(func(ev session.Event) { got = append(got, ev) })
	defer unsub()

	tests := []struct {
		name     string
		id       string
		body     string
		wantCode int
	}{
		{"set goal", sessionID, `{"goal":"ship pagination"}`, http.StatusNoContent},
		{"progress", sessionID, `{"progress":100}`, http.StatusNoContent},
		{"rename", sessionID, `{"name":"pagination work"}`, http.StatusNoContent},
		{"out of range", sessionID, `{"progress":140}`, http.StatusBadRequest},
		{"empty", sessionID, `{}`, http.StatusBadRequest},
		{"malformed", sessionID, `{`, http.StatusBadRequest},
		{"unknown session", "missing", `{"goal":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, svc, http.MethodPost, "/api/sessions/"+tt.id+"/goal", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	sess, err := svc.sessionManager.Session(sessionID)
	require.NoError(t, err)
	assert.Equal(t, "ship pagination", sess.Goal)
	assert.Equal(t, "pagination work", sess.CustomName)
	require.NotNil(t, sess.GoalProgress)
	assert.Equal(t, 100, *sess.GoalProgress)

	var types []string
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, session.EventGoalSet)
	assert.Contains(t, types, session.EventGoalCompleted)

	var mirrored []SessionSummary
	ok, err := svc.kv.Get(state.KeySessionsList, &mirrored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, mirrored, 1)
	assert.Equal(t, "ship pagination", mirrored[0].Goal)
}

func TestHandleAnalysisAndCoachingMisses(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	assert.Equal(t, http.StatusNotFound, do(t, svc, http.MethodGet, "/api/analysis/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, svc, http.MethodGet, "/api/coaching/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, svc, http.MethodGet, "/api/coaching/latest", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, svc, http.MethodPost, "/api/coaching/dismiss", "").Code)
}

func TestHandleSync(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := do(t, svc, http.MethodPost, "/api/sync", `{"force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res devsync.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, devsync.CodeNotAuthenticated, res.Errors[0].Code)
	assert.NotNil(t, svc.Stats().LastSync)

	svc.syncing.Store(true)
	assert.Equal(t, http.StatusConflict, do(t, svc, http.MethodPost, "/api/sync", "").Code)
	svc.syncing.Store(false)

	assert.Equal(t, http.StatusBadRequest, do(t, svc, http.MethodPost, "/api/sync", `{`).Code)
}

func TestSyncWithToken(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	svc.pipeline = devsync.NewPipeline(fakeBackend{token: true}, svc.unified, svc.kv)

	var phases []string
	res, err := svc.Sync(context.Background(), devsync.Options{Progress: func(p devsync.Progress) {
		phases = append(phases, p.Phase)
	}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{devsync.PhaseComplete}, phases)
}

func TestHandleProjects(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	seedPrompt(t, svc, "p1", "Explain the retry policy in the sync client")

	rec := do(t, svc, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var projects []*models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "app", projects[0].Name)
}

func TestServeIndex(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := do(t, svc, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/events")
}

func TestHookFilesFlowThroughPipeline(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()
	project := t.TempDir()
	dir := svc.processor.Dir()

	_, err := hooks.WritePrompt(dir, &hooks.PromptRecord{
		ID:        "prompt-1",
		Prompt:    "Fix the null pointer in the session loader and add a regression test",
		Source:    string(models.SourceClaudeCode),
		SessionID: "claude-abc",
		Cwd:       project,
	})
	require.NoError(t, err)
	n, err := svc.processor.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		a, err := svc.analyses.Get("prompt-1")
		return err == nil && a != nil
	}, 5*time.Second, 20*time.Millisecond)

	rec := do(t, svc, http.MethodGet, "/api/analysis/prompt-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a models.PromptAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.True(t, a.Heuristic)

	ok := true
	_, err = hooks.WriteResponseRecord(dir, &hooks.ResponseRecord{
		ID:            "resp-1",
		Source:        string(models.SourceClaudeCode),
		Response:      "Fixed the nil check in loader.go and added a test.",
		Success:       &ok,
		SessionID:     "claude-abc",
		Cwd:           project,
		HookType:      "Stop",
		IsFinal:       true,
		FilesModified: []string{filepath.Join(project, "loader.go")},
	})
	require.NoError(t, err)
	_, err = svc.processor.ProcessAll(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return do(t, svc, http.MethodGet, "/api/coaching/prompt-1", "").Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	sess := svc.sessionManager.ActiveSession()
	require.NotNil(t, sess)
	require.Len(t, sess.Responses, 1)
	assert.Equal(t, "prompt-1", sess.Responses[0].PromptID)

	rec = do(t, svc, http.MethodGet, "/api/coaching/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c models.CoachingData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "resp-1", c.ResponseID)
	assert.NotEmpty(t, c.Suggestions)
}
