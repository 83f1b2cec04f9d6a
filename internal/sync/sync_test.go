package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/pkg/models"
)

var base = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func makeSession(i int, dur time.Duration, prompts ...string) *models.Session {
	start := base.Add(time.Duration(i) * time.Hour)
	s := &models.Session{
		ID:        fmt.Sprintf("s%03d", i),
		ProjectID: fmt.Sprintf("proj%d", i%3),
		Platform:  models.SourceCursor,
		StartTime: start,
		Metadata:  models.SessionMetadata{ProjectPath: "/home/u/app"},
	}
	for j, text := range prompts {
		s.Prompts = append(s.Prompts, models.NewPrompt(fmt.Sprintf("%s-p%d", s.ID, j), s.ID, text, start.Add(time.Duration(j)*time.Minute)))
	}
	s.LastActivityTime = start.Add(dur)
	return s
}

func eligibleSessions(n int) []*models.Session {
	out := make([]*models.Session, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, makeSession(i, 5*time.Minute, "refactor the handler"))
	}
	return out
}

type staticSource struct {
	err      error
	sessions []*models.Session
}

func (s staticSource) Sessions(context.Context) ([]*models.Session, error) {
	return s.sessions, s.err
}

type backendServer struct {
	*httptest.Server
	last      atomic.Pointer[time.Time]
	uploads   atomic.Int32
	received  atomic.Int32
	invalid   atomic.Bool
	lastFails atomic.Bool
	failPost  atomic.Bool
}

func newBackend(t *testing.T) *backendServer {
	b := &backendServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || b.invalid.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"valid": true}`))
	})
	mux.HandleFunc("/sessions/last", func(w http.ResponseWriter, r *http.Request) {
		if b.lastFails.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"lastSessionTimestamp": b.last.Load()})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if b.failPost.Load() {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var batch []SanitizedSession
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.uploads.Add(1)
		b.received.Add(int32(len(batch)))
		_ = json.NewEncoder(w).Encode(UploadResult{Success: true, SessionsProcessed: len(batch)})
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func TestSyncCancelledAfterFirstBatch(t *testing.T) {
	b := newBackend(t)
	kv := state.NewMemory()
	p := NewPipeline(NewClient(b.URL, "tok"), staticSource{sessions: eligibleSessions(250)}, kv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var phases []string
	res := p.Sync(ctx, Options{Force: true, Progress: func(pr Progress) {
		phases = append(phases, pr.Phase)
		if pr.Phase == PhaseUploading && pr.Current == 100 {
			cancel()
		}
	}})

	assert.False(t, res.Success)
	assert.Equal(t, 100, res.SessionsUploaded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeCancelled, res.Errors[0].Code)
	assert.Equal(t, PhaseCancelled, phases[len(phases)-1])
	assert.EqualValues(t, 1, b.uploads.Load())

	var projects map[string]ProjectSync
	ok, err := kv.Get(state.KeyProjectSync, &projects)
	require.NoError(t, err)
	assert.True(t, ok, "uploaded projects are recorded even on cancel")
	assert.Len(t, projects, 3)
}

func TestSyncUploadsInBatches(t *testing.T) {
	b := newBackend(t)
	kv := state.NewMemory()
	sessions := append(eligibleSessions(250),
		makeSession(300, 2*time.Minute, "too short"),
		makeSession(301, 10*time.Minute, "[Tool result] ok"),
	)
	p := NewPipeline(NewClient(b.URL, "tok"), staticSource{sessions: sessions}, kv)

	var sanitizeReports int
	res := p.Sync(context.Background(), Options{Force: true, Progress: func(pr Progress) {
		if pr.Phase == PhaseSanitizing {
			sanitizeReports++
		}
	}})

	require.True(t, res.Success, "%+v", res.Errors)
	assert.Equal(t, 252, res.SessionsFound)
	assert.Equal(t, 250, res.SessionsEligible)
	assert.Equal(t, 250, res.SessionsUploaded)
	assert.Equal(t, 3, res.Batches)
	assert.EqualValues(t, 3, b.uploads.Load())
	assert.EqualValues(t, 250, b.received.Load())
	assert.Equal(t, 25, sanitizeReports)
}

func TestSyncIncrementalBound(t *testing.T) {
	b := newBackend(t)
	last := base.Add(247 * time.Hour)
	b.last.Store(&last)
	p := NewPipeline(NewClient(b.URL, "tok"), staticSource{sessions: eligibleSessions(250)}, state.NewMemory())

	res := p.Sync(context.Background(), Options{})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.SessionsUploaded)
	require.NotNil(t, res.Since)
	assert.True(t, last.Equal(*res.Since))

	since := base.Add(239 * time.Hour)
	res = p.Sync(context.Background(), Options{Since: &since})
	require.True(t, res.Success)
	assert.Equal(t, 10, res.SessionsUploaded)
}

func TestSyncFallsBackToProjectState(t *testing.T) {
	b := newBackend(t)
	b.lastFails.Store(true)
	kv := state.NewMemory()
	require.NoError(t, kv.Put(state.KeyProjectSync, map[string]ProjectSync{
		"proj0": {LastSync: base.Add(1000 * time.Hour)},
	}))
	p := NewPipeline(NewClient(b.URL, "tok"), staticSource{sessions: eligibleSessions(9)}, kv)

	res := p.Sync(context.Background(), Options{})
	require.True(t, res.Success)
	assert.Nil(t, res.Since)
	assert.Equal(t, 6, res.SessionsUploaded, "proj0 sessions are older than its last sync")
}

func TestSyncAuthentication(t *testing.T) {
	b := newBackend(t)
	tests := []struct {
		name  string
		token string
		valid bool
		code  string
	}{
		{name: "no token", token: "", valid: true, code: CodeNotAuthenticated},
		{name: "rejected token", token: "wrong", valid: true, code: CodeTokenInvalid},
		{name: "revoked token", token: "tok", valid: false, code: CodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.invalid.Store(!tt.valid)
			defer b.invalid.Store(false)
			p := NewPipeline(NewClient(b.URL, tt.token), staticSource{sessions: eligibleSessions(3)}, state.NewMemory())
			res := p.Sync(context.Background(), Options{Force: true})
			assert.False(t, res.Success)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.code, res.Errors[0].Code)
			assert.Zero(t, b.uploads.Load())
		})
	}
}

func TestSyncReadAndUploadErrors(t *testing.T) {
	b := newBackend(t)
	p := NewPipeline(NewClient(b.URL, "tok"), staticSource{err: errors.New("disk gone")}, state.NewMemory())
	res := p.Sync(context.Background(), Options{Force: true})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeReadError, res.Errors[0].Code)

	b.failPost.Store(true)
	p = NewPipeline(NewClient(b.URL, "tok"), staticSource{sessions: eligibleSessions(3)}, state.NewMemory())
	var last Progress
	res = p.Sync(context.Background(), Options{Force: true, Progress: func(pr Progress) { last = pr }})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeUploadFailed, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "503")
	assert.Equal(t, PhaseError, last.Phase)
	assert.Zero(t, res.SessionsUploaded)
}

func TestFilterEligibleSessions(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
		want    bool
	}{
		{name: "long with prompt", session: makeSession(0, 4*time.Minute, "add caching"), want: true},
		{name: "too short", session: makeSession(0, 3*time.Minute+59*time.Second, "add caching"), want: false},
		{name: "no prompts", session: makeSession(0, time.Hour), want: false},
		{name: "only tool results", session: makeSession(0, time.Hour, "[Tool result] done", "[Tool: bash]"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(tt.session))
		})
	}
}

func TestSanitizeRemovesCode(t *testing.T) {
	s := makeSession(0, 10*time.Minute, "fix `login()` in /home/u/app/auth.ts with token=abc123", "[Tool result] ignored")
	s.Goal = "Harden auth"
	s.Responses = []*models.Response{{
		Timestamp:     base.Add(2 * time.Minute),
		Response:      "Done:\n```ts\nexport function login() {}\n```",
		FilesModified: []string{"auth.ts", "auth.test.ts", "README.md"},
	}}

	out := Sanitize(s)
	assert.Equal(t, "app", out.ProjectName)
	assert.Equal(t, 600, out.Duration)
	assert.Equal(t, 1, out.PromptCount)
	assert.Equal(t, 3, out.FilesModified)
	assert.Equal(t, []string{"TypeScript"}, out.Languages)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, RoleUser, out.Messages[0].Role)
	assert.Equal(t, RoleAssistant, out.Messages[1].Role)
	for _, m := range out.Messages {
		assert.NotContains(t, m.Content, "login()")
		assert.NotContains(t, m.Content, "/home/u")
		assert.NotContains(t, m.Content, "abc123")
	}
	assert.True(t, strings.HasPrefix(out.Messages[1].Content, "Done:"))
}
