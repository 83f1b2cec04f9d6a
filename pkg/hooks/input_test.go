package hooks

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/devark/pkg/models"
)

func TestInputSource(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		args []string
		want models.Source
	}{
		{"explicit flag", Input{HookEventName: "UserPromptSubmit"}, []string{"--source", "cursor"}, models.SourceCursor},
		{"explicit equals", Input{}, []string{"--source=claude_code"}, models.SourceClaudeCode},
		{"claude event", Input{HookEventName: "Stop"}, nil, models.SourceClaudeCode},
		{"cursor event", Input{HookEventName: "beforeSubmitPrompt"}, nil, models.SourceCursor},
		{"cursor conversation", Input{ConversationID: "c1"}, nil, models.SourceCursor},
		{"nothing", Input{}, nil, models.SourceClaudeCode},
		{"dangling flag", Input{HookEventName: "stop"}, []string{"--source"}, models.SourceCursor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Source(tt.args))
		})
	}
}

func TestInputDecodesCursorPayload(t *testing.T) {
	raw := `{"hook_event_name":"beforeSubmitPrompt","conversation_id":"c1","generation_id":"g1",
"prompt":"fix the login bug","model":"gpt-5","cursor_version":"1.7.0","user_email":"u@example.com",
"attachments":[{"type":"file","file_path":"/w/app/login.ts"}],"workspace_roots":["/w/app"]}`
	var in Input
	require.NoError(t, json.Unmarshal([]byte(raw), &in))

	rec := in.PromptRecord(in.Source(nil))
	assert.Equal(t, "cursor", rec.Source)
	assert.Equal(t, "fix the login bug", rec.Prompt)
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, []Attachment{{Type: "file", FilePath: "/w/app/login.ts"}}, rec.Attachments)
	assert.Equal(t, "/w/app", rec.ProjectPath())
}

func TestInputResponseRecord(t *testing.T) {
	loops := 2
	tests := []struct {
		name       string
		status     string
		wantReason string
		wantOK     bool
	}{
		{"completed", models.StopCompleted, models.ReasonCompleted, true},
		{"aborted", models.StopAborted, models.ReasonCancelled, true},
		{"error", models.StopError, models.ReasonError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{HookEventName: "stop", ConversationID: "c1", Status: tt.status, LoopCount: &loops}
			rec := in.ResponseRecord(models.SourceCursor, true)
			assert.True(t, rec.IsFinal)
			assert.Equal(t, tt.status, rec.StopReason)
			assert.Equal(t, tt.wantReason, rec.Reason)
			require.NotNil(t, rec.Success)
			assert.Equal(t, tt.wantOK, *rec.Success)
			assert.Equal(t, &loops, rec.LoopCount)
		})
	}

	rec := (&Input{HookEventName: "afterAgentResponse", Text: "done"}).ResponseRecord(models.SourceCursor, false)
	assert.Nil(t, rec.Success)
	assert.Empty(t, rec.Reason)
	assert.Equal(t, "done", rec.Response)
}

const sampleTranscript = `{"type":"user","message":{"role":"user","content":"first question"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"old answer"}]}}
{"type":"user","message":{"role":"user","content":[{"type":"text","text":"add a retry to the client"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Looking at the client."},{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"/w/client.go"}}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"package client"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t2","name":"Edit","input":{"file_path":"/w/client.go","old_string":"a","new_string":"b"}}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t2","is_error":true,"content":[{"type":"text","text":"no match"}]}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t3","name":"Write","input":{"file_path":"/w/client.go"}},{"type":"tool_use","id":"t4","name":"Write","input":{"file_path":"/w/retry.go"}}]}}
not json
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Added retries."}]}}
`

func TestParseTranscript(t *testing.T) {
	turn, err := ParseTranscript(strings.NewReader(sampleTranscript))
	require.NoError(t, err)

	assert.Equal(t, "Looking at the client.\n\nAdded retries.", turn.Text)
	assert.Equal(t, []string{"/w/client.go", "/w/retry.go"}, turn.FilesModified)
	require.Len(t, turn.ToolCalls, 4)
	assert.Equal(t, "Read", turn.ToolCalls[0].Name)
	assert.Equal(t, "/w/client.go", turn.ToolCalls[0].Arguments["file_path"])
	assert.Equal(t, []models.ToolResult{
		{Name: "Read", Output: "package client", Success: true},
		{Name: "Edit", Output: "no match", Success: false},
	}, turn.ToolResults)
}

func TestParseTranscriptFile(t *testing.T) {
	turn, err := ParseTranscriptFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, turn.Text)

	path := filepath.Join(t.TempDir(), "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleTranscript), 0o600))
	turn, err = ParseTranscriptFile(path)
	require.NoError(t, err)
	assert.Contains(t, turn.Text, "Added retries.")
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"1.2.3"}`))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	var got struct{ Version string }
	require.NoError(t, GetJSON(port, "/api/stats", time.Second, &got))
	assert.Equal(t, "1.2.3", got.Version)

	assert.Error(t, GetJSON(port, "/nope", time.Second, &got))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["force"] != true {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"sync already in progress"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	var got struct{ Success bool }
	require.NoError(t, PostJSON(port, "/api/sync", time.Second, map[string]bool{"force": true}, &got))
	assert.True(t, got.Success)

	err = PostJSON(port, "/api/sync", time.Second, map[string]bool{"force": false}, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync already in progress")
}
