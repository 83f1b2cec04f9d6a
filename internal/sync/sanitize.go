// Package sync uploads sanitized sessions to the devark backend.
package sync

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thebtf/devark/internal/privacy"
	"github.com/thebtf/devark/pkg/models"
)

// MinSessionDuration is the shortest session worth uploading.
const MinSessionDuration = 4 * time.Minute

const maxMessageChars = 1000

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SanitizedMessage is one message with code and credentials removed.
type SanitizedMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// SanitizedSession is the record sent to the backend.
type SanitizedSession struct {
	Timestamp     time.Time          `json:"timestamp"`
	ID            string             `json:"id"`
	Tool          models.Source      `json:"tool"`
	ProjectName   string             `json:"projectName"`
	Messages      []SanitizedMessage `json:"messages"`
	Languages     []string           `json:"languages,omitempty"`
	Duration      int                `json:"duration"`
	MessageCount  int                `json:"messageCount"`
	PromptCount   int                `json:"promptCount"`
	FilesModified int                `json:"filesModified"`
	Goal          string             `json:"goal,omitempty"`

	projectID string
}

// sessionDuration prefers the recorded total over the activity span.
func sessionDuration(s *models.Session) time.Duration {
	if s.TotalDuration != nil && *s.TotalDuration > 0 {
		return *s.TotalDuration
	}
	return s.Duration()
}

// IsEligible reports whether s has an actual user prompt and lasted at least
// MinSessionDuration.
func IsEligible(s *models.Session) bool {
	if s == nil || models.CountActualUserPrompts(s.Prompts) == 0 {
		return false
	}
	return sessionDuration(s) >= MinSessionDuration
}

// FilterEligibleSessions keeps the sessions worth uploading, in order.
func FilterEligibleSessions(sessions []*models.Session) []*models.Session {
	out := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if IsEligible(s) {
			out = append(out, s)
		}
	}
	return out
}

// Sanitize converts a session into an upload record free of source code.
func Sanitize(s *models.Session) SanitizedSession {
	out := SanitizedSession{
		ID:          s.ID,
		Timestamp:   s.StartTime,
		Tool:        s.Platform,
		ProjectName: projectName(s),
		Duration:    int(sessionDuration(s).Seconds()),
		PromptCount: models.CountActualUserPrompts(s.Prompts),
		Goal:        privacy.Clean(s.Goal),
		projectID:   s.ProjectID,
	}

	for _, p := range s.Prompts {
		if !models.IsActualUserPrompt(p.Text) {
			continue
		}
		out.Messages = append(out.Messages, SanitizedMessage{
			Timestamp: p.Timestamp,
			Role:      RoleUser,
			Content:   cleanMessage(p.Text),
		})
	}
	files := map[string]bool{}
	for _, r := range s.Responses {
		for _, f := range r.FilesModified {
			files[f] = true
		}
		if strings.TrimSpace(r.Response) == "" {
			continue
		}
		out.Messages = append(out.Messages, SanitizedMessage{
			Timestamp: r.Timestamp,
			Role:      RoleAssistant,
			Content:   cleanMessage(r.Response),
		})
	}
	sort.SliceStable(out.Messages, func(i, j int) bool {
		return out.Messages[i].Timestamp.Before(out.Messages[j].Timestamp)
	})
	out.MessageCount = len(out.Messages)
	out.FilesModified = len(files)
	out.Languages = languages(files)
	return out
}

func cleanMessage(text string) string {
	return models.TruncateText(privacy.Clean(text), maxMessageChars)
}

func projectName(s *models.Session) string {
	if s.Metadata.ProjectPath == "" {
		return "unknown"
	}
	return filepath.Base(filepath.Clean(s.Metadata.ProjectPath))
}

var extLanguages = map[string]string{
	".go": "Go", ".ts": "TypeScript", ".tsx": "TypeScript", ".js": "JavaScript", ".jsx": "JavaScript",
	".py": "Python", ".rs": "Rust", ".java": "Java", ".kt": "Kotlin", ".swift": "Swift",
	".rb": "Ruby", ".php": "PHP", ".cs": "C#", ".cpp": "C++", ".c": "C", ".dart": "Dart",
	".css": "CSS", ".scss": "CSS", ".html": "HTML", ".sql": "SQL", ".sh": "Shell",
}

func languages(files map[string]bool) []string {
	set := map[string]bool{}
	for f := range files {
		if lang, ok := extLanguages[strings.ToLower(filepath.Ext(f))]; ok {
			set[lang] = true
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
