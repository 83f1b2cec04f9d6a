package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/thebtf/devark/pkg/models"
)

// DropDirName is the directory under the system temp dir shared with agent tools.
const DropDirName = "devark-hooks"

// File name prefixes. Each family is consumed by the hook-file processor.
const (
	PrefixCursorPrompt        = "prompt-"
	PrefixClaudePrompt        = "claude-prompt-"
	PrefixCursorResponse      = "cursor-response-"
	PrefixCursorFinalResponse = "cursor-response-final-"
	PrefixClaudeResponse      = "claude-response-"

	// FinalMarker identifies final responses by file name.
	FinalMarker = "-response-final-"
)

// DropDir returns the drop directory, honoring DEVARK_HOOK_DIR.
func DropDir() string {
	if dir := os.Getenv("DEVARK_HOOK_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), DropDirName)
}

// PromptPrefix returns the file prefix for prompts from a source.
func PromptPrefix(source models.Source) string {
	if source == models.SourceClaudeCode {
		return PrefixClaudePrompt
	}
	return PrefixCursorPrompt
}

// ResponsePrefix returns the file prefix for responses from a source.
func ResponsePrefix(source models.Source, final bool) string {
	if source == models.SourceClaudeCode {
		return PrefixClaudeResponse
	}
	if final {
		return PrefixCursorFinalResponse
	}
	return PrefixCursorResponse
}

// dropFileName builds "<prefix><unix-ms>-<short>.json" so listing order follows write order.
func dropFileName(prefix string, now time.Time) string {
	short := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s%d-%s.json", prefix, now.UnixMilli(), short)
}

// WriteDropFile writes v as JSON into dir using a temp-file-then-rename so
// readers never observe a partial record. Returns the final path.
func WriteDropFile(dir, prefix string, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create drop dir: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	final := filepath.Join(dir, dropFileName(prefix, time.Now()))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename drop file: %w", err)
	}
	return final, nil
}

// WritePrompt drops a prompt record for the processor.
func WritePrompt(dir string, rec *PromptRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return WriteDropFile(dir, PromptPrefix(models.Source(rec.Source)), rec)
}

// WriteResponseRecord drops a response record for the processor, applying record caps.
func WriteResponseRecord(dir string, rec *ResponseRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	rec.Truncate()
	return WriteDropFile(dir, ResponsePrefix(models.Source(rec.Source), rec.IsFinal), rec)
}
