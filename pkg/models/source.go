package models

import (
	"crypto/md5" // #nosec G501 -- project ids are a stable identity hash, not a security boundary
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Source identifies the external agent tool that produced an event.
type Source string

const (
	SourceCursor     Source = "cursor"
	SourceClaudeCode Source = "claude_code"
)

var sourceDisplayNames = map[Source]string{
	SourceCursor:     "Cursor",
	SourceClaudeCode: "Claude Code",
}

// DisplayName returns a human readable name for the source.
// Unknown sources fall back to their raw tag.
func (s Source) DisplayName() string {
	if name, ok := sourceDisplayNames[s]; ok {
		return name
	}
	return string(s)
}

// Valid reports whether the source is a registered tag.
func (s Source) Valid() bool {
	_, ok := sourceDisplayNames[s]
	return ok
}

// RegisterSource adds a new source tag with its display name.
func RegisterSource(s Source, displayName string) {
	sourceDisplayNames[s] = displayName
}

// NormalizeProjectPath lowercases the path and converts separators to forward slashes.
// Nothing else is rewritten; every source must derive the same ProjectID.
func NormalizeProjectPath(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
}

// ProjectID derives the stable project identity: first 12 hex chars of MD5(normalized path).
// This derivation is shared by every session source and must not change.
func ProjectID(path string) string {
	sum := md5.Sum([]byte(NormalizeProjectPath(path))) // #nosec G401
	return hex.EncodeToString(sum[:])[:12]
}

// ProjectNameFromPath returns the last path element, used when a source gives no name.
func ProjectNameFromPath(path string) string {
	p := strings.TrimRight(strings.ReplaceAll(path, "\\", "/"), "/")
	if p == "" {
		return "unknown"
	}
	return filepath.Base(filepath.FromSlash(p))
}
