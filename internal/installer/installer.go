// Package installer writes the user-scoped hook configuration that makes
// Cursor and Claude Code drop prompt and response files for devark.
package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Tool identifies a host tool.
type Tool string

// Supported tools.
const (
	ToolCursor     Tool = "cursor"
	ToolClaudeCode Tool = "claude_code"
)

// ErrUnknownTool is returned for tools other than cursor and claude_code.
var ErrUnknownTool = errors.New("unknown tool")

// Binary names of the devark executables the hooks invoke.
const (
	BinDevark        = "devark"
	BinPromptSubmit  = "devark-prompt-submit"
	BinAgentResponse = "devark-agent-response"
	BinStop          = "devark-stop"
	BinStatusline    = "devark-statusline"
)

// Cursor hook types.
const (
	CursorBeforeSubmitPrompt = "beforeSubmitPrompt"
	CursorAfterAgentResponse = "afterAgentResponse"
	CursorStop               = "stop"
)

// Claude Code hook types.
const (
	ClaudeSessionStart     = "SessionStart"
	ClaudeUserPromptSubmit = "UserPromptSubmit"
	ClaudeStop             = "Stop"
	ClaudePreCompact       = "PreCompact"
	ClaudeSessionEnd       = "SessionEnd"
)

var (
	cursorHookTypes = []string{CursorBeforeSubmitPrompt, CursorAfterAgentResponse, CursorStop}
	claudeHookTypes = []string{ClaudeSessionStart, ClaudeUserPromptSubmit, ClaudeStop, ClaudePreCompact, ClaudeSessionEnd}

	// markers identify commands written by devark or its predecessors.
	markers = []string{"vibe-log", "devark-sync", "devark-hook", "devark sync", "claude-hooks/"}

	ownBasenames = []string{BinDevark, BinPromptSubmit, BinAgentResponse, BinStop, BinStatusline}
)

// HookTypes returns the valid hook types for tool.
func HookTypes(tool Tool) []string {
	switch tool {
	case ToolCursor:
		return slices.Clone(cursorHookTypes)
	case ToolClaudeCode:
		return slices.Clone(claudeHookTypes)
	}
	return nil
}

// HookError is one install or uninstall failure.
type HookError struct {
	Hook        string `json:"hook,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Result reports what an install or uninstall changed.
type Result struct {
	Tool      Tool        `json:"tool"`
	Path      string      `json:"path"`
	Installed []string    `json:"installed,omitempty"`
	Errors    []HookError `json:"errors,omitempty"`
	Removed   int         `json:"removed"`
	Success   bool        `json:"success"`
}

func (r *Result) fail(hook, msg string, recoverable bool) Result {
	r.Errors = append(r.Errors, HookError{Hook: hook, Message: msg, Recoverable: recoverable})
	r.Success = false
	return *r
}

// Installer edits hook configuration under a home directory.
type Installer struct {
	home   string
	binDir string
}

// New creates an installer. An empty home selects the user's home directory;
// an empty binDir selects the directory of the running executable.
func New(home, binDir string) (*Installer, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home: %w", err)
		}
		home = h
	}
	if binDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		binDir = filepath.Dir(exe)
	}
	abs, err := filepath.Abs(binDir)
	if err != nil {
		return nil, fmt.Errorf("resolve bin dir: %w", err)
	}
	return &Installer{home: home, binDir: abs}, nil
}

// ConfigPath returns the user-scoped settings file for tool.
func (i *Installer) ConfigPath(tool Tool) string {
	switch tool {
	case ToolCursor:
		return filepath.Join(i.home, ".cursor", "hooks.json")
	case ToolClaudeCode:
		return filepath.Join(i.home, ".claude", "settings.json")
	}
	return ""
}

// Install replaces every devark entry in tool's settings with fresh entries
// for hookTypes (all valid types when empty). Unknown hook types reject the
// whole install and leave the file untouched.
func (i *Installer) Install(tool Tool, hookTypes ...string) Result {
	res := Result{Tool: tool, Path: i.ConfigPath(tool)}
	valid := HookTypes(tool)
	if valid == nil {
		return res.fail("", fmt.Sprintf("%v: %s", ErrUnknownTool, tool), false)
	}
	if len(hookTypes) == 0 {
		hookTypes = valid
	}
	for _, h := range hookTypes {
		if !slices.Contains(valid, h) {
			res.fail(h, fmt.Sprintf("unknown %s hook type %q", tool, h), false)
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	obj, err := readObject(res.Path)
	if err != nil {
		return res.fail("", err.Error(), true)
	}
	hooks := asObject(obj["hooks"])
	res.Removed = removeOwned(tool, hooks)
	for _, h := range hookTypes {
		cmd := i.command(tool, h)
		hooks[h] = append(asArray(hooks[h]), newEntry(tool, cmd))
		res.Installed = append(res.Installed, h)
	}
	obj["hooks"] = hooks
	if tool == ToolCursor {
		obj["version"] = 1
	}
	if err := writeObject(res.Path, obj); err != nil {
		return res.fail("", err.Error(), true)
	}
	res.Success = true
	log.Info().Str("tool", string(tool)).Str("path", res.Path).Strs("hooks", res.Installed).Int("replaced", res.Removed).Msg("Installed hooks")
	return res
}

// Uninstall removes only devark entries and prunes what becomes empty.
func (i *Installer) Uninstall(tool Tool) Result {
	res := Result{Tool: tool, Path: i.ConfigPath(tool)}
	if HookTypes(tool) == nil {
		return res.fail("", fmt.Sprintf("%v: %s", ErrUnknownTool, tool), false)
	}
	if _, err := os.Stat(res.Path); errors.Is(err, os.ErrNotExist) {
		res.Success = true
		return res
	}
	obj, err := readObject(res.Path)
	if err != nil {
		return res.fail("", err.Error(), true)
	}
	hooks := asObject(obj["hooks"])
	res.Removed = removeOwned(tool, hooks)
	if len(hooks) == 0 {
		delete(obj, "hooks")
	} else {
		obj["hooks"] = hooks
	}
	if tool == ToolClaudeCode && removeOwnedStatusLine(obj) {
		res.Removed++
	}
	if err := writeObject(res.Path, obj); err != nil {
		return res.fail("", err.Error(), true)
	}
	res.Success = true
	log.Info().Str("tool", string(tool)).Int("removed", res.Removed).Msg("Uninstalled hooks")
	return res
}

// Status returns the hook types that currently carry a devark entry.
func (i *Installer) Status(tool Tool) ([]string, error) {
	if HookTypes(tool) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	obj, err := readObject(i.ConfigPath(tool))
	if err != nil {
		return nil, err
	}
	hooks := asObject(obj["hooks"])
	var out []string
	for _, h := range HookTypes(tool) {
		for _, cmd := range entryCommands(tool, asArray(hooks[h])) {
			if IsOwnedCommand(cmd) {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

// InstallStatusLine points Claude Code's status line at devark unless the
// user already configured a different one.
func (i *Installer) InstallStatusLine() Result {
	res := Result{Tool: ToolClaudeCode, Path: i.ConfigPath(ToolClaudeCode)}
	obj, err := readObject(res.Path)
	if err != nil {
		return res.fail("statusLine", err.Error(), true)
	}
	if cur := asObject(obj["statusLine"]); len(cur) > 0 {
		if cmd, _ := cur["command"].(string); !IsOwnedCommand(cmd) {
			return res.fail("statusLine", "a custom status line is already configured", true)
		}
	}
	obj["statusLine"] = map[string]any{"type": "command", "command": quoteCommand(i.binPath(BinStatusline))}
	if err := writeObject(res.Path, obj); err != nil {
		return res.fail("statusLine", err.Error(), true)
	}
	res.Installed = []string{"statusLine"}
	res.Success = true
	return res
}

// command builds the quoted absolute binary path plus arguments for one hook.
func (i *Installer) command(tool Tool, hookType string) string {
	switch hookType {
	case CursorBeforeSubmitPrompt, ClaudeUserPromptSubmit:
		return quoteCommand(i.binPath(BinPromptSubmit), "--source", string(tool))
	case CursorAfterAgentResponse:
		return quoteCommand(i.binPath(BinAgentResponse), "--source", string(tool))
	case CursorStop, ClaudeStop:
		return quoteCommand(i.binPath(BinStop), "--source", string(tool))
	default:
		// Claude Code lifecycle hooks trigger a background sync.
		return quoteCommand(i.binPath(BinDevark), "sync", "--quiet", "--hook", hookType)
	}
}

func (i *Installer) binPath(name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(i.binDir, name)
}

func quoteCommand(path string, args ...string) string {
	parts := append([]string{`"` + path + `"`}, args...)
	return strings.Join(parts, " ")
}

// IsOwnedCommand reports whether a hook command belongs to devark, including
// entries written by earlier releases.
func IsOwnedCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return slices.Contains(ownBasenames, commandBase(cmd))
}

// commandBase extracts the basename of the executable or script a command
// runs, looking past a leading "node".
func commandBase(cmd string) string {
	tokens := splitCommand(cmd)
	if len(tokens) == 0 {
		return ""
	}
	target := tokens[0]
	if b := baseName(target); (b == "node" || b == "node.exe") && len(tokens) > 1 {
		target = tokens[1]
	}
	base := baseName(target)
	for _, ext := range []string{".exe", ".js", ".cjs", ".mjs"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.ToLower(p[strings.LastIndex(p, "/")+1:])
}

func splitCommand(cmd string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.TrimSpace(cmd) {
		switch {
		case r == '"' || r == '\'':
			quoted = !quoted
		case r == ' ' && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func newEntry(tool Tool, cmd string) map[string]any {
	if tool == ToolCursor {
		return map[string]any{"command": cmd}
	}
	return map[string]any{"hooks": []any{map[string]any{"type": "command", "command": cmd}}}
}

// entryCommands lists the commands inside one hook-type array.
func entryCommands(tool Tool, entries []any) []string {
	var out []string
	for _, e := range entries {
		m := asObject(e)
		if tool == ToolCursor {
			if cmd, ok := m["command"].(string); ok {
				out = append(out, cmd)
			}
			continue
		}
		for _, h := range asArray(m["hooks"]) {
			if cmd, ok := asObject(h)["command"].(string); ok {
				out = append(out, cmd)
			}
		}
	}
	return out
}

// removeOwned strips devark entries from every hook type and prunes empty
// groups and arrays. Returns the number of commands removed.
func removeOwned(tool Tool, hooks map[string]any) int {
	removed := 0
	for name, v := range hooks {
		entries, ok := v.([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(entries))
		for _, e := range entries {
			m := asObject(e)
			if tool == ToolCursor {
				if cmd, _ := m["command"].(string); IsOwnedCommand(cmd) {
					removed++
					continue
				}
				kept = append(kept, e)
				continue
			}
			inner, ok := m["hooks"].([]any)
			if !ok {
				kept = append(kept, e)
				continue
			}
			innerKept := make([]any, 0, len(inner))
			for _, h := range inner {
				if cmd, _ := asObject(h)["command"].(string); IsOwnedCommand(cmd) {
					removed++
					continue
				}
				innerKept = append(innerKept, h)
			}
			if len(innerKept) == 0 {
				continue
			}
			m["hooks"] = innerKept
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(hooks, name)
		} else {
			hooks[name] = kept
		}
	}
	return removed
}

func removeOwnedStatusLine(obj map[string]any) bool {
	cur := asObject(obj["statusLine"])
	if cmd, _ := cur["command"].(string); cmd != "" && IsOwnedCommand(cmd) {
		delete(obj, "statusLine")
		return true
	}
	return false
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asArray(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	return nil
}

// readObject loads a JSON object; a missing or empty file is an empty object.
func readObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	obj := map[string]any{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return obj, nil
}

func writeObject(path string, obj map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
