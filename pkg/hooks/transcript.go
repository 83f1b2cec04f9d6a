package hooks

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/thebtf/devark/pkg/models"
)

// Turn is the last assistant turn of a Claude Code transcript.
type Turn struct {
	Text          string
	ToolCalls     []models.ToolCall
	ToolResults   []models.ToolResult
	FilesModified []string
}

type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

var editTools = map[string]bool{"Edit": true, "Write": true, "MultiEdit": true, "NotebookEdit": true}

// ParseTranscriptFile reads a JSONL transcript. A missing file yields an empty turn.
func ParseTranscriptFile(path string) (*Turn, error) {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	f, err := os.Open(path) // #nosec G304 -- path comes from the host tool
	if err != nil {
		if os.IsNotExist(err) {
			return &Turn{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseTranscript(f)
}

// ParseTranscript collects everything the assistant produced after the last
// real user message. Tool results travel in user-role lines and do not start
// a new turn.
func ParseTranscript(r io.Reader) (*Turn, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*MaxHookInput)

	turn := &Turn{}
	var texts []string
	toolNames := map[string]string{}
	seen := map[string]bool{}

	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		role := line.Message.Role
		if role == "" {
			role = line.Type
		}

		switch role {
		case "user":
			if isToolResultOnly(line.Message.Content) {
				turn.ToolResults = append(turn.ToolResults, toolResults(line.Message.Content, toolNames)...)
				continue
			}
			if strings.TrimSpace(textContent(line.Message.Content)) == "" {
				continue
			}
			turn = &Turn{}
			texts = nil
			seen = map[string]bool{}
		case "assistant":
			if t := textContent(line.Message.Content); t != "" {
				texts = append(texts, t)
			}
			for _, block := range blocks(line.Message.Content) {
				if block["type"] != "tool_use" {
					continue
				}
				name, _ := block["name"].(string)
				input, _ := block["input"].(map[string]any)
				if id, ok := block["id"].(string); ok {
					toolNames[id] = name
				}
				turn.ToolCalls = append(turn.ToolCalls, models.ToolCall{Name: name, Arguments: input})
				if !editTools[name] {
					continue
				}
				for _, key := range []string{"file_path", "notebook_path"} {
					if p, ok := input[key].(string); ok && p != "" && !seen[p] {
						seen[p] = true
						turn.FilesModified = append(turn.FilesModified, p)
					}
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	turn.Text = strings.Join(texts, "\n\n")
	return turn, nil
}

func blocks(content any) []map[string]any {
	arr, ok := content.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func textContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	var texts []string
	for _, b := range blocks(content) {
		if b["type"] == "text" {
			if t, ok := b["text"].(string); ok {
				texts = append(texts, t)
			}
		}
	}
	return strings.Join(texts, "\n")
}

func isToolResultOnly(content any) bool {
	bs := blocks(content)
	if len(bs) == 0 {
		return false
	}
	for _, b := range bs {
		if b["type"] != "tool_result" {
			return false
		}
	}
	return true
}

func toolResults(content any, names map[string]string) []models.ToolResult {
	var out []models.ToolResult
	for _, b := range blocks(content) {
		id, _ := b["tool_use_id"].(string)
		isErr, _ := b["is_error"].(bool)
		out = append(out, models.ToolResult{
			Name:    names[id],
			Output:  textContent(b["content"]),
			Success: !isErr,
		})
	}
	return out
}
