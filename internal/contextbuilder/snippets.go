package contextbuilder

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thebtf/devark/pkg/models"
)

// Snippet limits.
const (
	MaxSnippetChars     = 500
	MaxEntitySnippets   = 3
	MaxOpenFileSnippets = 3
	maxScanBytes        = 512 * 1024
)

// Snippet is a short excerpt of a workspace file.
type Snippet struct {
	Path      string  `json:"path"`
	Entity    string  `json:"entity,omitempty"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// resolve maps a prompt-relative reference onto an existing file under root.
func resolve(root, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	candidates := []string{ref}
	if !filepath.IsAbs(ref) && root != "" {
		candidates = append([]string{filepath.Join(root, ref)}, candidates...)
	}
	for _, c := range candidates {
		if fileExists(c) {
			return filepath.Clean(c), true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}

// entitySnippet returns the lines around the first mention of entity in path.
func entitySnippet(path, entity string) (Snippet, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Snippet{}, false
	}
	defer f.Close()

	var window []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanBytes)
	found := -1
	for scanner.Scan() {
		line := scanner.Text()
		window = append(window, line)
		if found < 0 {
			if strings.Contains(line, entity) {
				found = len(window) - 1
				continue
			}
			if len(window) > 2 {
				window = window[1:]
			}
			continue
		}
		if len(window)-found > 8 {
			break
		}
	}
	if found < 0 {
		return Snippet{}, false
	}
	return Snippet{
		Path:      path,
		Entity:    entity,
		Content:   models.Clamp(strings.Join(window, "\n"), MaxSnippetChars),
		Relevance: 1,
	}, true
}

// headSnippet returns the start of path scored by how many keywords it mentions.
func headSnippet(path string, kw []string) (Snippet, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Snippet{}, false
	}
	defer f.Close()

	buf := make([]byte, 4*MaxSnippetChars)
	n, _ := f.Read(buf)
	if n == 0 {
		return Snippet{}, false
	}
	head := string(buf[:n])
	lower := strings.ToLower(head + " " + filepath.Base(path))
	hits := 0
	for _, k := range kw {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	rel := 0.1
	if len(kw) > 0 {
		rel += float64(hits) / float64(len(kw))
	}
	return Snippet{Path: path, Content: models.Clamp(head, MaxSnippetChars), Relevance: rel}, true
}

// collectSnippets draws up to three entity snippets and three open-file
// snippets, deduplicated by normalized path and lowercased entity.
func collectSnippets(root string, sig Signals, openFiles []string, prompt string) []Snippet {
	seenPath := map[string]bool{}
	seenEntity := map[string]bool{}
	var out []Snippet

	var searchFiles []string
	for _, ref := range sig.Files {
		if p, ok := resolve(root, ref); ok {
			searchFiles = append(searchFiles, p)
		}
	}
	for _, ref := range openFiles {
		if p, ok := resolve(root, ref); ok {
			searchFiles = append(searchFiles, p)
		}
	}

	entityCount := 0
	for _, e := range sig.Entities {
		if entityCount >= MaxEntitySnippets {
			break
		}
		if seenEntity[strings.ToLower(e)] {
			continue
		}
		for _, p := range searchFiles {
			if seenPath[normalizePath(p)] {
				continue
			}
			if s, ok := entitySnippet(p, e); ok {
				seenPath[normalizePath(p)] = true
				seenEntity[strings.ToLower(e)] = true
				out = append(out, s)
				entityCount++
				break
			}
		}
	}

	kw := keywords(prompt)
	var ranked []Snippet
	for _, p := range searchFiles {
		if seenPath[normalizePath(p)] {
			continue
		}
		seenPath[normalizePath(p)] = true
		if s, ok := headSnippet(p, kw); ok {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Relevance > ranked[j].Relevance })
	if len(ranked) > MaxOpenFileSnippets {
		ranked = ranked[:MaxOpenFileSnippets]
	}
	return append(out, ranked...)
}

// SnippetsForFiles returns head snippets for files, in order, for callers
// that already know which files matter (coaching uses the files a response modified).
func SnippetsForFiles(root string, files []string, limit int) []Snippet {
	seen := map[string]bool{}
	var out []Snippet
	for _, ref := range files {
		if len(out) >= limit {
			break
		}
		p, ok := resolve(root, ref)
		if !ok || seen[normalizePath(p)] {
			continue
		}
		seen[normalizePath(p)] = true
		if s, ok := headSnippet(p, nil); ok {
			s.Path = ref
			out = append(out, s)
		}
	}
	return out
}
