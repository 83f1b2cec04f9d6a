package contextbuilder

import (
	"regexp"
	"sort"
	"strings"
)

// Signals is what can be read off the prompt text alone.
type Signals struct {
	Tech     []string `json:"tech,omitempty"`
	Files    []string `json:"files,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

var (
	filePattern = regexp.MustCompile(`(?:[\w.-]+/)*[\w.-]+\.(?:go|ts|tsx|js|jsx|mjs|py|rb|rs|java|kt|swift|dart|c|cc|cpp|h|hpp|cs|php|vue|svelte|css|scss|html|json|ya?ml|toml|sql|md|sh)\b`)
	// fooBar, FooBar, foo_bar, and foo() style identifiers.
	callPattern  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(\)`)
	camelPattern = regexp.MustCompile(`\b([a-z]+[A-Z][A-Za-z0-9]*|[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*)\b`)
	snakePattern = regexp.MustCompile(`\b([a-z][a-z0-9]*_[a-z0-9_]+)\b`)
	backtick     = regexp.MustCompile("`([^`\\s]{2,60})`")
	wordPattern  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+#.]*`)
)

// techTokens maps a lowercase word to the display name of a technology.
var techTokens = map[string]string{
	"react": "React", "vue": "Vue", "angular": "Angular", "svelte": "Svelte", "next.js": "Next.js", "nextjs": "Next.js",
	"node": "Node.js", "nodejs": "Node.js", "express": "Express", "typescript": "TypeScript", "javascript": "JavaScript",
	"golang": "Go", "python": "Python", "django": "Django", "flask": "Flask", "fastapi": "FastAPI",
	"rust": "Rust", "java": "Java", "kotlin": "Kotlin", "swift": "Swift", "flutter": "Flutter", "dart": "Dart",
	"docker": "Docker", "kubernetes": "Kubernetes", "k8s": "Kubernetes", "terraform": "Terraform",
	"postgres": "PostgreSQL", "postgresql": "PostgreSQL", "mysql": "MySQL", "sqlite": "SQLite", "redis": "Redis",
	"mongodb": "MongoDB", "graphql": "GraphQL", "grpc": "gRPC", "tailwind": "Tailwind CSS", "prisma": "Prisma",
	"aws": "AWS", "gcp": "GCP", "azure": "Azure", "jest": "Jest", "vitest": "Vitest", "pytest": "pytest",
}

var extTech = map[string]string{
	".go": "Go", ".ts": "TypeScript", ".tsx": "TypeScript", ".js": "JavaScript", ".jsx": "JavaScript",
	".py": "Python", ".rs": "Rust", ".java": "Java", ".kt": "Kotlin", ".swift": "Swift", ".dart": "Dart",
	".rb": "Ruby", ".php": "PHP", ".cs": "C#", ".vue": "Vue", ".svelte": "Svelte", ".sql": "SQL",
}

// ignoredEntities are identifiers too generic to look up.
var ignoredEntities = map[string]bool{
	"todo": true, "readme": true, "json": true, "http": true, "https": true,
}

// ExtractSignals reads tech tokens, file references, and code entities from text.
func ExtractSignals(text string) Signals {
	var sig Signals
	tech := newOrderedSet()
	for _, w := range wordPattern.FindAllString(text, -1) {
		if name, ok := techTokens[strings.ToLower(strings.TrimRight(w, "."))]; ok {
			tech.add(name)
		}
	}

	files := newOrderedSet()
	for _, f := range filePattern.FindAllString(text, -1) {
		if strings.HasPrefix(f, ".") || strings.Count(f, ".") > 3 {
			continue
		}
		files.add(f)
		if dot := strings.LastIndexByte(f, '.'); dot >= 0 {
			if name, ok := extTech[strings.ToLower(f[dot:])]; ok {
				tech.add(name)
			}
		}
	}

	entities := newOrderedSet()
	for _, re := range []*regexp.Regexp{backtick, callPattern, camelPattern, snakePattern} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			e := strings.TrimSuffix(m[1], "()")
			if ignoredEntities[strings.ToLower(e)] || files.has(e) || filePattern.MatchString(e) {
				continue
			}
			entities.add(e)
		}
	}

	sig.Tech = tech.items
	sig.Files = files.items
	sig.Entities = entities.items
	return sig
}

// keywords returns lowercase words of length >= 4 for relevance scoring.
func keywords(text string) []string {
	set := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 4 {
			set[w] = true
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(v string) {
	k := strings.ToLower(v)
	if v == "" || s.seen[k] {
		return
	}
	s.seen[k] = true
	s.items = append(s.items, v)
}

func (s *orderedSet) has(v string) bool {
	return s.seen[strings.ToLower(v)]
}
