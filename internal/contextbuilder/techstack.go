package contextbuilder

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// jsDeps maps npm package names to display names.
var jsDeps = map[string]string{
	"react": "React", "next": "Next.js", "vue": "Vue", "nuxt": "Nuxt", "svelte": "Svelte", "@angular/core": "Angular",
	"express": "Express", "fastify": "Fastify", "@nestjs/core": "NestJS", "typescript": "TypeScript",
	"tailwindcss": "Tailwind CSS", "prisma": "Prisma", "@prisma/client": "Prisma", "jest": "Jest", "vitest": "Vitest",
	"electron": "Electron", "graphql": "GraphQL", "mongoose": "MongoDB", "pg": "PostgreSQL", "redis": "Redis",
}

// goDeps maps module path prefixes to display names.
var goDeps = map[string]string{
	"github.com/gin-gonic/gin": "Gin", "github.com/go-chi/chi": "chi", "github.com/labstack/echo": "Echo",
	"github.com/gofiber/fiber": "Fiber", "gorm.io/gorm": "GORM", "github.com/jackc/pgx": "PostgreSQL",
	"github.com/lib/pq": "PostgreSQL", "modernc.org/sqlite": "SQLite", "github.com/mattn/go-sqlite3": "SQLite",
	"github.com/redis/go-redis": "Redis", "github.com/gomodule/redigo": "Redis", "google.golang.org/grpc": "gRPC",
	"github.com/spf13/cobra": "Cobra", "github.com/stretchr/testify": "testify",
}

// composeImages maps docker image name fragments to display names.
var composeImages = map[string]string{
	"postgres": "PostgreSQL", "mysql": "MySQL", "mariadb": "MariaDB", "redis": "Redis", "mongo": "MongoDB",
	"rabbitmq": "RabbitMQ", "kafka": "Kafka", "nginx": "nginx", "elasticsearch": "Elasticsearch",
}

// markerFiles are manifests whose presence alone names a technology.
var markerFiles = [][2]string{
	{"requirements.txt", "Python"}, {"pyproject.toml", "Python"}, {"Cargo.toml", "Rust"},
	{"Gemfile", "Ruby"}, {"pom.xml", "Java"}, {"build.gradle", "Java"}, {"Dockerfile", "Docker"},
}

// DetectTechStack infers technologies from dependency manifests in root.
func DetectTechStack(root string) []string {
	if root == "" {
		return nil
	}
	stack := newOrderedSet()
	detectPackageJSON(root, stack)
	detectGoMod(root, stack)
	detectCompose(root, stack)
	detectPubspec(root, stack)
	for _, m := range markerFiles {
		if fileExists(filepath.Join(root, m[0])) {
			stack.add(m[1])
		}
	}
	return stack.items
}

func detectPackageJSON(root string, stack *orderedSet) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		log.Debug().Err(err).Str("root", root).Msg("Unreadable package.json")
		return
	}
	stack.add("Node.js")
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		for _, name := range sortedKeys(deps) {
			if display, ok := jsDeps[name]; ok {
				stack.add(display)
			}
		}
	}
}

func detectGoMod(root string, stack *orderedSet) {
	path := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	f, err := modfile.ParseLax(path, data, nil)
	if err != nil {
		log.Debug().Err(err).Str("root", root).Msg("Unreadable go.mod")
		return
	}
	stack.add("Go")
	for _, req := range f.Require {
		for prefix, display := range goDeps {
			if strings.HasPrefix(req.Mod.Path, prefix) {
				stack.add(display)
			}
		}
	}
}

func detectCompose(root string, stack *orderedSet) {
	for _, name := range []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		var compose struct {
			Services map[string]struct {
				Image string `yaml:"image"`
			} `yaml:"services"`
		}
		if err := yaml.Unmarshal(data, &compose); err != nil {
			log.Debug().Err(err).Str("file", name).Msg("Unreadable compose file")
			return
		}
		stack.add("Docker")
		for _, svc := range sortedKeys(compose.Services) {
			image := strings.ToLower(compose.Services[svc].Image)
			for fragment, display := range composeImages {
				if strings.Contains(image, fragment) {
					stack.add(display)
				}
			}
		}
		return
	}
}

func detectPubspec(root string, stack *orderedSet) {
	data, err := os.ReadFile(filepath.Join(root, "pubspec.yaml"))
	if err != nil {
		return
	}
	var spec struct {
		Dependencies map[string]any `yaml:"dependencies"`
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return
	}
	stack.add("Dart")
	if _, ok := spec.Dependencies["flutter"]; ok {
		stack.add("Flutter")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
