package cursordb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WorkspaceStorageDir returns the workspaceStorage directory next to the
// globalStorage directory holding dbPath.
func WorkspaceStorageDir(dbPath string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(dbPath)), "workspaceStorage")
}

// loadWorkspaceMap maps composer ids to the folder of the workspace that owns them.
// Missing or unreadable workspaces are skipped.
func loadWorkspaceMap(ctx context.Context, dir string) map[string]string {
	out := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ctx.Err() != nil {
			return out
		}
		wsDir := filepath.Join(dir, e.Name())
		folder := readWorkspaceFolder(filepath.Join(wsDir, "workspace.json"))
		if folder == "" {
			continue
		}
		ids, err := readWorkspaceComposers(ctx, filepath.Join(wsDir, "state.vscdb"))
		if err != nil {
			log.Debug().Err(err).Str("workspace", wsDir).Msg("Skipping workspace database")
			continue
		}
		for _, id := range ids {
			out[id] = folder
		}
	}
	return out
}

func readWorkspaceFolder(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 -- path is under the Cursor storage dir
	if err != nil {
		return ""
	}
	var ws workspaceJSON
	if err := json.Unmarshal(data, &ws); err != nil {
		return ""
	}
	uri := ws.Folder
	if uri == "" {
		uri = ws.Workspace
	}
	return fileURIToPath(uri)
}

// fileURIToPath converts file:///Users/a/repo or file:///c%3A/repo to a local path.
func fileURIToPath(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	if runtime.GOOS == "windows" {
		p = filepath.FromSlash(p)
	}
	if strings.HasSuffix(p, ".code-workspace") {
		p = filepath.Dir(p)
	}
	return p
}

func readWorkspaceComposers(ctx context.Context, dbPath string) ([]string, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = 'composer.composerData'`).Scan(&value)
	if err != nil {
		return nil, err
	}
	var refs workspaceRefs
	if err := json.Unmarshal([]byte(value), &refs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs.AllComposers))
	for _, c := range refs.AllComposers {
		if c.ComposerID != "" {
			ids = append(ids, c.ComposerID)
		}
	}
	return ids, nil
}
