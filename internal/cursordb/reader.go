package cursordb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/thebtf/devark/pkg/models"
)

// Error codes reported through ReadError.
const (
	CodeRecoverable = "RECOVERABLE_ERROR"
	CodeRead        = "READ_ERROR"
)

const (
	// LargeDBBytes triggers a best-effort warning.
	LargeDBBytes = 100 << 20
	// ReconnectDebounce is the minimum time between connection attempts.
	ReconnectDebounce = 2 * time.Second
	maxBusyAttempts   = 3
)

// ReadError reports a failure to read the external store.
type ReadError struct {
	Err  error
	Code string
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrEmptyDatabase is wrapped when the database file has zero bytes.
var ErrEmptyDatabase = errors.New("database file is empty")

// Reader reads composer sessions from a Cursor global state database.
type Reader struct {
	lastAttempt  time.Time
	lastErr      error
	now          func() time.Time
	sleep        func(time.Duration)
	db           *sql.DB
	path         string
	workspaceDir string
	mu           sync.Mutex
}

// New creates a reader for the database at path. Nothing is opened until the first read.
func New(path string) *Reader {
	return &Reader{
		path:         path,
		workspaceDir: WorkspaceStorageDir(path),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// SetWorkspaceDir overrides the workspaceStorage directory.
func (r *Reader) SetWorkspaceDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaceDir = dir
}

// Path returns the database path.
func (r *Reader) Path() string { return r.path }

// ReadProjects returns composer sessions grouped by workspace folder.
// A missing database yields no projects and no error.
func (r *Reader) ReadProjects(ctx context.Context) ([]*models.Project, error) {
	sessions, err := r.ReadSessions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Project)
	var order []*models.Project
	for _, s := range sessions {
		p, ok := byID[s.ProjectID]
		if !ok {
			name := ""
			if s.Metadata.ProjectPath == "" {
				name = "Cursor"
			}
			p = models.NewProject(s.Metadata.ProjectPath, name)
			byID[p.ID] = p
			order = append(order, p)
		}
		p.Sessions = append(p.Sessions, s)
	}
	for _, p := range order {
		p.SortSessions()
		p.Recompute()
	}
	models.SortProjects(order)
	return order, nil
}

// ReadSessions returns every composer with extractable messages.
func (r *Reader) ReadSessions(ctx context.Context) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &ReadError{Code: CodeRead, Err: err}
	}
	if info.Size() == 0 {
		return nil, &ReadError{Code: CodeRecoverable, Err: ErrEmptyDatabase}
	}
	if info.Size() > LargeDBBytes {
		log.Warn().Str("path", r.path).Int64("bytes", info.Size()).Msg("Cursor database is large, reading best-effort")
	}

	db, err := r.connectLocked()
	if err != nil {
		return nil, err
	}

	var rows []kvRow
	err = r.withBusyRetry(ctx, func() error {
		var qerr error
		rows, qerr = queryComposers(ctx, db)
		return qerr
	})
	if err != nil {
		r.resetLocked(err)
		return nil, classify(err)
	}

	lookup := func(ctx context.Context, composerID, bubbleID string) (rawMessage, bool) {
		return lookupBubble(ctx, db, composerID, bubbleID)
	}
	workspaces := loadWorkspaceMap(ctx, r.workspaceDir)
	now := r.now()

	sessions := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		c, err := decodeComposer(row.value)
		if err != nil {
			log.Debug().Err(err).Str("key", row.key).Msg("Skipping undecodable composer")
			continue
		}
		if c.ComposerID == "" {
			c.ComposerID = strings.TrimPrefix(row.key, "composerData:")
		}
		msgs := extractMessages(ctx, c, lookup)
		if s := toSession(c, msgs, workspaces[c.ComposerID], now); s != nil {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// Close releases the connection.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// connectLocked opens the database read-only, refusing to retry a failed
// connection within ReconnectDebounce.
func (r *Reader) connectLocked() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	if r.lastErr != nil && r.now().Sub(r.lastAttempt) < ReconnectDebounce {
		return nil, classify(r.lastErr)
	}
	r.lastAttempt = r.now()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", r.path))
	if err != nil {
		r.lastErr = err
		return nil, classify(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 2000"); err != nil {
		_ = db.Close()
		r.lastErr = err
		return nil, classify(err)
	}
	r.db = db
	r.lastErr = nil
	return db, nil
}

func (r *Reader) resetLocked(err error) {
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
	}
	r.lastErr = err
	r.lastAttempt = r.now()
}

func (r *Reader) withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxBusyAttempts; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("Cursor database busy, retrying")
		r.sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return err
}

type kvRow struct {
	key   string
	value []byte
}

func queryComposers(ctx context.Context, db *sql.DB) ([]kvRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM cursorDiskKV WHERE key LIKE 'composerData:%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kvRow
	for rows.Next() {
		var (
			key   string
			value sql.RawBytes
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if len(value) == 0 {
			continue
		}
		out = append(out, kvRow{key: key, value: append([]byte(nil), value...)})
	}
	return out, rows.Err()
}

func lookupBubble(ctx context.Context, db *sql.DB, composerID, bubbleID string) (rawMessage, bool) {
	var value []byte
	key := "bubbleId:" + composerID + ":" + bubbleID
	if err := db.QueryRowContext(ctx, `SELECT value FROM cursorDiskKV WHERE key = ?`, key).Scan(&value); err != nil {
		return rawMessage{}, false
	}
	var m rawMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return rawMessage{}, false
	}
	return m, true
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// classify maps driver errors to read error codes. Locked and malformed
// databases are recoverable; everything else is a read error.
func classify(err error) error {
	var re *ReadError
	if errors.As(err, &re) {
		return re
	}
	msg := strings.ToLower(err.Error())
	switch {
	case isBusy(err),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "not a database"),
		strings.Contains(msg, "no such table"):
		return &ReadError{Code: CodeRecoverable, Err: err}
	default:
		return &ReadError{Code: CodeRead, Err: err}
	}
}
