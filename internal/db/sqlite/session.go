package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/thebtf/devark/pkg/models"
)

// SessionStore provides project and session operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// UpsertProject creates a project if missing and refreshes its display name.
func (s *SessionStore) UpsertProject(ctx context.Context, p *models.Project) error {
	const query = `
		INSERT INTO projects (id, name, path, created_at_epoch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := s.store.ExecContext(ctx, query, p.ID, p.Name, p.Path, epoch(time.Now()))
	return err
}

// CreateSession inserts a session; INSERT OR IGNORE keeps it idempotent per
// (platform, source_session_id). Returns the id of the stored session.
func (s *SessionStore) CreateSession(ctx context.Context, sess *models.Session) (string, error) {
	const query = `
		INSERT OR IGNORE INTO sessions
		(id, project_id, platform, source_session_id, project_path, started_at_epoch, last_activity_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.store.ExecContext(ctx, query,
		sess.ID, sess.ProjectID, string(sess.Platform), sess.Metadata.SourceSessionID,
		sess.Metadata.ProjectPath, epoch(sess.StartTime), epoch(sess.LastActivityTime),
	); err != nil {
		return "", err
	}

	const selectQuery = `SELECT id FROM sessions WHERE platform = ? AND source_session_id = ? LIMIT 1`
	var id string
	err := s.store.QueryRowContext(ctx, selectQuery, string(sess.Platform), sess.Metadata.SourceSessionID).Scan(&id)
	return id, err
}

// UpdateSession writes the mutable session fields.
func (s *SessionStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	const query = `
		UPDATE sessions
		SET last_activity_epoch = ?, goal = ?, goal_progress = ?, custom_name = ?,
		    prompt_tokens = ?, response_tokens = ?, files = ?
		WHERE id = ?
	`
	var promptTokens, responseTokens int
	if sess.TokenUsage != nil {
		promptTokens = sess.TokenUsage.PromptTokens
		responseTokens = sess.TokenUsage.ResponseTokens
	}
	res, err := s.store.ExecContext(ctx, query,
		epoch(sess.LastActivityTime), sess.Goal, nullIntPtr(sess.GoalProgress), sess.CustomName,
		promptTokens, responseTokens, jsonText(sess.Metadata.Files), sess.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads one session without its prompts and responses.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const query = sessionColumns + ` FROM sessions WHERE id = ? LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListProjects returns all projects without sessions.
func (s *SessionStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	const query = `SELECT id, name, path FROM projects ORDER BY created_at_epoch ASC`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{Sessions: []*models.Session{}}
		if err := rows.Scan(&p.ID, &p.Name, &p.Path); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListSessions returns sessions of a project ordered by start time descending.
func (s *SessionStore) ListSessions(ctx context.Context, projectID string) ([]*models.Session, error) {
	const query = sessionColumns + ` FROM sessions WHERE project_id = ? ORDER BY started_at_epoch DESC`
	rows, err := s.store.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSessionsToday returns the count of sessions started today (local time).
func (s *SessionStore) GetSessionsToday(ctx context.Context) (int, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	const query = `SELECT COUNT(*) FROM sessions WHERE started_at_epoch >= ?`
	var count int
	err := s.store.QueryRowContext(ctx, query, epoch(startOfDay)).Scan(&count)
	return count, err
}

const sessionColumns = `
	SELECT id, project_id, platform, source_session_id, project_path, started_at_epoch,
	       last_activity_epoch, goal, goal_progress, custom_name, prompt_tokens, response_tokens, files`

func scanSession(scanner interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		sess                   models.Session
		platform               string
		startMs, lastMs        int64
		progress               sql.NullInt64
		promptTok, responseTok int
		files                  string
	)
	if err := scanner.Scan(
		&sess.ID, &sess.ProjectID, &platform, &sess.Metadata.SourceSessionID, &sess.Metadata.ProjectPath,
		&startMs, &lastMs, &sess.Goal, &progress, &sess.CustomName, &promptTok, &responseTok, &files,
	); err != nil {
		return nil, err
	}
	sess.Platform = models.Source(platform)
	sess.StartTime = fromEpoch(startMs)
	sess.LastActivityTime = fromEpoch(lastMs)
	sess.GoalProgress = intPtr(progress)
	sess.Metadata.Origin = models.OriginHook
	sess.Metadata.Files = decodeStrings(files)
	if promptTok > 0 || responseTok > 0 {
		usage := &models.TokenUsage{}
		usage.Add(promptTok, responseTok)
		sess.TokenUsage = usage
	}
	sess.Prompts = []*models.Prompt{}
	sess.Responses = []*models.Response{}
	return &sess, nil
}
