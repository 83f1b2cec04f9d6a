package sqlite

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"

	"github.com/thebtf/devark/pkg/models"
)

// PromptStore provides prompt and response operations.
type PromptStore struct {
	store *Store
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// SavePrompt inserts a prompt; repeated saves of the same id are ignored.
func (s *PromptStore) SavePrompt(ctx context.Context, p *models.Prompt) error {
	const query = `
		INSERT OR IGNORE INTO prompts (id, session_id, text, timestamp_epoch)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.store.ExecContext(ctx, query, p.ID, p.SessionID, p.Text, epoch(p.Timestamp))
	return err
}

// UpdatePromptScore writes only the analysis fields of a prompt.
func (s *PromptStore) UpdatePromptScore(ctx context.Context, p *models.Prompt) error {
	const query = `
		UPDATE prompts
		SET score = ?, breakdown = ?, enhanced_text = ?, enhanced_score = ?, explanation = ?, quick_wins = ?
		WHERE id = ?
	`
	var breakdown sql.NullString
	if p.Breakdown != nil {
		data, err := json.Marshal(p.Breakdown)
		if err != nil {
			return err
		}
		breakdown = sql.NullString{String: string(data), Valid: true}
	}
	res, err := s.store.ExecContext(ctx, query,
		nullFloat(p.Score), breakdown, p.EnhancedText, nullFloat(p.EnhancedScore),
		p.Explanation, jsonText(p.QuickWins), p.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPromptsBySession returns a session's prompts newest first.
func (s *PromptStore) GetPromptsBySession(ctx context.Context, sessionID string) ([]*models.Prompt, error) {
	const query = `
		SELECT id, session_id, text, timestamp_epoch, score, breakdown, enhanced_text,
		       enhanced_score, explanation, quick_wins
		FROM prompts
		WHERE session_id = ?
		ORDER BY timestamp_epoch DESC
	`
	rows, err := s.store.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		var (
			id, sid, text, enhanced, explanation, quickWins string
			ts                                             int64
			score, enhancedScore                           sql.NullFloat64
			breakdown                                      sql.NullString
		)
		if err := rows.Scan(&id, &sid, &text, &ts, &score, &breakdown, &enhanced, &enhancedScore, &explanation, &quickWins); err != nil {
			return nil, err
		}
		p := models.NewPrompt(id, sid, text, fromEpoch(ts))
		p.Score = floatPtr(score)
		p.EnhancedScore = floatPtr(enhancedScore)
		p.EnhancedText = enhanced
		p.Explanation = explanation
		p.QuickWins = decodeStrings(quickWins)
		if breakdown.Valid {
			var b models.ScoreBreakdown
			if err := json.Unmarshal([]byte(breakdown.String), &b); err == nil {
				p.Breakdown = &b
			}
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// SaveResponse stores a response as a JSON document.
func (s *PromptStore) SaveResponse(ctx context.Context, r *models.Response) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	const query = `
		INSERT OR REPLACE INTO responses (id, session_id, prompt_id, timestamp_epoch, data)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.store.ExecContext(ctx, query, r.ID, r.SessionID, r.PromptID, epoch(r.Timestamp), string(data))
	return err
}

// GetResponsesBySession returns a session's responses oldest first.
func (s *PromptStore) GetResponsesBySession(ctx context.Context, sessionID string) ([]*models.Response, error) {
	const query = `SELECT data FROM responses WHERE session_id = ? ORDER BY timestamp_epoch ASC`
	rows, err := s.store.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []*models.Response
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r models.Response
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			continue
		}
		responses = append(responses, &r)
	}
	return responses, rows.Err()
}

// LoadTree rebuilds every hook-captured project with sessions, prompts and responses.
func LoadTree(ctx context.Context, sessions *SessionStore, prompts *PromptStore) ([]*models.Project, error) {
	projects, err := sessions.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		list, err := sessions.ListSessions(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, sess := range list {
			if sess.Prompts, err = prompts.GetPromptsBySession(ctx, sess.ID); err != nil {
				return nil, err
			}
			if sess.Responses, err = prompts.GetResponsesBySession(ctx, sess.ID); err != nil {
				return nil, err
			}
			if sess.Prompts == nil {
				sess.Prompts = []*models.Prompt{}
			}
			if sess.Responses == nil {
				sess.Responses = []*models.Response{}
			}
		}
		p.Sessions = list
		if p.Sessions == nil {
			p.Sessions = []*models.Session{}
		}
	}
	return projects, nil
}
