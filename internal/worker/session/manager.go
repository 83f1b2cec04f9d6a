// Package session owns the in-memory tree of hook-captured projects and sessions.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/pkg/models"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrPromptNotFound is returned for unknown prompt ids.
var ErrPromptNotFound = errors.New("prompt not found")

// Store persists manager writes. Implemented by sqlite.Repository.
type Store interface {
	UpsertProject(ctx context.Context, p *models.Project) error
	CreateSession(ctx context.Context, s *models.Session) (string, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	SavePrompt(ctx context.Context, p *models.Prompt) error
	UpdatePromptScore(ctx context.Context, p *models.Prompt) error
	SaveResponse(ctx context.Context, r *models.Response) error
	LoadTree(ctx context.Context) ([]*models.Project, error)
}

// SourceInfo identifies a session by its originating tool.
type SourceInfo struct {
	SourceID        models.Source
	ProjectPath     string
	ProjectName     string
	SourceSessionID string
}

// PromptInput is a detected prompt to attach to a session.
type PromptInput struct {
	Timestamp       time.Time
	ID              string
	Text            string
	SourceID        models.Source
	SourceSessionID string
	ProjectPath     string
}

// ScoreUpdate carries the analysis fields written onto a prompt.
type ScoreUpdate struct {
	Breakdown     *models.ScoreBreakdown
	EnhancedScore *float64
	EnhancedText  string
	Explanation   string
	QuickWins     []string
	Score         float64
}

// Interaction pairs a prompt with the response that answered it.
type Interaction struct {
	Prompt   *models.Prompt   `json:"prompt"`
	Response *models.Response `json:"response,omitempty"`
}

// PromptQuery selects a page of prompts; an empty SessionID means the active session.
type PromptQuery struct {
	SessionID string
	Offset    int
	Limit     int
}

// Manager is the single writer for hook-captured sessions.
type Manager struct {
	now      func() time.Time
	store    Store
	tokens   TokenCounter
	Events   *events.Topic[Event]
	projects map[string]*models.Project
	sessions map[string]*models.Session
	bySource map[string]*models.Session
	activeID string
	mu       sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore enables write-through persistence.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTokenCounter overrides the tiktoken counter.
func WithTokenCounter(tc TokenCounter) Option {
	return func(m *Manager) { m.tokens = tc }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:      time.Now,
		tokens:   NewTokenCounter(),
		Events:   events.NewTopic[Event]("session"),
		projects: make(map[string]*models.Project),
		sessions: make(map[string]*models.Session),
		bySource: make(map[string]*models.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sourceKey(source models.Source, sourceSessionID string) string {
	return string(source) + "|" + sourceSessionID
}

// Load populates the tree from the store.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	projects, err := m.store.LoadTree(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, p := range projects {
		m.projects[p.ID] = p
		for _, s := range p.Sessions {
			s.Recompute(now)
			m.sessions[s.ID] = s
			m.bySource[sourceKey(s.Platform, s.Metadata.SourceSessionID)] = s
		}
		p.Recompute()
	}
	log.Info().Int("projects", len(projects)).Int("sessions", len(m.sessions)).Msg("Sessions loaded")
	return nil
}

// SyncFromSource ensures a project and session exist for info and returns the session id.
func (m *Manager) SyncFromSource(ctx context.Context, info SourceInfo) (string, error) {
	m.mu.Lock()
	s, pending := m.ensureSessionLocked(ctx, info)
	m.mu.Unlock()
	m.emit(pending)
	return s.ID, nil
}

// ensureSessionLocked returns the session for info, creating it and its project if needed.
func (m *Manager) ensureSessionLocked(ctx context.Context, info SourceInfo) (*models.Session, []Event) {
	key := sourceKey(info.SourceID, info.SourceSessionID)
	if s, ok := m.bySource[key]; ok {
		return s, nil
	}

	var pending []Event
	projectID := models.ProjectID(info.ProjectPath)
	project, ok := m.projects[projectID]
	if !ok {
		project = models.NewProject(info.ProjectPath, info.ProjectName)
		m.projects[project.ID] = project
		m.persist(func() error { return m.store.UpsertProject(ctx, project) }, "upsert project")
		pending = append(pending, Event{Type: EventProjectCreated, ProjectID: project.ID})
	}

	now := m.now()
	s := &models.Session{
		ID:               uuid.New().String(),
		ProjectID:        project.ID,
		Platform:         info.SourceID,
		StartTime:        now,
		LastActivityTime: now,
		Metadata: models.SessionMetadata{
			SourceSessionID: info.SourceSessionID,
			ProjectPath:     info.ProjectPath,
			Origin:          models.OriginHook,
		},
		Prompts:   []*models.Prompt{},
		Responses: []*models.Response{},
		IsActive:  true,
	}
	if m.store != nil {
		id, err := m.store.CreateSession(ctx, s)
		if err != nil {
			log.Warn().Err(err).Str("session", s.ID).Msg("Failed to persist session")
		} else if id != "" {
			s.ID = id
		}
	}
	project.Sessions = append(project.Sessions, s)
	project.SortSessions()
	project.Recompute()
	m.sessions[s.ID] = s
	m.bySource[key] = s
	if m.activeID == "" {
		m.activeID = s.ID
	}
	pending = append(pending, Event{Type: EventSessionCreated, ProjectID: project.ID, SessionID: s.ID})
	return s, pending
}

// OnPromptDetected appends a prompt to its session, creating the session when missing.
// The caller-supplied id is preserved; an empty id gets a generated one.
func (m *Manager) OnPromptDetected(ctx context.Context, in PromptInput) (string, error) {
	m.mu.Lock()
	s, pending := m.ensureSessionLocked(ctx, SourceInfo{
		SourceID:        in.SourceID,
		ProjectPath:     in.ProjectPath,
		SourceSessionID: in.SourceSessionID,
	})

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	if existing := s.FindPrompt(id); existing != nil {
		m.mu.Unlock()
		m.emit(pending)
		return id, nil
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	if ts.Before(s.StartTime) {
		s.StartTime = ts
	}
	p := models.NewPrompt(id, s.ID, in.Text, ts)
	s.Prompts = append([]*models.Prompt{p}, s.Prompts...)
	s.SortPromptsNewestFirst()
	m.addTokens(s, m.tokens.Count(in.Text), 0)
	m.touchLocked(s)
	m.activeID = s.ID

	m.persist(func() error { return m.store.SavePrompt(ctx, p) }, "save prompt")
	m.persistSession(ctx, s)
	m.mu.Unlock()

	pending = append(pending,
		Event{Type: EventPromptAdded, ProjectID: s.ProjectID, SessionID: s.ID, PromptID: id},
		Event{Type: EventSessionActivity, ProjectID: s.ProjectID, SessionID: s.ID},
	)
	m.emit(pending)
	return id, nil
}

// AddResponse appends r to the session it belongs to. Responses for unknown
// sessions are dropped.
func (m *Manager) AddResponse(ctx context.Context, r *models.Response, linkedPromptID string) {
	if r == nil {
		return
	}
	m.mu.Lock()
	s := m.sessionForResponseLocked(r)
	if s == nil {
		m.mu.Unlock()
		log.Debug().Str("response", r.ID).Msg("Response for unknown session dropped")
		return
	}

	stored := *r
	stored.SessionID = s.ID
	if linkedPromptID != "" {
		stored.PromptID = linkedPromptID
	}
	s.Responses = append(s.Responses, &stored)
	for _, f := range stored.FilesModified {
		if !contains(s.Metadata.Files, f) {
			s.Metadata.Files = append(s.Metadata.Files, f)
		}
	}
	m.addTokens(s, 0, m.tokens.Count(stored.Response))
	m.touchLocked(s)

	m.persist(func() error { return m.store.SaveResponse(ctx, &stored) }, "save response")
	m.persistSession(ctx, s)
	m.mu.Unlock()

	m.emit([]Event{{Type: EventSessionActivity, ProjectID: s.ProjectID, SessionID: s.ID}})
}

func (m *Manager) sessionForResponseLocked(r *models.Response) *models.Session {
	var candidates []string
	if r.Source == models.SourceCursor {
		candidates = []string{r.ConversationID, r.SessionID}
	} else {
		candidates = []string{r.SessionID, r.ConversationID}
	}
	for _, id := range candidates {
		if id == "" {
			continue
		}
		if s, ok := m.bySource[sourceKey(r.Source, id)]; ok {
			return s
		}
	}
	if r.PromptID != "" {
		for _, s := range m.sessions {
			if s.FindPrompt(r.PromptID) != nil {
				return s
			}
		}
	}
	return nil
}

// UpdatePromptScore rewrites only the analysis fields of a prompt.
func (m *Manager) UpdatePromptScore(ctx context.Context, promptID string, u ScoreUpdate) error {
	m.mu.Lock()
	var (
		s *models.Session
		p *models.Prompt
	)
	for _, candidate := range m.sessions {
		if found := candidate.FindPrompt(promptID); found != nil {
			s, p = candidate, found
			break
		}
	}
	if p == nil {
		m.mu.Unlock()
		return ErrPromptNotFound
	}

	score := u.Score
	p.Score = &score
	if u.Breakdown != nil {
		b := *u.Breakdown
		p.Breakdown = &b
	}
	if u.EnhancedText != "" {
		p.EnhancedText = u.EnhancedText
	}
	if u.EnhancedScore != nil {
		es := *u.EnhancedScore
		p.EnhancedScore = &es
	}
	if u.Explanation != "" {
		p.Explanation = u.Explanation
	}
	if u.QuickWins != nil {
		p.QuickWins = append([]string(nil), u.QuickWins...)
	}
	m.persist(func() error { return m.store.UpdatePromptScore(ctx, p) }, "update prompt score")
	m.mu.Unlock()

	m.emit([]Event{{Type: EventSessionUpdated, ProjectID: s.ProjectID, SessionID: s.ID, PromptID: promptID}})
	return nil
}

// GetLastInteractions returns the n most recent prompt/response pairs of the active session.
func (m *Manager) GetLastInteractions(n int) []Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[m.activeID]
	if s == nil || n <= 0 {
		return nil
	}
	return interactions(s, n, false)
}

// GetFirstInteractions returns the n oldest prompt/response pairs of the active session.
func (m *Manager) GetFirstInteractions(n int) []Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[m.activeID]
	if s == nil || n <= 0 {
		return nil
	}
	return interactions(s, n, true)
}

// interactions walks prompts (stored newest first) and pairs each with its
// latest linked response.
func interactions(s *models.Session, n int, oldest bool) []Interaction {
	byPrompt := make(map[string]*models.Response, len(s.Responses))
	for _, r := range s.Responses {
		if r.PromptID != "" {
			byPrompt[r.PromptID] = r
		}
	}
	out := make([]Interaction, 0, n)
	add := func(p *models.Prompt) bool {
		cp := *p
		out = append(out, Interaction{Prompt: &cp, Response: byPrompt[p.ID]})
		return len(out) >= n
	}
	if oldest {
		for i := len(s.Prompts) - 1; i >= 0; i-- {
			if add(s.Prompts[i]) {
				break
			}
		}
		return out
	}
	for _, p := range s.Prompts {
		if add(p) {
			break
		}
	}
	return out
}

// GetPrompts returns a newest-first page of prompts and the total count.
func (m *Manager) GetPrompts(q PromptQuery) ([]*models.Prompt, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := q.SessionID
	if id == "" {
		id = m.activeID
	}
	s := m.sessions[id]
	if s == nil {
		return nil, 0, ErrSessionNotFound
	}
	total := len(s.Prompts)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*models.Prompt{}, total, nil
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < total {
		end = offset + q.Limit
	}
	page := make([]*models.Prompt, 0, end-offset)
	for _, p := range s.Prompts[offset:end] {
		cp := *p
		page = append(page, &cp)
	}
	return page, total, nil
}

// SwitchSession makes id the active session.
func (m *Manager) SwitchSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.activeID = id
	m.mu.Unlock()
	m.emit([]Event{{Type: EventSessionActivity, ProjectID: s.ProjectID, SessionID: id}})
	return nil
}

// ActiveSessionID returns the active session id, or "".
func (m *Manager) ActiveSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// ActiveSession returns a copy of the active session, or nil.
func (m *Manager) ActiveSession() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.sessions[m.activeID]; s != nil {
		return cloneSession(s)
	}
	return nil
}

// RecentFiles returns up to n files the active session's responses touched,
// most recent first.
func (m *Manager) RecentFiles(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[m.activeID]
	if s == nil || n <= 0 {
		return nil
	}
	files := s.Metadata.Files
	out := make([]string, 0, min(n, len(files)))
	for i := len(files) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, files[i])
	}
	return out
}

// Session returns a copy of the session with id.
func (m *Manager) Session(id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// FindPromptSession returns the id of the session holding promptID.
func (m *Manager) FindPromptSession(promptID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, s := range m.sessions {
		if s.FindPrompt(promptID) != nil {
			return id, true
		}
	}
	return "", false
}

// SetGoal sets a session goal and resets its progress.
func (m *Manager) SetGoal(ctx context.Context, id, goal string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.Goal = goal
	zero := 0
	s.GoalProgress = &zero
	m.persistSession(ctx, s)
	m.mu.Unlock()
	m.emit([]Event{{Type: EventGoalSet, ProjectID: s.ProjectID, SessionID: id, Goal: goal}})
	return nil
}

// UpdateGoalProgress records progress in 0..100; reaching 100 emits goal_completed.
func (m *Manager) UpdateGoalProgress(ctx context.Context, id string, progress int) error {
	progress = clampProgress(progress)
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	wasComplete := s.GoalProgress != nil && *s.GoalProgress >= 100
	s.GoalProgress = &progress
	m.persistSession(ctx, s)
	m.mu.Unlock()

	pending := []Event{{Type: EventSessionUpdated, ProjectID: s.ProjectID, SessionID: id, Progress: progress}}
	if progress == 100 && !wasComplete {
		pending = append(pending, Event{Type: EventGoalCompleted, ProjectID: s.ProjectID, SessionID: id, Goal: s.Goal, Progress: 100})
	}
	m.emit(pending)
	return nil
}

// RenameSession sets the custom display name.
func (m *Manager) RenameSession(ctx context.Context, id, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.CustomName = name
	m.persistSession(ctx, s)
	m.mu.Unlock()
	m.emit([]Event{{Type: EventSessionUpdated, ProjectID: s.ProjectID, SessionID: id}})
	return nil
}

// Projects returns a copy of the tree sorted by last activity. Internal callers
// pass uiOnly=false to also see sessions without actual user prompts.
func (m *Manager) Projects(uiOnly bool) []*models.Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		cp := *p
		cp.Sessions = make([]*models.Session, 0, len(p.Sessions))
		for _, s := range p.Sessions {
			if uiOnly && s.PromptCount == 0 {
				continue
			}
			cp.Sessions = append(cp.Sessions, cloneSession(s))
		}
		if uiOnly && len(cp.Sessions) == 0 {
			continue
		}
		cp.SortSessions()
		cp.Recompute()
		out = append(out, &cp)
	}
	models.SortProjects(out)
	return out
}

// AllSessions returns copies of every session, newest first.
func (m *Manager) AllSessions() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (m *Manager) touchLocked(s *models.Session) {
	s.Recompute(m.now())
	if p := m.projects[s.ProjectID]; p != nil {
		p.Recompute()
	}
}

func (m *Manager) addTokens(s *models.Session, prompt, response int) {
	if prompt == 0 && response == 0 {
		return
	}
	if s.TokenUsage == nil {
		s.TokenUsage = &models.TokenUsage{}
	}
	s.TokenUsage.Add(prompt, response)
}

func (m *Manager) persistSession(ctx context.Context, s *models.Session) {
	m.persist(func() error { return m.store.UpdateSession(ctx, s) }, "update session")
}

func (m *Manager) persist(fn func() error, op string) {
	if m.store == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("op", op).Msg("Session store write failed")
	}
}

func (m *Manager) emit(pending []Event) {
	for _, ev := range pending {
		m.Events.Emit(ev)
	}
}

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.Prompts = make([]*models.Prompt, len(s.Prompts))
	for i, p := range s.Prompts {
		pc := *p
		cp.Prompts[i] = &pc
	}
	cp.Responses = append([]*models.Response(nil), s.Responses...)
	if cp.Responses == nil {
		cp.Responses = []*models.Response{}
	}
	cp.Metadata.Files = append([]string(nil), s.Metadata.Files...)
	if s.TokenUsage != nil {
		tu := *s.TokenUsage
		cp.TokenUsage = &tu
	}
	if s.GoalProgress != nil {
		gp := *s.GoalProgress
		cp.GoalProgress = &gp
	}
	return &cp
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
