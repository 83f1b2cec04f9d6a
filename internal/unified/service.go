package unified

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// DefaultRefreshInterval bounds how often the external store is re-read.
const DefaultRefreshInterval = 30 * time.Second

// HookSessions is the subset of the session manager the merger consumes.
type HookSessions interface {
	Projects(uiOnly bool) []*models.Project
	Session(id string) (*models.Session, error)
	SetGoal(ctx context.Context, id, goal string) error
	UpdateGoalProgress(ctx context.Context, id string, progress int) error
	RenameSession(ctx context.Context, id, name string) error
}

// ExternalReader yields read-only projects from an external tool store.
type ExternalReader interface {
	ReadProjects(ctx context.Context) ([]*models.Project, error)
}

// Service serves the merged tree and routes metadata edits to the right owner.
type Service struct {
	fetchedAt time.Time
	lastErr   error
	hook      HookSessions
	readers   []ExternalReader
	cache     *GoalCache
	now       func() time.Time
	external  []*models.Project
	refresh   time.Duration
	mu        sync.Mutex
}

// NewService creates a merger over hook and zero or more external readers.
func NewService(hook HookSessions, cache *GoalCache, readers ...ExternalReader) *Service {
	if cache == nil {
		cache = NewGoalCache(nil)
	}
	return &Service{
		hook:    hook,
		readers: readers,
		cache:   cache,
		now:     time.Now,
		refresh: DefaultRefreshInterval,
	}
}

// SetRefreshInterval overrides DefaultRefreshInterval; zero re-reads on every call.
func (s *Service) SetRefreshInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = d
}

// Cache returns the goal-progress cache.
func (s *Service) Cache() *GoalCache { return s.cache }

// Projects returns the merged tree. The returned error reports an external
// read failure; hook-captured projects are still returned alongside it.
func (s *Service) Projects(ctx context.Context, uiOnly bool) ([]*models.Project, error) {
	external, err := s.externalProjects(ctx)
	return Merge(s.hook.Projects(false), external, s.cache, uiOnly), err
}

// Sessions returns every merged session, including ones without user prompts.
func (s *Service) Sessions(ctx context.Context) ([]*models.Session, error) {
	projects, err := s.Projects(ctx, false)
	var out []*models.Session
	for _, p := range projects {
		out = append(out, p.Sessions...)
	}
	return out, err
}

// Invalidate forces the next call to re-read external stores.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Service) externalProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.refresh {
		return s.external, s.lastErr
	}

	var (
		all  []*models.Project
		errs []error
	)
	for _, r := range s.readers {
		projects, err := r.ReadProjects(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("External session read failed")
			errs = append(errs, err)
			continue
		}
		all = append(all, projects...)
	}
	s.external = all
	s.lastErr = errors.Join(errs...)
	s.fetchedAt = s.now()
	return s.external, s.lastErr
}

// SetGoal sets a goal on a hook session, or in the cache for external sessions.
func (s *Service) SetGoal(ctx context.Context, sessionID, goal string) error {
	zero := 0
	return s.edit(ctx, sessionID,
		func(id string) error { return s.hook.SetGoal(ctx, id, goal) },
		func(e *GoalEntry) {
			e.Goal = goal
			e.Progress = &zero
		},
	)
}

// UpdateGoalProgress records progress on a hook session or in the cache.
func (s *Service) UpdateGoalProgress(ctx context.Context, sessionID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.edit(ctx, sessionID,
		func(id string) error { return s.hook.UpdateGoalProgress(ctx, id, progress) },
		func(e *GoalEntry) { e.Progress = &progress },
	)
}

// RenameSession sets a custom name on a hook session or in the cache.
func (s *Service) RenameSession(ctx context.Context, sessionID, name string) error {
	return s.edit(ctx, sessionID,
		func(id string) error { return s.hook.RenameSession(ctx, id, name) },
		func(e *GoalEntry) { e.CustomName = name },
	)
}

// edit applies hookFn to hook sessions and always mirrors the change into
// the cache so external duplicates of the same source session agree.
func (s *Service) edit(ctx context.Context, sessionID string, hookFn func(string) error, cacheFn func(*GoalEntry)) error {
	if hs, err := s.hook.Session(sessionID); err == nil {
		if err := hookFn(sessionID); err != nil {
			return err
		}
		s.cache.Update(sessionKeys(hs), cacheFn)
		return nil
	}

	sess, err := s.findExternal(ctx, sessionID)
	if err != nil {
		return err
	}
	s.cache.Update(sessionKeys(sess), cacheFn)
	return nil
}

func (s *Service) findExternal(ctx context.Context, id string) (*models.Session, error) {
	projects, _ := s.externalProjects(ctx)
	for _, p := range projects {
		if sess := p.FindSession(id); sess != nil {
			return sess, nil
		}
	}
	return nil, session.ErrSessionNotFound
}
