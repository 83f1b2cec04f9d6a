package coaching

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/internal/metrics"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// Skip reasons.
const (
	ReasonInFlight      = "in_flight"
	ReasonThrottled     = "throttled"
	ReasonCooldown      = "cooldown"
	ReasonErrorResponse = "error_response"
	ReasonNoSuggestions = "no_suggestions"
)

// Provider call parameters.
const (
	temperature     = 0.3
	maxOutputTokens = 1000
)

// Defaults for Config.
const (
	DefaultMinInterval    = 30 * time.Second
	DefaultCooldown       = 5 * time.Minute
	DefaultMinConfidence  = 0.3
	DefaultMaxSuggestions = 3
)

// Config holds the coaching gates.
type Config struct {
	MinInterval    time.Duration
	Cooldown       time.Duration
	MinConfidence  float64
	MaxSuggestions int
	Enabled        bool
}

// DefaultConfig returns enabled coaching with default gates.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MinInterval:    DefaultMinInterval,
		Cooldown:       DefaultCooldown,
		MinConfidence:  DefaultMinConfidence,
		MaxSuggestions: DefaultMaxSuggestions,
	}
}

// Store persists coaching records.
type Store interface {
	Save(id string, v *models.CoachingData) error
	Get(id string) (*models.CoachingData, error)
	Recent() []*models.CoachingData
}

// Sessions supplies goal and history for the session being coached.
type Sessions interface {
	ActiveSession() *models.Session
	GetFirstInteractions(n int) []session.Interaction
	GetLastInteractions(n int) []session.Interaction
}

// Workspace supplies the project root and its tech stack.
type Workspace interface {
	Root() string
	TechStack() []string
}

// Result is the outcome of ProcessResponse.
type Result struct {
	Coaching  *models.CoachingData `json:"coaching,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Generated bool                 `json:"generated"`
}

// Service generates, stores, and publishes coaching.
type Service struct {
	completer     llm.Completer
	hub           *events.Hub
	store         Store
	sessions      Sessions
	workspace     Workspace
	metrics       *metrics.Metrics
	now           func() time.Time
	inFlight      map[string]struct{}
	lastCoaching  time.Time
	cooldownUntil time.Time
	cfg           Config
	mu            sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithSessions supplies goal and interaction history.
func WithSessions(s Sessions) Option { return func(svc *Service) { svc.sessions = s } }

// WithWorkspace supplies tech stack and snippet root.
func WithWorkspace(w Workspace) Option { return func(svc *Service) { svc.workspace = w } }

// WithMetrics records coaching counters.
func WithMetrics(m *metrics.Metrics) Option { return func(svc *Service) { svc.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// NewService creates a coaching service. A nil completer uses fallback suggestions only.
func NewService(c llm.Completer, hub *events.Hub, store Store, cfg Config, opts ...Option) *Service {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	s := &Service{
		completer: c,
		hub:       hub,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEnabled toggles automatic coaching.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.Enabled = enabled
	s.mu.Unlock()
}

// Dismiss records that the user declined coaching; no coaching is generated
// until the cooldown passes.
func (s *Service) Dismiss() {
	s.mu.Lock()
	s.cooldownUntil = s.now().Add(s.cfg.Cooldown)
	s.mu.Unlock()
}

// Coaching returns stored coaching for a prompt or response id.
func (s *Service) Coaching(id string) (*models.CoachingData, error) {
	return s.store.Get(id)
}

// Latest returns the newest coaching held in memory, or nil.
func (s *Service) Latest() *models.CoachingData {
	recent := s.store.Recent()
	if len(recent) == 0 {
		return nil
	}
	return recent[0]
}

// ProcessResponse generates coaching for r unless a gate drops it. With
// force the enabled switch is ignored; the other gates still apply.
func (s *Service) ProcessResponse(ctx context.Context, r *models.Response, force bool) (Result, error) {
	res, err := s.process(ctx, r, force)
	s.metrics.RecordCoaching(res.Generated, res.Reason)
	return res, err
}

func (s *Service) process(ctx context.Context, r *models.Response, force bool) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("coaching: nil response")
	}
	if !s.acquire(r.ID) {
		log.Debug().Str("response", r.ID).Msg("Coaching already in progress")
		return Result{Reason: ReasonInFlight}, nil
	}
	defer s.release(r.ID)

	if reason := s.gate(force); reason != "" {
		log.Debug().Str("response", r.ID).Str("reason", reason).Msg("Coaching skipped")
		return Result{Reason: reason}, nil
	}

	analysis := AnalyzeResponse(r)
	if analysis.Outcome == models.OutcomeError {
		return Result{Reason: ReasonErrorResponse}, nil
	}

	suggestions := s.generate(ctx, r, analysis)
	if len(suggestions) == 0 {
		return Result{Reason: ReasonNoSuggestions}, nil
	}

	now := s.now()
	data := &models.CoachingData{
		Timestamp:   now,
		Analysis:    analysis,
		ResponseID:  r.ID,
		PromptID:    r.PromptID,
		PromptText:  r.PromptText,
		Source:      r.Source,
		SessionID:   r.SessionID,
		Suggestions: suggestions,
	}
	if err := s.store.Save(storageKey(r, now), data); err != nil {
		log.Warn().Err(err).Str("response", r.ID).Msg("Failed to store coaching")
	}

	s.mu.Lock()
	s.lastCoaching = now
	s.mu.Unlock()

	s.hub.CoachingUpdated.Emit(events.CoachingUpdated{Coaching: data})
	return Result{Generated: true, Coaching: data}, nil
}

func storageKey(r *models.Response, now time.Time) string {
	switch {
	case r.PromptID != "":
		return r.PromptID
	case r.ID != "":
		return r.ID
	}
	return fmt.Sprintf("coaching-%d", now.UnixMilli())
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Service) gate(force bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	switch {
	case !s.cfg.Enabled && !force:
		return ReasonThrottled
	case now.Before(s.cooldownUntil):
		return ReasonCooldown
	case !s.lastCoaching.IsZero() && now.Sub(s.lastCoaching) < s.cfg.MinInterval:
		return ReasonThrottled
	}
	return ""
}

func (s *Service) generate(ctx context.Context, r *models.Response, a models.ResponseAnalysis) []models.CoachingSuggestion {
	if s.completer == nil {
		return fallbackSuggestions(a, s.cfg.MaxSuggestions)
	}
	req := llm.Request{
		Prompt:       buildPrompt(s.assemble(r, a)),
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
		MaxTokens:    maxOutputTokens,
	}
	resp, err := s.completer.GenerateCompletion(ctx, req)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = &llm.ParseError{Tool: toolName}
	}
	var suggestions []models.CoachingSuggestion
	if err == nil {
		suggestions, err = parseSuggestions(resp.Text, s.cfg.MinConfidence, s.cfg.MaxSuggestions)
	}
	if err != nil {
		log.Warn().Err(err).Str("response", r.ID).Msg("Coaching generation failed; using fallback")
	}
	if len(suggestions) == 0 {
		return fallbackSuggestions(a, s.cfg.MaxSuggestions)
	}
	return suggestions
}

func (s *Service) assemble(r *models.Response, a models.ResponseAnalysis) Context {
	c := Context{
		Analysis: a,
		Response: r.Response,
		Prompt:   r.PromptText,
	}
	if s.sessions != nil {
		if sess := s.sessions.ActiveSession(); sess != nil {
			c.Goal = sess.Goal
			c.GoalProgress = sess.GoalProgress
		}
		if first := s.sessions.GetFirstInteractions(1); len(first) > 0 && first[0].Prompt != nil {
			c.FirstPrompt = first[0].Prompt.Text
		}
		for _, it := range s.sessions.GetLastInteractions(HistoryInteractions) {
			if it.Prompt == nil {
				continue
			}
			h := Interaction{Prompt: models.TruncateText(it.Prompt.Text, MaxHistoryPromptChars)}
			if it.Response != nil {
				h.Response = models.TruncateText(it.Response.Response, MaxHistoryResponseChars)
				h.FilesModified = it.Response.FilesModified
			}
			c.History = append(c.History, h)
		}
	}
	if s.workspace != nil {
		c.TechStack = s.workspace.TechStack()
		if root := s.workspace.Root(); root != "" && len(a.FilesModified) > 0 {
			c.Snippets = contextbuilder.SnippetsForFiles(root, a.FilesModified, contextbuilder.MaxOpenFileSnippets)
		}
	}
	return c
}
