package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/internal/metrics"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// Persister writes analysis fields onto the stored prompt.
type Persister interface {
	UpdatePromptScore(ctx context.Context, promptID string, u session.ScoreUpdate) error
}

// Store keeps analysis records by prompt id.
type Store interface {
	Save(id string, v *models.PromptAnalysis) error
}

// ContextSource builds the optional context block for provider prompts.
type ContextSource interface {
	Build(ctx context.Context, prompt string) *contextbuilder.PromptContext
	Render(pc *contextbuilder.PromptContext) string
}

type availability interface {
	Available() bool
}

// Request identifies the prompt to analyze.
type Request struct {
	Timestamp time.Time
	PromptID  string
	SessionID string
	Text      string
	// First marks the first prompt of a session; only it gets goal inference.
	First bool
}

// Orchestrator runs scoring, enhancement, and goal inference for prompts and
// streams partial results through the hub.
type Orchestrator struct {
	completer llm.Completer
	hub       *events.Hub
	persister Persister
	store     Store
	context   ContextSource
	metrics   *metrics.Metrics
	now       func() time.Time
	intensity Intensity
	mu        sync.RWMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPersister writes results onto session prompts.
func WithPersister(p Persister) Option { return func(o *Orchestrator) { o.persister = p } }

// WithStore saves analysis records.
func WithStore(s Store) Option { return func(o *Orchestrator) { o.store = s } }

// WithContext enables context gathering.
func WithContext(c ContextSource) Option { return func(o *Orchestrator) { o.context = c } }

// WithMetrics records analysis counters.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithIntensity sets the enhancement intensity.
func WithIntensity(i Intensity) Option { return func(o *Orchestrator) { o.intensity = i } }

// NewOrchestrator creates an orchestrator. A nil completer selects heuristic scoring.
func NewOrchestrator(c llm.Completer, hub *events.Hub, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer: c,
		hub:       hub,
		now:       time.Now,
		intensity: IntensityMedium,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetIntensity changes the enhancement intensity for later analyses.
func (o *Orchestrator) SetIntensity(i Intensity) {
	o.mu.Lock()
	o.intensity = ParseIntensity(string(i))
	o.mu.Unlock()
}

// Intensity returns the current enhancement intensity.
func (o *Orchestrator) Intensity() Intensity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.intensity
}

func (o *Orchestrator) providerReady() bool {
	if o.completer == nil {
		return false
	}
	if a, ok := o.completer.(availability); ok {
		return a.Available()
	}
	return true
}

// Analyze scores one prompt. It always returns a non-nil analysis. On a
// validation error the analysis is zeroed and nothing is stored. When the
// provider score fails, analysisFailed is emitted and the heuristic result is
// stored, persisted and completed in its place; the error is still returned.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*models.PromptAnalysis, error) {
	start := o.now()
	if req.Timestamp.IsZero() {
		req.Timestamp = start
	}
	o.hub.PromptAnalyzing.Emit(events.PromptAnalyzing{PromptID: req.PromptID, Text: req.Text})

	if err := Validate(req.Text); err != nil {
		o.fail(req.PromptID, err)
		return &models.PromptAnalysis{
			Timestamp:   start,
			PromptID:    req.PromptID,
			SessionID:   req.SessionID,
			Text:        req.Text,
			Explanation: err.Error(),
		}, err
	}

	if !o.providerReady() {
		res := HeuristicScore(req.Text)
		a := o.newAnalysis(req, res, true)
		o.emitScore(req.PromptID, res, true)
		o.complete(ctx, req, a, start)
		return a, nil
	}

	contextText := o.gatherContext(ctx, req.Text)
	in := Input{Text: req.Text, Context: contextText, Intensity: o.Intensity()}

	var (
		score    ScoreResult
		enhanced *EnhanceResult
		enhScore *ScoreResult
		goal     *models.GoalInference
		mu       sync.Mutex
		g        errgroup.Group
	)
	g.Go(func() error {
		res, err := llm.RunTool[Input, ScoreResult](ctx, o.completer, scoreTool{}, in)
		if err != nil {
			return err
		}
		mu.Lock()
		score = res
		mu.Unlock()
		o.emitScore(req.PromptID, res, false)
		return nil
	})
	g.Go(func() error {
		res, err := llm.RunTool[Input, EnhanceResult](ctx, o.completer, enhanceTool{}, in)
		if err != nil {
			log.Warn().Err(err).Str("prompt", req.PromptID).Msg("Prompt enhancement failed")
			return nil
		}
		o.hub.EnhancedPromptReady.Emit(events.EnhancedPromptReady{
			PromptID:     req.PromptID,
			EnhancedText: res.Enhanced,
			Intensity:    string(in.Intensity),
			Improvements: res.Improvements,
		})
		es, err := llm.RunTool[Input, ScoreResult](ctx, o.completer, scoreTool{}, Input{Text: res.Enhanced, Context: contextText})
		mu.Lock()
		enhanced = &res
		if err == nil {
			enhScore = &es
		}
		mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("prompt", req.PromptID).Msg("Enhanced prompt scoring failed")
			return nil
		}
		o.hub.EnhancedScoreReady.Emit(events.EnhancedScoreReady{
			PromptID:  req.PromptID,
			Breakdown: es.Breakdown,
			Score:     es.Breakdown.Total,
		})
		return nil
	})
	if req.First {
		g.Go(func() error {
			res, err := llm.RunTool[Input, models.GoalInference](ctx, o.completer, goalTool{}, in)
			if err != nil {
				log.Debug().Err(err).Str("prompt", req.PromptID).Msg("Goal inference skipped")
				return nil
			}
			mu.Lock()
			goal = &res
			mu.Unlock()
			o.hub.GoalInferred.Emit(events.GoalInferred{PromptID: req.PromptID, SessionID: req.SessionID, GoalInference: res})
			return nil
		})
	}

	err := g.Wait()
	var a *models.PromptAnalysis
	if err != nil {
		o.fail(req.PromptID, err)
		res := HeuristicScore(req.Text)
		a = o.newAnalysis(req, res, true)
		o.emitScore(req.PromptID, res, true)
	} else {
		a = o.newAnalysis(req, score, false)
	}
	if enhanced != nil {
		a.EnhancedText = enhanced.Enhanced
		a.Improvements = enhanced.Improvements
	}
	if enhScore != nil {
		total := enhScore.Breakdown.Total
		a.EnhancedScore = &total
	}
	a.Goal = goal
	o.complete(ctx, req, a, start)
	return a, err
}

func (o *Orchestrator) gatherContext(ctx context.Context, text string) string {
	if o.context == nil {
		return ""
	}
	pc := o.context.Build(ctx, text)
	if pc == nil {
		return ""
	}
	return o.context.Render(pc)
}

func (o *Orchestrator) newAnalysis(req Request, res ScoreResult, heuristic bool) *models.PromptAnalysis {
	br := res.Breakdown
	legacy := res.Legacy
	return &models.PromptAnalysis{
		Timestamp:   o.now(),
		Breakdown:   &br,
		Legacy:      &legacy,
		PromptID:    req.PromptID,
		SessionID:   req.SessionID,
		Text:        req.Text,
		Explanation: res.Explanation,
		Suggestions: res.Suggestions,
		Score:       br.Total,
		Heuristic:   heuristic,
	}
}

func (o *Orchestrator) emitScore(promptID string, res ScoreResult, heuristic bool) {
	o.hub.ScoreReceived.Emit(events.ScoreReceived{
		PromptID:    promptID,
		Breakdown:   res.Breakdown,
		Legacy:      res.Legacy,
		Explanation: res.Explanation,
		Suggestions: res.Suggestions,
		Score:       res.Breakdown.Total,
		Heuristic:   heuristic,
	})
}

func (o *Orchestrator) complete(ctx context.Context, req Request, a *models.PromptAnalysis, start time.Time) {
	if o.store != nil {
		if err := o.store.Save(req.PromptID, a); err != nil {
			log.Warn().Err(err).Str("prompt", req.PromptID).Msg("Failed to store analysis")
		}
	}
	if o.persister != nil {
		err := o.persister.UpdatePromptScore(ctx, req.PromptID, session.ScoreUpdate{
			Breakdown:     a.Breakdown,
			EnhancedScore: a.EnhancedScore,
			EnhancedText:  a.EnhancedText,
			Explanation:   a.Explanation,
			QuickWins:     a.Suggestions,
			Score:         a.Score,
		})
		if err != nil && !errors.Is(err, session.ErrPromptNotFound) {
			log.Warn().Err(err).Str("prompt", req.PromptID).Msg("Failed to persist prompt score")
		}
	}

	p := models.NewPrompt(req.PromptID, req.SessionID, req.Text, req.Timestamp)
	score := a.Score
	p.Score = &score
	p.Breakdown = a.Breakdown
	p.EnhancedScore = a.EnhancedScore
	p.EnhancedText = a.EnhancedText
	p.Explanation = a.Explanation
	p.QuickWins = a.Suggestions

	o.metrics.RecordAnalysis(a.Score, o.now().Sub(start))
	o.hub.AnalysisComplete.Emit(events.AnalysisComplete{PromptID: req.PromptID, Analysis: a, Prompt: p})
}

func (o *Orchestrator) fail(promptID string, err error) {
	msg := FriendlyMessage(err)
	log.Warn().Err(err).Str("prompt", promptID).Str("message", msg).Msg("Prompt analysis failed")
	o.metrics.RecordAnalysisFailure()
	o.hub.AnalysisFailed.Emit(events.AnalysisFailed{PromptID: promptID, Err: err, Message: msg})
}
