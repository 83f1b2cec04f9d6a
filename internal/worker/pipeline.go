package worker

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/analysis"
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// SessionSummary is the sessions-list snapshot mirrored into global state.
type SessionSummary struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"projectId"`
	Platform     models.Source `json:"platform"`
	Name         string        `json:"name,omitempty"`
	Goal         string        `json:"goal,omitempty"`
	GoalProgress *int          `json:"goalProgress,omitempty"`
	PromptCount  int           `json:"promptCount"`
	IsActive     bool          `json:"isActive"`
	LastActivity int64         `json:"lastActivity"`
}

// subscribe connects hub and session events to the session model, the
// orchestrators and the SSE stream.
func (s *Service) subscribe() {
	s.unsubs = append(s.unsubs,
		s.hub.PromptDetected.Subscribe(s.onPrompt),
		s.hub.ResponseDetected.Subscribe(func(ev events.ResponseDetected) {
			s.sessionManager.AddResponse(s.ctx, ev.Response, ev.Response.PromptID)
		}),
		s.hub.FinalResponseDetected.Subscribe(s.onFinalResponse),
		s.sessionManager.Events.Subscribe(s.onSessionEvent),
		s.sseBroadcaster.Attach(s.hub, s.sessionManager.Events),
	)
}

func (s *Service) onPrompt(ev events.PromptDetected) {
	p := ev.Prompt
	if p == nil {
		return
	}
	id, err := s.sessionManager.OnPromptDetected(s.ctx, session.PromptInput{
		Timestamp:       p.Timestamp,
		ID:              p.ID,
		Text:            p.Text,
		SourceID:        ev.Source,
		SourceSessionID: ev.SourceSessionID,
		ProjectPath:     ev.ProjectPath,
	})
	if err != nil {
		log.Warn().Err(err).Str("prompt", p.ID).Msg("Failed to record prompt")
		return
	}
	if ev.ProjectPath != "" {
		s.builder.SetRoot(ev.ProjectPath)
	}

	if !s.config.AutoAnalyzePrompts || !models.IsActualUserPrompt(p.Text) {
		return
	}
	sess := s.sessionManager.ActiveSession()
	req := analysis.Request{
		Timestamp: p.Timestamp,
		PromptID:  id,
		Text:      p.Text,
	}
	if sess != nil {
		req.SessionID = sess.ID
		req.First = models.CountActualUserPrompts(sess.Prompts) == 1
	}
	s.background(func(ctx context.Context) {
		if _, err := s.analyzer.Analyze(ctx, req); err != nil {
			log.Debug().Err(err).Str("prompt", id).Msg("Analysis finished with error")
		}
	})
}

func (s *Service) onFinalResponse(ev events.FinalResponseDetected) {
	r := ev.Response
	s.sessionManager.AddResponse(s.ctx, r, r.PromptID)
	log.Debug().
		Str("conversation", ev.ConversationState.ConversationID).
		Int("prompts", ev.ConversationState.TotalPrompts).
		Int("responses", ev.ConversationState.TotalResponses).
		Msg("Conversation closed")

	if !s.config.AutoAnalyzeResponses {
		return
	}
	s.background(func(ctx context.Context) {
		res, err := s.coaching.ProcessResponse(ctx, r, false)
		if err != nil {
			log.Warn().Err(err).Str("response", r.ID).Msg("Coaching failed")
			return
		}
		if !res.Generated {
			log.Debug().Str("response", r.ID).Str("reason", res.Reason).Msg("No coaching")
		}
	})
}

func (s *Service) onSessionEvent(ev session.Event) {
	if ev.Type == session.EventSessionActivity {
		return
	}
	if ev.Type == session.EventGoalSet || ev.Type == session.EventGoalCompleted {
		s.unified.Invalidate()
	}
	if err := s.kv.Put(state.KeySessionsList, s.sessionSummaries()); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror sessions list")
	}
}

func (s *Service) sessionSummaries() []SessionSummary {
	all := s.sessionManager.AllSessions()
	out := make([]SessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, SessionSummary{
			ID:           sess.ID,
			ProjectID:    sess.ProjectID,
			Platform:     sess.Platform,
			Name:         sess.CustomName,
			Goal:         sess.Goal,
			GoalProgress: sess.GoalProgress,
			PromptCount:  sess.PromptCount,
			IsActive:     sess.IsActive,
			LastActivity: sess.LastActivityTime.UnixMilli(),
		})
	}
	return out
}

// background runs fn on the service context, tracked for Shutdown.
func (s *Service) background(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Go(func() { fn(s.ctx) })
}
