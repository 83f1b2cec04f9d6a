package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/metrics"
	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/pkg/models"
)

// DefaultBatchSize is the number of sessions per upload call.
const DefaultBatchSize = 100

const sanitizeProgressEvery = 10

// Error codes.
const (
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeUploadFailed     = "UPLOAD_FAILED"
	CodeReadError        = "READ_ERROR"
	CodeRecoverable      = "RECOVERABLE_ERROR"
	CodeCancelled        = "CANCELLED"
)

// Progress phases.
const (
	PhaseSanitizing = "sanitizing"
	PhaseUploading  = "uploading"
	PhaseComplete   = "complete"
	PhaseCancelled  = "cancelled"
	PhaseError      = "error"
)

// SyncError is a coded sync failure.
type SyncError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e SyncError) Error() string {
	return e.Code + ": " + e.Message
}

// Progress is reported as the pipeline advances.
type Progress struct {
	Phase        string  `json:"phase"`
	Message      string  `json:"message"`
	Current      int     `json:"current"`
	Total        int     `json:"total"`
	CurrentBatch int     `json:"currentBatch,omitempty"`
	TotalBatches int     `json:"totalBatches,omitempty"`
	SizeKB       float64 `json:"sizeKB,omitempty"`
}

// SyncResult summarizes one run.
type SyncResult struct {
	Since            *time.Time  `json:"since,omitempty"`
	Errors           []SyncError `json:"errors,omitempty"`
	SessionsFound    int         `json:"sessionsFound"`
	SessionsEligible int         `json:"sessionsEligible"`
	SessionsUploaded int         `json:"sessionsUploaded"`
	Batches          int         `json:"batches"`
	Success          bool        `json:"success"`
}

// Options control one run.
type Options struct {
	// Since overrides the incremental lower bound.
	Since    *time.Time
	Progress func(Progress)
	// Force uploads everything regardless of previous syncs.
	Force bool
}

// SessionSource lists local sessions.
type SessionSource interface {
	Sessions(ctx context.Context) ([]*models.Session, error)
}

// ProjectSync is the per-project record of the last upload.
type ProjectSync struct {
	LastSync      time.Time `json:"lastSync"`
	LastSessionID string    `json:"lastSessionId"`
}

// Pipeline runs syncs. Callers do not start overlapping runs.
type Pipeline struct {
	backend   Backend
	sessions  SessionSource
	kv        state.KV
	metrics   *metrics.Metrics
	now       func() time.Time
	batchSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMetrics records uploaded sessions.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline creates a pipeline.
func NewPipeline(backend Backend, sessions SessionSource, kv state.KV, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend:   backend,
		sessions:  sessions,
		kv:        kv,
		now:       time.Now,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sync uploads eligible sessions newer than the incremental bound.
func (p *Pipeline) Sync(ctx context.Context, opts Options) SyncResult {
	report := opts.Progress
	if report == nil {
		report = func(Progress) {}
	}
	var res SyncResult
	fail := func(phase, code, msg string, current, total int) SyncResult {
		res.Errors = append(res.Errors, SyncError{Code: code, Message: msg})
		res.Success = false
		report(Progress{Phase: phase, Message: msg, Current: current, Total: total})
		log.Warn().Str("code", code).Int("uploaded", res.SessionsUploaded).Msg("Sync failed: " + msg)
		return res
	}

	if err := p.authenticate(ctx); err != nil {
		var se SyncError
		errors.As(err, &se)
		return fail(PhaseError, se.Code, se.Message, 0, 0)
	}

	all, err := p.sessions.Sessions(ctx)
	if err != nil {
		return fail(PhaseError, CodeReadError, fmt.Sprintf("read sessions: %v", err), 0, 0)
	}
	res.SessionsFound = len(all)

	var projects map[string]ProjectSync
	if _, err := p.kv.Get(state.KeyProjectSync, &projects); err != nil {
		log.Warn().Err(err).Msg("Unreadable project sync state")
	}
	since := p.lowerBound(ctx, opts)
	res.Since = since

	var candidates []*models.Session
	for _, s := range FilterEligibleSessions(all) {
		if !newerThanBound(s, since, projects, opts) {
			continue
		}
		candidates = append(candidates, s)
	}
	res.SessionsEligible = len(candidates)

	total := len(candidates)
	sanitized := make([]SanitizedSession, 0, total)
	for i, s := range candidates {
		sanitized = append(sanitized, Sanitize(s))
		if n := i + 1; n%sanitizeProgressEvery == 0 || n == total {
			report(Progress{Phase: PhaseSanitizing, Message: fmt.Sprintf("Sanitized %d of %d sessions", n, total), Current: n, Total: total})
		}
	}

	if total == 0 {
		res.Success = true
		report(Progress{Phase: PhaseComplete, Message: "No new sessions to sync"})
		return res
	}

	totalBatches := (total + p.batchSize - 1) / p.batchSize
	touched := map[string]ProjectSync{}
	for b := 0; b < totalBatches; b++ {
		if ctx.Err() != nil {
			p.recordProjects(projects, touched)
			res.Errors = append(res.Errors, SyncError{Code: CodeCancelled, Message: "Sync cancelled"})
			report(Progress{Phase: PhaseCancelled, Message: fmt.Sprintf("Cancelled after %d of %d sessions", res.SessionsUploaded, total),
				Current: res.SessionsUploaded, Total: total, CurrentBatch: b, TotalBatches: totalBatches})
			log.Info().Int("uploaded", res.SessionsUploaded).Int("total", total).Msg("Sync cancelled")
			return res
		}

		lo, hi := b*p.batchSize, min((b+1)*p.batchSize, total)
		batch := sanitized[lo:hi]
		sizeKB := batchSizeKB(batch)
		report(Progress{Phase: PhaseUploading, Message: fmt.Sprintf("Uploading batch %d of %d", b+1, totalBatches),
			Current: res.SessionsUploaded, Total: total, CurrentBatch: b + 1, TotalBatches: totalBatches, SizeKB: sizeKB})

		up, err := p.backend.UploadSessions(ctx, batch)
		if err == nil && !up.Success {
			err = errors.New("backend reported failure")
		}
		if err != nil {
			p.recordProjects(projects, touched)
			return fail(PhaseError, CodeUploadFailed, fmt.Sprintf("batch %d: %v", b+1, err), res.SessionsUploaded, total)
		}

		res.Batches++
		res.SessionsUploaded += up.SessionsProcessed
		p.metrics.RecordSyncUploaded(up.SessionsProcessed)
		now := p.now()
		for _, s := range batch {
			touched[s.projectID] = ProjectSync{LastSync: now, LastSessionID: s.ID}
		}
		log.Info().Int("batch", b+1).Int("batches", totalBatches).Int("processed", up.SessionsProcessed).Float64("sizeKB", sizeKB).Msg("Uploaded session batch")
		report(Progress{Phase: PhaseUploading, Message: fmt.Sprintf("Uploaded batch %d of %d", b+1, totalBatches),
			Current: res.SessionsUploaded, Total: total, CurrentBatch: b + 1, TotalBatches: totalBatches, SizeKB: sizeKB})
	}

	p.recordProjects(projects, touched)
	if err := p.kv.Put(state.KeyLastSync, p.now()); err != nil {
		log.Warn().Err(err).Msg("Failed to record last sync")
	}
	res.Success = true
	report(Progress{Phase: PhaseComplete, Message: fmt.Sprintf("Synced %d sessions", res.SessionsUploaded),
		Current: res.SessionsUploaded, Total: total, CurrentBatch: totalBatches, TotalBatches: totalBatches})
	return res
}

func (p *Pipeline) authenticate(ctx context.Context) error {
	if p.backend == nil || !p.backend.HasToken() {
		return SyncError{Code: CodeNotAuthenticated, Message: "No backend token configured"}
	}
	ok, err := p.backend.VerifyToken(ctx)
	if err != nil {
		return SyncError{Code: CodeTokenInvalid, Message: fmt.Sprintf("Could not verify token: %v", err)}
	}
	if !ok {
		return SyncError{Code: CodeTokenInvalid, Message: "Token is invalid or expired"}
	}
	return nil
}

// lowerBound picks the global since bound; nil means per-project fallback
// bounds apply (or none when forced).
func (p *Pipeline) lowerBound(ctx context.Context, opts Options) *time.Time {
	if opts.Since != nil {
		return opts.Since
	}
	if opts.Force {
		return nil
	}
	ts, err := p.backend.LastSessionTimestamp(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Backend last-session lookup failed; using local sync state")
		return nil
	}
	if ts == nil {
		zero := time.Time{}
		return &zero
	}
	return ts
}

func newerThanBound(s *models.Session, since *time.Time, projects map[string]ProjectSync, opts Options) bool {
	if since != nil {
		return s.StartTime.After(*since)
	}
	if opts.Force {
		return true
	}
	ps, ok := projects[s.ProjectID]
	return !ok || s.StartTime.After(ps.LastSync)
}

func (p *Pipeline) recordProjects(projects, touched map[string]ProjectSync) {
	if len(touched) == 0 {
		return
	}
	if projects == nil {
		projects = make(map[string]ProjectSync, len(touched))
	}
	for id, ps := range touched {
		projects[id] = ps
	}
	if err := p.kv.Put(state.KeyProjectSync, projects); err != nil {
		log.Warn().Err(err).Msg("Failed to record project sync state")
	}
}

func batchSizeKB(batch []SanitizedSession) float64 {
	data, err := json.Marshal(batch)
	if err != nil {
		return 0
	}
	return float64(len(data)) / 1024
}
