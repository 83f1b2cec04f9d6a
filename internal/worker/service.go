// Package worker is the devark daemon: it wires the hook-file processor, the
// session model, the analysis and coaching orchestrators, and the sync
// pipeline together and serves them over a local HTTP API.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/analysis"
	"github.com/thebtf/devark/internal/coaching"
	"github.com/thebtf/devark/internal/config"
	"github.com/thebtf/devark/internal/contextbuilder"
	"github.com/thebtf/devark/internal/cursordb"
	"github.com/thebtf/devark/internal/db/sqlite"
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/hookfile"
	"github.com/thebtf/devark/internal/linker"
	"github.com/thebtf/devark/internal/llm"
	"github.com/thebtf/devark/internal/metrics"
	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/internal/storage"
	devsync "github.com/thebtf/devark/internal/sync"
	"github.com/thebtf/devark/internal/unified"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/internal/worker/sse"
	"github.com/thebtf/devark/pkg/models"
)

// ErrSyncInProgress is returned when a sync is requested while one runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncProgressEvent is the SSE event name for sync progress frames.
const SyncProgressEvent = "syncProgress"

// recentFiles bounds the active session's touched files offered as open files.
const recentFiles = 10

// components are the externally-owned dependencies of a Service.
type components struct {
	kv           state.KV
	sessionStore session.Store
	completer    llm.Completer
	provider     string
	backend      devsync.Backend
	readers      []unified.ExternalReader
	analysisDir  string
	coachingDir  string
	closers      []io.Closer
}

// Service is the devark daemon.
type Service struct {
	version string
	config  *config.Config

	kv             state.KV
	hub            *events.Hub
	linker         *linker.Linker
	processor      *hookfile.Processor
	sessionManager *session.Manager
	unified        *unified.Service
	analyzer       *analysis.Orchestrator
	coaching       *coaching.Service
	analyses       *storage.Store[models.PromptAnalysis]
	coachingStore  *storage.Store[models.CoachingData]
	pipeline       *devsync.Pipeline
	builder        *contextbuilder.Builder
	metrics        *metrics.Metrics
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	server         *http.Server

	provider string
	closers  []io.Closer
	unsubs   []func()

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
	syncing   atomic.Bool
	lastSync  atomic.Pointer[devsync.SyncResult]
	wg        sync.WaitGroup
}

// New opens the daemon's stores and provider from cfg.
func New(version string, cfg *config.Config) (*Service, error) {
	if err := config.EnsureAll(); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	kv, err := state.Open(config.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	db, err := sqlite.Open(config.DBPath())
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	manager, err := llm.NewFromConfig(context.Background(), cfg)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.Provider).Msg("LLM provider unavailable, using heuristics")
	}
	var (
		completer llm.Completer
		provider  string
	)
	if manager != nil {
		completer = manager
		if manager.Available() {
			provider = manager.ActiveProvider().Name()
		}
	}

	return assemble(version, cfg, components{
		kv:           kv,
		sessionStore: sqlite.NewRepository(db),
		completer:    completer,
		provider:     provider,
		backend:      devsync.NewClient(cfg.BackendURL, cfg.Token),
		readers:      []unified.ExternalReader{cursordb.New(cfg.CursorDB)},
		analysisDir:  config.AnalysisDir(),
		coachingDir:  config.CoachingDir(),
		closers:      []io.Closer{db, kv},
	})
}

func assemble(version string, cfg *config.Config, c components) (*Service, error) {
	analyses, err := storage.New[models.PromptAnalysis](c.analysisDir)
	if err != nil {
		return nil, fmt.Errorf("analysis store: %w", err)
	}
	coachingStore, err := storage.New[models.CoachingData](c.coachingDir)
	if err != nil {
		return nil, fmt.Errorf("coaching store: %w", err)
	}

	m := metrics.New()
	hub := events.NewHub()
	l := linker.New()

	sessionOpts := []session.Option{}
	if c.sessionStore != nil {
		sessionOpts = append(sessionOpts, session.WithStore(c.sessionStore))
	}
	sessions := session.NewManager(sessionOpts...)

	builder := contextbuilder.New("",
		contextbuilder.WithHistory(sessions),
		contextbuilder.WithOpenFiles(func() []string { return sessions.RecentFiles(recentFiles) }),
		contextbuilder.WithTokenCounter(session.NewTokenCounter()),
		contextbuilder.WithTimeout(cfg.ContextTimeout()),
	)

	analyzer := analysis.NewOrchestrator(c.completer, hub,
		analysis.WithPersister(sessions),
		analysis.WithStore(analyses),
		analysis.WithContext(builder),
		analysis.WithMetrics(m),
		analysis.WithIntensity(analysis.ParseIntensity(cfg.EnhanceIntensity)),
	)

	coach := coaching.NewService(c.completer, hub, coachingStore, coaching.Config{
		Enabled:        cfg.CoachingEnabled,
		MinInterval:    cfg.CoachingMinInterval(),
		Cooldown:       cfg.CoachingCooldown(),
		MinConfidence:  cfg.CoachingMinConfidence,
		MaxSuggestions: cfg.CoachingMaxSuggestions,
	},
		coaching.WithSessions(sessions),
		coaching.WithWorkspace(builder),
		coaching.WithMetrics(m),
	)

	merged := unified.NewService(sessions, unified.NewGoalCache(c.kv), c.readers...)

	var pipeline *devsync.Pipeline
	if c.backend != nil {
		pipeline = devsync.NewPipeline(c.backend, merged, c.kv, devsync.WithMetrics(m))
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		config:         cfg,
		kv:             c.kv,
		hub:            hub,
		linker:         l,
		processor:      hookfile.New(cfg.HookDir, hookfile.NewDispatcher(hub, l), hub, hookfile.WithPollInterval(cfg.PollInterval()), hookfile.WithMetrics(m)),
		sessionManager: sessions,
		unified:        merged,
		analyzer:       analyzer,
		coaching:       coach,
		analyses:       analyses,
		coachingStore:  coachingStore,
		pipeline:       pipeline,
		builder:        builder,
		metrics:        m,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		provider:       c.provider,
		closers:        c.closers,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.setupRoutes()
	return svc, nil
}

// Load restores persisted sessions and warms both disk-backed stores.
// Retention runs at most once per local day.
func (s *Service) Load(ctx context.Context) error {
	if err := s.sessionManager.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	ran, err := storage.RunRetention(s.kv, time.Now(), storage.DefaultRetention, s.analyses, s.coachingStore)
	if err != nil {
		log.Warn().Err(err).Msg("Storage retention failed")
	} else if ran {
		log.Info().Msg("Storage retention completed")
	}
	for name, boot := range map[string]func(int) (int, error){
		"analysis": s.analyses.Bootstrap,
		"coaching": s.coachingStore.Bootstrap,
	} {
		n, err := boot(storage.DefaultCapacity)
		if err != nil {
			log.Warn().Err(err).Str("store", name).Msg("Bootstrap failed")
			continue
		}
		log.Debug().Str("store", name).Int("records", n).Msg("Store bootstrapped")
	}
	return nil
}

// Start loads state, subscribes the pipeline, starts the hook processor and
// serves the API on 127.0.0.1. It returns once the listener is bound.
func (s *Service) Start() error {
	if err := s.Load(s.ctx); err != nil {
		return err
	}
	s.subscribe()

	s.wg.Go(func() {
		if err := s.processor.Run(s.ctx); err != nil {
			log.Error().Err(err).Str("dir", s.processor.Dir()).Msg("Hook processor stopped")
		}
	})

	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		s.wg.Wait()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wg.Go(func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	})

	s.ready.Store(true)
	log.Info().
		Str("addr", addr).
		Str("hookDir", s.processor.Dir()).
		Str("provider", s.providerLabel()).
		Str("version", s.version).
		Msg("Worker started")
	return nil
}

// Shutdown stops the server and background work, then closes stores.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	s.cancel()
	s.wg.Wait()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Sync runs one upload. Overlapping calls fail with ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context, opts devsync.Options) (devsync.SyncResult, error) {
	if s.pipeline == nil {
		return devsync.SyncResult{}, errors.New("sync backend not configured")
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return devsync.SyncResult{}, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	report := opts.Progress
	opts.Progress = func(p devsync.Progress) {
		s.sseBroadcaster.Send(SyncProgressEvent, p)
		if report != nil {
			report(p)
		}
	}
	res := s.pipeline.Sync(ctx, opts)
	s.lastSync.Store(&res)
	return res, nil
}

// Projects returns the merged hook and external project tree.
func (s *Service) Projects(ctx context.Context, uiOnly bool) ([]*models.Project, error) {
	return s.unified.Projects(ctx, uiOnly)
}

func (s *Service) providerLabel() string {
	if s.provider == "" {
		return "none"
	}
	return s.provider
}
