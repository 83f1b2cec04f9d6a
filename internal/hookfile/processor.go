// Package hookfile consumes the prompt and response records agent tools drop into
// the hook directory, exactly once per file.
package hookfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/metrics"
	"github.com/thebtf/devark/internal/watcher"
	"github.com/thebtf/devark/pkg/hooks"
	"github.com/thebtf/devark/pkg/models"
)

// DefaultPollInterval covers events the watcher misses.
const DefaultPollInterval = 5 * time.Second

// maxTrackedIDs bounds the processed content-id set.
const maxTrackedIDs = 5000

// Patterns are the drop-file globs consumed from the hook directory.
var Patterns = []string{
	hooks.PrefixCursorPrompt + "*.json",
	hooks.PrefixClaudePrompt + "*.json",
	hooks.PrefixCursorResponse + "*.json",
	hooks.PrefixCursorFinalResponse + "*.json",
	hooks.PrefixClaudeResponse + "*.json",
}

// SkipFiles are pointer files written by older hook scripts; never events.
var SkipFiles = map[string]bool{
	"latest-prompt.json":                true,
	"latest-claude-prompt.json":         true,
	"latest-response.json":              true,
	"latest-cursor-response.json":       true,
	"latest-cursor-response-final.json": true,
	"latest-claude-response.json":       true,
}

// Kind is the record family of a drop file.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrompt
	KindResponse
)

// ErrSkipped is returned for files that are not consumed (skip files, duplicates, foreign names).
var ErrSkipped = errors.New("hook file skipped")

// Handler receives parsed records in processing order.
type Handler interface {
	HandlePrompt(ev events.PromptDetected)
	HandleResponse(r *models.Response)
}

// Processor reads, validates, de-duplicates and deletes drop files.
type Processor struct {
	now            func() time.Time
	handler        Handler
	hub            *events.Hub
	metrics        *metrics.Metrics
	processedFiles map[string]struct{}
	processedIDs   map[string]struct{}
	dir            string
	idOrder        []string
	pollInterval   time.Duration
	processed      atomic.Int64
	mu             sync.Mutex
}

// Option configures a Processor.
type Option func(*Processor)

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithMetrics attaches a metrics tracker.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock overrides the time source used when records lack timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a processor for dir.
func New(dir string, handler Handler, hub *events.Hub, opts ...Option) *Processor {
	p := &Processor{
		dir:            dir,
		handler:        handler,
		hub:            hub,
		now:            time.Now,
		pollInterval:   DefaultPollInterval,
		processedFiles: make(map[string]struct{}),
		processedIDs:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dir returns the drop directory.
func (p *Processor) Dir() string {
	return p.dir
}

// Initialize creates the drop directory if missing.
func (p *Processor) Initialize() error {
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return fmt.Errorf("create hook dir: %w", err)
	}
	return nil
}

// Processed returns how many records were dispatched.
func (p *Processor) Processed() int {
	return int(p.processed.Load())
}

// KindOf classifies a basename by prefix. Order matters: "claude-prompt-" before "prompt-".
func KindOf(name string) (Kind, models.Source) {
	switch {
	case strings.HasPrefix(name, hooks.PrefixClaudePrompt):
		return KindPrompt, models.SourceClaudeCode
	case strings.HasPrefix(name, hooks.PrefixCursorPrompt):
		return KindPrompt, models.SourceCursor
	case strings.HasPrefix(name, hooks.PrefixCursorResponse):
		return KindResponse, models.SourceCursor
	case strings.HasPrefix(name, hooks.PrefixClaudeResponse):
		return KindResponse, models.SourceClaudeCode
	}
	return KindUnknown, ""
}

func matches(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	kind, _ := KindOf(name)
	return kind != KindUnknown
}

// ProcessAll processes every matching file in directory-listing order and
// emits newPromptsDetected when any prompts were found. The summary trails the
// per-file promptDetected events; downstream events may interleave before it.
func (p *Processor) ProcessAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, p.Initialize()
		}
		return 0, fmt.Errorf("list hook dir: %w", err)
	}

	present := make(map[string]struct{}, len(entries))
	var prompts []*models.Prompt
	count := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.IsDir() {
			continue
		}
		present[e.Name()] = struct{}{}

		prompt, err := p.process(filepath.Join(p.dir, e.Name()))
		if err != nil {
			continue
		}
		count++
		if prompt != nil {
			prompts = append(prompts, prompt)
		}
	}

	p.forgetMissing(present)
	p.emitNewPrompts(prompts)
	return count, ctx.Err()
}

// ProcessFile processes a single drop file. Returns ErrSkipped when the file is
// not consumed.
func (p *Processor) ProcessFile(path string) error {
	prompt, err := p.process(path)
	if err != nil {
		return err
	}
	if prompt != nil {
		p.emitNewPrompts([]*models.Prompt{prompt})
	}
	return nil
}

func (p *Processor) emitNewPrompts(prompts []*models.Prompt) {
	if len(prompts) == 0 || p.hub == nil {
		return
	}
	p.hub.NewPromptsDetected.Emit(events.NewPromptsDetected{Count: len(prompts), Prompts: prompts})
}

// process runs the per-file algorithm. Serialized so watcher and poll callbacks cannot race.
func (p *Processor) process(path string) (*models.Prompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := filepath.Base(path)
	if SkipFiles[name] || !matches(name) {
		return nil, ErrSkipped
	}
	if _, seen := p.processedFiles[name]; seen {
		return nil, ErrSkipped
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSkipped
		}
		// Busy or permission errors: leave unmarked so the next tick retries.
		log.Debug().Err(err).Str("file", name).Msg("Hook file not readable yet")
		return nil, err
	}

	kind, inferred := KindOf(name)
	switch kind {
	case KindPrompt:
		return p.processPrompt(path, name, data, inferred)
	case KindResponse:
		return nil, p.processResponse(path, name, data, inferred)
	}
	return nil, ErrSkipped
}

func (p *Processor) processPrompt(path, name string, data []byte, inferred models.Source) (*models.Prompt, error) {
	var rec hooks.PromptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		p.drop(path, name, "malformed prompt record", err)
		return nil, ErrSkipped
	}
	if rec.ID == "" || rec.Prompt == "" {
		p.drop(path, name, "prompt record missing id or prompt", nil)
		return nil, ErrSkipped
	}
	if rec.Source == "" {
		rec.Source = string(inferred)
	}

	contentID := "prompt:" + rec.ID
	duplicate := p.seenID(contentID)
	p.consume(path, name, contentID)
	if duplicate {
		return nil, ErrSkipped
	}

	prompt := rec.ToPrompt(p.now())
	ev := events.PromptDetected{
		Prompt:          prompt,
		Source:          models.Source(rec.Source),
		SourceSessionID: rec.SourceSessionID(),
		ProjectPath:     rec.ProjectPath(),
		ConversationID:  rec.ConversationID,
		Model:           rec.Model,
	}
	p.processed.Add(1)
	p.metrics.RecordHookFile(metrics.KindPrompt)
	if p.handler != nil {
		p.handler.HandlePrompt(ev)
	}
	return prompt, nil
}

func (p *Processor) processResponse(path, name string, data []byte, inferred models.Source) error {
	var rec hooks.ResponseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		p.drop(path, name, "malformed response record", err)
		return ErrSkipped
	}
	if rec.ID == "" {
		p.drop(path, name, "response record missing id", nil)
		return ErrSkipped
	}
	if rec.Source == "" {
		rec.Source = string(inferred)
	}
	if strings.Contains(name, hooks.FinalMarker) {
		rec.IsFinal = true
	}

	contentID := "response:" + rec.ID
	duplicate := p.seenID(contentID)
	p.consume(path, name, contentID)
	if duplicate {
		return ErrSkipped
	}

	p.processed.Add(1)
	p.metrics.RecordHookFile(metrics.KindResponse)
	if p.handler != nil {
		p.handler.HandleResponse(rec.ToResponse(p.now()))
	}
	return nil
}

// drop deletes a record that can never be processed. Writers retry if it matters.
func (p *Processor) drop(path, name, reason string, err error) {
	log.Warn().Err(err).Str("file", name).Msg("Dropping hook file: " + reason)
	p.metrics.RecordHookFile(metrics.KindDropped)
	p.consume(path, name, "")
}

// consume deletes the file and marks it processed. Deletion failures are logged;
// the filename entry keeps this run from reprocessing it.
func (p *Processor) consume(path, name, contentID string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", name).Msg("Failed to delete hook file")
	}
	p.processedFiles[name] = struct{}{}
	if contentID != "" {
		p.markID(contentID)
	}
}

func (p *Processor) seenID(id string) bool {
	_, ok := p.processedIDs[id]
	return ok
}

func (p *Processor) markID(id string) {
	if _, ok := p.processedIDs[id]; ok {
		return
	}
	p.processedIDs[id] = struct{}{}
	p.idOrder = append(p.idOrder, id)
	if len(p.idOrder) > maxTrackedIDs {
		oldest := p.idOrder[0]
		p.idOrder = p.idOrder[1:]
		delete(p.processedIDs, oldest)
	}
}

// forgetMissing drops filename entries whose files are gone; a deleted file cannot be re-read.
func (p *Processor) forgetMissing(present map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.processedFiles {
		if _, ok := present[name]; !ok {
			delete(p.processedFiles, name)
		}
	}
}

// Run watches and polls the drop directory until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Initialize(); err != nil {
		p.status(events.HookStatusError, err.Error())
		return err
	}

	status := events.HookStatusWatching
	w, err := watcher.New(p.dir, Patterns, func(path string) {
		if err := p.ProcessFile(path); err != nil && !errors.Is(err, ErrSkipped) {
			log.Debug().Err(err).Str("file", filepath.Base(path)).Msg("Watcher pass deferred to poll")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("File watcher unavailable, polling only")
		status = events.HookStatusPolling
	} else {
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start file watcher")
			status = events.HookStatusPolling
		}
		defer func() {
			if err := w.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop file watcher")
			}
		}()
	}
	p.status(status, "")

	if _, err := p.ProcessAll(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("Initial hook directory scan failed")
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.status(events.HookStatusStopped, "")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessAll(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Hook directory scan failed")
			}
		}
	}
}

func (p *Processor) status(s, msg string) {
	if p.hub == nil {
		return
	}
	p.hub.HookStatus.Emit(events.HookStatus{Status: s, Dir: p.dir, Message: msg, Processed: p.Processed()})
}
