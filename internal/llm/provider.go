// Package llm is the language-model provider abstraction used by the analysis
// and coaching orchestrators.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrProviderUnavailable is returned when no provider is configured or active.
var ErrProviderUnavailable = errors.New("LLM provider not configured")

// DefaultAttempts and the backoff step used by Manager.
const (
	DefaultAttempts = 3
	BackoffStep     = 1 * time.Second
)

// Request is a single completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Response is a completion result. Error holds a provider-reported failure
// that did not surface as a transport error.
type Response struct {
	Text  string
	Error string
}

// Provider generates completions.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, req Request) (Response, error)
}

// Chunk is one streamed delta. The final chunk has Done set; Err ends the stream.
type Chunk struct {
	Err  error
	Text string
	Done bool
}

// StreamingProvider is a Provider that can stream deltas.
type StreamingProvider interface {
	Provider
	StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Completer is what tools and orchestrators depend on.
type Completer interface {
	GenerateCompletion(ctx context.Context, req Request) (Response, error)
}

// Manager holds registered providers and retries calls against the active one.
type Manager struct {
	providers map[string]Provider
	sleep     func(ctx context.Context, d time.Duration) error
	active    string
	attempts  int
	mu        sync.RWMutex
}

// NewManager creates a manager with the given providers. The first becomes active.
func NewManager(providers ...Provider) *Manager {
	m := &Manager{
		providers: make(map[string]Provider),
		sleep:     sleepCtx,
		attempts:  DefaultAttempts,
	}
	for _, p := range providers {
		m.Register(p)
	}
	return m
}

// SetSleep replaces the backoff sleeper. Tests use it to skip real delays.
func (m *Manager) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep = fn
}

// Register adds p, making it active when none is.
func (m *Manager) Register(p Provider) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
	if m.active == "" {
		m.active = p.Name()
	}
}

// SetActive switches the active provider.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q: %w", name, ErrProviderUnavailable)
	}
	m.active = name
	return nil
}

// Names lists registered providers.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActiveProvider returns the active provider or nil.
func (m *Manager) ActiveProvider() Provider {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[m.active]
}

// Available reports whether a provider is active.
func (m *Manager) Available() bool {
	return m.ActiveProvider() != nil
}

// GenerateCompletion calls the active provider, retrying transport errors and
// provider-reported errors with delays of 1s, 2s, ... between attempts.
func (m *Manager) GenerateCompletion(ctx context.Context, req Request) (Response, error) {
	p := m.ActiveProvider()
	if p == nil {
		return Response{}, ErrProviderUnavailable
	}

	m.mu.RLock()
	attempts, sleep := m.attempts, m.sleep
	m.mu.RUnlock()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.GenerateCompletion(ctx, req)
		if err == nil && resp.Error != "" {
			err = errors.New(resp.Error)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Str("provider", p.Name()).Int("attempt", attempt).Msg("Completion failed")
		if attempt < attempts {
			if err := sleep(ctx, time.Duration(attempt)*BackoffStep); err != nil {
				lastErr = err
				break
			}
		}
	}
	return Response{}, fmt.Errorf("%s completion failed: %w", p.Name(), lastErr)
}

// StreamCompletion streams from the active provider, or emits the whole
// completion as one chunk when the provider cannot stream.
func (m *Manager) StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error) {
	p := m.ActiveProvider()
	if p == nil {
		return nil, ErrProviderUnavailable
	}
	if sp, ok := p.(StreamingProvider); ok {
		return sp.StreamCompletion(ctx, req)
	}

	out := make(chan Chunk, 2)
	go func() {
		defer close(out)
		resp, err := m.GenerateCompletion(ctx, req)
		if err != nil {
			out <- Chunk{Err: err}
			return
		}
		out <- Chunk{Text: resp.Text}
		out <- Chunk{Done: true}
	}()
	return out, nil
}

// Collect drains a stream into its full text.
func Collect(ch <-chan Chunk) (string, error) {
	var text []byte
	for c := range ch {
		if c.Err != nil {
			return string(text), c.Err
		}
		text = append(text, c.Text...)
	}
	return string(text), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
