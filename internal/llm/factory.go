package llm

import (
	"context"
	"fmt"

	"github.com/thebtf/devark/internal/config"
)

// NewFromConfig builds a manager with the provider selected in cfg. A
// "none" provider yields a manager with nothing active, which callers treat
// as ErrProviderUnavailable.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Manager, error) {
	m := NewManager()
	switch cfg.Provider {
	case config.ProviderNone, "":
		return m, nil
	case config.ProviderGemini:
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return m, err
		}
		m.Register(g)
	case config.ProviderOpenAI:
		model := cfg.Model
		if model == config.DefaultModel {
			model = ""
		}
		m.Register(NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.ProviderBaseURL,
			Model:   model,
		}))
	default:
		return m, fmt.Errorf("unknown provider %q: %w", cfg.Provider, ErrProviderUnavailable)
	}
	return m, nil
}
