package analyzer

import (
	"context"
	"fmt"

	"github.com/ibeckermayer/xwatcher/internal/analyzer/providers"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Scorer rates a post's relevance in [0,100]
type Scorer interface {
	Score(ctx context.Context, post types.Post, prompts *config.Prompts) (providers.Score, error)
}

// Drafter writes reply text for a post. An empty model means the
// provider's default drafting model.
type Drafter interface {
	Draft(ctx context.Context, post types.Post, prompts *config.Prompts, model string) (providers.Draft, error)
}

// Provider is both capabilities
type Provider interface {
	Scorer
	Drafter
}

// New picks the provider for cfg. Test mode always uses templates.
func New(cfg *config.Config, cache *store.LLMCache) (Provider, error) {
	if cfg.Workflow.TestMode {
		return providers.Template{}, nil
	}

	switch cfg.AI.Provider {
	case config.ProviderAnthropic:
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("no API key configured for %s (set ai.api_key or ANTHROPIC_API_KEY)", cfg.AI.Provider)
		}
		return providers.NewAnthropic(key, cfg.Quantifier.Model, cfg.Generator.Model, cfg.AI.Costs, cache), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.AI.Provider)
	}
}
