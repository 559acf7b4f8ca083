package service

import (
	"fmt"
	"os"
	"sync"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// ConfigRegistry holds every model config the process knows about.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[string]*entity.ModelConfig
}

// NewConfigRegistry creates a registry pre-loaded with the in-tree
// model set.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[string]*entity.ModelConfig)}
	for _, cfg := range defaultModels() {
		r.configs[cfg.ID] = cfg
	}
	return r
}

// LoadFile merges model configs from a JSON file ({"models": [...]}),
// overriding in-tree entries with the same id.
func (r *ConfigRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model config: %w", err)
	}
	var file struct {
		Models []*entity.ModelConfig `json:"models"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse model config: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range file.Models {
		if cfg.ID == "" {
			return fmt.Errorf("model config without id in %s", path)
		}
		r.configs[cfg.ID] = cfg
	}
	return nil
}

// Get resolves a model config by id.
func (r *ConfigRegistry) Get(id string) (*entity.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errno.ErrModelNotFound, id)
	}
	return cfg, nil
}

// List returns every registered model config.
func (r *ConfigRegistry) List() []*entity.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.ModelConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	return out
}

func defaultModels() []*entity.ModelConfig {
	return []*entity.ModelConfig{
		{
			ID:            "gpt-4o",
			Provider:      "openai",
			Model:         "gpt-4o",
			APIKey:        "${OPENAI_API_KEY}",
			ContextLength: 128000,
			MaxTokens:     8192,
			Pricing:       entity.Pricing{Input: 2.5, Output: 10, Cached: 1.25},
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, Type: entity.CacheImplicit,
			},
			SupportsImages:           true,
			SupportsStructuredOutput: true,
		},
		{
			ID:            "gpt-4o-mini",
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			APIKey:        "${OPENAI_API_KEY}",
			ContextLength: 128000,
			MaxTokens:     8192,
			Pricing:       entity.Pricing{Input: 0.15, Output: 0.6, Cached: 0.075},
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, Type: entity.CacheImplicit,
			},
			SupportsImages:           true,
			SupportsStructuredOutput: true,
		},
		{
			ID:            "claude-sonnet",
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			APIKey:        "${ANTHROPIC_API_KEY}",
			ContextLength: 200000,
			MaxTokens:     64000,
			Pricing: entity.Pricing{
				Input: 3, Output: 15, Cached: 0.3,
				CacheWrite: map[string]float64{"5m": 3.75, "1h": 6},
			},
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, DefaultTTL: "5m",
				TTLOptions: []string{"5m", "1h"}, Type: entity.CacheExplicit, MinTokens: 1024,
			},
			SupportsImages:           true,
			SupportsStructuredOutput: true,
		},
		{
			ID:            "gemini-flash",
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			APIKey:        "${GOOGLE_API_KEY}",
			ContextLength: 1048576,
			MaxTokens:     65536,
			Pricing:       entity.Pricing{Input: 0.15, Output: 0.6, Cached: 0.0375},
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, Type: entity.CacheImplicit,
			},
			SupportsImages:           true,
			SupportsStructuredOutput: true,
		},
		{
			ID:            "deepseek-chat",
			Provider:      "deepseek",
			Model:         "deepseek-chat",
			APIKey:        "${DEEPSEEK_API_KEY}",
			ContextLength: 131072,
			MaxTokens:     8192,
			Pricing:       entity.Pricing{Input: 0.27, Output: 1.1, Cached: 0.07},
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, Type: entity.CacheImplicit,
			},
			SupportsStructuredOutput: true,
		},
		{
			ID:                       "qwen-plus",
			Provider:                 "qwen",
			Model:                    "qwen-plus",
			APIKey:                   "${DASHSCOPE_API_KEY}",
			ContextLength:            131072,
			MaxTokens:                8192,
			Pricing:                  entity.Pricing{Input: 0.8, Output: 2},
			SupportsStructuredOutput: true,
		},
		{
			ID:            "local-llama",
			Provider:      "ollama",
			Model:         "llama3.1",
			ContextLength: 131072,
			Local:         true,
		},
	}
}
