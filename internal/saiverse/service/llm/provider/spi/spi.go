package spi

import (
	"context"

	"github.com/cloudwego/eino/components/model"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
)

// ChatModelPlugin builds Eino chat models for one provider family.
type ChatModelPlugin interface {
	// Name returns the provider name as used in model configs.
	Name() string
	// BuildChatModel builds a tool-capable chat model for the given model
	// config. params may be nil, in which case provider defaults are used.
	BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error)
}

// PluginFactory creates a ChatModelPlugin instance.
type PluginFactory func() ChatModelPlugin

// CacheOptionsCapability is implemented by plugins whose transports take
// per-call prompt-cache options. Plugins without it rely on the
// provider's implicit caching.
type CacheOptionsCapability interface {
	CacheCallOptions(cfg *entity.ModelConfig, cache entity.CacheOptions) []model.Option
}
