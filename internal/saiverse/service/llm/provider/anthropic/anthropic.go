package anthropic

import (
	"context"

	einoClaude "github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/helper"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

const Name = "anthropic"

var (
	_ spi.ChatModelPlugin        = (*Plugin)(nil)
	_ spi.CacheOptionsCapability = (*Plugin)(nil)
)

type Plugin struct {
	helper.BasePlugin
}

func New() spi.ChatModelPlugin {
	return &Plugin{
		BasePlugin: helper.BasePlugin{PluginName: Name},
	}
}

func (p *Plugin) BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	conf := &einoClaude.Config{
		APIKey:    helper.ResolveEnvValue(cfg.APIKey),
		Model:     cfg.Model,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		conf.BaseURL = &baseURL
	}

	applyParamsToClaudeConfig(conf, params)

	return einoClaude.NewChatModel(ctx, conf)
}

// CacheCallOptions turns cache settings into the explicit cache-control
// breakpoints the Anthropic API needs; without them nothing is cached.
func (p *Plugin) CacheCallOptions(cfg *entity.ModelConfig, cache entity.CacheOptions) []model.Option {
	if !cache.Enabled {
		return nil
	}
	return []model.Option{einoClaude.WithEnableAutoCache(true)}
}

func applyParamsToClaudeConfig(conf *einoClaude.Config, params *entity.Params) {
	if params == nil {
		return
	}
	if params.Temperature != nil {
		conf.Temperature = params.Temperature
	}
	if params.MaxTokens != 0 {
		conf.MaxTokens = params.MaxTokens
	}
	if params.TopP != nil {
		conf.TopP = params.TopP
	}
}
