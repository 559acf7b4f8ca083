package deepseek

import (
	"context"

	einoDeepseek "github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino/components/model"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/helper"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

const Name = "deepseek"

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.BasePlugin
}

func New() spi.ChatModelPlugin {
	return &Plugin{
		BasePlugin: helper.BasePlugin{PluginName: Name},
	}
}

// BuildChatModel uses the dedicated DeepSeek SDK so reasoning content
// survives the round trip.
func (p *Plugin) BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	conf := &einoDeepseek.ChatModelConfig{
		APIKey:      helper.ResolveEnvValue(cfg.APIKey),
		Model:       cfg.Model,
		Temperature: 0.7,
	}
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens > 0 {
		conf.MaxTokens = cfg.MaxTokens
	}

	applyParamsToDeepseekConfig(conf, params)

	return einoDeepseek.NewChatModel(ctx, conf)
}

func applyParamsToDeepseekConfig(conf *einoDeepseek.ChatModelConfig, params *entity.Params) {
	if params == nil {
		return
	}
	if params.Temperature != nil {
		conf.Temperature = *params.Temperature
	}
	if params.MaxTokens != 0 {
		conf.MaxTokens = params.MaxTokens
	}
	if params.JSONMode {
		conf.ResponseFormatType = einoDeepseek.ResponseFormatTypeJSONObject
	} else {
		conf.ResponseFormatType = einoDeepseek.ResponseFormatTypeText
	}
}
