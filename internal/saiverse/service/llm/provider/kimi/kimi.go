package kimi

import (
	"context"

	"github.com/cloudwego/eino/components/model"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/helper"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

const Name = "kimi"

// DefaultBaseURL is Moonshot's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.moonshot.cn/v1"

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.BasePlugin
}

func New() spi.ChatModelPlugin {
	return &Plugin{
		BasePlugin: helper.BasePlugin{PluginName: Name},
	}
}

func (p *Plugin) BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	if cfg.BaseURL == "" {
		c := *cfg
		c.BaseURL = DefaultBaseURL
		cfg = &c
	}
	return helper.NewOpenAICompatibleChatModel(ctx, cfg, params)
}
