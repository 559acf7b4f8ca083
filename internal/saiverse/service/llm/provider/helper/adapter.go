package helper

import (
	"context"

	"github.com/bytedance/gg/gptr"
	einoOpenAI "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
)

// NewOpenAICompatibleChatModel creates an Eino ChatModel using the
// OpenAI-compatible API. This is the common path for providers exposing
// an OpenAI-compatible endpoint (OpenAI, Qwen/DashScope, Kimi/Moonshot,
// GLM/ZhiPu, etc.).
func NewOpenAICompatibleChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	conf := &einoOpenAI.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: ResolveEnvValue(cfg.APIKey),
		ResponseFormat: &einoOpenAI.ChatCompletionResponseFormat{
			Type: einoOpenAI.ChatCompletionResponseFormatTypeText,
		},
	}
	if cfg.MaxTokens > 0 {
		conf.MaxTokens = gptr.Of(cfg.MaxTokens)
	}
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}

	applyParamsToOpenAIChatModelConfig(conf, params)

	return einoOpenAI.NewChatModel(ctx, conf)
}

func applyParamsToOpenAIChatModelConfig(conf *einoOpenAI.ChatModelConfig, params *entity.Params) {
	if params == nil {
		return
	}
	if params.Temperature != nil {
		conf.Temperature = params.Temperature
	}
	if params.MaxTokens != 0 {
		conf.MaxTokens = gptr.Of(params.MaxTokens)
	}
	conf.TopP = params.TopP
	if params.JSONMode {
		conf.ResponseFormat = &einoOpenAI.ChatCompletionResponseFormat{
			Type: einoOpenAI.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
}
