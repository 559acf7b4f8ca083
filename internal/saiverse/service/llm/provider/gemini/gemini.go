package gemini

import (
	"context"
	"fmt"

	einoGemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/helper"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

const Name = "gemini"

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.BasePlugin
}

func New() spi.ChatModelPlugin {
	return &Plugin{
		BasePlugin: helper.BasePlugin{PluginName: Name},
	}
}

// BuildChatModel goes through Google's generative AI API rather than the
// OpenAI-compatible path.
func (p *Plugin) BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  helper.ResolveEnvValue(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: "https://generativelanguage.googleapis.com/",
		},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client for %s: %w", cfg.ID, err)
	}

	conf := &einoGemini.Config{
		Client: client,
		Model:  cfg.Model,
	}

	applyParamsToGeminiConfig(conf, params)

	return einoGemini.NewChatModel(ctx, conf)
}

func applyParamsToGeminiConfig(conf *einoGemini.Config, params *entity.Params) {
	if params == nil {
		return
	}
	conf.TopP = params.TopP
	if params.Temperature != nil {
		t := *params.Temperature
		conf.Temperature = &t
	}
	if params.MaxTokens != 0 {
		mt := params.MaxTokens
		conf.MaxTokens = &mt
	}
	if params.EnableThinking != nil {
		conf.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: *params.EnableThinking,
		}
	}
}
