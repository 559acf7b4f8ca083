package service

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

// cannedModel replays a fixed response or stream and counts the call
// options it received.
type cannedModel struct {
	reply   *schema.Message
	chunks  []*schema.Message
	gotOpts int
}

func (m *cannedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.gotOpts = len(opts)
	return m.reply, nil
}

func (m *cannedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.gotOpts = len(opts)
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks))
	for _, c := range m.chunks {
		sw.Send(c, nil)
	}
	// The writer stays open: the transport is still producing when the
	// caller cuts the stream.
	return sr, nil
}

func (m *cannedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestStreamCloseBooksPartialUsage(t *testing.T) {
	base := &cannedModel{chunks: []*schema.Message{
		{
			Role:    schema.Assistant,
			Content: "こん",
			ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
				PromptTokens:     12,
				CompletionTokens: 3,
			}},
		},
		{Role: schema.Assistant, Content: "にちは"},
	}}
	c := &Client{cfg: &entity.ModelConfig{ID: "m1"}, base: base}

	stream, err := c.GenerateStream(context.Background(), nil, GenerateOptions{})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "こん", chunk.Content)

	// Cut mid-stream, as cancellation does. Whatever the provider
	// reported so far must land in the usage slot.
	stream.Close()

	usage := c.ConsumeUsage()
	require.NotNil(t, usage)
	assert.Equal(t, "m1", usage.ModelID)
	assert.Equal(t, 12, usage.InputTokens)
	assert.Equal(t, 3, usage.OutputTokens)
	assert.Nil(t, c.ConsumeUsage())
}

func TestStreamCloseBeforeAnyChunkStillRecords(t *testing.T) {
	base := &cannedModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "未読"},
	}}
	c := &Client{cfg: &entity.ModelConfig{ID: "m1"}, base: base}

	stream, err := c.GenerateStream(context.Background(), nil, GenerateOptions{})
	require.NoError(t, err)
	stream.Close()

	usage := c.ConsumeUsage()
	require.NotNil(t, usage)
	assert.Equal(t, "m1", usage.ModelID)
	assert.Zero(t, usage.InputTokens)
}

func TestGenerateMapsCachedTokens(t *testing.T) {
	base := &cannedModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "ok",
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens:       100,
			CompletionTokens:   10,
			PromptTokenDetails: schema.PromptTokenDetails{CachedTokens: 80},
		}},
	}}
	c := &Client{cfg: &entity.ModelConfig{ID: "m1"}, base: base}

	_, err := c.Generate(context.Background(), nil, GenerateOptions{})
	require.NoError(t, err)

	usage := c.ConsumeUsage()
	require.NotNil(t, usage)
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 80, usage.CachedTokens)
}

// cachedPlugin is a provider whose models take explicit per-call cache
// options.
type cachedPlugin struct {
	m *cannedModel
}

func (p *cachedPlugin) Name() string { return "canned" }

func (p *cachedPlugin) BuildChatModel(ctx context.Context, cfg *entity.ModelConfig, params *entity.Params) (model.ToolCallingChatModel, error) {
	return p.m, nil
}

func (p *cachedPlugin) CacheCallOptions(cfg *entity.ModelConfig, cache entity.CacheOptions) []model.Option {
	if !cache.Enabled {
		return nil
	}
	return []model.Option{model.WithModel(cfg.Model)}
}

func TestCacheOptionsReachProviderCall(t *testing.T) {
	m := &cannedModel{reply: &schema.Message{Role: schema.Assistant, Content: "ok"}}
	providers := provider.NewRegistry()
	providers.MustRegister("canned", func() spi.ChatModelPlugin { return &cachedPlugin{m: m} })

	configs := &ConfigRegistry{configs: map[string]*entity.ModelConfig{
		"canned-1": {
			ID:       "canned-1",
			Provider: "canned",
			Model:    "canned-v1",
			Cache: entity.CacheConfig{
				Supported: true, DefaultEnabled: true, DefaultTTL: "5m",
			},
		},
	}}
	mgr := NewManager(configs, providers)

	client, err := mgr.ClientFor(context.Background(), "canned-1", false)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), nil, GenerateOptions{
		Cache: entity.CacheOptions{Enabled: true, TTL: "5m"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.gotOpts, "cache option not passed to the provider call")

	usage := client.ConsumeUsage()
	require.NotNil(t, usage)
	assert.Equal(t, "5m", usage.CacheTTL)

	// Cache disabled for the call: no options go out.
	_, err = client.Generate(context.Background(), nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.gotOpts)
}
