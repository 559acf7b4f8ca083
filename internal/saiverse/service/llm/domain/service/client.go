package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

const llmModule = "llm"

// Manager builds and caches one Client per (model id, json mode) pair.
type Manager struct {
	configs   *ConfigRegistry
	providers *provider.Registry

	mu      sync.Mutex
	clients map[string]*Client
}

func NewManager(configs *ConfigRegistry, providers *provider.Registry) *Manager {
	return &Manager{
		configs:   configs,
		providers: providers,
		clients:   make(map[string]*Client),
	}
}

// ClientFor returns a client for the model. structured requests a
// JSON-mode transport for structured output.
func (m *Manager) ClientFor(ctx context.Context, modelID string, structured bool) (*Client, error) {
	cfg, err := m.configs.Get(modelID)
	if err != nil {
		return nil, err
	}
	if structured && !cfg.SupportsStructuredOutput {
		structured = false
	}

	key := modelID
	if structured {
		key += "+json"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[key]; ok {
		return c, nil
	}

	factory, err := m.providers.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}
	plugin := factory()
	params := &entity.Params{JSONMode: structured}
	base, err := plugin.BuildChatModel(ctx, cfg, params)
	if err != nil {
		return nil, fmt.Errorf("build chat model %s: %w", modelID, err)
	}
	c := &Client{cfg: cfg, base: base}
	if cacheCap, ok := plugin.(spi.CacheOptionsCapability); ok {
		c.cacheCap = cacheCap
	}
	m.clients[key] = c
	return c, nil
}

// GenerateOptions are the per-call inputs beyond the message array.
type GenerateOptions struct {
	Tools []*schema.ToolInfo
	Cache entity.CacheOptions
}

// Client wraps one Eino chat model with the usage, reasoning and
// tool-detection bookkeeping the graph runtime consumes after each call.
// Accessors are consume-once: reading clears the slot.
type Client struct {
	cfg      *entity.ModelConfig
	base     model.ToolCallingChatModel
	cacheCap spi.CacheOptionsCapability

	mu                   sync.Mutex
	lastUsage            *entity.Usage
	lastReasoning        string
	lastReasoningDetails []map[string]any
	lastToolDetection    *entity.ToolDetection
}

// Config returns the model config this client was built from.
func (c *Client) Config() *entity.ModelConfig {
	return c.cfg
}

func (c *Client) withTools(tools []*schema.ToolInfo) (model.BaseChatModel, error) {
	if len(tools) == 0 {
		return c.base, nil
	}
	cm, err := c.base.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errno.ErrModelNotToolCapable, err)
	}
	return cm, nil
}

// callOptions expands cache settings into provider call options for
// transports that take explicit cache control.
func (c *Client) callOptions(cache entity.CacheOptions) []model.Option {
	if c.cacheCap == nil || !cache.Enabled {
		return nil
	}
	return c.cacheCap.CacheCallOptions(c.cfg, cache)
}

// Generate performs one non-streaming call.
func (c *Client) Generate(ctx context.Context, messages []*schema.Message, opts GenerateOptions) (*entity.GenerateResult, error) {
	cm, err := c.withTools(opts.Tools)
	if err != nil {
		return nil, err
	}
	msg, err := cm.Generate(ctx, messages, c.callOptions(opts.Cache)...)
	if err != nil {
		return nil, errno.NewLLMError(err)
	}
	c.record(msg, opts.Cache)
	return resultFromMessage(msg), nil
}

// GenerateStream starts a streaming call. The returned Stream must be
// closed; closing disconnects the transport, which is what stops token
// generation and billing on cancellation.
func (c *Client) GenerateStream(ctx context.Context, messages []*schema.Message, opts GenerateOptions) (*Stream, error) {
	cm, err := c.withTools(opts.Tools)
	if err != nil {
		return nil, err
	}
	sr, err := cm.Stream(ctx, messages, c.callOptions(opts.Cache)...)
	if err != nil {
		return nil, errno.NewLLMError(err)
	}
	return &Stream{client: c, reader: sr, cache: opts.Cache}, nil
}

// record stores the usage/reasoning slots from a completed call.
func (c *Client) record(msg *schema.Message, cache entity.CacheOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	usage := &entity.Usage{ModelID: c.cfg.ID}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		usage.InputTokens = msg.ResponseMeta.Usage.PromptTokens
		usage.OutputTokens = msg.ResponseMeta.Usage.CompletionTokens
		usage.CachedTokens = msg.ResponseMeta.Usage.PromptTokenDetails.CachedTokens
	}
	if cache.Enabled {
		usage.CacheTTL = cache.TTL
	}
	c.lastUsage = usage

	if msg.ReasoningContent != "" {
		c.lastReasoning = msg.ReasoningContent
		c.lastReasoningDetails = []map[string]any{{
			"type":    "reasoning",
			"content": msg.ReasoningContent,
		}}
	}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		c.lastToolDetection = &entity.ToolDetection{
			ToolName: tc.Function.Name,
			ToolArgs: tc.Function.Arguments,
		}
	}
}

// ConsumeUsage returns and clears the most recent call's usage.
func (c *Client) ConsumeUsage() *entity.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.lastUsage
	c.lastUsage = nil
	return u
}

// ConsumeReasoning returns and clears the most recent reasoning text.
func (c *Client) ConsumeReasoning() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.lastReasoning
	c.lastReasoning = ""
	return r
}

// ConsumeReasoningDetails returns and clears the most recent structured
// reasoning records.
func (c *Client) ConsumeReasoningDetails() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.lastReasoningDetails
	c.lastReasoningDetails = nil
	return d
}

// ConsumeToolDetection returns and clears the tool call observed in the
// most recent (possibly streamed) call.
func (c *Client) ConsumeToolDetection() *entity.ToolDetection {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.lastToolDetection
	c.lastToolDetection = nil
	return t
}

func resultFromMessage(msg *schema.Message) *entity.GenerateResult {
	res := &entity.GenerateResult{Type: entity.ResultText, Content: msg.Content}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		res.ToolName = tc.Function.Name
		res.ToolArgs = tc.Function.Arguments
		if msg.Content != "" {
			res.Type = entity.ResultBoth
		} else {
			res.Type = entity.ResultToolCall
		}
	}
	return res
}

// Stream adapts an Eino message stream to the chunk protocol the graph
// runtime consumes.
type Stream struct {
	client *Client
	reader *schema.StreamReader[*schema.Message]
	cache  entity.CacheOptions

	mu        sync.Mutex
	collected []*schema.Message
	finalized bool
}

// Recv returns the next chunk. io.EOF signals a clean end of stream; the
// final bookkeeping is recorded before EOF is returned.
func (s *Stream) Recv() (entity.StreamChunk, error) {
	msg, err := s.reader.Recv()
	if err == io.EOF {
		s.finalize()
		return entity.StreamChunk{}, io.EOF
	}
	if err != nil {
		s.finalize()
		return entity.StreamChunk{}, errno.NewLLMError(err)
	}
	s.mu.Lock()
	s.collected = append(s.collected, msg)
	s.mu.Unlock()
	if msg.ReasoningContent != "" {
		return entity.StreamChunk{Thinking: true, Content: msg.ReasoningContent}, nil
	}
	return entity.StreamChunk{Content: msg.Content}, nil
}

// Close disconnects the transport and records whatever the provider
// reported before the cut.
func (s *Stream) Close() {
	s.reader.Close()
	s.finalize()
}

func (s *Stream) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	if len(s.collected) == 0 {
		s.client.record(&schema.Message{Role: schema.Assistant}, s.cache)
		return
	}
	full, err := schema.ConcatMessages(s.collected)
	if err != nil {
		logger.WarnX(llmModule, "failed to concat stream chunks: %v", err)
		full = s.collected[len(s.collected)-1]
	}
	s.client.record(full, s.cache)
}
