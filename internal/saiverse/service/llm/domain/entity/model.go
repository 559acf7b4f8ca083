package entity

// ModelType selects which of a persona's configured models serves a
// call. Unrecognized values fall back to normal.
type ModelType string

const (
	ModelTypeNormal      ModelType = "normal"
	ModelTypeLightweight ModelType = "lightweight"
)

// CacheType distinguishes providers that need explicit cache-control
// markers from those that cache transparently.
type CacheType string

const (
	CacheExplicit CacheType = "explicit"
	CacheImplicit CacheType = "implicit"
)

// CacheConfig describes a model's prompt-cache behavior.
type CacheConfig struct {
	Supported      bool      `json:"supported"`
	DefaultEnabled bool      `json:"default_enabled"`
	DefaultTTL     string    `json:"default_ttl,omitempty"`
	TTLOptions     []string  `json:"ttl_options,omitempty"`
	Type           CacheType `json:"type,omitempty"`
	MinTokens      int       `json:"min_tokens,omitempty"`
}

// Pricing is USD per one million tokens. CacheWrite is keyed by TTL
// ("5m", "1h"); a missing key means the write rate is unknown and costs
// zero.
type Pricing struct {
	Input      float64            `json:"input"`
	Output     float64            `json:"output"`
	Cached     float64            `json:"cached,omitempty"`
	CacheWrite map[string]float64 `json:"cache_write,omitempty"`
}

// ModelConfig is one model the system may call, keyed by a short id.
type ModelConfig struct {
	ID                       string      `json:"id"`
	Provider                 string      `json:"provider"`
	Model                    string      `json:"model"`
	BaseURL                  string      `json:"base_url,omitempty"`
	APIKey                   string      `json:"api_key,omitempty"`
	ContextLength            int         `json:"context_length"`
	MaxTokens                int         `json:"max_tokens,omitempty"`
	Pricing                  Pricing     `json:"pricing"`
	Cache                    CacheConfig `json:"cache"`
	SupportsImages           bool        `json:"supports_images,omitempty"`
	SupportsStructuredOutput bool        `json:"supports_structured_output,omitempty"`
	SystemPrompt             string      `json:"system_prompt,omitempty"`
	DefaultMaxHistoryMsgs    int         `json:"default_max_history_messages,omitempty"`
	Local                    bool        `json:"local,omitempty"`
}

// CostUSD prices one usage record. Non-cached input = total input minus
// cached minus cache writes; every rate is per one million tokens, and
// unknown pricing contributes zero.
func (c *ModelConfig) CostUSD(u Usage) float64 {
	nonCached := u.InputTokens - u.CachedTokens - u.CacheWriteTokens
	if nonCached < 0 {
		nonCached = 0
	}
	ttl := u.CacheTTL
	if ttl == "" {
		ttl = c.Cache.DefaultTTL
	}
	writeRate := c.Pricing.CacheWrite[ttl]

	const million = 1_000_000
	cost := float64(nonCached) * c.Pricing.Input / million
	cost += float64(u.CachedTokens) * c.Pricing.Cached / million
	cost += float64(u.CacheWriteTokens) * writeRate / million
	cost += float64(u.OutputTokens) * c.Pricing.Output / million
	return cost
}
