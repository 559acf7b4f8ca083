package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sonnetConfig() *ModelConfig {
	return &ModelConfig{
		ID: "claude-sonnet",
		Pricing: Pricing{
			Input: 3, Output: 15, Cached: 0.3,
			CacheWrite: map[string]float64{"5m": 3.75, "1h": 6},
		},
		Cache: CacheConfig{DefaultTTL: "5m"},
	}
}

func TestCostUSDPlainCall(t *testing.T) {
	cfg := sonnetConfig()
	cost := cfg.CostUSD(Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.InDelta(t, 18.0, cost, 1e-9)
}

func TestCostUSDCachedInput(t *testing.T) {
	cfg := sonnetConfig()
	// 1M input of which 600k was served from cache: 400k at the input
	// rate, 600k at the cached rate.
	cost := cfg.CostUSD(Usage{InputTokens: 1_000_000, CachedTokens: 600_000})
	assert.InDelta(t, 0.4*3+0.6*0.3, cost, 1e-9)
}

func TestCostUSDCacheWriteUsesTTLRate(t *testing.T) {
	cfg := sonnetConfig()
	u := Usage{InputTokens: 1_000_000, CacheWriteTokens: 1_000_000, CacheTTL: "1h"}
	assert.InDelta(t, 6.0, cfg.CostUSD(u), 1e-9)

	// No explicit TTL falls back to the model default ("5m").
	u.CacheTTL = ""
	assert.InDelta(t, 3.75, cfg.CostUSD(u), 1e-9)
}

func TestCostUSDUnknownWriteRateIsFree(t *testing.T) {
	cfg := sonnetConfig()
	u := Usage{CacheWriteTokens: 1_000_000, CacheTTL: "30d"}
	assert.InDelta(t, 0, cfg.CostUSD(u), 1e-9)
}

func TestCostUSDNeverNegative(t *testing.T) {
	cfg := sonnetConfig()
	// Some providers report cached tokens that exceed the input count.
	cost := cfg.CostUSD(Usage{InputTokens: 100, CachedTokens: 200})
	assert.InDelta(t, float64(200)*0.3/1_000_000, cost, 1e-9)
}

func TestUsageTotalTokens(t *testing.T) {
	assert.Equal(t, 30, Usage{InputTokens: 10, OutputTokens: 20}.TotalTokens())
}
