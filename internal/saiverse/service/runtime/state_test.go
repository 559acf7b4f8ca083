package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

func TestStateGetDotPath(t *testing.T) {
	s := State{
		"flat":   "value",
		"parent": map[string]any{"child": map[string]any{"leaf": 7}},
		"a.b":    "literal key wins",
	}

	v, ok := s.Get("flat")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok = s.Get("parent.child.leaf")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// An exact key match takes precedence over path traversal.
	v, ok = s.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, "literal key wins", v)

	_, ok = s.Get("parent.missing")
	assert.False(t, ok)

	// Walking through a non-map stops the resolution.
	_, ok = s.Get("flat.child")
	assert.False(t, ok)
}

func TestStateGetString(t *testing.T) {
	s := State{"n": 12, "m": map[string]any{"k": "v"}}
	assert.Equal(t, "12", s.GetString("n"))
	assert.Equal(t, `{"k":"v"}`, s.GetString("m"))
	assert.Equal(t, "", s.GetString("absent"))
}

func TestStateAppendActivity(t *testing.T) {
	s := State{}
	s.AppendActivity("tool", "get_weather", "basic_chat")
	s.AppendActivity("subplay", "deep_think", "basic_chat")

	trace, ok := s[KeyActivityTrace].([]map[string]any)
	require.True(t, ok)
	require.Len(t, trace, 2)
	assert.Equal(t, "get_weather", trace[0]["name"])
	assert.Equal(t, "subplay", trace[1]["action"])
}

func TestCancellationTokenFirstLabelWins(t *testing.T) {
	tok := NewCancellationToken()
	assert.False(t, tok.Cancelled())
	assert.NoError(t, tok.Check())

	tok.Cancel("user")
	tok.Cancel("schedule")

	assert.True(t, tok.Cancelled())
	assert.Equal(t, "user", tok.InterruptedBy())

	err := tok.Check()
	require.Error(t, err)
	assert.True(t, errno.IsCancelled(err))
}

func TestStateCheckCancelled(t *testing.T) {
	s := State{}
	assert.NoError(t, s.CheckCancelled())

	tok := NewCancellationToken()
	s[KeyCancellationToken] = tok
	assert.NoError(t, s.CheckCancelled())

	tok.Cancel("auto")
	assert.True(t, errno.IsCancelled(s.CheckCancelled()))
}

func TestUsageAccumulator(t *testing.T) {
	acc := NewUsageAccumulator()
	acc.Add(&llmentity.Usage{ModelID: "gpt-4o", InputTokens: 100, OutputTokens: 20}, 0.002)
	acc.Add(&llmentity.Usage{ModelID: "gpt-4o", InputTokens: 50, OutputTokens: 10, CachedTokens: 30}, 0.001)
	acc.Add(nil, 99) // ignored

	assert.Equal(t, 2, acc.CallCount())
	snap := acc.Snapshot()
	assert.Equal(t, 150, snap["total_input_tokens"])
	assert.Equal(t, 30, snap["total_output_tokens"])
	assert.Equal(t, 30, snap["total_cached_tokens"])
	assert.InDelta(t, 0.003, snap["total_cost_usd"].(float64), 1e-9)
	assert.Equal(t, []string{"gpt-4o"}, snap["models_used"])
}
