package runtime

import (
	"strings"
	"sync"

	llmentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

// User-visible state keys.
const (
	KeyInput       = "input"
	KeyLast        = "last"
	KeyPersonaID   = "persona_id"
	KeyPersonaName = "persona_name"
	KeyPulseID     = "pulse_id"
	KeyPulseType   = "pulse_type"
)

// System state keys (underscore prefix). Nodes read and write these;
// playbook authors normally do not.
const (
	KeyMessages             = "_messages"
	KeyIntermediateMsgs     = "_intermediate_msgs"
	KeyInternalPulseID      = "_pulse_id"
	KeyUsageAccumulator     = "_pulse_usage_accumulator"
	KeyActivityTrace        = "_activity_trace"
	KeyCancellationToken    = "_cancellation_token"
	KeyReasoningText        = "_reasoning_text"
	KeyReasoningDetails     = "_reasoning_details"
	KeyLastToolCallID       = "_last_tool_call_id"
	KeyLastToolName         = "_last_tool_name"
	KeyLastToolArgsJSON     = "_last_tool_args_json"
	KeyLastThoughtSignature = "_last_thought_signature"
	KeyExecError            = "_exec_error"
	KeyExecErrorDetail      = "_exec_error_detail"
	KeySubagentChronicle    = "_subagent_chronicle"
	KeyPlaybookChain        = "_playbook_chain"
)

// State is the per-invocation mutable map threaded through a playbook
// graph. Access is single-goroutine: one persona lane runs one graph.
type State map[string]any

// Get resolves a dot-notation path against the state. Intermediate
// segments must be maps; anything else stops the walk.
func (s State) Get(path string) (any, bool) {
	if v, ok := s[path]; ok {
		return v, true
	}
	segs := strings.Split(path, ".")
	var cur any = map[string]any(s)
	for _, seg := range segs {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a path and stringifies the result; missing paths
// yield "".
func (s State) GetString(path string) string {
	v, ok := s.Get(path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Bool reads a boolean key; anything non-bool reads as false.
func (s State) Bool(key string) bool {
	b, _ := s[key].(bool)
	return b
}

// AppendActivity records one activity trace entry.
func (s State) AppendActivity(action, name, playbook string) {
	entry := map[string]any{"action": action, "name": name, "playbook": playbook}
	if trace, ok := s[KeyActivityTrace].([]map[string]any); ok {
		s[KeyActivityTrace] = append(trace, entry)
	} else {
		s[KeyActivityTrace] = []map[string]any{entry}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case State:
		return m, true
	}
	return nil, false
}

// Token returns the cancellation token stored in the state, or nil.
func (s State) Token() *CancellationToken {
	t, _ := s[KeyCancellationToken].(*CancellationToken)
	return t
}

// CheckCancelled is the per-node cancellation checkpoint.
func (s State) CheckCancelled() error {
	if t := s.Token(); t != nil {
		return t.Check()
	}
	return nil
}

// CancellationToken is a one-way flag with an "interrupted by" label.
// Once set it stays set.
type CancellationToken struct {
	mu            sync.Mutex
	cancelled     bool
	interruptedBy string
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel marks the token. The first caller's label wins.
func (t *CancellationToken) Cancel(interruptedBy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.interruptedBy = interruptedBy
}

// Cancelled reports whether the token was set.
func (t *CancellationToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// InterruptedBy returns the label recorded at cancellation time.
func (t *CancellationToken) InterruptedBy() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interruptedBy
}

// Check returns a CancelledError when the token is set.
func (t *CancellationToken) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return &errno.CancelledError{InterruptedBy: t.interruptedBy}
	}
	return nil
}

// UsageAccumulator aggregates LLM usage across every call of one pulse,
// including nested sub-playbooks. Shared by reference through state.
type UsageAccumulator struct {
	mu                    sync.Mutex
	totalInputTokens      int
	totalOutputTokens     int
	totalCachedTokens     int
	totalCacheWriteTokens int
	totalCostUSD          float64
	callCount             int
	modelsUsed            []string
}

func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{}
}

// Add folds one usage record into the totals.
func (a *UsageAccumulator) Add(u *llmentity.Usage, costUSD float64) {
	if u == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalInputTokens += u.InputTokens
	a.totalOutputTokens += u.OutputTokens
	a.totalCachedTokens += u.CachedTokens
	a.totalCacheWriteTokens += u.CacheWriteTokens
	a.totalCostUSD += costUSD
	a.callCount++
	for _, m := range a.modelsUsed {
		if m == u.ModelID {
			return
		}
	}
	a.modelsUsed = append(a.modelsUsed, u.ModelID)
}

// Snapshot renders the totals as message metadata.
func (a *UsageAccumulator) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	models := make([]string, len(a.modelsUsed))
	copy(models, a.modelsUsed)
	return map[string]any{
		"total_input_tokens":       a.totalInputTokens,
		"total_output_tokens":      a.totalOutputTokens,
		"total_cached_tokens":      a.totalCachedTokens,
		"total_cache_write_tokens": a.totalCacheWriteTokens,
		"total_cost_usd":           a.totalCostUSD,
		"call_count":               a.callCount,
		"models_used":              models,
	}
}

// CallCount returns how many LLM calls the pulse made so far.
func (a *UsageAccumulator) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callCount
}
