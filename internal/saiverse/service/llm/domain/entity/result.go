package entity

// ResultType classifies a non-streaming generation result.
type ResultType string

const (
	ResultText     ResultType = "text"
	ResultToolCall ResultType = "tool_call"
	ResultBoth     ResultType = "both"
)

// GenerateResult is what a single LLM call produced. ToolArgs is the
// raw JSON argument string as returned by the provider.
type GenerateResult struct {
	Type             ResultType
	Content          string
	ToolName         string
	ToolArgs         string
	ThoughtSignature string
}

// StreamChunk is one unit from a streaming generation. Thinking chunks
// carry model reasoning and are surfaced separately from text.
type StreamChunk struct {
	Thinking bool
	Content  string
}

// Usage is one call's token accounting.
type Usage struct {
	ModelID          string
	InputTokens      int
	OutputTokens     int
	CachedTokens     int
	CacheWriteTokens int
	CacheTTL         string
}

// TotalTokens is the sum of input and output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ToolDetection reports a tool call observed inside a closed stream.
type ToolDetection struct {
	ToolName         string
	ToolArgs         string
	ThoughtSignature string
}

// Params are the per-call generation knobs a node may set.
type Params struct {
	Temperature    *float32
	TopP           *float32
	MaxTokens      int
	JSONMode       bool
	EnableThinking *bool
}

// CacheOptions control prompt caching for one call.
type CacheOptions struct {
	Enabled bool
	TTL     string
}
