package entity

import (
	"time"
)

// Roles a memory message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Well-known metadata keys. Everything else in Metadata is free-form.
const (
	MetaTags             = "tags"
	MetaPulseID          = "pulse_id"
	MetaHeardBy          = "heard_by"
	MetaIngestedBy       = "ingested_by"
	MetaWith             = "with"
	MetaMedia            = "media"
	MetaToolCalls        = "tool_calls"
	MetaToolCallID       = "tool_call_id"
	MetaReasoning        = "reasoning"
	MetaReasoningDetails = "reasoning_details"
	MetaLLMUsage         = "llm_usage"
	MetaLLMUsageTotal    = "llm_usage_total"
	MetaActivityTrace    = "activity_trace"
	MetaInterruptedBy    = "interrupted_by"
	MetaWillResume       = "will_resume"
	MetaWaitStarted      = "wait_started"
	MetaWaitLatest       = "wait_latest"
	MetaWaitCount        = "wait_count"
	MetaMemoryWeave      = "__memory_weave_context__"
	MetaMemoryWeaveType  = "__memory_weave_type__"
	MetaVisualContext    = "__visual_context__"
	MetaRealtimeContext  = "__realtime_context__"
)

// Metadata is the free-form envelope attached to a message.
type Metadata map[string]any

// Tags returns the tag list, or nil.
func (m Metadata) Tags() []string {
	return m.stringList(MetaTags)
}

// HasTag reports whether the tag list contains t.
func (m Metadata) HasTag(t string) bool {
	for _, tag := range m.Tags() {
		if tag == t {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (m Metadata) AddTag(t string) {
	if m.HasTag(t) {
		return
	}
	m[MetaTags] = append(m.Tags(), t)
}

// IngestedBy returns the set of persona ids that already ingested this
// message. The set is append-only.
func (m Metadata) IngestedBy() []string {
	return m.stringList(MetaIngestedBy)
}

// MarkIngestedBy adds a persona id to the ingested_by set. Returns false
// when the id was already present.
func (m Metadata) MarkIngestedBy(personaID string) bool {
	for _, id := range m.IngestedBy() {
		if id == personaID {
			return false
		}
	}
	m[MetaIngestedBy] = append(m.IngestedBy(), personaID)
	return true
}

// HeardBy returns the set of persona ids present when the message was
// spoken.
func (m Metadata) HeardBy() []string {
	return m.stringList(MetaHeardBy)
}

func (m Metadata) stringList(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone shallow-copies the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Message is one utterance in a persona's memory.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	PersonaID string    `json:"persona_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// PulseTag formats the pulse tag for a pulse id.
func PulseTag(pulseID string) string {
	return "pulse:" + pulseID
}
