package entity

import (
	"fmt"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// NodeType enumerates the step kinds a playbook graph may contain.
type NodeType string

const (
	NodeSet         NodeType = "set"
	NodeLLM         NodeType = "llm"
	NodeTool        NodeType = "tool"
	NodeToolCall    NodeType = "tool_call"
	NodeMemorize    NodeType = "memorize"
	NodeSubplay     NodeType = "subplay"
	NodeExec        NodeType = "exec"
	NodeSpeak       NodeType = "speak"
	NodeSay         NodeType = "say"
	NodeThink       NodeType = "think"
	NodePass        NodeType = "pass"
	NodeStelisStart NodeType = "stelis_start"
	NodeStelisEnd   NodeType = "stelis_end"
)

// ConditionalNext routes on a stringified state field. Dot notation is
// allowed in Field. When no case matches, Default is taken; when Default
// is empty the branch ends.
type ConditionalNext struct {
	Field   string            `json:"field"`
	Cases   map[string]string `json:"cases"`
	Default string            `json:"default,omitempty"`
}

// MemorizeOption attaches a memory write to an LLM node.
type MemorizeOption struct {
	Tags []string `json:"tags,omitempty"`
}

// OutputKeys is the `output_keys` field, whose JSON shape depends on the
// node type: LLM nodes carry a mapping ({"text": ..., "function_call": ...,
// "thought": ...}), TOOL nodes carry a positional list of state keys.
type OutputKeys struct {
	Mapping map[string]string
	List    []string
}

func (o *OutputKeys) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		o.Mapping = m
		return nil
	}
	var l []string
	if err := json.Unmarshal(data, &l); err == nil {
		o.List = l
		return nil
	}
	return fmt.Errorf("output_keys must be a string map or a string list")
}

func (o OutputKeys) MarshalJSON() ([]byte, error) {
	if o.Mapping != nil {
		return json.Marshal(o.Mapping)
	}
	return json.Marshal(o.List)
}

// Node is one step in a playbook graph. The zero value of every optional
// field means "absent"; which fields are meaningful depends on Type.
type Node struct {
	ID              string           `json:"id"`
	Type            NodeType         `json:"type"`
	Label           string           `json:"label,omitempty"`
	Next            string           `json:"next,omitempty"`
	ConditionalNext *ConditionalNext `json:"conditional_next,omitempty"`
	ErrorNext       string           `json:"error_next,omitempty"`

	// set
	Assignments map[string]any `json:"assignments,omitempty"`

	// llm / tool / memorize / say / think (prompt or tool name or template)
	Action string `json:"action,omitempty"`

	// llm
	ContextProfile string          `json:"context_profile,omitempty"`
	ResponseSchema map[string]any  `json:"response_schema,omitempty"`
	OutputKey      string          `json:"output_key,omitempty"`
	OutputKeys     *OutputKeys     `json:"output_keys,omitempty"`
	AvailableTools []string        `json:"available_tools,omitempty"`
	Memorize       *MemorizeOption `json:"memorize,omitempty"`
	Speak          bool            `json:"speak,omitempty"`
	ModelType      string          `json:"model_type,omitempty"`
	MetadataKey    string          `json:"metadata_key,omitempty"`

	// tool
	ArgsInput map[string]string `json:"args_input,omitempty"`

	// tool_call
	CallSource string `json:"call_source,omitempty"`

	// memorize / think
	Role string   `json:"role,omitempty"`
	Tags []string `json:"tags,omitempty"`

	// subplay
	Playbook          string `json:"playbook,omitempty"`
	InputTemplate     string `json:"input_template,omitempty"`
	PropagateOutput   bool   `json:"propagate_output,omitempty"`
	Execution         string `json:"execution,omitempty"`
	SubagentChronicle bool   `json:"subagent_chronicle,omitempty"`

	// exec
	PlaybookSource string `json:"playbook_source,omitempty"`
	ArgsSource     string `json:"args_source,omitempty"`
}

// EdgeTargets returns every node id this node may transfer control to.
// The END sentinel and the implicit end (empty next) are not included.
func (n *Node) EdgeTargets() []string {
	var targets []string
	add := func(t string) {
		if t != "" && t != EndNode {
			targets = append(targets, t)
		}
	}
	add(n.Next)
	if n.ConditionalNext != nil {
		for _, t := range n.ConditionalNext.Cases {
			add(t)
		}
		add(n.ConditionalNext.Default)
	}
	add(n.ErrorNext)
	return targets
}
