package entity

// ContextRequirements tells the context builder what to assemble for a
// playbook run or an individual LLM node.
type ContextRequirements struct {
	SystemPrompt       bool   `json:"system_prompt"`
	Inventory          bool   `json:"inventory"`
	BuildingItems      bool   `json:"building_items"`
	AvailablePlaybooks bool   `json:"available_playbooks"`
	WorkingMemory      bool   `json:"working_memory"`
	MemoryWeave        bool   `json:"memory_weave"`
	VisualContext      bool   `json:"visual_context"`
	HistoryDepth       string `json:"history_depth"`
	HistoryBalanced    bool   `json:"history_balanced"`
	IncludeInternal    bool   `json:"include_internal"`
	RealtimeContext    bool   `json:"realtime_context"`
}

// The named profiles an LLM node's context_profile may reference. These
// mirror the profiles the shipped playbook corpus uses.
var contextProfiles = map[string]*ContextRequirements{
	"full": {
		SystemPrompt:       true,
		Inventory:          true,
		BuildingItems:      true,
		AvailablePlaybooks: false,
		WorkingMemory:      true,
		MemoryWeave:        true,
		VisualContext:      true,
		HistoryDepth:       "full",
		HistoryBalanced:    true,
		IncludeInternal:    false,
		RealtimeContext:    true,
	},
	"minimal": {
		SystemPrompt: true,
		HistoryDepth: "10messages",
	},
	"router": {
		SystemPrompt:       true,
		AvailablePlaybooks: true,
		WorkingMemory:      true,
		HistoryDepth:       "6messages",
		RealtimeContext:    true,
	},
	"memory_only": {
		SystemPrompt:    true,
		WorkingMemory:   true,
		MemoryWeave:     true,
		HistoryDepth:    "full",
		IncludeInternal: true,
	},
	"subagent": {
		SystemPrompt:  true,
		WorkingMemory: true,
		HistoryDepth:  "none",
	},
	"none": {
		HistoryDepth: "none",
	},
}

// ProfileByName resolves a context_profile name. The bool reports whether
// the name is known.
func ProfileByName(name string) (*ContextRequirements, bool) {
	p, ok := contextProfiles[name]
	return p, ok
}

// ProfileNames lists the known profile names.
func ProfileNames() []string {
	names := make([]string, 0, len(contextProfiles))
	for name := range contextProfiles {
		names = append(names, name)
	}
	return names
}
