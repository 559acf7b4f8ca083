package entity

import (
	"time"
)

// InteractionMode controls how a persona reacts to its environment.
type InteractionMode string

const (
	// InteractionAuto lets the persona act on autonomous ticks.
	InteractionAuto InteractionMode = "auto"
	// InteractionManual restricts the persona to user stimuli.
	InteractionManual InteractionMode = "manual"
	// InteractionSleep suspends all autonomous behavior.
	InteractionSleep InteractionMode = "sleep"
)

// ExecutionStatus is the coarse running state of a persona.
type ExecutionStatus string

const (
	ExecutionIdle    ExecutionStatus = "idle"
	ExecutionRunning ExecutionStatus = "running"
)

// ExecutionState records which playbook node a persona is currently in.
// It is written by the graph executor at run start and restored to idle
// on completion or failure.
type ExecutionState struct {
	Playbook string          `json:"playbook,omitempty"`
	Node     string          `json:"node,omitempty"`
	Status   ExecutionStatus `json:"status"`
}

// Persona is the identity of one AI agent living in the city.
type Persona struct {
	// ID is the unique persona identifier.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// SystemInstruction is the persona's own character prompt, rendered
	// into the "あなたについて" section of the system prompt.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// HomeBuildingID is where the persona returns to by default.
	HomeBuildingID string `json:"home_building_id"`

	// CurrentBuildingID is where the persona is right now. Mutated by
	// move operations.
	CurrentBuildingID string `json:"current_building_id"`

	// Timezone is the persona's IANA timezone name (e.g. "Asia/Tokyo").
	Timezone string `json:"timezone,omitempty"`

	// ModelID selects the persona's preferred model config.
	ModelID string `json:"model_id"`

	// LightweightModelID optionally selects a cheaper model for
	// LLM nodes declaring model_type "lightweight". Empty means fall
	// back to ModelID.
	LightweightModelID string `json:"lightweight_model_id,omitempty"`

	// Mode is the interaction mode (auto/manual/sleep).
	Mode InteractionMode `json:"mode"`

	// Inventory lists item ids the persona carries.
	Inventory []string `json:"inventory,omitempty"`

	// Execution is the current execution state. Owned by the runtime.
	Execution ExecutionState `json:"execution"`

	// Anchors maps model id → message id of the oldest conversation
	// message retained after metabolism. Persisted so context builds
	// survive restarts.
	Anchors map[string]string `json:"anchors,omitempty"`

	// MaxHistoryMessages, when > 0, bounds "full" history loads by
	// message count. When 0, MaxHistoryChars applies instead.
	MaxHistoryMessages int `json:"max_history_messages,omitempty"`

	// MaxHistoryChars bounds "full" history loads by character budget
	// when MaxHistoryMessages is unset.
	MaxHistoryChars int `json:"max_history_chars,omitempty"`

	// ChronicleEnabled turns on metabolism and the memory weave for
	// this persona.
	ChronicleEnabled bool `json:"chronicle_enabled,omitempty"`

	// StelisMaxDepth bounds nested Stelis sub-threads. 0 means use the
	// engine default.
	StelisMaxDepth int `json:"stelis_max_depth,omitempty"`

	// LinkedUserName is the display name of the human the persona is
	// bound to, substituted into the common prompt.
	LinkedUserName string `json:"linked_user_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnchorFor returns the persisted metabolism anchor for a model id.
func (p *Persona) AnchorFor(modelID string) (string, bool) {
	if p.Anchors == nil {
		return "", false
	}
	id, ok := p.Anchors[modelID]
	return id, ok && id != ""
}

// SetAnchor records the metabolism anchor for a model id.
func (p *Persona) SetAnchor(modelID, messageID string) {
	if p.Anchors == nil {
		p.Anchors = make(map[string]string)
	}
	p.Anchors[modelID] = messageID
	p.UpdatedAt = time.Now()
}

// EffectiveModelID resolves the model for the requested model type.
// Any unrecognized type resolves to the normal model.
func (p *Persona) EffectiveModelID(modelType string) string {
	if modelType == "lightweight" && p.LightweightModelID != "" {
		return p.LightweightModelID
	}
	return p.ModelID
}
