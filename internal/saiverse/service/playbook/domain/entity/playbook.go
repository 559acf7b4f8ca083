package entity

import (
	"regexp"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// Scope controls who can see and invoke a playbook.
type Scope string

const (
	ScopePublic   Scope = "public"
	ScopePersonal Scope = "personal"
	ScopeBuilding Scope = "building"
)

// EndNode is the sentinel edge target terminating a branch.
const EndNode = "END"

// NameRe is the allowed shape of a playbook name.
var NameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// InputParam declares one named playbook input. Source selects where the
// value comes from at invocation time: "input" (or empty) binds the raw
// user input, "parent.<path>" resolves a dot path in the caller's state,
// anything else is looked up as a caller state key verbatim.
type InputParam struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

// Playbook is a named orchestration graph owned by the city, a persona,
// or a building.
type Playbook struct {
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	Scope               Scope                `json:"scope,omitempty"`
	OwnerPersonaID      string               `json:"owner_persona_id,omitempty"`
	BuildingID          string               `json:"building_id,omitempty"`
	RouterCallable      bool                 `json:"router_callable,omitempty"`
	UserSelectable      bool                 `json:"user_selectable,omitempty"`
	DevOnly             bool                 `json:"dev_only,omitempty"`
	InputSchema         []InputParam         `json:"input_schema,omitempty"`
	OutputSchema        []string             `json:"output_schema,omitempty"`
	ContextRequirements *ContextRequirements `json:"context_requirements,omitempty"`
	StartNode           string               `json:"start_node"`
	Nodes               []*Node              `json:"nodes"`
}

// Node returns the node with the given id, or nil.
func (p *Playbook) Node(id string) *Node {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Clone deep-copies the playbook via its JSON form.
func (p *Playbook) Clone() (*Playbook, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out Playbook
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
