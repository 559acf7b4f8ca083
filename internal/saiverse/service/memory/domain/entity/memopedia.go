package entity

import "time"

// Vividness grades how strongly a memopedia page surfaces in context.
type Vividness string

const (
	VividnessBuried Vividness = "buried"
	VividnessFaint  Vividness = "faint"
	VividnessRough  Vividness = "rough"
	VividnessVivid  Vividness = "vivid"
)

var vividnessOrder = map[Vividness]int{
	VividnessBuried: 0,
	VividnessFaint:  1,
	VividnessRough:  2,
	VividnessVivid:  3,
}

// Promote returns the next vividness step up. Vivid stays vivid.
func (v Vividness) Promote() Vividness {
	switch v {
	case VividnessBuried:
		return VividnessFaint
	case VividnessFaint:
		return VividnessRough
	case VividnessRough, VividnessVivid:
		return VividnessVivid
	}
	return VividnessFaint
}

// Rank orders vividness values; higher means more vivid.
func (v Vividness) Rank() int {
	return vividnessOrder[v]
}

// Categories a memopedia page may belong to.
const (
	CategoryPeople = "people"
	CategoryTerms  = "terms"
	CategoryPlans  = "plans"
)

// MemopediaPage is one knowledge page tied to a persona. Open/closed
// state is per-thread and volatile; it is not part of the record.
type MemopediaPage struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"persona_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Summary      string    `json:"summary"`
	Content      string    `json:"content"`
	Keywords     []string  `json:"keywords,omitempty"`
	Vividness    Vividness `json:"vividness"`
	ParentPageID string    `json:"parent_page_id,omitempty"`
	EditSource   string    `json:"edit_source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
