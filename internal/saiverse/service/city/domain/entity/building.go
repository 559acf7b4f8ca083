package entity

import (
	"time"
)

// Building is a named room personas occupy and speak in.
type Building struct {
	// ID is the unique building identifier.
	ID string `json:"id"`

	// Name is the display name rendered into system prompts.
	Name string `json:"name"`

	// CityID groups buildings into a city; playbook permissions are
	// scoped per city.
	CityID string `json:"city_id"`

	// Capacity is the maximum number of co-present personas (0 = unbounded).
	Capacity int `json:"capacity,omitempty"`

	// SystemInstruction is the building's base prompt section.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// InteriorImage is an optional path/URL of the room image used for
	// visual context.
	InteriorImage string `json:"interior_image,omitempty"`

	// Items lists item ids present in the building.
	Items []string `json:"items,omitempty"`

	// LinkedTools names tools available to personas inside this building.
	LinkedTools []string `json:"linked_tools,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OccupancyRecord is one stay of a persona inside a building. A row
// with a zero ExitAt is a current occupant.
type OccupancyRecord struct {
	PersonaID  string    `json:"persona_id"`
	BuildingID string    `json:"building_id"`
	EnteredAt  time.Time `json:"entered_at"`
	ExitAt     time.Time `json:"exit_at,omitempty"`
}
