package entity

import (
	"time"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
)

// Utterance is one entry in a building's shared history. Seq is assigned
// by the store and strictly increases per building.
type Utterance struct {
	Seq        int64              `json:"seq"`
	BuildingID string             `json:"building_id"`
	PersonaID  string             `json:"persona_id"`
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	CreatedAt  time.Time          `json:"created_at"`
	Metadata   mementity.Metadata `json:"metadata,omitempty"`
}

// HeardBy reports whether the utterance was audible to the persona.
// Empty heard_by means everyone present heard it.
func (u *Utterance) HeardBy(personaID string) bool {
	heard := u.Metadata.HeardBy()
	if len(heard) == 0 {
		return true
	}
	for _, id := range heard {
		if id == personaID {
			return true
		}
	}
	return false
}
