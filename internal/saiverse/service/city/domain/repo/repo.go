package repo

import (
	"context"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
)

// PersonaRepository persists personas.
type PersonaRepository interface {
	Create(ctx context.Context, p *entity.Persona) error
	Get(ctx context.Context, id string) (*entity.Persona, error)
	Update(ctx context.Context, p *entity.Persona) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*entity.Persona, error)
}

// BuildingRepository persists buildings and their occupancy log.
type BuildingRepository interface {
	Create(ctx context.Context, b *entity.Building) error
	Get(ctx context.Context, id string) (*entity.Building, error)
	Update(ctx context.Context, b *entity.Building) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*entity.Building, error)

	// Occupants returns ids of personas currently inside the building
	// (occupancy rows without an exit timestamp).
	Occupants(ctx context.Context, buildingID string) ([]string, error)

	// Enter records a persona entering a building, closing any open
	// occupancy row for that persona first.
	Enter(ctx context.Context, personaID, buildingID string) error

	// Exit closes the persona's open occupancy row, if any.
	Exit(ctx context.Context, personaID string) error
}
