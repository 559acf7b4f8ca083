package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/copier"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

// BuildingStore is an in-memory implementation of the BuildingRepository
// interface, including the occupancy log. Buildings are deep-copied on
// the way in and out, like personas.
type BuildingStore struct {
	mu        sync.RWMutex
	buildings map[string]*entity.Building
	occupancy []*entity.OccupancyRecord
}

// NewBuildingStore creates a new instance of the BuildingStore.
func NewBuildingStore() *BuildingStore {
	return &BuildingStore{
		buildings: make(map[string]*entity.Building),
	}
}

func cloneBuilding(b *entity.Building) *entity.Building {
	cb := &entity.Building{}
	if err := copier.CopyWithOption(cb, b, copier.Option{DeepCopy: true}); err != nil {
		return b
	}
	return cb
}

func (s *BuildingStore) Create(_ context.Context, b *entity.Building) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildings[b.ID] = cloneBuilding(b)
	return nil
}

func (s *BuildingStore) Get(_ context.Context, id string) (*entity.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buildings[id]
	if !ok {
		return nil, errno.ErrBuildingNotFound
	}
	return cloneBuilding(b), nil
}

func (s *BuildingStore) Update(_ context.Context, b *entity.Building) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buildings[b.ID]; !ok {
		return errno.ErrBuildingNotFound
	}
	s.buildings[b.ID] = cloneBuilding(b)
	return nil
}

func (s *BuildingStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buildings[id]; !ok {
		return errno.ErrBuildingNotFound
	}
	delete(s.buildings, id)
	return nil
}

func (s *BuildingStore) List(_ context.Context) ([]*entity.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buildings := make([]*entity.Building, 0, len(s.buildings))
	for _, b := range s.buildings {
		buildings = append(buildings, cloneBuilding(b))
	}
	return buildings, nil
}

func (s *BuildingStore) Occupants(_ context.Context, buildingID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, rec := range s.occupancy {
		if rec.BuildingID == buildingID && rec.ExitAt.IsZero() {
			ids = append(ids, rec.PersonaID)
		}
	}
	return ids, nil
}

func (s *BuildingStore) Enter(_ context.Context, personaID, buildingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rec := range s.occupancy {
		if rec.PersonaID == personaID && rec.ExitAt.IsZero() {
			rec.ExitAt = now
		}
	}
	s.occupancy = append(s.occupancy, &entity.OccupancyRecord{
		PersonaID:  personaID,
		BuildingID: buildingID,
		EnteredAt:  now,
	})
	return nil
}

func (s *BuildingStore) Exit(_ context.Context, personaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rec := range s.occupancy {
		if rec.PersonaID == personaID && rec.ExitAt.IsZero() {
			rec.ExitAt = now
		}
	}
	return nil
}
