package boltdb

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// BuildingStore implements the BuildingRepository interface using BoltDB.
// Occupancy rows live in a separate bucket keyed by persona id so that
// a persona has at most one open stay at a time.
type BuildingStore struct {
	boltDB *bolt.DB
}

// NewBuildingStore creates a new BuildingStore instance.
func NewBuildingStore(boltDB *DB) *BuildingStore {
	return &BuildingStore{boltDB: boltDB.Bolt()}
}

func (s *BuildingStore) Create(_ context.Context, b *entity.Building) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuildingStore)
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal building: %w", err)
		}
		return bkt.Put([]byte(b.ID), data)
	})
}

func (s *BuildingStore) Get(_ context.Context, id string) (*entity.Building, error) {
	var b entity.Building
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuildingStore)
		data := bkt.Get([]byte(id))
		if data == nil {
			return errno.ErrBuildingNotFound
		}
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BuildingStore) Update(_ context.Context, b *entity.Building) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuildingStore)
		if bkt.Get([]byte(b.ID)) == nil {
			return errno.ErrBuildingNotFound
		}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal building: %w", err)
		}
		return bkt.Put([]byte(b.ID), data)
	})
}

func (s *BuildingStore) Delete(_ context.Context, id string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuildingStore)
		return bkt.Delete([]byte(id))
	})
}

func (s *BuildingStore) List(_ context.Context) ([]*entity.Building, error) {
	var buildings []*entity.Building
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuildingStore)
		return bkt.ForEach(func(k, v []byte) error {
			var b entity.Building
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("failed to unmarshal building: %w", err)
			}
			buildings = append(buildings, &b)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list buildings: %w", err)
	}
	return buildings, nil
}

func (s *BuildingStore) Occupants(_ context.Context, buildingID string) ([]string, error) {
	var ids []string
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOccupancyStore)
		return bkt.ForEach(func(k, v []byte) error {
			var rec entity.OccupancyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal occupancy record: %w", err)
			}
			if rec.BuildingID == buildingID && rec.ExitAt.IsZero() {
				ids = append(ids, rec.PersonaID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *BuildingStore) Enter(_ context.Context, personaID, buildingID string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOccupancyStore)
		rec := &entity.OccupancyRecord{
			PersonaID:  personaID,
			BuildingID: buildingID,
			EnteredAt:  time.Now(),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal occupancy record: %w", err)
		}
		return bkt.Put([]byte(personaID), data)
	})
}

func (s *BuildingStore) Exit(_ context.Context, personaID string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOccupancyStore)
		return bkt.Delete([]byte(personaID))
	})
}
