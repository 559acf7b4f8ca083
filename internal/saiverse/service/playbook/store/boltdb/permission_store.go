package boltdb

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// PermissionStore implements the PermissionRepository interface using
// BoltDB. Records are keyed by "{city_id}/{playbook_name}".
type PermissionStore struct {
	boltDB *bolt.DB
}

// NewPermissionStore creates a new PermissionStore instance.
func NewPermissionStore(boltDB *DB) *PermissionStore {
	return &PermissionStore{boltDB: boltDB.Bolt()}
}

func permissionKey(cityID, playbookName string) []byte {
	return []byte(cityID + "/" + playbookName)
}

func (s *PermissionStore) Set(_ context.Context, perm *entity.Permission) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPermissionStore)
		data, err := json.Marshal(perm)
		if err != nil {
			return fmt.Errorf("failed to marshal permission: %w", err)
		}
		return b.Put(permissionKey(perm.CityID, perm.PlaybookName), data)
	})
}

// Get returns the recorded level, or the empty string when no record
// exists for this city and playbook.
func (s *PermissionStore) Get(_ context.Context, cityID, playbookName string) (entity.PermissionLevel, error) {
	var level entity.PermissionLevel
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPermissionStore)
		data := b.Get(permissionKey(cityID, playbookName))
		if data == nil {
			return nil
		}
		var perm entity.Permission
		if err := json.Unmarshal(data, &perm); err != nil {
			return fmt.Errorf("failed to unmarshal permission: %w", err)
		}
		level = perm.Level
		return nil
	})
	return level, err
}

func (s *PermissionStore) List(_ context.Context, cityID string) ([]*entity.Permission, error) {
	var perms []*entity.Permission
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPermissionStore)
		return b.ForEach(func(k, v []byte) error {
			var perm entity.Permission
			if err := json.Unmarshal(v, &perm); err != nil {
				return fmt.Errorf("failed to unmarshal permission: %w", err)
			}
			if perm.CityID == cityID {
				perms = append(perms, &perm)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}
