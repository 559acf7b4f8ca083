package inmemory

import (
	"context"
	"sync"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

// PermissionStore is an in-memory implementation of the PermissionRepository interface.
type PermissionStore struct {
	mu    sync.RWMutex
	perms map[string]*entity.Permission
}

// NewPermissionStore creates a new instance of the PermissionStore.
func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		perms: make(map[string]*entity.Permission),
	}
}

func key(cityID, playbookName string) string {
	return cityID + "/" + playbookName
}

func (s *PermissionStore) Set(_ context.Context, perm *entity.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[key(perm.CityID, perm.PlaybookName)] = perm
	return nil
}

func (s *PermissionStore) Get(_ context.Context, cityID, playbookName string) (entity.PermissionLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.perms[key(cityID, playbookName)]
	if !ok {
		return "", nil
	}
	return perm.Level, nil
}

func (s *PermissionStore) List(_ context.Context, cityID string) ([]*entity.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []*entity.Permission
	for _, perm := range s.perms {
		if perm.CityID == cityID {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}
