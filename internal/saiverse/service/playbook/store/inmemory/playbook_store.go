package inmemory

import (
	"context"
	"sync"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
)

// PlaybookStore is an in-memory implementation of the PlaybookRepository interface.
type PlaybookStore struct {
	mu        sync.RWMutex
	playbooks map[string]*entity.Playbook
}

// NewPlaybookStore creates a new instance of the PlaybookStore.
func NewPlaybookStore() *PlaybookStore {
	return &PlaybookStore{
		playbooks: make(map[string]*entity.Playbook),
	}
}

func (s *PlaybookStore) Save(_ context.Context, p *entity.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbooks[p.Name] = p
	return nil
}

func (s *PlaybookStore) Get(_ context.Context, name string) (*entity.Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playbooks[name]
	if !ok {
		return nil, errno.ErrPlaybookNotFound
	}
	return p, nil
}

func (s *PlaybookStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playbooks[name]; !ok {
		return errno.ErrPlaybookNotFound
	}
	delete(s.playbooks, name)
	return nil
}

func (s *PlaybookStore) List(_ context.Context) ([]*entity.Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	playbooks := make([]*entity.Playbook, 0, len(s.playbooks))
	for _, p := range s.playbooks {
		playbooks = append(playbooks, p)
	}
	return playbooks, nil
}
