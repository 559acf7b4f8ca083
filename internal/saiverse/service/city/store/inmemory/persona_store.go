package inmemory

import (
	"context"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

// PersonaStore is an in-memory implementation of the PersonaRepository
// interface. Entities are deep-copied on the way in and out, matching
// the isolation the boltdb backend gets from serialization.
type PersonaStore struct {
	mu       sync.RWMutex
	personas map[string]*entity.Persona
}

// NewPersonaStore creates a new instance of the PersonaStore.
func NewPersonaStore() *PersonaStore {
	return &PersonaStore{
		personas: make(map[string]*entity.Persona),
	}
}

func clonePersona(p *entity.Persona) *entity.Persona {
	cp := &entity.Persona{}
	if err := copier.CopyWithOption(cp, p, copier.Option{DeepCopy: true}); err != nil {
		// Persona is a plain data struct; copier cannot fail on it.
		return p
	}
	return cp
}

func (s *PersonaStore) Create(_ context.Context, p *entity.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = clonePersona(p)
	return nil
}

func (s *PersonaStore) Get(_ context.Context, id string) (*entity.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return nil, errno.ErrPersonaNotFound
	}
	return clonePersona(p), nil
}

func (s *PersonaStore) Update(_ context.Context, p *entity.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.personas[p.ID]; !ok {
		return errno.ErrPersonaNotFound
	}
	s.personas[p.ID] = clonePersona(p)
	return nil
}

func (s *PersonaStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.personas[id]; !ok {
		return errno.ErrPersonaNotFound
	}
	delete(s.personas, id)
	return nil
}

func (s *PersonaStore) List(_ context.Context) ([]*entity.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	personas := make([]*entity.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		personas = append(personas, clonePersona(p))
	}
	return personas, nil
}
