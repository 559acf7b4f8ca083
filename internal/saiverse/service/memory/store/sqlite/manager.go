package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
)

// Manager opens one memory database per persona under baseDir, lazily,
// and keeps the handles for the life of the process.
type Manager struct {
	baseDir string

	mu     sync.Mutex
	stores map[string]*Store
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		stores:  make(map[string]*Store),
	}
}

// PersonaDir returns the on-disk directory holding a persona's data.
func (m *Manager) PersonaDir(personaID string) string {
	return filepath.Join(m.baseDir, personaID)
}

func (m *Manager) ForPersona(_ context.Context, personaID string) (repo.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[personaID]; ok {
		return s, nil
	}
	dir := m.PersonaDir(personaID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persona directory: %w", err)
	}
	s, err := Open(personaID, filepath.Join(dir, "memory.db"))
	if err != nil {
		return nil, err
	}
	m.stores[personaID] = s
	return s, nil
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, s := range m.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.stores, id)
	}
	return firstErr
}
