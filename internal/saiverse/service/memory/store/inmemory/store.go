package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

// Store is an in-memory implementation of the memory repo.Store
// interface. It mirrors the SQLite store's semantics, including the
// per-thread monotonic created_at clamp.
type Store struct {
	personaID string

	mu       sync.RWMutex
	messages []*entity.Message
	threads  map[string]*entity.Thread
	entries  []*entity.ChronicleEntry
	pages    map[string]*entity.MemopediaPage
}

// NewStore creates a store for one persona with an active default thread.
func NewStore(personaID string) *Store {
	s := &Store{
		personaID: personaID,
		threads:   make(map[string]*entity.Thread),
		pages:     make(map[string]*entity.MemopediaPage),
	}
	s.threads[personaID+":"+entity.DefaultThreadSuffix] = &entity.Thread{
		ID:        personaID + ":" + entity.DefaultThreadSuffix,
		PersonaID: personaID,
		Suffix:    entity.DefaultThreadSuffix,
		Active:    true,
		CreatedAt: time.Now(),
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) Append(_ context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ThreadID == msg.ThreadID {
			if msg.CreatedAt.Before(s.messages[i].CreatedAt) {
				msg.CreatedAt = s.messages[i].CreatedAt
			}
			break
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, errno.ErrMessageNotFound
}

func (s *Store) UpdateMetadata(_ context.Context, id string, md entity.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			m.Metadata = md
			return nil
		}
	}
	return errno.ErrMessageNotFound
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) Recent(_ context.Context, q repo.RecentQuery) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]struct{}, len(q.Tags))
	for _, t := range q.Tags {
		allowed[t] = struct{}{}
	}

	var picked []*entity.Message
	chars := 0
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ThreadID != q.ThreadID {
			continue
		}
		if !q.Before.IsZero() && !m.CreatedAt.Before(q.Before) {
			continue
		}
		if len(allowed) > 0 && !tagsIntersect(m.Metadata.Tags(), allowed) {
			continue
		}
		if q.MaxChars > 0 && chars+len([]rune(m.Content)) > q.MaxChars && len(picked) > 0 {
			break
		}
		picked = append(picked, m)
		chars += len([]rune(m.Content))
		if q.MaxMessages > 0 && len(picked) >= q.MaxMessages {
			break
		}
	}
	reverse(picked)
	return picked, nil
}

func (s *Store) FromMessage(_ context.Context, threadID, messageID string) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Message
	seen := false
	for _, m := range s.messages {
		if m.ThreadID != threadID {
			continue
		}
		if m.ID == messageID {
			seen = true
		}
		if seen {
			out = append(out, m)
		}
	}
	if !seen {
		return nil, errno.ErrMessageNotFound
	}
	return out, nil
}

func (s *Store) Last(_ context.Context, threadID string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ThreadID == threadID {
			return s.messages[i], nil
		}
	}
	return nil, nil
}

func (s *Store) CountMessages(_ context.Context, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateThread(_ context.Context, t *entity.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.threads[t.ID] = t
	return nil
}

func (s *Store) GetThread(_ context.Context, id string) (*entity.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, errno.ErrThreadNotFound
	}
	return t, nil
}

func (s *Store) ActiveThread(_ context.Context) (*entity.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.threads {
		if t.Active {
			return t, nil
		}
	}
	return nil, errno.ErrThreadNotFound
}

func (s *Store) SetActiveThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.threads[id]
	if !ok {
		return errno.ErrThreadNotFound
	}
	for _, t := range s.threads {
		t.Active = false
	}
	target.Active = true
	return nil
}

func (s *Store) EndThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return errno.ErrThreadNotFound
	}
	t.Active = false
	t.EndedAt = time.Now()
	return nil
}

func (s *Store) AddChronicle(_ context.Context, e *entity.ChronicleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) ListChronicle(_ context.Context, limit int) ([]*entity.ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.ChronicleEntry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) ChronicleForThread(_ context.Context, threadID string) ([]*entity.ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.ChronicleEntry
	for _, e := range s.entries {
		if e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (s *Store) SavePage(_ context.Context, p *entity.MemopediaPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.pages[p.Title]; ok {
		p.ID = existing.ID
		p.Vividness = existing.Vividness.Promote()
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Vividness == "" {
			p.Vividness = entity.VividnessFaint
		}
		p.CreatedAt = now
	}
	p.PersonaID = s.personaID
	p.UpdatedAt = now
	s.pages[p.Title] = p
	return nil
}

func (s *Store) GetPage(_ context.Context, title string) (*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[title]
	if !ok {
		return nil, errno.ErrPageNotFound
	}
	return p, nil
}

func (s *Store) SearchPages(_ context.Context, keyword string) ([]*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.MemopediaPage
	for _, p := range s.pages {
		if strings.Contains(p.Title, keyword) || strings.Contains(p.Summary, keyword) || keywordMatch(p.Keywords, keyword) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) ListPages(_ context.Context, category string) ([]*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.MemopediaPage
	for _, p := range s.pages {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Manager hands out in-memory stores per persona.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func NewManager() *Manager {
	return &Manager{stores: make(map[string]*Store)}
}

func (m *Manager) ForPersona(_ context.Context, personaID string) (repo.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[personaID]; ok {
		return s, nil
	}
	s := NewStore(personaID)
	m.stores[personaID] = s
	return s, nil
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = make(map[string]*Store)
	return nil
}

func tagsIntersect(tags []string, allowed map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := allowed[t]; ok {
			return true
		}
	}
	return false
}

func keywordMatch(keywords []string, keyword string) bool {
	for _, k := range keywords {
		if strings.Contains(k, keyword) {
			return true
		}
	}
	return false
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
