package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/entity"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
)

// HistoryStore keeps each building's shared history in memory. Append
// and ingested_by updates share one per-building lock.
type HistoryStore struct {
	mu        sync.Mutex
	buildings map[string]*buildingLog
}

type buildingLog struct {
	mu      sync.Mutex
	nextSeq int64
	entries []*entity.Utterance
}

// NewHistoryStore creates a new instance of the HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{buildings: make(map[string]*buildingLog)}
}

func (s *HistoryStore) logFor(buildingID string) *buildingLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.buildings[buildingID]
	if !ok {
		l = &buildingLog{nextSeq: 1}
		s.buildings[buildingID] = l
	}
	return l
}

func (s *HistoryStore) Append(_ context.Context, u *entity.Utterance) error {
	l := s.logFor(u.BuildingID)
	l.mu.Lock()
	defer l.mu.Unlock()
	u.Seq = l.nextSeq
	l.nextSeq++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Metadata == nil {
		u.Metadata = mementity.Metadata{}
	}
	l.entries = append(l.entries, u)
	return nil
}

func (s *HistoryStore) ListSince(_ context.Context, buildingID string, afterSeq int64) ([]*entity.Utterance, error) {
	l := s.logFor(buildingID)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*entity.Utterance
	for _, u := range l.entries {
		if u.Seq > afterSeq {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *HistoryStore) MarkIngested(_ context.Context, buildingID string, seq int64, personaID string) (bool, error) {
	l := s.logFor(buildingID)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range l.entries {
		if u.Seq == seq {
			return u.Metadata.MarkIngestedBy(personaID), nil
		}
	}
	return false, nil
}
