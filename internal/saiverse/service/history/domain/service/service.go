package service

import (
	"context"
	"time"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/repo"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
)

// Service mediates between the building-shared history and per-persona
// memory.
type Service struct {
	history repo.HistoryRepository
	memory  memrepo.Manager
}

func New(history repo.HistoryRepository, memory memrepo.Manager) *Service {
	return &Service{history: history, memory: memory}
}

// Append records one utterance in the building history. heardBy lists
// the personas present; empty means audible to everyone.
func (s *Service) Append(ctx context.Context, buildingID, personaID, role, content string, heardBy []string, md mementity.Metadata) (*entity.Utterance, error) {
	if md == nil {
		md = mementity.Metadata{}
	}
	if len(heardBy) > 0 {
		md[mementity.MetaHeardBy] = heardBy
	}
	u := &entity.Utterance{
		BuildingID: buildingID,
		PersonaID:  personaID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now(),
		Metadata:   md,
	}
	if err := s.history.Append(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Ingest copies every building utterance the persona heard but has not
// yet ingested into its memory, marking each as ingested. Calling it
// twice with no new history is a no-op: ingested_by is checked before
// any write, so no duplicate memory rows appear.
func (s *Service) Ingest(ctx context.Context, personaID, buildingID string, occupants []string) (int, error) {
	utterances, err := s.history.ListSince(ctx, buildingID, 0)
	if err != nil {
		return 0, err
	}
	store, err := s.memory.ForPersona(ctx, personaID)
	if err != nil {
		return 0, err
	}
	thread, err := store.ActiveThread(ctx)
	if err != nil {
		return 0, err
	}

	with := make([]string, 0, len(occupants))
	for _, id := range occupants {
		if id != personaID {
			with = append(with, id)
		}
	}

	ingested := 0
	for _, u := range utterances {
		if u.PersonaID == personaID || !u.HeardBy(personaID) {
			continue
		}
		already := false
		for _, id := range u.Metadata.IngestedBy() {
			if id == personaID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		changed, err := s.history.MarkIngested(ctx, buildingID, u.Seq, personaID)
		if err != nil {
			return ingested, err
		}
		if !changed {
			continue
		}
		md := mementity.Metadata{
			mementity.MetaTags: []string{"conversation"},
			mementity.MetaWith: with,
		}
		if pulseID, ok := u.Metadata[mementity.MetaPulseID]; ok {
			md[mementity.MetaPulseID] = pulseID
		}
		msg := &mementity.Message{
			ThreadID:  thread.ID,
			PersonaID: u.PersonaID,
			Role:      u.Role,
			Content:   u.Content,
			CreatedAt: u.CreatedAt,
			Metadata:  md,
		}
		if err := store.Append(ctx, msg); err != nil {
			return ingested, err
		}
		ingested++
	}
	return ingested, nil
}
