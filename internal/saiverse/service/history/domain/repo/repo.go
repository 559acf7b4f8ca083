package repo

import (
	"context"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/entity"
)

// HistoryRepository is the building-shared utterance log. Append assigns
// the per-building sequence number. MarkIngested adds a persona to an
// utterance's ingested_by set and reports whether the set changed.
type HistoryRepository interface {
	Append(ctx context.Context, u *entity.Utterance) error
	ListSince(ctx context.Context, buildingID string, afterSeq int64) ([]*entity.Utterance, error)
	MarkIngested(ctx context.Context, buildingID string, seq int64, personaID string) (bool, error)
}
