package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS llm_usage_log (
	ts                 INTEGER NOT NULL,
	persona_id         TEXT NOT NULL,
	building_id        TEXT NOT NULL DEFAULT '',
	model_id           TEXT NOT NULL,
	input_tokens       INTEGER NOT NULL,
	output_tokens      INTEGER NOT NULL,
	cached_tokens      INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd           REAL NOT NULL DEFAULT 0,
	node_type          TEXT NOT NULL DEFAULT '',
	playbook_name      TEXT NOT NULL DEFAULT '',
	category           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usage_persona_ts ON llm_usage_log(persona_id, ts);
`

// UsageStore persists usage batches into the city-wide SQLite database.
type UsageStore struct {
	db *sql.DB
}

// NewUsageStore creates the table if needed.
func NewUsageStore(db *sql.DB) (*UsageStore, error) {
	if _, err := db.Exec(usageSchema); err != nil {
		return nil, fmt.Errorf("failed to apply usage schema: %w", err)
	}
	return &UsageStore{db: db}, nil
}

func (s *UsageStore) InsertRecords(ctx context.Context, records []*entity.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO llm_usage_log (ts, persona_id, building_id, model_id, input_tokens, output_tokens, cached_tokens, cache_write_tokens, cost_usd, node_type, playbook_name, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.Timestamp.UnixNano(), r.PersonaID, r.BuildingID,
			r.ModelID, r.InputTokens, r.OutputTokens, r.CachedTokens, r.CacheWriteTokens,
			r.CostUSD, r.NodeType, r.PlaybookName, r.Category)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
