package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	persona_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS threads (
	id               TEXT PRIMARY KEY,
	persona_id       TEXT NOT NULL,
	suffix           TEXT NOT NULL,
	parent_thread_id TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 0,
	depth            INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	ended_at         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chronicle (
	id            TEXT PRIMARY KEY,
	persona_id    TEXT NOT NULL,
	thread_id     TEXT NOT NULL DEFAULT '',
	start_time    INTEGER NOT NULL,
	end_time      INTEGER NOT NULL,
	level         INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	content       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memopedia (
	id             TEXT PRIMARY KEY,
	persona_id     TEXT NOT NULL,
	title          TEXT NOT NULL,
	category       TEXT NOT NULL,
	summary        TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	keywords       TEXT NOT NULL DEFAULT '[]',
	vividness      TEXT NOT NULL,
	parent_page_id TEXT NOT NULL DEFAULT '',
	edit_source    TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	UNIQUE(persona_id, title)
);
`

// Store is one persona's memory backed by an embedded SQLite file.
// Writes and recent-window reads share one lock so readers never observe
// a half-applied consolidation.
type Store struct {
	personaID string
	db        *sql.DB
	mu        sync.RWMutex
}

// Open opens (or creates) a persona memory database at path.
func Open(personaID, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply memory schema: %w", err)
	}
	s := &Store{personaID: personaID, db: db}
	if err := s.ensureDefaultThread(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureDefaultThread(ctx context.Context) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE persona_id = ? AND suffix = ?`,
		s.personaID, entity.DefaultThreadSuffix).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	t := &entity.Thread{
		ID:        s.personaID + ":" + entity.DefaultThreadSuffix,
		PersonaID: s.personaID,
		Suffix:    entity.DefaultThreadSuffix,
		Active:    true,
		CreatedAt: time.Now(),
	}
	return s.CreateThread(ctx, t)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	// created_at never decreases within a thread.
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE thread_id = ?`, msg.ThreadID).Scan(&last)
	if err != nil {
		return err
	}
	if last.Valid && msg.CreatedAt.UnixNano() < last.Int64 {
		msg.CreatedAt = time.Unix(0, last.Int64)
	}

	md, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, persona_id, role, content, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.PersonaID, msg.Role, msg.Content,
		msg.CreatedAt.UnixNano(), string(md))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, persona_id, role, content, created_at, metadata
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *Store) UpdateMetadata(ctx context.Context, id string, md entity.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errno.ErrMessageNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// Recent streams the thread tail newest-first, keeping messages whose
// tags intersect the allowed set, until the count/char bounds are met.
// The result is returned oldest-first.
func (s *Store) Recent(ctx context.Context, q repo.RecentQuery) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, thread_id, persona_id, role, content, created_at, metadata
	          FROM messages WHERE thread_id = ?`
	args := []any{q.ThreadID}
	if !q.Before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, q.Before.UnixNano())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allowed := make(map[string]struct{}, len(q.Tags))
	for _, t := range q.Tags {
		allowed[t] = struct{}{}
	}

	var picked []*entity.Message
	chars := 0
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if len(allowed) > 0 && !tagsIntersect(msg.Metadata.Tags(), allowed) {
			continue
		}
		if q.MaxChars > 0 && chars+len([]rune(msg.Content)) > q.MaxChars && len(picked) > 0 {
			break
		}
		picked = append(picked, msg)
		chars += len([]rune(msg.Content))
		if q.MaxMessages > 0 && len(picked) >= q.MaxMessages {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(picked)
	return picked, nil
}

func (s *Store) FromMessage(ctx context.Context, threadID, messageID string) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var anchorTS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ? AND thread_id = ?`,
		messageID, threadID).Scan(&anchorTS)
	if err == sql.ErrNoRows {
		return nil, errno.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, persona_id, role, content, created_at, metadata
		 FROM messages WHERE thread_id = ? AND created_at >= ?
		 ORDER BY created_at ASC, rowid ASC`, threadID, anchorTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Message
	seenAnchor := false
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if !seenAnchor {
			if msg.ID != messageID {
				continue
			}
			seenAnchor = true
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) Last(ctx context.Context, threadID string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, persona_id, role, content, created_at, metadata
		 FROM messages WHERE thread_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, threadID)
	msg, err := scanMessage(row)
	if err == errno.ErrMessageNotFound {
		return nil, nil
	}
	return msg, err
}

func (s *Store) CountMessages(ctx context.Context, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n)
	return n, err
}

func (s *Store) CreateThread(ctx context.Context, t *entity.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var ended int64
	if !t.EndedAt.IsZero() {
		ended = t.EndedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, persona_id, suffix, parent_thread_id, active, depth, created_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PersonaID, t.Suffix, t.ParentThreadID, boolToInt(t.Active), t.Depth,
		t.CreatedAt.UnixNano(), ended)
	return err
}

func (s *Store) GetThread(ctx context.Context, id string) (*entity.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, suffix, parent_thread_id, active, depth, created_at, ended_at
		 FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

func (s *Store) ActiveThread(ctx context.Context) (*entity.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, suffix, parent_thread_id, active, depth, created_at, ended_at
		 FROM threads WHERE active = 1 LIMIT 1`)
	return scanThread(row)
}

func (s *Store) SetActiveThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET active = 0 WHERE active = 1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE threads SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errno.ErrThreadNotFound
	}
	return tx.Commit()
}

func (s *Store) EndThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET active = 0, ended_at = ? WHERE id = ?`,
		time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errno.ErrThreadNotFound
	}
	return nil
}

func (s *Store) AddChronicle(ctx context.Context, e *entity.ChronicleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chronicle (id, persona_id, thread_id, start_time, end_time, level, message_count, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PersonaID, e.ThreadID, e.StartTime.UnixNano(), e.EndTime.UnixNano(),
		e.Level, e.MessageCount, e.Content, e.CreatedAt.UnixNano())
	return err
}

func (s *Store) ListChronicle(ctx context.Context, limit int) ([]*entity.ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, persona_id, thread_id, start_time, end_time, level, message_count, content, created_at
	          FROM chronicle ORDER BY end_time DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*entity.ChronicleEntry
	for rows.Next() {
		e, err := scanChronicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	reverse(out)
	return out, rows.Err()
}

func (s *Store) ChronicleForThread(ctx context.Context, threadID string) ([]*entity.ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, thread_id, start_time, end_time, level, message_count, content, created_at
		 FROM chronicle WHERE thread_id = ? ORDER BY end_time ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*entity.ChronicleEntry
	for rows.Next() {
		e, err := scanChronicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePage upserts by (persona, title). An update promotes the page one
// vividness step.
func (s *Store) SavePage(ctx context.Context, p *entity.MemopediaPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, err := s.getPageLocked(ctx, p.Title)
	if err != nil && err != errno.ErrPageNotFound {
		return err
	}
	keywords, merr := json.Marshal(p.Keywords)
	if merr != nil {
		return merr
	}

	if existing == nil {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Vividness == "" {
			p.Vividness = entity.VividnessFaint
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO memopedia (id, persona_id, title, category, summary, content, keywords, vividness, parent_page_id, edit_source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, s.personaID, p.Title, p.Category, p.Summary, p.Content, string(keywords),
			p.Vividness, p.ParentPageID, p.EditSource, now.UnixNano(), now.UnixNano())
		return err
	}

	p.ID = existing.ID
	p.Vividness = existing.Vividness.Promote()
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE memopedia SET category = ?, summary = ?, content = ?, keywords = ?, vividness = ?, parent_page_id = ?, edit_source = ?, updated_at = ?
		 WHERE id = ?`,
		p.Category, p.Summary, p.Content, string(keywords), p.Vividness,
		p.ParentPageID, p.EditSource, now.UnixNano(), p.ID)
	return err
}

func (s *Store) GetPage(ctx context.Context, title string) (*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPageLocked(ctx, title)
}

func (s *Store) getPageLocked(ctx context.Context, title string) (*entity.MemopediaPage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, title, category, summary, content, keywords, vividness, parent_page_id, edit_source, created_at, updated_at
		 FROM memopedia WHERE persona_id = ? AND title = ?`, s.personaID, title)
	return scanPage(row)
}

func (s *Store) SearchPages(ctx context.Context, keyword string) ([]*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	like := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, title, category, summary, content, keywords, vividness, parent_page_id, edit_source, created_at, updated_at
		 FROM memopedia
		 WHERE persona_id = ? AND (title LIKE ? OR summary LIKE ? OR keywords LIKE ?)
		 ORDER BY updated_at DESC`, s.personaID, like, like, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

func (s *Store) ListPages(ctx context.Context, category string) ([]*entity.MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, persona_id, title, category, summary, content, keywords, vividness, parent_page_id, edit_source, created_at, updated_at
	          FROM memopedia WHERE persona_id = ?`
	args := []any{s.personaID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY title ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*entity.Message, error) {
	var msg entity.Message
	var createdAt int64
	var md string
	err := row.Scan(&msg.ID, &msg.ThreadID, &msg.PersonaID, &msg.Role, &msg.Content, &createdAt, &md)
	if err == sql.ErrNoRows {
		return nil, errno.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(md), &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &msg, nil
}

func scanThread(row scanner) (*entity.Thread, error) {
	var t entity.Thread
	var active int
	var createdAt, endedAt int64
	err := row.Scan(&t.ID, &t.PersonaID, &t.Suffix, &t.ParentThreadID, &active, &t.Depth, &createdAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, errno.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Active = active != 0
	t.CreatedAt = time.Unix(0, createdAt)
	if endedAt != 0 {
		t.EndedAt = time.Unix(0, endedAt)
	}
	return &t, nil
}

func scanChronicle(row scanner) (*entity.ChronicleEntry, error) {
	var e entity.ChronicleEntry
	var start, end, created int64
	err := row.Scan(&e.ID, &e.PersonaID, &e.ThreadID, &start, &end, &e.Level, &e.MessageCount, &e.Content, &created)
	if err != nil {
		return nil, err
	}
	e.StartTime = time.Unix(0, start)
	e.EndTime = time.Unix(0, end)
	e.CreatedAt = time.Unix(0, created)
	return &e, nil
}

func scanPage(row scanner) (*entity.MemopediaPage, error) {
	var p entity.MemopediaPage
	var keywords string
	var created, updated int64
	err := row.Scan(&p.ID, &p.PersonaID, &p.Title, &p.Category, &p.Summary, &p.Content,
		&keywords, &p.Vividness, &p.ParentPageID, &p.EditSource, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, errno.ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, created)
	p.UpdatedAt = time.Unix(0, updated)
	return &p, nil
}

func collectPages(rows *sql.Rows) ([]*entity.MemopediaPage, error) {
	var out []*entity.MemopediaPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func tagsIntersect(tags []string, allowed map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := allowed[t]; ok {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
