package repo

import (
	"context"
	"time"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
)

// RecentQuery selects a tail window of a thread. Tags is the allowed tag
// set: a message qualifies when at least one of its tags is allowed (an
// empty set allows everything). MaxMessages and MaxChars bound the
// window; zero disables the respective bound.
type RecentQuery struct {
	ThreadID    string
	Tags        []string
	MaxMessages int
	MaxChars    int
	Before      time.Time
}

// Store is one persona's memory: messages, threads, chronicle and
// memopedia. Implementations serialize writes per persona.
type Store interface {
	// Messages. Append clamps created_at so it never decreases within a
	// thread. UpdateMetadata replaces the metadata envelope of a message.
	Append(ctx context.Context, msg *entity.Message) error
	Get(ctx context.Context, id string) (*entity.Message, error)
	UpdateMetadata(ctx context.Context, id string, md entity.Metadata) error
	Delete(ctx context.Context, id string) error
	Recent(ctx context.Context, q RecentQuery) ([]*entity.Message, error)
	// FromMessage returns the message with the given id and everything
	// after it in the thread, in chronological order.
	FromMessage(ctx context.Context, threadID, messageID string) ([]*entity.Message, error)
	Last(ctx context.Context, threadID string) (*entity.Message, error)
	CountMessages(ctx context.Context, threadID string) (int, error)

	// Threads.
	CreateThread(ctx context.Context, t *entity.Thread) error
	GetThread(ctx context.Context, id string) (*entity.Thread, error)
	ActiveThread(ctx context.Context) (*entity.Thread, error)
	SetActiveThread(ctx context.Context, id string) error
	EndThread(ctx context.Context, id string) error

	// Chronicle.
	AddChronicle(ctx context.Context, e *entity.ChronicleEntry) error
	ListChronicle(ctx context.Context, limit int) ([]*entity.ChronicleEntry, error)
	ChronicleForThread(ctx context.Context, threadID string) ([]*entity.ChronicleEntry, error)

	// Memopedia. SavePage upserts by (persona, title) and promotes
	// vividness on update.
	SavePage(ctx context.Context, p *entity.MemopediaPage) error
	GetPage(ctx context.Context, title string) (*entity.MemopediaPage, error)
	SearchPages(ctx context.Context, keyword string) ([]*entity.MemopediaPage, error)
	ListPages(ctx context.Context, category string) ([]*entity.MemopediaPage, error)

	Close() error
}

// Manager hands out the per-persona memory store, opening it on first
// use.
type Manager interface {
	ForPersona(ctx context.Context, personaID string) (Store, error)
	CloseAll() error
}
