package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	histinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/store/inmemory"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
)

func newHistoryService(t *testing.T) (*Service, memrepo.Manager) {
	t.Helper()
	manager := meminmemory.NewManager()
	return New(histinmemory.NewHistoryStore(), manager), manager
}

func countMemories(t *testing.T, manager memrepo.Manager, personaID string) int {
	t.Helper()
	ctx := context.Background()
	store, err := manager.ForPersona(ctx, personaID)
	require.NoError(t, err)
	thread, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	n, err := store.CountMessages(ctx, thread.ID)
	require.NoError(t, err)
	return n
}

func TestAppendAssignsSequence(t *testing.T) {
	svc, _ := newHistoryService(t)
	ctx := context.Background()

	u1, err := svc.Append(ctx, "cafe", "p1", mementity.RoleAssistant, "いらっしゃい", nil, nil)
	require.NoError(t, err)
	u2, err := svc.Append(ctx, "cafe", "p2", mementity.RoleAssistant, "こんにちは", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), u1.Seq)
	assert.Equal(t, int64(2), u2.Seq)
}

func TestIngestCopiesHeardUtterances(t *testing.T) {
	svc, manager := newHistoryService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "cafe", "p2", mementity.RoleAssistant, "聞こえる発言", nil, nil)
	require.NoError(t, err)
	// p1's own utterance must not be ingested back into p1.
	_, err = svc.Append(ctx, "cafe", "p1", mementity.RoleAssistant, "自分の発言", nil, nil)
	require.NoError(t, err)

	n, err := svc.Ingest(ctx, "p1", "cafe", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countMemories(t, manager, "p1"))

	store, err := manager.ForPersona(ctx, "p1")
	require.NoError(t, err)
	thread, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	msgs, err := store.Recent(ctx, memrepo.RecentQuery{ThreadID: thread.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "聞こえる発言", msgs[0].Content)
	assert.Equal(t, "p2", msgs[0].PersonaID)
	assert.Equal(t, []string{"p2"}, msgs[0].Metadata[mementity.MetaWith])
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, manager := newHistoryService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "cafe", "p2", mementity.RoleAssistant, "一度だけ", nil, nil)
	require.NoError(t, err)

	n, err := svc.Ingest(ctx, "p1", "cafe", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Nothing new: the second pass must write nothing.
	n, err = svc.Ingest(ctx, "p1", "cafe", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, countMemories(t, manager, "p1"))
}

func TestIngestRespectsHeardBy(t *testing.T) {
	svc, manager := newHistoryService(t)
	ctx := context.Background()

	// Whispered to p3 only.
	_, err := svc.Append(ctx, "cafe", "p2", mementity.RoleAssistant, "内緒話", []string{"p3"}, nil)
	require.NoError(t, err)

	n, err := svc.Ingest(ctx, "p1", "cafe", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, countMemories(t, manager, "p1"))

	n, err = svc.Ingest(ctx, "p3", "cafe", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestPerPersonaIndependence(t *testing.T) {
	svc, manager := newHistoryService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "cafe", "p2", mementity.RoleAssistant, "皆への発言", nil, nil)
	require.NoError(t, err)

	// p1 ingesting does not consume the utterance for p3.
	_, err = svc.Ingest(ctx, "p1", "cafe", nil)
	require.NoError(t, err)
	n, err := svc.Ingest(ctx, "p3", "cafe", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countMemories(t, manager, "p3"))
}
