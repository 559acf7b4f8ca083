package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

func newService(t *testing.T) (*Service, repo.Store) {
	t.Helper()
	manager := inmemory.NewManager()
	svc := New(manager)
	store, err := manager.ForPersona(context.Background(), "p1")
	require.NoError(t, err)
	return svc, store
}

func activeMessages(t *testing.T, store repo.Store) []*entity.Message {
	t.Helper()
	ctx := context.Background()
	thread, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	msgs, err := store.Recent(ctx, repo.RecentQuery{ThreadID: thread.ID})
	require.NoError(t, err)
	return msgs
}

func TestRemember(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	msg, err := svc.Remember(ctx, "p1", entity.RoleUser, "覚えておいて", []string{"conversation"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.Metadata.HasTag("conversation"))

	msgs := activeMessages(t, store)
	require.Len(t, msgs, 1)
	assert.Equal(t, "覚えておいて", msgs[0].Content)
}

func TestRecordInterruption(t *testing.T) {
	svc, store := newService(t)

	require.NoError(t, svc.RecordInterruption(context.Background(), "p1", "user", true))

	msgs := activeMessages(t, store)
	require.Len(t, msgs, 1)
	assert.Equal(t, "(中断: userからのリクエストを優先しました)", msgs[0].Content)
	assert.True(t, msgs[0].Metadata.HasTag("internal"))
	assert.True(t, msgs[0].Metadata.HasTag("interrupted"))
	assert.Equal(t, true, msgs[0].Metadata[entity.MetaWillResume])
}

func TestRecordWaitConsolidates(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	loc := time.UTC

	first, err := svc.RecordWait(ctx, "p1", "返事待ち", loc)
	require.NoError(t, err)
	assert.Contains(t, first.Content, "1回目")

	second, err := svc.RecordWait(ctx, "p1", "まだ返事待ち", loc)
	require.NoError(t, err)
	assert.Contains(t, second.Content, "2回目")
	assert.Contains(t, second.Content, "まだ返事待ち")

	// The first marker was replaced, not kept alongside.
	msgs := activeMessages(t, store)
	require.Len(t, msgs, 1)
	assert.Equal(t, second.ID, msgs[0].ID)

	// The consolidated marker still carries the original start time.
	started, ok := second.Metadata[entity.MetaWaitStarted].(string)
	require.True(t, ok)
	firstStarted, ok := first.Metadata[entity.MetaWaitStarted].(string)
	require.True(t, ok)
	assert.Equal(t, firstStarted, started)
}

func TestRecordWaitDoesNotConsolidateAcrossOtherMessages(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.RecordWait(ctx, "p1", "待機", time.UTC)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "p1", entity.RoleUser, "割り込み発言", nil, nil)
	require.NoError(t, err)
	_, err = svc.RecordWait(ctx, "p1", "再待機", time.UTC)
	require.NoError(t, err)

	msgs := activeMessages(t, store)
	require.Len(t, msgs, 3)

	waits := 0
	for _, m := range msgs {
		if m.Metadata.HasTag("wait") {
			waits++
			assert.Contains(t, m.Content, "1回目")
		}
	}
	assert.Equal(t, 2, waits)
}

func TestStelisDepthLimit(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	sub, err := svc.StartStelis(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.Depth)
	assert.Equal(t, "stelis", sub.Suffix)

	active, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, active.ID)

	// The parent thread got a branch anchor.
	parentMsgs, err := store.Recent(ctx, repo.RecentQuery{ThreadID: sub.ParentThreadID})
	require.NoError(t, err)
	require.Len(t, parentMsgs, 1)
	assert.True(t, strings.Contains(parentMsgs[0].Content, "スレッド分岐"))

	// Nesting beyond the limit is refused.
	_, err = svc.StartStelis(ctx, "p1", 1)
	assert.ErrorIs(t, err, errno.ErrStelisDepthLimit)

	// Ending the sub-thread reactivates the parent.
	require.NoError(t, svc.EndStelis(ctx, "p1", sub.ID))
	active, err = store.ActiveThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, sub.ParentThreadID, active.ID)
}

func TestStelisUnlimitedDepth(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		sub, err := svc.StartStelis(ctx, "p1", 0)
		require.NoError(t, err)
		assert.Equal(t, i, sub.Depth)
	}
}

func TestCreateSubThreadDoesNotActivate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	before, err := store.ActiveThread(ctx)
	require.NoError(t, err)

	sub, err := svc.CreateSubThread(ctx, "p1", "subagent")
	require.NoError(t, err)
	assert.Equal(t, before.ID, sub.ParentThreadID)

	after, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
}
