package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

func newXReplyStore(t *testing.T) *XReplyStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "city.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewXReplyStore(db)
	require.NoError(t, err)
	return store
}

func TestXReplyReserveConfirm(t *testing.T) {
	store := newXReplyStore(t)
	ctx := context.Background()

	replied, err := store.HasReplied(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, replied)

	res, err := store.Reserve(ctx, "t1", "p1")
	require.NoError(t, err)
	require.NoError(t, res.Confirm(ctx, "reply-99"))

	replied, err = store.HasReplied(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestXReplyDoubleReserve(t *testing.T) {
	store := newXReplyStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "t1", "p1")
	require.NoError(t, err)
	require.NoError(t, res.Confirm(ctx, "reply-1"))

	_, err = store.Reserve(ctx, "t1", "p2")
	assert.ErrorIs(t, err, errno.ErrAlreadyReplied)
}

func TestXReplyReleaseFreesID(t *testing.T) {
	store := newXReplyStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "t1", "p1")
	require.NoError(t, err)
	require.NoError(t, res.Release())

	// The failed post left no trace; the tweet can be claimed again.
	replied, err := store.HasReplied(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, replied)

	res, err = store.Reserve(ctx, "t1", "p1")
	require.NoError(t, err)
	require.NoError(t, res.Confirm(ctx, "reply-2"))
}
