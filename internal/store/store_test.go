package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tangled.db")
	store, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"auth_session", "project_order", "meta"} {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNew_AppliesPragmas(t *testing.T) {
	store := newTestStore(t)

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestClose_PingFails(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "closed.db"), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "second close is a no-op")
	assert.Error(t, store.Ping(context.Background()))
}

func TestSession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrNoSession)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err = store.Save(ctx, &tokenstore.Session{
		Token:     "gho_123",
		User:      tokenstore.User{Login: "knitter", AvatarURL: "https://avatars.example/k"},
		CreatedAt: created,
	})
	require.NoError(t, err)

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gho_123", sess.Token)
	assert.Equal(t, "knitter", sess.User.Login)
	assert.Equal(t, "https://avatars.example/k", sess.User.AvatarURL)
	assert.True(t, created.Equal(sess.CreatedAt))
}

func TestSession_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, &tokenstore.Session{Token: "a", User: tokenstore.User{Login: "one"}}))
	require.NoError(t, store.Save(ctx, &tokenstore.Session{Token: "b", User: tokenstore.User{Login: "two"}}))

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM auth_session").Scan(&count))
	assert.Equal(t, 1, count)

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", sess.Token)
}

func TestSession_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Save(ctx, &tokenstore.Session{Token: "a", User: tokenstore.User{Login: "one"}}))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrNoSession)
}

func TestSession_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tangled.db")

	first, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, &tokenstore.Session{Token: "persist", User: tokenstore.User{Login: "me"}}))
	require.NoError(t, first.Close())

	second, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	sess, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persist", sess.Token)
}

func TestProjectOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ids, err := store.ProjectOrder(ctx, "knitting")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.SetProjectOrder(ctx, "knitting", []int{3, 1, 2}))
	ids, err = store.ProjectOrder(ctx, "knitting")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, ids)

	require.NoError(t, store.SetProjectOrder(ctx, "knitting", nil))
	ids, err = store.ProjectOrder(ctx, "knitting")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
