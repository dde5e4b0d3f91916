package repository

import (
	"context"
	"testing"
	"time"

	"TrackVault/db"
	"TrackVault/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) OfflineRepository {
	t.Helper()
	gdb, err := db.Open(sqlite.Open("file::memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { db.CloseGormDB(gdb) })
	return NewGormOfflineRepository(gdb)
}

func TestOfflineRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Get(ctx, "u1", "t1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.Put(ctx, &model.OfflineDownload{
		UserID: "u1", TrackID: "t1", Title: "Song", Format: "mp3", SizeBytes: 10,
	}))
	got, err := repo.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Song", got.Title)
	created := got.CreatedAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.Put(ctx, &model.OfflineDownload{
		UserID: "u1", TrackID: "t1", Title: "Song (Live)", Format: "flac", SizeBytes: 20,
	}))
	got, err = repo.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Song (Live)", got.Title)
	assert.Equal(t, int64(20), got.SizeBytes)
	assert.True(t, got.CreatedAt.Equal(created))

	require.NoError(t, repo.Put(ctx, &model.OfflineDownload{UserID: "u1", TrackID: "t2"}))
	require.NoError(t, repo.Put(ctx, &model.OfflineDownload{UserID: "u2", TrackID: "t1"}))

	list, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := repo.CountByTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.Delete(ctx, "u1", "t1"))
	require.NoError(t, repo.Delete(ctx, "u1", "t1"))
	_, err = repo.Get(ctx, "u1", "t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
