package tiered

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"TrackVault/cache"
	"TrackVault/core/resolver"
	"TrackVault/model"
	"TrackVault/storage"
	"TrackVault/storage/storagetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticResolver struct {
	urls map[string]string
}

func (r staticResolver) Resolve(_ context.Context, q resolver.Query) (string, error) {
	if u, ok := r.urls[q.TrackID]; ok {
		return u, nil
	}
	return "", model.ErrSourceUnavailable
}

type countingEvictor struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEvictor) AfterStore(context.Context) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
}

type fixture struct {
	store  *Store
	local  *storage.LocalStore
	remote *storagetest.MemoryObjectStore
	cache  *cache.MemoryCache
	clock  *fakeClock
}

func newFixture(t *testing.T, withRemote bool) *fixture {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCache(nil).WithClock(clock.Now)

	f := &fixture{local: local, cache: mc, clock: clock}
	var remote storage.ObjectStore
	if withRemote {
		f.remote = storagetest.NewMemoryObjectStore()
		remote = f.remote
	}
	res := staticResolver{urls: map[string]string{"upstream-only": "https://cdn.example.com/upstream-only.mp3"}}
	f.store = New(local, remote, mc, res, Options{QuotaBytes: 100 << 20}, nil).WithClock(clock.Now)
	return f
}

func meta() model.TrackMetadata {
	return model.TrackMetadata{Title: "Song", Artist: "Band", Quality: "high", Format: "mp3"}
}

func readAll(t *testing.T, f *os.File) []byte {
	t.Helper()
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestStoreTrackLocalOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	ev := &countingEvictor{}
	f.store.SetEvictor(ev)

	data := []byte("some audio bytes")
	rec, err := f.store.StoreTrack(ctx, "t1", data, meta())
	require.NoError(t, err)
	assert.Equal(t, model.LocationLocal, rec.Location)
	assert.Equal(t, int64(len(data)), rec.SizeBytes)
	assert.Equal(t, 1, ev.calls)

	file, got, err := f.store.OpenTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, data, readAll(t, file))
	assert.Equal(t, "Song", got.Title)
	assert.True(t, f.store.HasTrack(ctx, "t1"))
	assert.Zero(t, f.store.locks.size())
}

func TestStoreTrackUploadsToRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	rec, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)
	assert.Equal(t, model.LocationBoth, rec.Location)
	assert.True(t, f.remote.Has("tracks/t1.mp3"))
	assert.True(t, f.remote.Has("tracks/t1.json"))
}

func TestStoreTrackPartialRemoteFailureKeepsLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.SetFailPut(true)

	rec, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)
	assert.Equal(t, model.LocationLocal, rec.Location)

	persisted, err := f.local.ReadRecord("t1")
	require.NoError(t, err)
	assert.Equal(t, model.LocationLocal, persisted.Location)
}

func TestStoreTrackRejectsInvalidID(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(context.Background(), "../escape", []byte("x"), meta())
	assert.ErrorIs(t, err, model.ErrInvalidTrackID)
}

func TestStoreTrackLocalFailureIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(ctx, "keep", []byte("old"), meta())
	require.NoError(t, err)

	require.NoError(t, os.Chmod(f.local.BaseDir(), 0555))
	t.Cleanup(func() { os.Chmod(f.local.BaseDir(), 0755) })

	_, err = f.store.StoreTrack(ctx, "t2", []byte("new"), meta())
	var ioErr *model.LocalIOError
	assert.ErrorAs(t, err, &ioErr)

	rec, err := f.local.ReadRecord("keep")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.SizeBytes)
}

func TestStoreTrackReplacesFormat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("mp3 bytes"), meta())
	require.NoError(t, err)

	m := meta()
	m.Format = "flac"
	_, err = f.store.StoreTrack(ctx, "t1", []byte("flac bytes"), m)
	require.NoError(t, err)

	_, err = os.Stat(f.local.AudioPath("t1", "mp3"))
	assert.True(t, os.IsNotExist(err))
	rec, err := f.local.ReadRecord("t1")
	require.NoError(t, err)
	assert.Equal(t, "flac", rec.Format)
}

func TestStoreTrackReplacesFormatRemotely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("mp3 bytes"), meta())
	require.NoError(t, err)

	m := meta()
	m.Format = "flac"
	rec, err := f.store.StoreTrack(ctx, "t1", []byte("flac bytes"), m)
	require.NoError(t, err)
	assert.Equal(t, model.LocationBoth, rec.Location)
	assert.True(t, f.remote.Has("tracks/t1.flac"))
	assert.False(t, f.remote.Has("tracks/t1.mp3"))
}

func TestStoreTrackKeepsOldRemoteAudioWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("mp3 bytes"), meta())
	require.NoError(t, err)

	f.remote.SetFailPut(true)
	m := meta()
	m.Format = "flac"
	rec, err := f.store.StoreTrack(ctx, "t1", []byte("flac bytes"), m)
	require.NoError(t, err)
	assert.Equal(t, model.LocationLocal, rec.Location)
	assert.True(t, f.remote.Has("tracks/t1.mp3"))
	assert.True(t, f.remote.Has("tracks/t1.json"))
}

func TestResolveLocationTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	res, err := f.store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierCache, res.Tier)
	assert.Equal(t, "file://"+f.local.AudioPath("t1", "mp3"), res.URL)

	f.cache.Delete(ctx, "t1")
	res, err = f.store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierLocal, res.Tier)

	res, err = f.store.ResolveLocation(ctx, "upstream-only")
	require.NoError(t, err)
	assert.Equal(t, TierResolver, res.Tier)
	assert.Nil(t, res.Record)
	assert.Equal(t, "https://cdn.example.com/upstream-only.mp3", res.URL)

	_, err = f.store.ResolveLocation(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveLocationCacheTTLFallsThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	rec, err := f.local.ReadRecord("t1")
	require.NoError(t, err)
	f.cache.Set(ctx, "t1", rec, time.Second)

	f.clock.Advance(1100 * time.Millisecond)
	_, ok := f.cache.Get(ctx, "t1")
	assert.False(t, ok)

	res, err := f.store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierLocal, res.Tier)
}

func TestRedisOutageFallsThroughToLocal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := New(local, nil, cache.NewRedisCache(client, nil), nil, Options{QuotaBytes: 1 << 30}, nil)

	_, err = store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)
	res, err := store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierCache, res.Tier)

	mr.Close()

	res, err = store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierLocal, res.Tier)

	file, rec, err := store.OpenTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), readAll(t, file))
	assert.Equal(t, "t1", rec.ID)
}

func TestResolveLocationRemoteOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	require.NoError(t, f.local.Remove("t1"))
	f.cache.Delete(ctx, "t1")

	res, err := f.store.ResolveLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TierRemote, res.Tier)
	assert.Equal(t, "mem://tracks/t1.mp3", res.URL)
	assert.Equal(t, model.LocationRemote, res.Record.Location)
}

func TestOpenTrackRehydratesFromRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	data := bytes.Repeat([]byte{7}, 4096)
	_, err := f.store.StoreTrack(ctx, "t1", data, meta())
	require.NoError(t, err)

	require.NoError(t, f.local.Remove("t1"))
	f.cache.Delete(ctx, "t1")

	file, rec, err := f.store.OpenTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, data, readAll(t, file))
	assert.Equal(t, model.LocationBoth, rec.Location)

	local, err := f.local.ReadRecord("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), local.SizeBytes)
}

func TestOpenTrackUpdatesLastAccessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	stored, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	file, rec, err := f.store.OpenTrack(ctx, "t1")
	require.NoError(t, err)
	file.Close()
	assert.True(t, rec.LastAccessedAt.After(stored.LastAccessedAt))

	persisted, err := f.local.ReadRecord("t1")
	require.NoError(t, err)
	assert.True(t, persisted.LastAccessedAt.Equal(rec.LastAccessedAt))
	assert.True(t, persisted.CreatedAt.Equal(stored.CreatedAt))
}

func TestOpenTrackStaleCacheEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.local.AudioPath("t1", "mp3")))
	_, _, err = f.store.OpenTrack(ctx, "t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, f.cache.Has(ctx, "t1"))
}

func TestDeleteTrackRemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)
	_, err = f.store.StoreTrack(ctx, "t1.live", []byte("sibling"), meta())
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteTrack(ctx, "t1"))
	assert.False(t, f.store.HasTrack(ctx, "t1"))
	assert.False(t, f.remote.Has("tracks/t1.mp3"))
	assert.False(t, f.remote.Has("tracks/t1.json"))
	assert.True(t, f.remote.Has("tracks/t1.live.mp3"))
	assert.True(t, f.store.HasTrack(ctx, "t1.live"))
}

func TestDeleteTrackRemoteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.store.StoreTrack(ctx, "t1", []byte("abc"), meta())
	require.NoError(t, err)

	f.remote.FailDelete = true
	require.NoError(t, f.store.DeleteTrack(ctx, "t1"))
	_, err = f.local.ReadRecord("t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	data := bytes.Repeat([]byte{1}, 5*1024*1024)
	_, err := f.store.StoreTrack(ctx, "big", data, meta())
	require.NoError(t, err)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTracks)
	assert.InDelta(t, 5.0, stats.TotalMB(), 0.01)
	assert.Equal(t, int64(100<<20)-int64(len(data)), stats.AvailableBytes)
	assert.False(t, stats.RemoteEnabled)
}

func TestConcurrentStoresOfDistinctTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.store.StoreTrack(ctx, fmt.Sprintf("t%d", i), []byte(fmt.Sprintf("audio-%d", i)), meta())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records, err := f.store.ListTracks(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 16)
	assert.Zero(t, f.store.locks.size())
}
