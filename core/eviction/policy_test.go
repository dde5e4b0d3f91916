package eviction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"TrackVault/cache"
	"TrackVault/core/tiered"
	"TrackVault/model"
	"TrackVault/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTieredStore(t *testing.T) *tiered.Store {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	clock := &stepClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	return tiered.New(local, nil, cache.NewMemoryCache(nil), nil, tiered.Options{QuotaBytes: 1000}, nil).
		WithClock(clock.Now)
}

func storeN(t *testing.T, s *tiered.Store, n, size int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.StoreTrack(context.Background(), fmt.Sprintf("t%d", i), make([]byte, size), model.TrackMetadata{Format: "mp3"})
		require.NoError(t, err)
	}
}

func TestBatchSize(t *testing.T) {
	p := NewPolicy(nil, Config{QuotaBytes: 1}, nil)
	assert.Equal(t, 0, p.BatchSize(0))
	assert.Equal(t, 1, p.BatchSize(1))
	assert.Equal(t, 1, p.BatchSize(4))
	assert.Equal(t, 1, p.BatchSize(5))
	assert.Equal(t, 2, p.BatchSize(6))
	assert.Equal(t, 2, p.BatchSize(10))
}

func TestEnforceBelowThresholdIsNoop(t *testing.T) {
	s := newTieredStore(t)
	storeN(t, s, 8, 100)

	p := NewPolicy(s, Config{QuotaBytes: 1000}, nil)
	res, err := p.Enforce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Triggered())
	assert.Empty(t, res.Evicted)
	assert.Equal(t, int64(800), res.UsageAfter)
}

func TestEnforceRemovesColdestBatch(t *testing.T) {
	ctx := context.Background()
	s := newTieredStore(t)
	storeN(t, s, 10, 100)

	// Reading t0 makes it the most recently used track.
	f, _, err := s.OpenTrack(ctx, "t0")
	require.NoError(t, err)
	f.Close()

	before, err := s.ListTracks(ctx)
	require.NoError(t, err)
	accessed := map[string]time.Time{}
	for _, r := range before {
		accessed[r.ID] = r.LastAccessedAt
	}

	p := NewPolicy(s, Config{QuotaBytes: 1000}, nil)
	res, err := p.Enforce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Triggered())
	assert.Equal(t, []string{"t1", "t2"}, res.Evicted)
	assert.Equal(t, int64(200), res.FreedBytes)
	assert.Equal(t, int64(800), res.UsageAfter)

	remaining, err := s.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 8)
	for _, r := range remaining {
		for _, id := range res.Evicted {
			assert.True(t, r.LastAccessedAt.After(accessed[id]), "%s retained but older than evicted %s", r.ID, id)
		}
	}
	for _, id := range res.Evicted {
		assert.False(t, s.HasTrack(ctx, id))
	}
}

func TestEnforceAfterEveryStore(t *testing.T) {
	ctx := context.Background()
	s := newTieredStore(t)
	p := NewPolicy(s, Config{QuotaBytes: 1000}, nil)
	s.SetEvictor(p)

	storeN(t, s, 10, 100)

	usage, err := s.LocalUsage(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, usage, p.Threshold())
	assert.False(t, s.HasTrack(ctx, "t0"))
	assert.False(t, s.HasTrack(ctx, "t1"))
	assert.True(t, s.HasTrack(ctx, "t9"))
}

func TestEnforceAlwaysMakesProgress(t *testing.T) {
	ctx := context.Background()
	s := newTieredStore(t)
	storeN(t, s, 1, 900)

	p := NewPolicy(s, Config{QuotaBytes: 1000}, nil)
	res, err := p.Enforce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t0"}, res.Evicted)
}

type failingStore struct {
	records []model.TrackRecord
	failOn  string
	deleted []string
}

func (f *failingStore) ListTracks(context.Context) ([]model.TrackRecord, error) {
	return f.records, nil
}

func (f *failingStore) DeleteTrack(_ context.Context, id string) error {
	if id == f.failOn {
		return errors.New("disk busy")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestEnforceContinuesPastDeleteFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fs := &failingStore{failOn: "a"}
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		fs.records = append(fs.records, model.TrackRecord{ID: id, SizeBytes: 100, LastAccessedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	p := NewPolicy(fs, Config{QuotaBytes: 500}, nil)
	res, err := p.Enforce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"b"}, res.Evicted)
	assert.Equal(t, []string{"b"}, fs.deleted)
	assert.Equal(t, int64(500), res.UsageAfter)
}

func TestEnforceSerializesPasses(t *testing.T) {
	ctx := context.Background()
	s := newTieredStore(t)
	storeN(t, s, 10, 100)
	p := NewPolicy(s, Config{QuotaBytes: 1000}, nil)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Enforce(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += len(r.Evicted)
	}
	// Only the first pass finds usage above the threshold.
	assert.Equal(t, 2, total)
}
