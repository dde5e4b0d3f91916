package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"TrackVault/config"
	"TrackVault/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.FromEnv()
	dir := t.TempDir()
	cfg.LocalStorageDir = filepath.Join(dir, "tracks")
	cfg.SQLitePath = filepath.Join(dir, "catalog.db")
	cfg.CatalogDriver = "sqlite"
	cfg.CacheBackend = "memory"
	cfg.MinioEndpoint = ""
	cfg.ResolverBaseURL = ""
	cfg.MaxLocalStorageBytes = 1 << 20
	return cfg
}

func TestNewWiresLocalOnly(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Remote)
	assert.False(t, a.Store.RemoteEnabled())

	_, err = a.Store.StoreTrack(context.Background(), "t1", []byte("abc"), model.TrackMetadata{Format: "mp3"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audio/t1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvictionWiredToStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxLocalStorageBytes = 1000
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := a.Store.StoreTrack(ctx, id, make([]byte, 300), model.TrackMetadata{Format: "mp3"})
		require.NoError(t, err)
	}
	usage, err := a.Store.LocalUsage(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, usage, a.Policy.Threshold())
}

func TestNewRejectsUnknownCacheBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "memcached"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
