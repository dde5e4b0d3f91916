package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"TrackVault/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/song/url", r.URL.Path)
		switch r.URL.Query().Get("id") {
		case "t1":
			w.Write([]byte(`{"code":200,"data":[{"id":1,"url":""},{"id":"t1","url":"https://cdn.example.com/t1.mp3"}]}`))
		case "gone":
			w.Write([]byte(`{"code":200,"data":[{"id":"gone","url":""}]}`))
		case "blocked":
			w.Write([]byte(`{"code":404,"msg":"no copyright"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	u, err := c.Resolve(ctx, Query{TrackID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/t1.mp3", u)

	for _, id := range []string{"gone", "blocked", "boom"} {
		_, err := c.Resolve(ctx, Query{TrackID: id})
		assert.ErrorIs(t, err, model.ErrSourceUnavailable, id)
	}

	_, err = c.Resolve(ctx, Query{})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestClientResolveByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Song", r.URL.Query().Get("title"))
		assert.Equal(t, "Band", r.URL.Query().Get("artist"))
		w.Write([]byte(`{"code":200,"data":[{"url":"https://cdn.example.com/x.mp3"}]}`))
	}))
	defer srv.Close()

	u, err := NewClient(srv.URL, 0).Resolve(context.Background(), Query{Title: "Song", Artist: "Band"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.mp3", u)
}

func TestClientResolveUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, 200*time.Millisecond).Resolve(context.Background(), Query{TrackID: "t1"})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}
