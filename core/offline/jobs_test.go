package offline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"TrackVault/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(user, track string) *model.DownloadJob {
	return &model.DownloadJob{
		ID:        model.JobID(user, track),
		UserID:    user,
		TrackID:   track,
		State:     model.JobQueued,
		StartedAt: time.Now(),
	}
}

func TestMemoryJobRepositoryBeginKeepsActiveJob(t *testing.T) {
	r := NewMemoryJobRepository(time.Minute)
	job := newJob("u1", "t1")

	_, created := r.Begin(job)
	assert.True(t, created)
	_, err := r.Update(job.ID, func(j *model.DownloadJob) error {
		return j.Advance(model.JobDownloading, 30, "", time.Now())
	})
	require.NoError(t, err)

	current, created := r.Begin(newJob("u1", "t1"))
	assert.False(t, created)
	assert.Equal(t, 30, current.Progress)
}

func TestMemoryJobRepositoryReturnsCopies(t *testing.T) {
	r := NewMemoryJobRepository(time.Minute)
	job := newJob("u1", "t1")
	r.Begin(job)

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	got.Progress = 77

	again, _ := r.Get(job.ID)
	assert.Equal(t, 0, again.Progress)
}

func TestMemoryJobRepositoryRejectedUpdateLeavesJob(t *testing.T) {
	r := NewMemoryJobRepository(time.Minute)
	job := newJob("u1", "t1")
	r.Begin(job)
	_, err := r.Update(job.ID, func(j *model.DownloadJob) error {
		return j.Advance(model.JobFailed, 0, "boom", time.Now())
	})
	require.NoError(t, err)

	_, err = r.Update(job.ID, func(j *model.DownloadJob) error {
		return j.Advance(model.JobCompleted, 0, "", time.Now())
	})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	got, _ := r.Get(job.ID)
	assert.Equal(t, model.JobFailed, got.State)

	_, err = r.Update("missing", func(*model.DownloadJob) error { return nil })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryJobRepositoryGraceKeepsNewerJob(t *testing.T) {
	r := NewMemoryJobRepository(50 * time.Millisecond)
	job := newJob("u1", "t1")
	r.Begin(job)
	_, err := r.Update(job.ID, func(j *model.DownloadJob) error {
		return j.Advance(model.JobFailed, 0, "boom", time.Now())
	})
	require.NoError(t, err)

	// A retry replaces the failed job before its grace period ends.
	_, created := r.Begin(newJob("u1", "t1"))
	require.True(t, created)

	time.Sleep(120 * time.Millisecond)
	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobQueued, got.State)
}

func TestMemoryJobRepositoryListByUser(t *testing.T) {
	r := NewMemoryJobRepository(time.Minute)
	r.Begin(newJob("u1", "t1"))
	r.Begin(newJob("u1", "t2"))
	r.Begin(newJob("u2", "t1"))

	assert.Len(t, r.ListByUser("u1"), 2)
	assert.Len(t, r.ListByUser("u2"), 1)
	r.Delete(model.JobID("u2", "t1"))
	assert.Empty(t, r.ListByUser("u2"))
}

type progressLog struct {
	mu     sync.Mutex
	values []int
	est    []bool
}

func (l *progressLog) report(p int, estimated bool) {
	l.mu.Lock()
	l.values = append(l.values, p)
	l.est = append(l.est, estimated)
	l.mu.Unlock()
}

func (l *progressLog) snapshot() ([]int, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...), append([]bool(nil), l.est...)
}

func TestByteReporterCountsBytes(t *testing.T) {
	log := &progressLog{}
	r := NewProgressReporter(1000, time.Second, log.report)
	assert.False(t, r.Estimated())

	r.Start()
	for i := 0; i < 10; i++ {
		_, err := r.Write(make([]byte, 100))
		require.NoError(t, err)
	}
	r.Stop()

	values, est := log.snapshot()
	require.NotEmpty(t, values)
	assert.Equal(t, model.ProgressDownloadCap, values[len(values)-1])
	for i := 1; i < len(values); i++ {
		assert.Greater(t, values[i], values[i-1])
	}
	assert.NotContains(t, est, true)
}

func TestSimulatedReporterIsCappedAndEstimated(t *testing.T) {
	log := &progressLog{}
	r := NewProgressReporter(-1, time.Millisecond, log.report)
	assert.True(t, r.Estimated())

	r.Start()
	require.Eventually(t, func() bool {
		values, _ := log.snapshot()
		return len(values) > 0 && values[len(values)-1] == simulatedCeiling
	}, time.Second, time.Millisecond)
	r.Stop()
	r.Stop()

	values, est := log.snapshot()
	for _, v := range values {
		assert.LessOrEqual(t, v, simulatedCeiling)
	}
	assert.NotContains(t, est, false)
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.flac":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("flacdata"))
		case "/stream":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewHTTPDownloader(time.Second)
	ctx := context.Background()

	src, err := d.Open(ctx, srv.URL+"/a.flac")
	require.NoError(t, err)
	data, err := io.ReadAll(src.Body)
	src.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "flacdata", string(data))
	assert.Equal(t, int64(8), src.Size)
	assert.Equal(t, "flac", src.Format)

	src, err = d.Open(ctx, srv.URL+"/stream")
	require.NoError(t, err)
	src.Body.Close()
	assert.Equal(t, "mp3", src.Format)

	_, err = d.Open(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}

func TestBeginAssignsNewAttemptPerRegistration(t *testing.T) {
	r := NewMemoryJobRepository(time.Minute)
	first, created := r.Begin(newJob("u1", "t1"))
	require.True(t, created)

	again, created := r.Begin(newJob("u1", "t1"))
	require.False(t, created)
	assert.Equal(t, first.Attempt, again.Attempt)

	_, err := r.Update(first.ID, func(j *model.DownloadJob) error {
		return j.Advance(model.JobFailed, 0, "boom", time.Now())
	})
	require.NoError(t, err)

	retry, created := r.Begin(newJob("u1", "t1"))
	require.True(t, created)
	assert.Greater(t, retry.Attempt, first.Attempt)
}
