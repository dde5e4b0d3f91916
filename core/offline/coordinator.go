// Package offline runs user-initiated "save for offline" downloads: it
// resolves the source, downloads and converts the audio, stores it through the
// tiered store and records the copy in the user's catalog.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"TrackVault/core/audio"
	"TrackVault/core/resolver"
	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"
	"TrackVault/storage"

	"golang.org/x/sync/singleflight"
)

// DownloadOptions are the per-request knobs.
type DownloadOptions struct {
	Quality string
	Format  string
	Title   string
	Artist  string
}

// Options configures the coordinator.
type Options struct {
	DefaultQuality   string
	DefaultFormat    string
	ProgressInterval time.Duration
	Timeout          time.Duration // bound of one download, independent of the caller
	TempDir          string
}

// Coordinator is the DownloadCoordinator. At most one transfer per
// (user, track) is in flight; concurrent callers share its result.
type Coordinator struct {
	store      TrackStore
	catalog    Catalog
	jobs       JobRepository
	resolver   resolver.AudioSourceResolver
	downloader Downloader
	transcoder audio.Transcoder
	metrics    *metrics.Metrics
	opts       Options
	group      singleflight.Group
	now        func() time.Time
}

// NewCoordinator wires a coordinator. res may be nil when every request
// carries a source URL.
func NewCoordinator(store TrackStore, catalog Catalog, jobs JobRepository, res resolver.AudioSourceResolver,
	dl Downloader, tc audio.Transcoder, opts Options, m *metrics.Metrics) *Coordinator {
	if opts.DefaultQuality == "" {
		opts.DefaultQuality = audio.QualityHigh
	}
	opts.DefaultFormat = model.NormalizeFormat(opts.DefaultFormat)
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Coordinator{
		store:      store,
		catalog:    catalog,
		jobs:       jobs,
		resolver:   res,
		downloader: dl,
		transcoder: tc,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
	}
}

func (c *Coordinator) withDefaults(opts DownloadOptions) DownloadOptions {
	if opts.Quality == "" {
		opts.Quality = c.opts.DefaultQuality
	}
	if opts.Format == "" {
		opts.Format = c.opts.DefaultFormat
	}
	opts.Format = model.NormalizeFormat(opts.Format)
	return opts
}

// DownloadTrack saves a track for offline use and waits for the result. A
// completed copy is returned immediately. Cancelling ctx stops the wait, not
// the shared transfer.
func (c *Coordinator) DownloadTrack(ctx context.Context, userID, trackID, sourceURL string, opts DownloadOptions) (model.TrackRecord, error) {
	rec, job, done, err := c.begin(ctx, userID, trackID)
	if err != nil || done {
		return rec, err
	}
	return c.wait(ctx, job, sourceURL, c.withDefaults(opts))
}

// Start registers the job and runs it in the background. The returned job is
// a snapshot; it is already completed when a copy exists.
func (c *Coordinator) Start(ctx context.Context, userID, trackID, sourceURL string, opts DownloadOptions) (*model.DownloadJob, error) {
	rec, job, done, err := c.begin(ctx, userID, trackID)
	if err != nil {
		return nil, err
	}
	if done {
		now := c.now()
		return &model.DownloadJob{
			ID:          model.JobID(userID, trackID),
			UserID:      userID,
			TrackID:     rec.ID,
			State:       model.JobCompleted,
			Progress:    model.ProgressDone,
			Message:     "already available offline",
			StartedAt:   now,
			CompletedAt: &now,
		}, nil
	}

	opts = c.withDefaults(opts)
	go func() {
		if _, err := c.wait(context.WithoutCancel(ctx), job, sourceURL, opts); err != nil {
			logger.Debug("background download ended with error",
				logger.String("userId", userID),
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
	}()
	return job, nil
}

// begin validates the request, short-circuits on an existing copy and
// registers a queued job unless one is already running. It returns a snapshot
// of the current job.
func (c *Coordinator) begin(ctx context.Context, userID, trackID string) (model.TrackRecord, *model.DownloadJob, bool, error) {
	if userID == "" {
		return model.TrackRecord{}, nil, false, errors.New("user id is required")
	}
	if err := storage.ValidateTrackID(trackID); err != nil {
		return model.TrackRecord{}, nil, false, err
	}
	if rec, ok := c.completed(ctx, userID, trackID); ok {
		return rec, nil, true, nil
	}

	job := &model.DownloadJob{
		ID:        model.JobID(userID, trackID),
		UserID:    userID,
		TrackID:   trackID,
		State:     model.JobQueued,
		Message:   "queued",
		StartedAt: c.now(),
	}
	current, created := c.jobs.Begin(job)
	if created {
		logger.Info("offline download queued",
			logger.String("jobId", job.ID),
			logger.String("userId", userID),
			logger.String("trackId", trackID))
	}
	return model.TrackRecord{}, current, false, nil
}

// completed returns the stored record when the user already has the track.
func (c *Coordinator) completed(ctx context.Context, userID, trackID string) (model.TrackRecord, bool) {
	entry, err := c.catalog.Get(ctx, userID, trackID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logger.Warn("catalog lookup failed",
				logger.String("userId", userID),
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
		return model.TrackRecord{}, false
	}
	rec, err := c.store.GetTrack(ctx, trackID)
	if err != nil {
		// Catalogued but evicted since: download again.
		return model.TrackRecord{}, false
	}
	if entry.Format != "" && model.NormalizeFormat(entry.Format) != rec.Format {
		return model.TrackRecord{}, false
	}
	return rec, true
}

// wait joins the flight of job's registration. Each Begin attempt has its own
// flight.
func (c *Coordinator) wait(ctx context.Context, job *model.DownloadJob, sourceURL string, opts DownloadOptions) (model.TrackRecord, error) {
	userID, trackID := job.UserID, job.TrackID
	key := fmt.Sprintf("%s#%d", job.ID, job.Attempt)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		return c.run(runCtx, userID, trackID, sourceURL, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.TrackRecord{}, res.Err
		}
		return res.Val.(model.TrackRecord), nil
	case <-ctx.Done():
		return model.TrackRecord{}, ctx.Err()
	}
}

// run is one flight. Its outcome is always reflected in the job record.
func (c *Coordinator) run(ctx context.Context, userID, trackID, sourceURL string, opts DownloadOptions) (model.TrackRecord, error) {
	id := model.JobID(userID, trackID)
	c.metrics.DownloadStarted()
	start := c.now()

	rec, err := c.execute(ctx, id, userID, trackID, sourceURL, opts)
	if err != nil {
		c.metrics.DownloadFinished(string(model.JobFailed))
		c.advance(id, model.JobFailed, 0, failureMessage(err))
		logger.Error("offline download failed",
			logger.String("jobId", id),
			logger.String("userId", userID),
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return model.TrackRecord{}, err
	}

	c.metrics.DownloadFinished(string(model.JobCompleted))
	c.advance(id, model.JobCompleted, model.ProgressDone, "download completed")
	logger.Info("offline download completed",
		logger.String("jobId", id),
		logger.String("trackId", trackID),
		logger.Int64("size", rec.SizeBytes),
		logger.Duration("elapsed", c.now().Sub(start)))
	return rec, nil
}

func (c *Coordinator) execute(ctx context.Context, id, userID, trackID, sourceURL string, opts DownloadOptions) (model.TrackRecord, error) {
	// A flight that started after another one finished sees its result here.
	if rec, ok := c.completed(ctx, userID, trackID); ok {
		return rec, nil
	}

	c.advance(id, model.JobDownloading, 0, "downloading")

	// Another user already stored the track in the requested format.
	rec, err := c.store.GetTrack(ctx, trackID)
	if err != nil || rec.Format != opts.Format {
		if sourceURL == "" {
			if sourceURL, err = c.resolve(ctx, trackID, opts); err != nil {
				return model.TrackRecord{}, err
			}
		}
		if rec, err = c.fetch(ctx, id, trackID, sourceURL, opts); err != nil {
			return model.TrackRecord{}, err
		}
	} else {
		c.advance(id, model.JobConverting, model.ProgressConverting, "converting")
	}

	entry := &model.OfflineDownload{
		UserID:    userID,
		TrackID:   trackID,
		Title:     firstNonEmpty(opts.Title, rec.Title),
		Artist:    firstNonEmpty(opts.Artist, rec.Artist),
		Quality:   firstNonEmpty(rec.Quality, opts.Quality),
		Format:    rec.Format,
		LocalPath: rec.LocalPath,
		SizeBytes: rec.SizeBytes,
	}
	if err := c.catalog.Put(ctx, entry); err != nil {
		return model.TrackRecord{}, fmt.Errorf("record offline copy: %w", err)
	}
	return rec, nil
}

func (c *Coordinator) resolve(ctx context.Context, trackID string, opts DownloadOptions) (string, error) {
	if c.resolver == nil {
		return "", fmt.Errorf("%w: no resolver configured", model.ErrSourceUnavailable)
	}
	u, err := c.resolver.Resolve(ctx, resolver.Query{TrackID: trackID, Title: opts.Title, Artist: opts.Artist})
	if err != nil {
		if errors.Is(err, model.ErrSourceUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	if u == "" {
		return "", fmt.Errorf("%w: empty url", model.ErrSourceUnavailable)
	}
	return u, nil
}

// fetch downloads sourceURL to a temp file, converts it and stores the result.
func (c *Coordinator) fetch(ctx context.Context, id, trackID, sourceURL string, opts DownloadOptions) (model.TrackRecord, error) {
	src, err := c.downloader.Open(ctx, sourceURL)
	if err != nil {
		return model.TrackRecord{}, err
	}
	defer src.Body.Close()

	tmp, err := os.CreateTemp(c.opts.TempDir, "trackvault-dl-*")
	if err != nil {
		return model.TrackRecord{}, &model.LocalIOError{Op: "create", Path: c.opts.TempDir, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	reporter := NewProgressReporter(src.Size, c.opts.ProgressInterval, func(progress int, estimated bool) {
		c.jobs.Update(id, func(job *model.DownloadJob) error {
			if err := job.Advance(model.JobDownloading, progress, "", c.now()); err != nil {
				return err
			}
			job.ProgressEstimated = estimated
			return nil
		})
	})
	reporter.Start()
	n, copyErr := io.Copy(io.MultiWriter(tmp, reporter), src.Body)
	reporter.Stop()
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		return model.TrackRecord{}, fmt.Errorf("download interrupted after %d bytes: %w", n, copyErr)
	case closeErr != nil:
		return model.TrackRecord{}, &model.LocalIOError{Op: "close", Path: tmpPath, Err: closeErr}
	case src.Size > 0 && n != src.Size:
		return model.TrackRecord{}, fmt.Errorf("download truncated: got %d of %d bytes", n, src.Size)
	case n == 0:
		return model.TrackRecord{}, errors.New("download returned no data")
	}

	c.advance(id, model.JobConverting, model.ProgressConverting, "converting")
	converted, err := c.transcoder.Transcode(ctx, audio.Request{
		InputPath:    tmpPath,
		SourceFormat: src.Format,
		Format:       opts.Format,
		Quality:      opts.Quality,
	})
	if err != nil {
		return model.TrackRecord{}, fmt.Errorf("convert: %w", err)
	}
	if converted.Path != tmpPath {
		defer os.Remove(converted.Path)
	}

	data, err := os.ReadFile(converted.Path)
	if err != nil {
		return model.TrackRecord{}, &model.LocalIOError{Op: "read", Path: converted.Path, Err: err}
	}
	return c.store.StoreTrack(ctx, trackID, data, model.TrackMetadata{
		Title:     opts.Title,
		Artist:    opts.Artist,
		Duration:  converted.Duration,
		Quality:   opts.Quality,
		Format:    converted.Format,
		SourceURL: sourceURL,
	})
}

// advance applies a transition to the job record. Rejected transitions, such
// as touching a job that already finished, are ignored.
func (c *Coordinator) advance(id string, state model.JobState, progress int, message string) {
	_, err := c.jobs.Update(id, func(job *model.DownloadJob) error {
		if state == model.JobCompleted || state == model.JobConverting {
			job.ProgressEstimated = false
		}
		return job.Advance(state, progress, message, c.now())
	})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		logger.Debug("job update skipped", logger.String("jobId", id), logger.ErrorField(err))
	}
}

func failureMessage(err error) string {
	var ioErr *model.LocalIOError
	switch {
	case errors.As(err, &ioErr):
		return "local storage error: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "download timed out"
	default:
		return err.Error()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetProgress returns the job of a (user, track) pair, or nil when there is no
// active or recently finished job.
func (c *Coordinator) GetProgress(userID, trackID string) *model.DownloadJob {
	job, ok := c.jobs.Get(model.JobID(userID, trackID))
	if !ok {
		return nil
	}
	return job
}

// ActiveJobs lists the jobs of a user that are running or within their
// grace period.
func (c *Coordinator) ActiveJobs(userID string) []*model.DownloadJob {
	return c.jobs.ListByUser(userID)
}

// ListDownloads returns the user's completed offline copies.
func (c *Coordinator) ListDownloads(ctx context.Context, userID string) ([]model.OfflineDownload, error) {
	return c.catalog.List(ctx, userID)
}

// RemoveDownload drops the user's catalog entry. The stored track stays and is
// left to eviction, since other users may share it.
func (c *Coordinator) RemoveDownload(ctx context.Context, userID, trackID string) error {
	if err := storage.ValidateTrackID(trackID); err != nil {
		return err
	}
	if err := c.catalog.Delete(ctx, userID, trackID); err != nil {
		return err
	}
	if job, ok := c.jobs.Get(model.JobID(userID, trackID)); ok && job.State.IsTerminal() {
		c.jobs.Delete(job.ID)
	}
	logger.Info("offline download removed",
		logger.String("userId", userID),
		logger.String("trackId", trackID))
	return nil
}
