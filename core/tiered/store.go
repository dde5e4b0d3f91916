// Package tiered decides where the bytes and metadata of a track live: the
// metadata cache, the local disk tier and the optional remote object store.
package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"TrackVault/cache"
	"TrackVault/core/resolver"
	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"
	"TrackVault/storage"
)

// Tiers reported by ResolveLocation.
const (
	TierCache    = "cache"
	TierLocal    = "local"
	TierRemote   = "remote"
	TierResolver = "resolver"
)

const remotePrefix = "tracks/"

// Evictor is run after every successful write to the local tier.
type Evictor interface {
	AfterStore(ctx context.Context)
}

// Resolution is where a track can be fetched from. Record is nil when only
// the external resolver knows the track.
type Resolution struct {
	TrackID string             `json:"trackId"`
	URL     string             `json:"location"`
	Tier    string             `json:"tier"`
	Record  *model.TrackRecord `json:"record,omitempty"`
}

// Options tunes cache lifetimes and the quota reported by Stats.
type Options struct {
	StreamTTL  time.Duration
	DefaultTTL time.Duration
	QuotaBytes int64
}

// Store is the TieredStore. It is safe for concurrent use; mutations of one
// track are serialized by a per-track lock.
type Store struct {
	local    *storage.LocalStore
	remote   storage.ObjectStore
	cache    cache.MetadataCache
	resolver resolver.AudioSourceResolver
	evictor  Evictor
	metrics  *metrics.Metrics
	opts     Options
	locks    *keyLocks
	now      func() time.Time
}

// New builds a store. remote and res may be nil.
func New(local *storage.LocalStore, remote storage.ObjectStore, c cache.MetadataCache,
	res resolver.AudioSourceResolver, opts Options, m *metrics.Metrics) *Store {
	if opts.StreamTTL <= 0 {
		opts.StreamTTL = cache.StreamTTL
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = cache.DefaultTTL
	}
	return &Store{
		local:    local,
		remote:   remote,
		cache:    c,
		resolver: res,
		metrics:  m,
		opts:     opts,
		locks:    newKeyLocks(),
		now:      time.Now,
	}
}

// SetEvictor installs the quota policy. It is set after construction because
// the policy itself deletes through the store.
func (s *Store) SetEvictor(e Evictor) {
	s.evictor = e
}

// WithClock replaces time.Now, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RemoteEnabled reports whether an object store is configured.
func (s *Store) RemoteEnabled() bool {
	return s.remote != nil
}

// QuotaBytes is the configured local tier quota.
func (s *Store) QuotaBytes() int64 {
	return s.opts.QuotaBytes
}

func audioKey(id, format string) string {
	return remotePrefix + id + "." + model.NormalizeFormat(format)
}

func recordKey(id string) string {
	return remotePrefix + id + ".json"
}

// ResolveLocation returns the first tier that knows the track: cache, local
// disk, remote object store, then the external resolver. Read failures of a
// tier fall through to the next one.
func (s *Store) ResolveLocation(ctx context.Context, id string) (Resolution, error) {
	if err := storage.ValidateTrackID(id); err != nil {
		return Resolution{}, err
	}

	rec, tier, err := s.lookup(ctx, id, s.opts.DefaultTTL)
	if err == nil {
		s.metrics.TierResolved(tier)
		return Resolution{TrackID: id, URL: s.urlFor(rec), Tier: tier, Record: &rec}, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return Resolution{}, err
	}

	if s.resolver == nil {
		return Resolution{}, model.ErrNotFound
	}
	url, err := s.resolver.Resolve(ctx, resolver.Query{TrackID: id})
	if err != nil {
		logger.Debug("resolver miss", logger.String("trackId", id), logger.ErrorField(err))
		return Resolution{}, model.ErrNotFound
	}
	s.metrics.TierResolved(TierResolver)
	return Resolution{TrackID: id, URL: url, Tier: TierResolver}, nil
}

// GetTrack returns the record of a stored track.
func (s *Store) GetTrack(ctx context.Context, id string) (model.TrackRecord, error) {
	if err := storage.ValidateTrackID(id); err != nil {
		return model.TrackRecord{}, err
	}
	rec, _, err := s.lookup(ctx, id, s.opts.DefaultTTL)
	return rec, err
}

// HasTrack reports whether any storage tier holds the track.
func (s *Store) HasTrack(ctx context.Context, id string) bool {
	if storage.ValidateTrackID(id) != nil {
		return false
	}
	if s.cache.Has(ctx, id) {
		return true
	}
	_, _, err := s.lookup(ctx, id, s.opts.DefaultTTL)
	return err == nil
}

// lookup walks cache, local and remote and caches the first hit with ttl.
func (s *Store) lookup(ctx context.Context, id string, ttl time.Duration) (model.TrackRecord, string, error) {
	if rec, ok := s.cache.Get(ctx, id); ok {
		return rec, TierCache, nil
	}

	rec, err := s.local.ReadRecord(id)
	if err == nil {
		s.cache.Set(ctx, id, rec, ttl)
		return rec, TierLocal, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		logger.Warn("local tier read failed",
			logger.String("trackId", id),
			logger.ErrorField(err))
	}

	rec, err = s.remoteRecord(ctx, id)
	if err == nil {
		s.cache.Set(ctx, id, rec, ttl)
		return rec, TierRemote, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		s.metrics.RemoteFailure("get")
		logger.Warn("remote tier read failed",
			logger.String("trackId", id),
			logger.ErrorField(err))
	}
	return model.TrackRecord{}, "", model.ErrNotFound
}

func (s *Store) remoteRecord(ctx context.Context, id string) (model.TrackRecord, error) {
	if s.remote == nil {
		return model.TrackRecord{}, model.ErrNotFound
	}
	data, err := s.remote.Get(ctx, recordKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return model.TrackRecord{}, model.ErrNotFound
		}
		return model.TrackRecord{}, err
	}
	var rec model.TrackRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.TrackRecord{}, fmt.Errorf("decode remote record %s: %w", id, err)
	}
	// The remote copy never carries a usable local path.
	rec.Location = model.LocationRemote
	rec.LocalPath = ""
	return rec, nil
}

func (s *Store) urlFor(rec model.TrackRecord) string {
	if rec.Location.HasLocal() {
		path := rec.LocalPath
		if path == "" {
			path = s.local.AudioPath(rec.ID, rec.Format)
		}
		return "file://" + path
	}
	if s.remote != nil {
		return s.remote.URL(audioKey(rec.ID, rec.Format))
	}
	return rec.SourceURL
}

// StoreTrack writes a track to the local tier and, best-effort, to the remote
// tier. A local failure fails the call; a remote failure is logged and leaves
// the record at LocationLocal. The eviction policy runs after the write.
func (s *Store) StoreTrack(ctx context.Context, id string, data []byte, meta model.TrackMetadata) (model.TrackRecord, error) {
	if err := storage.ValidateTrackID(id); err != nil {
		return model.TrackRecord{}, err
	}

	rec, err := s.storeLocked(ctx, id, data, meta)
	if err != nil {
		return model.TrackRecord{}, err
	}

	if s.evictor != nil {
		s.evictor.AfterStore(ctx)
	}
	return rec, nil
}

func (s *Store) storeLocked(ctx context.Context, id string, data []byte, meta model.TrackMetadata) (model.TrackRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	prev, prevErr := s.local.ReadRecord(id)

	now := s.now()
	rec := model.TrackRecord{
		SchemaVersion:  model.TrackSchemaVersion,
		ID:             id,
		Title:          meta.Title,
		Artist:         meta.Artist,
		Album:          meta.Album,
		Duration:       meta.Duration,
		Quality:        meta.Quality,
		Format:         model.NormalizeFormat(meta.Format),
		SizeBytes:      int64(len(data)),
		SourceURL:      meta.SourceURL,
		Location:       model.LocationLocal,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	path, err := s.local.WriteAudio(id, rec.Format, data)
	if err != nil {
		return model.TrackRecord{}, fmt.Errorf("store %s: %w", id, err)
	}
	rec.LocalPath = path

	if s.remote != nil {
		if err := s.upload(ctx, rec, data); err != nil {
			s.metrics.RemoteFailure("put")
			logger.Warn("partial write",
				logger.String("trackId", id),
				logger.ErrorField(&model.PartialWriteError{TrackID: id, Err: err}))
		} else {
			rec.Location = model.LocationBoth
		}
	}

	// The record is the commit marker and goes last.
	if err := s.local.WriteRecord(rec); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logger.Warn("failed to clean up audio after record write failure",
				logger.String("path", path), logger.ErrorField(rmErr))
		}
		s.cache.Delete(ctx, id)
		return model.TrackRecord{}, fmt.Errorf("store %s: %w", id, err)
	}

	if prevErr == nil && prev.Format != rec.Format {
		if err := os.Remove(prev.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove replaced audio file",
				logger.String("path", prev.LocalPath), logger.ErrorField(err))
		}
		// Only once the new remote record is in place; otherwise the old one
		// still points at the old audio.
		if rec.Location == model.LocationBoth {
			key := audioKey(id, prev.Format)
			if err := s.remote.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				s.metrics.RemoteFailure("delete")
				logger.Warn("failed to remove replaced remote audio",
					logger.String("key", key), logger.ErrorField(err))
			}
		}
	}

	s.cache.Set(ctx, id, rec, s.opts.DefaultTTL)
	logger.Info("track stored",
		logger.String("trackId", id),
		logger.String("location", string(rec.Location)),
		logger.Int64("size", rec.SizeBytes))
	return rec, nil
}

// upload puts audio first and the record second, so a remote record always
// points at existing audio.
func (s *Store) upload(ctx context.Context, rec model.TrackRecord, data []byte) error {
	if err := s.remote.Put(ctx, audioKey(rec.ID, rec.Format), data, model.ContentType(rec.Format)); err != nil {
		return fmt.Errorf("put audio: %w", err)
	}
	remoteRec := rec
	remoteRec.Location = model.LocationBoth
	remoteRec.LocalPath = ""
	body, err := json.Marshal(remoteRec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.remote.Put(ctx, recordKey(rec.ID), body, "application/json"); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// OpenTrack opens the local audio file for streaming. A track held only by
// the remote tier is copied back to local disk first. The access time is
// bumped on every successful open.
func (s *Store) OpenTrack(ctx context.Context, id string) (*os.File, model.TrackRecord, error) {
	if err := storage.ValidateTrackID(id); err != nil {
		return nil, model.TrackRecord{}, err
	}

	if rec, ok := s.cache.Get(ctx, id); ok && rec.Location.HasLocal() {
		path := s.local.AudioPath(rec.ID, rec.Format)
		if f, err := os.Open(path); err == nil {
			rec.LocalPath = path
			s.metrics.TierResolved(TierCache)
			return f, s.touch(ctx, rec), nil
		}
		s.cache.Delete(ctx, id)
	}

	f, rec, err := s.local.Open(id)
	if err == nil {
		s.metrics.TierResolved(TierLocal)
		return f, s.touch(ctx, rec), nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, model.TrackRecord{}, err
	}

	rec, err = s.rehydrate(ctx, id)
	if err != nil {
		return nil, model.TrackRecord{}, err
	}
	f, err = os.Open(rec.LocalPath)
	if err != nil {
		return nil, model.TrackRecord{}, &model.LocalIOError{Op: "open", Path: rec.LocalPath, Err: err}
	}
	s.metrics.TierResolved(TierRemote)
	return f, rec, nil
}

// rehydrate copies a remote-only track back into the local tier.
func (s *Store) rehydrate(ctx context.Context, id string) (model.TrackRecord, error) {
	rec, err := s.remoteRecord(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.metrics.RemoteFailure("get")
			logger.Warn("remote tier read failed", logger.String("trackId", id), logger.ErrorField(err))
		}
		return model.TrackRecord{}, model.ErrNotFound
	}

	rec, err = s.rehydrateLocked(ctx, rec)
	if err != nil {
		return model.TrackRecord{}, err
	}
	if s.evictor != nil {
		s.evictor.AfterStore(ctx)
	}
	return rec, nil
}

func (s *Store) rehydrateLocked(ctx context.Context, rec model.TrackRecord) (model.TrackRecord, error) {
	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	// Another reader may have finished the copy while we waited.
	if local, err := s.local.ReadRecord(rec.ID); err == nil {
		return s.touchLocked(ctx, local), nil
	}

	data, err := s.remote.Get(ctx, audioKey(rec.ID, rec.Format))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return model.TrackRecord{}, model.ErrNotFound
		}
		s.metrics.RemoteFailure("get")
		return model.TrackRecord{}, fmt.Errorf("fetch remote audio %s: %w", rec.ID, err)
	}
	if int64(len(data)) != rec.SizeBytes {
		logger.Warn("remote audio size differs from its record",
			logger.String("trackId", rec.ID),
			logger.Int64("expected", rec.SizeBytes),
			logger.Int("actual", len(data)))
		rec.SizeBytes = int64(len(data))
	}

	path, err := s.local.WriteAudio(rec.ID, rec.Format, data)
	if err != nil {
		return model.TrackRecord{}, fmt.Errorf("rehydrate %s: %w", rec.ID, err)
	}
	rec.LocalPath = path
	rec.Location = model.LocationBoth
	rec.LastAccessedAt = s.now()
	if err := s.local.WriteRecord(rec); err != nil {
		os.Remove(path)
		return model.TrackRecord{}, fmt.Errorf("rehydrate %s: %w", rec.ID, err)
	}
	s.cache.Set(ctx, rec.ID, rec, s.opts.StreamTTL)
	logger.Info("track rehydrated from remote tier",
		logger.String("trackId", rec.ID),
		logger.Int64("size", rec.SizeBytes))
	return rec, nil
}

func (s *Store) touch(ctx context.Context, rec model.TrackRecord) model.TrackRecord {
	unlock := s.locks.Lock(rec.ID)
	defer unlock()
	return s.touchLocked(ctx, rec)
}

// touchLocked bumps LastAccessedAt. The record is only rewritten while the
// audio file still exists, so a concurrent delete never leaves a dangling record.
func (s *Store) touchLocked(ctx context.Context, rec model.TrackRecord) model.TrackRecord {
	rec.LastAccessedAt = s.now()
	path := s.local.AudioPath(rec.ID, rec.Format)
	if _, err := os.Stat(path); err != nil {
		return rec
	}
	if err := s.local.WriteRecord(rec); err != nil {
		logger.Warn("failed to update access time",
			logger.String("trackId", rec.ID), logger.ErrorField(err))
	}
	s.cache.Set(ctx, rec.ID, rec, s.opts.StreamTTL)
	return rec
}

// DeleteTrack removes a track from the cache and every tier. Only a local
// failure is returned; remote failures are logged.
func (s *Store) DeleteTrack(ctx context.Context, id string) error {
	if err := storage.ValidateTrackID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	s.cache.Delete(ctx, id)
	if err := s.local.Remove(id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.cache.Delete(ctx, id)

	if s.remote != nil {
		if err := s.deleteRemote(ctx, id); err != nil {
			s.metrics.RemoteFailure("delete")
			logger.Warn("remote delete failed",
				logger.String("trackId", id),
				logger.ErrorField(err))
		}
	}
	logger.Info("track deleted", logger.String("trackId", id))
	return nil
}

func (s *Store) deleteRemote(ctx context.Context, id string) error {
	keys, err := s.remote.List(ctx, remotePrefix+id+".")
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		name := strings.TrimPrefix(key, remotePrefix)
		if name[:strings.LastIndex(name, ".")] != id {
			continue
		}
		if err := s.remote.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Invalidate drops the cached record of a track, e.g. after its file was
// removed outside the service.
func (s *Store) Invalidate(ctx context.Context, id string) {
	s.cache.Delete(ctx, id)
}

// ListTracks returns every intact record of the local tier.
func (s *Store) ListTracks(ctx context.Context) ([]model.TrackRecord, error) {
	return s.local.List()
}

// LocalUsage returns the bytes held by the local tier.
func (s *Store) LocalUsage(ctx context.Context) (int64, error) {
	return s.local.Usage()
}

// Stats summarizes the local tier.
func (s *Store) Stats(ctx context.Context) (model.StorageStats, error) {
	records, err := s.local.List()
	if err != nil {
		return model.StorageStats{}, err
	}
	stats := model.StorageStats{
		TotalTracks:   len(records),
		QuotaBytes:    s.opts.QuotaBytes,
		CacheHitRate:  s.cache.Stats().HitRate(),
		RemoteEnabled: s.remote != nil,
	}
	for _, r := range records {
		stats.TotalBytes += r.SizeBytes
	}
	if avail := stats.QuotaBytes - stats.TotalBytes; avail > 0 {
		stats.AvailableBytes = avail
	}
	s.metrics.SetLocalBytes(stats.TotalBytes)
	return stats, nil
}
