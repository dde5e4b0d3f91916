// Package app assembles the storage tiers, the download coordinator and the
// HTTP router from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"TrackVault/cache"
	"TrackVault/config"
	"TrackVault/core/audio"
	"TrackVault/core/eviction"
	"TrackVault/core/offline"
	"TrackVault/core/resolver"
	"TrackVault/core/stream"
	"TrackVault/core/tiered"
	"TrackVault/db"
	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/repository"
	"TrackVault/server"
	"TrackVault/storage"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// App owns every long-lived component.
type App struct {
	Config      *config.Config
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Local       *storage.LocalStore
	Remote      *storage.MinioStore // nil when the remote tier is disabled
	Store       *tiered.Store
	Policy      *eviction.Policy
	Coordinator *offline.Coordinator
	Router      http.Handler

	closers []func() error
}

// InitLogging configures the package logger from cfg.
func InitLogging(cfg *config.Config) error {
	return logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
}

// New connects and wires everything. On error the components opened so far
// are closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: metrics.NewRegistry(),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	a.Metrics = metrics.New(a.Registry)

	metaCache, err := a.newCache(ctx)
	if err != nil {
		return err
	}

	a.Local, err = storage.NewLocalStore(cfg.LocalStorageDir)
	if err != nil {
		return err
	}

	var remote storage.ObjectStore
	if cfg.RemoteEnabled() {
		a.Remote, err = storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}
		remote = a.Remote
	} else {
		logger.Info("remote tier disabled, running local-only")
	}

	var res resolver.AudioSourceResolver
	if cfg.ResolverBaseURL != "" {
		res = resolver.NewClient(cfg.ResolverBaseURL, cfg.ResolverTimeout)
	}

	a.Store = tiered.New(a.Local, remote, metaCache, res, tiered.Options{
		StreamTTL:  cfg.StreamCacheTTL,
		DefaultTTL: cfg.DefaultCacheTTL,
		QuotaBytes: cfg.MaxLocalStorageBytes,
	}, a.Metrics)

	a.Policy = eviction.NewPolicy(a.Store, eviction.Config{
		QuotaBytes:   cfg.MaxLocalStorageBytes,
		TriggerRatio: cfg.EvictionTriggerRatio,
		BatchRatio:   cfg.EvictionBatchRatio,
	}, a.Metrics)
	a.Store.SetEvictor(a.Policy)

	watcher, err := storage.NewWatcher(a.Local, func(trackID string) {
		a.Store.Invalidate(context.Background(), trackID)
	})
	if err != nil {
		// Cache entries then only expire by TTL.
		logger.Warn("local storage watcher unavailable", logger.ErrorField(err))
	} else {
		a.closers = append(a.closers, watcher.Close)
	}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { return db.CloseGormDB(gdb) })

	a.Coordinator = a.newCoordinator(gdb, res)

	a.Router = server.NewRouter(server.Deps{
		Store:            a.Store,
		Streamer:         stream.NewStreamer(a.Store, a.Metrics),
		Coordinator:      a.Coordinator,
		Registry:         a.Registry,
		JWTSecret:        cfg.JWTSecret,
		ProgressInterval: cfg.ProgressInterval,
	})
	return nil
}

func (a *App) newCache(ctx context.Context) (cache.MetadataCache, error) {
	switch a.Config.CacheBackend {
	case "", "memory":
		return cache.NewMemoryCache(a.Metrics), nil
	case "redis":
		client, err := cache.ConnectRedis(ctx, a.Config)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return cache.NewRedisCache(client, a.Metrics), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.Config.CacheBackend)
	}
}

func (a *App) newCoordinator(gdb *gorm.DB, res resolver.AudioSourceResolver) *offline.Coordinator {
	cfg := a.Config
	return offline.NewCoordinator(
		a.Store,
		repository.NewGormOfflineRepository(gdb),
		offline.NewMemoryJobRepository(cfg.JobGracePeriod),
		res,
		offline.NewHTTPDownloader(cfg.ResolverTimeout),
		audio.NewFFmpegProcessor(cfg.FFmpegPath),
		offline.Options{
			DefaultQuality:   cfg.DefaultQuality,
			DefaultFormat:    cfg.DefaultFormat,
			ProgressInterval: cfg.ProgressInterval,
			Timeout:          cfg.DownloadTimeout,
		},
		a.Metrics,
	)
}

// Serve runs the HTTP server until ctx ends. A startup eviction pass brings
// a directory that outgrew a lowered quota back under it.
func (a *App) Serve(ctx context.Context) error {
	go func() {
		passCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		a.Policy.AfterStore(passCtx)
	}()
	return server.Run(ctx, a.Config.HTTPAddr, a.Router)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	logger.Sync()
	return errors.Join(errs...)
}
