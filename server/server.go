// Package server exposes streaming, offline downloads and cache statistics
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"TrackVault/core/offline"
	"TrackVault/core/stream"
	"TrackVault/core/tiered"
	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the components the handlers call into.
type Deps struct {
	Store            *tiered.Store
	Streamer         *stream.Streamer
	Coordinator      *offline.Coordinator
	Registry         *prometheus.Registry // nil disables /metrics
	JWTSecret        string
	ProgressInterval time.Duration
}

// Handler holds the HTTP handlers.
type Handler struct {
	store            *tiered.Store
	streamer         *stream.Streamer
	coordinator      *offline.Coordinator
	progressInterval time.Duration
}

// NewRouter builds the route table.
func NewRouter(d Deps) *mux.Router {
	interval := d.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	h := &Handler{
		store:            d.Store,
		streamer:         d.Streamer,
		coordinator:      d.Coordinator,
		progressInterval: interval,
	}

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/audio/{trackId}", h.StreamAudioHandler).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/audio/{trackId}/location", h.TrackLocationHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/cache/stats", h.CacheStatsHandler).Methods(http.MethodGet, http.MethodOptions)

	offlineRouter := router.PathPrefix("/offline").Subrouter()
	offlineRouter.Use(AuthMiddleware(d.JWTSecret))
	offlineRouter.HandleFunc("/download", h.StartDownloadHandler).Methods(http.MethodPost, http.MethodOptions)
	offlineRouter.HandleFunc("/download/{trackId}", h.RemoveDownloadHandler).Methods(http.MethodDelete, http.MethodOptions)
	offlineRouter.HandleFunc("/download/{trackId}/progress", h.DownloadProgressHandler).Methods(http.MethodGet, http.MethodOptions)
	offlineRouter.HandleFunc("/download/{trackId}/progress/ws", h.DownloadProgressWSHandler).Methods(http.MethodGet)
	offlineRouter.HandleFunc("/downloads", h.ListDownloadsHandler).Methods(http.MethodGet, http.MethodOptions)

	if d.Registry != nil {
		router.Handle("/metrics", metrics.Handler(d.Registry)).Methods(http.MethodGet)
	}
	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range, X-User-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidTrackID):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrRangeNotSatisfiable):
		status = http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, model.ErrSourceUnavailable):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", logger.ErrorField(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
