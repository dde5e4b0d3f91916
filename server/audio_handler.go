package server

import (
	"errors"
	"io"
	"net/http"
	"syscall"

	"TrackVault/logger"

	"github.com/gorilla/mux"
)

// StreamAudioHandler serves a track with byte-range support.
func (h *Handler) StreamAudioHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["trackId"]

	resp, err := h.streamer.Serve(r.Context(), trackID, r.Header.Get("Range"))
	if err != nil {
		writeError(w, err)
		return
	}
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.Status)
	if resp.Body == nil {
		return
	}
	defer resp.Body.Close()
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) && r.Context().Err() == nil {
		logger.Warn("stream interrupted",
			logger.String("trackId", trackID),
			logger.Int64("written", n),
			logger.ErrorField(err))
	}
}

// TrackLocationHandler reports where a track currently lives.
func (h *Handler) TrackLocationHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.ResolveLocation(r.Context(), mux.Vars(r)["trackId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cacheStatsResponse struct {
	TotalTracks    int     `json:"totalTracks"`
	TotalSizeBytes int64   `json:"totalSizeBytes"`
	TotalSizeMB    float64 `json:"totalSizeMB"`
	MaxStorageGB   float64 `json:"maxStorageGB"`
	AvailableBytes int64   `json:"availableBytes"`
	RemoteEnabled  bool    `json:"remoteEnabled"`
	CacheHitRate   float64 `json:"cacheHitRate"`
}

// CacheStatsHandler reports storage usage.
func (h *Handler) CacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		TotalTracks:    stats.TotalTracks,
		TotalSizeBytes: stats.TotalBytes,
		TotalSizeMB:    stats.TotalMB(),
		MaxStorageGB:   stats.QuotaGB(),
		AvailableBytes: stats.AvailableBytes,
		RemoteEnabled:  stats.RemoteEnabled,
		CacheHitRate:   stats.CacheHitRate,
	})
}
