package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"TrackVault/core/offline"
	"TrackVault/logger"
	"TrackVault/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type downloadRequest struct {
	TrackID    string `json:"trackId"`
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	Quality    string `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
}

// StartDownloadHandler queues an offline download and returns immediately.
func (h *Handler) StartDownloadHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.TrackID = strings.TrimSpace(req.TrackID)
	if req.TrackID == "" {
		http.Error(w, "trackId is required", http.StatusBadRequest)
		return
	}

	job, err := h.coordinator.Start(r.Context(), userID, req.TrackID, req.SourceURL, offline.DownloadOptions{
		Quality: req.Quality,
		Format:  req.Format,
		Title:   req.TrackName,
		Artist:  req.ArtistName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	message := "download started"
	if job.State == model.JobCompleted {
		message = "track already downloaded"
	}
	logger.Info("offline download requested",
		logger.String("userId", userID),
		logger.String("trackId", req.TrackID),
		logger.String("state", string(job.State)))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": message,
		"trackId": req.TrackID,
		"userId":  userID,
		"job":     job,
	})
}

// DownloadProgressHandler returns the current job, or null when none exists.
func (h *Handler) DownloadProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	job := h.coordinator.GetProgress(userID, mux.Vars(r)["trackId"])
	writeJSON(w, http.StatusOK, map[string]interface{}{"progress": job})
}

// DownloadProgressWSHandler pushes job snapshots until the job finishes or
// disappears.
func (h *Handler) DownloadProgressWSHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	trackID := mux.Vars(r)["trackId"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// Drain client frames so a close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.progressInterval)
	defer ticker.Stop()

	var last *model.DownloadJob
	for {
		job := h.coordinator.GetProgress(userID, trackID)
		if job == nil || last == nil || job.State != last.State || job.Progress != last.Progress {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]interface{}{"progress": job}); err != nil {
				logger.Debug("progress push failed", logger.ErrorField(err))
				return
			}
		}
		if job == nil || job.State.IsTerminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
		last = job

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// ListDownloadsHandler returns completed copies plus running jobs.
func (h *Handler) ListDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	downloads, err := h.coordinator.ListDownloads(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if downloads == nil {
		downloads = []model.OfflineDownload{}
	}
	active := h.coordinator.ActiveJobs(userID)
	if active == nil {
		active = []*model.DownloadJob{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"downloads": downloads,
		"active":    active,
	})
}

// RemoveDownloadHandler drops the caller's offline copy.
func (h *Handler) RemoveDownloadHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	trackID := mux.Vars(r)["trackId"]
	if err := h.coordinator.RemoveDownload(r.Context(), userID, trackID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "download removed",
		"trackId": trackID,
	})
}
