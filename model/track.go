package model

import (
	"strings"
	"time"
)

// TrackSchemaVersion is bumped whenever the persisted TrackRecord layout changes.
const TrackSchemaVersion = 1

// Location tells which storage tiers hold the audio bytes of a track.
type Location string

const (
	LocationNone   Location = "none"
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
	LocationBoth   Location = "both"
)

// HasLocal reports whether the local tier holds the track.
func (l Location) HasLocal() bool {
	return l == LocationLocal || l == LocationBoth
}

// HasRemote reports whether the remote object store holds the track.
func (l Location) HasRemote() bool {
	return l == LocationRemote || l == LocationBoth
}

// WithLocal returns the location after a local copy has been added.
func (l Location) WithLocal() Location {
	if l.HasRemote() {
		return LocationBoth
	}
	return LocationLocal
}

// WithoutLocal returns the location after the local copy has been dropped.
func (l Location) WithoutLocal() Location {
	if l.HasRemote() {
		return LocationRemote
	}
	return LocationNone
}

// TrackRecord describes one stored track and where its bytes live.
type TrackRecord struct {
	SchemaVersion  int       `json:"schemaVersion"`
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Artist         string    `json:"artist"`
	Album          string    `json:"album"`
	Duration       float32   `json:"duration"` // seconds
	Quality        string    `json:"quality"`
	Format         string    `json:"format"`
	SizeBytes      int64     `json:"sizeBytes"`
	SourceURL      string    `json:"sourceUrl"`
	Location       Location  `json:"location"`
	LocalPath      string    `json:"-"` // filled in by the local tier, never persisted
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// TrackMetadata is what callers supply when storing a track.
type TrackMetadata struct {
	Title     string
	Artist    string
	Album     string
	Duration  float32
	Quality   string
	Format    string
	SourceURL string
}

// FileName returns the local/remote object name for the audio bytes.
// Tracks are addressed by id and format, not by content.
func (r TrackRecord) FileName() string {
	return r.ID + "." + NormalizeFormat(r.Format)
}

// NormalizeFormat lower-cases a format and strips a leading dot.
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimPrefix(format, ".")
	if format == "" {
		return "mp3"
	}
	return format
}

// ContentType maps an audio format to its MIME type.
func ContentType(format string) string {
	switch NormalizeFormat(format) {
	case "flac":
		return "audio/flac"
	case "m4a", "aac", "mp4":
		return "audio/mp4"
	case "ogg", "opus":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
