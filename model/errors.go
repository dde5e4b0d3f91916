package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no tier and no resolver knows the track.
	ErrNotFound = errors.New("track not found")
	// ErrSourceUnavailable means the audio source resolver produced no usable URL.
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrRangeNotSatisfiable means the requested byte range lies outside the file.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrInvalidTrackID rejects ids that cannot be used as file names.
	ErrInvalidTrackID = errors.New("invalid track id")
)

// LocalIOError is a fatal failure of the local disk tier (disk full, permissions, ...).
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// PartialWriteError reports a store whose local write succeeded while the remote
// upload failed. It is logged, never returned to StoreTrack callers.
type PartialWriteError struct {
	TrackID string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("remote upload of %s failed, kept local copy only: %v", e.TrackID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
