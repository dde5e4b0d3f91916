package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is a step of the offline download state machine.
type JobState string

const (
	JobQueued      JobState = "queued"
	JobDownloading JobState = "downloading"
	JobConverting  JobState = "converting"
	JobCompleted   JobState = "completed"
	JobFailed      JobState = "failed"
)

// Progress bounds for each state.
const (
	ProgressDownloadCap = 89
	ProgressConverting  = 90
	ProgressDone        = 100
)

// ErrInvalidTransition rejects a state change that would move a job backwards
// or modify a finished job.
var ErrInvalidTransition = errors.New("invalid download job transition")

// jobNamespace scopes the name-based job ids.
var jobNamespace = uuid.MustParse("6f1c3a52-8d0e-4c55-9a57-0f3e1d2b7c41")

func (s JobState) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobDownloading:
		return 1
	case JobConverting:
		return 2
	case JobCompleted, JobFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether moving from s to next keeps the state machine
// one-directional. Staying in the same non-terminal state is allowed.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobFailed {
		return true
	}
	return next.rank() >= s.rank() && next.rank() >= 0
}

// DownloadJob tracks one user-initiated offline download.
type DownloadJob struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	TrackID           string     `json:"trackId"`
	State             JobState   `json:"state"`
	Progress          int        `json:"progress"`
	ProgressEstimated bool       `json:"progressEstimated"`
	Message           string     `json:"message"`
	Attempt           uint64     `json:"attempt"` // set by the job repository, unique per registration
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// JobID derives the stable job id for a (user, track) pair.
func JobID(userID, trackID string) string {
	return uuid.NewSHA1(jobNamespace, []byte(userID+"\x00"+trackID)).String()
}

// Clone returns a deep copy safe to hand to other components.
func (j *DownloadJob) Clone() *DownloadJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Advance moves the job to next. Progress is clamped to the band of the target
// state and never decreases; a failed job keeps the progress it reached.
func (j *DownloadJob) Advance(next JobState, progress int, message string, now time.Time) error {
	if !j.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	switch next {
	case JobQueued:
		progress = 0
	case JobDownloading:
		progress = min(max(progress, 0), ProgressDownloadCap)
	case JobConverting:
		progress = ProgressConverting
	case JobCompleted:
		progress = ProgressDone
	case JobFailed:
		progress = j.Progress
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.State = next
	if message != "" {
		j.Message = message
	}
	if next.IsTerminal() {
		t := now
		j.CompletedAt = &t
	}
	return nil
}
