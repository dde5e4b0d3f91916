// Package stream serves byte-range reads of stored tracks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"

	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"
)

// Opener returns the local audio file of a track. *tiered.Store implements it.
type Opener interface {
	OpenTrack(ctx context.Context, id string) (*os.File, model.TrackRecord, error)
}

// Response is a transport-neutral HTTP answer. Body is nil for 416; callers
// must Close a non-nil Body.
type Response struct {
	Status        int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Streamer is the RangeStreamer.
type Streamer struct {
	opener  Opener
	metrics *metrics.Metrics
}

func NewStreamer(opener Opener, m *metrics.Metrics) *Streamer {
	return &Streamer{opener: opener, metrics: m}
}

// Serve opens a track and prepares a full (200), partial (206) or
// unsatisfiable (416) response. A missing track returns model.ErrNotFound.
// The body is closed automatically when ctx is cancelled.
func (s *Streamer) Serve(ctx context.Context, id, rangeHeader string) (*Response, error) {
	file, rec, err := s.opener.OpenTrack(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.metrics.StreamResponse(http.StatusNotFound, 0)
		}
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &model.LocalIOError{Op: "stat", Path: file.Name(), Err: err}
	}
	size := info.Size()

	header := http.Header{}
	header.Set("Content-Type", model.ContentType(rec.Format))
	header.Set("Accept-Ranges", "bytes")

	r, partial, err := parseRange(rangeHeader, size)
	if errors.Is(err, model.ErrRangeNotSatisfiable) {
		file.Close()
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		s.metrics.StreamResponse(http.StatusRequestedRangeNotSatisfiable, 0)
		logger.Debug("range not satisfiable",
			logger.String("trackId", id),
			logger.String("range", rangeHeader),
			logger.Int64("size", size))
		return &Response{Status: http.StatusRequestedRangeNotSatisfiable, Header: header}, nil
	}

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size))
	} else {
		r = byteRange{start: 0, end: size - 1}
	}
	length := r.length()
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	s.metrics.StreamResponse(status, length)
	return &Response{
		Status:        status,
		Header:        header,
		ContentLength: length,
		Body:          newFileBody(ctx, file, r.start, length),
	}, nil
}

// fileBody reads a section of a file and closes it exactly once, either on
// Close or when the request context ends.
type fileBody struct {
	*io.SectionReader
	file *os.File
	stop func() bool
	once sync.Once
	err  error
}

func newFileBody(ctx context.Context, file *os.File, offset, length int64) *fileBody {
	b := &fileBody{
		SectionReader: io.NewSectionReader(file, offset, length),
		file:          file,
	}
	ready := make(chan struct{})
	b.stop = context.AfterFunc(ctx, func() {
		<-ready
		b.Close()
	})
	close(ready)
	return b
}

func (b *fileBody) Close() error {
	b.once.Do(func() {
		b.stop()
		b.err = b.file.Close()
	})
	return b.err
}
