package offline

import (
	"sync"
	"sync/atomic"
	"time"

	"TrackVault/model"
)

// ProgressFunc receives download progress in percent (0-89) and whether the
// value is an estimate.
type ProgressFunc func(progress int, estimated bool)

// ProgressReporter observes the bytes of a transfer. Downloaded data is
// written through it; Start and Stop bracket the transfer.
type ProgressReporter interface {
	Write(p []byte) (int, error)
	Start()
	Stop()
	Estimated() bool
}

// NewProgressReporter counts real bytes when the transfer size is known and
// falls back to simulated ticks otherwise.
func NewProgressReporter(total int64, interval time.Duration, report ProgressFunc) ProgressReporter {
	if total > 0 {
		return &byteReporter{total: total, report: report}
	}
	return newSimulatedReporter(interval, report)
}

type byteReporter struct {
	total    int64
	received atomic.Int64
	last     atomic.Int64
	report   ProgressFunc
}

func (r *byteReporter) Start()          {}
func (r *byteReporter) Stop()           {}
func (r *byteReporter) Estimated() bool { return false }

func (r *byteReporter) Write(p []byte) (int, error) {
	n := r.received.Add(int64(len(p)))
	pct := n * model.ProgressDownloadCap / r.total
	if pct > model.ProgressDownloadCap {
		pct = model.ProgressDownloadCap
	}
	if prev := r.last.Load(); pct > prev && r.last.CompareAndSwap(prev, pct) {
		r.report(int(pct), false)
	}
	return len(p), nil
}

// Simulated progress climbs by simulatedStep per tick and stalls at
// simulatedCeiling until the transfer ends.
const (
	simulatedStep    = 5
	simulatedCeiling = 85
)

// simulatedReporter reports an estimate for transfers of unknown length.
type simulatedReporter struct {
	interval time.Duration
	report   ProgressFunc
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func newSimulatedReporter(interval time.Duration, report ProgressFunc) *simulatedReporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &simulatedReporter{interval: interval, report: report, done: make(chan struct{})}
}

func (r *simulatedReporter) Estimated() bool { return true }

func (r *simulatedReporter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (r *simulatedReporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		progress := 0
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				if progress >= simulatedCeiling {
					continue
				}
				progress = min(progress+simulatedStep, simulatedCeiling)
				r.report(progress, true)
			}
		}
	}()
}

func (r *simulatedReporter) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}
