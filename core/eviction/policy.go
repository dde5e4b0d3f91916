// Package eviction keeps the local tier under its quota.
//
// A pass runs after every write. When usage exceeds TriggerRatio*quota the
// coldest BatchRatio share of records (by count, oldest LastAccessedAt first)
// is deleted. This is a batch heuristic: usage oscillates around the trigger
// point instead of being driven to an exact target.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"

	"github.com/dustin/go-humanize"
)

// Defaults used when a ratio is left at zero.
const (
	DefaultTriggerRatio = 0.8
	DefaultBatchRatio   = 0.2
)

// Store is the part of the tiered store eviction needs.
type Store interface {
	ListTracks(ctx context.Context) ([]model.TrackRecord, error)
	DeleteTrack(ctx context.Context, id string) error
}

// Config holds the quota and ratios.
type Config struct {
	QuotaBytes   int64
	TriggerRatio float64
	BatchRatio   float64
}

// Result describes one pass.
type Result struct {
	UsageBefore int64    `json:"usageBefore"`
	UsageAfter  int64    `json:"usageAfter"`
	Threshold   int64    `json:"threshold"`
	Evicted     []string `json:"evicted"`
	FreedBytes  int64    `json:"freedBytes"`
}

// Triggered reports whether the pass found usage above the threshold.
func (r Result) Triggered() bool {
	return r.UsageBefore > r.Threshold
}

// Policy runs eviction passes one at a time.
type Policy struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	mu      sync.Mutex
}

func NewPolicy(store Store, cfg Config, m *metrics.Metrics) *Policy {
	if cfg.TriggerRatio <= 0 || cfg.TriggerRatio > 1 {
		cfg.TriggerRatio = DefaultTriggerRatio
	}
	if cfg.BatchRatio <= 0 || cfg.BatchRatio > 1 {
		cfg.BatchRatio = DefaultBatchRatio
	}
	return &Policy{store: store, cfg: cfg, metrics: m}
}

// Threshold is the usage above which a pass deletes records.
func (p *Policy) Threshold() int64 {
	return int64(float64(p.cfg.QuotaBytes) * p.cfg.TriggerRatio)
}

// BatchSize returns how many of count records one pass removes: the batch
// ratio rounded up, and never less than one.
func (p *Policy) BatchSize(count int) int {
	if count == 0 {
		return 0
	}
	n := int(math.Ceil(p.cfg.BatchRatio*float64(count) - 1e-9))
	if n < 1 {
		n = 1
	}
	if n > count {
		n = count
	}
	return n
}

// Enforce runs one pass. Deletion failures are collected and returned next to
// the partial result; the remaining victims are still attempted.
func (p *Policy) Enforce(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.store.ListTracks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list local tracks: %w", err)
	}

	var usage int64
	for _, r := range records {
		usage += r.SizeBytes
	}
	res := Result{UsageBefore: usage, UsageAfter: usage, Threshold: p.Threshold()}
	if p.cfg.QuotaBytes <= 0 || usage <= res.Threshold {
		p.metrics.SetLocalBytes(usage)
		return res, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].LastAccessedAt.Equal(records[j].LastAccessedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].LastAccessedAt.Before(records[j].LastAccessedAt)
	})

	var errs []error
	for _, victim := range records[:p.BatchSize(len(records))] {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.store.DeleteTrack(ctx, victim.ID); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", victim.ID, err))
			continue
		}
		res.Evicted = append(res.Evicted, victim.ID)
		res.FreedBytes += victim.SizeBytes
	}
	res.UsageAfter = usage - res.FreedBytes

	p.metrics.Evicted(len(res.Evicted), res.FreedBytes)
	p.metrics.SetLocalBytes(res.UsageAfter)
	return res, errors.Join(errs...)
}

// AfterStore runs a pass and logs its outcome. It satisfies tiered.Evictor.
func (p *Policy) AfterStore(ctx context.Context) {
	res, err := p.Enforce(ctx)
	if err != nil {
		logger.Error("eviction pass failed",
			logger.Strings("evicted", res.Evicted),
			logger.ErrorField(err))
		return
	}
	if res.Triggered() {
		logger.Info("eviction pass",
			logger.Int("evicted", len(res.Evicted)),
			logger.String("freed", humanize.IBytes(uint64(res.FreedBytes))),
			logger.String("usageBefore", humanize.IBytes(uint64(res.UsageBefore))),
			logger.String("usageAfter", humanize.IBytes(uint64(res.UsageAfter))),
			logger.String("threshold", humanize.IBytes(uint64(res.Threshold))))
	}
}
