// Package cache holds the short-TTL metadata index that sits in front of the
// storage tiers. Losing it only costs latency; it is never the source of truth.
package cache

import (
	"context"
	"time"

	"TrackVault/model"
)

// Default TTLs, overridable through config.
const (
	StreamTTL  = 3600 * time.Second
	DefaultTTL = 1800 * time.Second
)

// MetadataCache is the contract shared by the memory and Redis backends.
type MetadataCache interface {
	Get(ctx context.Context, key string) (model.TrackRecord, bool)
	Set(ctx context.Context, key string, record model.TrackRecord, ttl time.Duration)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string)
	Stats() Stats
}

// Entry is one cached record. It is expired once now-InsertedAt exceeds TTL.
type Entry struct {
	Key        string            `json:"key"`
	Value      model.TrackRecord `json:"value"`
	InsertedAt time.Time         `json:"insertedAt"`
	TTL        time.Duration     `json:"ttl"`
}

// Expired reports whether the entry must no longer be returned at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Stats counts Get outcomes.
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate returns hits/(hits+misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
