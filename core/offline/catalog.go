package offline

import (
	"context"

	"TrackVault/model"
)

// Catalog persists completed offline copies per user. Get returns
// model.ErrNotFound for an unknown pair.
type Catalog interface {
	Get(ctx context.Context, userID, trackID string) (*model.OfflineDownload, error)
	Put(ctx context.Context, d *model.OfflineDownload) error
	Delete(ctx context.Context, userID, trackID string) error
	List(ctx context.Context, userID string) ([]model.OfflineDownload, error)
}

// TrackStore is the part of the tiered store downloads need.
type TrackStore interface {
	GetTrack(ctx context.Context, id string) (model.TrackRecord, error)
	StoreTrack(ctx context.Context, id string, data []byte, meta model.TrackMetadata) (model.TrackRecord, error)
}
