package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrackVault/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OfflineRepository persists completed offline copies keyed by (user, track).
type OfflineRepository interface {
	Get(ctx context.Context, userID, trackID string) (*model.OfflineDownload, error)
	Put(ctx context.Context, d *model.OfflineDownload) error
	Delete(ctx context.Context, userID, trackID string) error
	List(ctx context.Context, userID string) ([]model.OfflineDownload, error)
	CountByTrack(ctx context.Context, trackID string) (int64, error)
}

// gormOfflineRepository is the GORM implementation.
type gormOfflineRepository struct {
	db *gorm.DB
}

// NewGormOfflineRepository creates the catalog on top of an open database.
func NewGormOfflineRepository(db *gorm.DB) OfflineRepository {
	return &gormOfflineRepository{db: db}
}

// Get returns model.ErrNotFound for an unknown pair.
func (r *gormOfflineRepository) Get(ctx context.Context, userID, trackID string) (*model.OfflineDownload, error) {
	var d model.OfflineDownload
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND track_id = ?", userID, trackID).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get offline download: %w", err)
	}
	return &d, nil
}

// Put inserts the entry or refreshes an existing one for the same pair.
func (r *gormOfflineRepository) Put(ctx context.Context, d *model.OfflineDownload) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "artist", "quality", "format", "local_path", "size_bytes", "updated_at",
		}),
	}).Create(d).Error
	if err != nil {
		return fmt.Errorf("put offline download: %w", err)
	}
	return nil
}

// Delete removes the entry; deleting an unknown pair is not an error.
func (r *gormOfflineRepository) Delete(ctx context.Context, userID, trackID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND track_id = ?", userID, trackID).
		Delete(&model.OfflineDownload{}).Error
	if err != nil {
		return fmt.Errorf("delete offline download: %w", err)
	}
	return nil
}

// List returns the user's entries, newest first.
func (r *gormOfflineRepository) List(ctx context.Context, userID string) ([]model.OfflineDownload, error) {
	var downloads []model.OfflineDownload
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&downloads).Error
	if err != nil {
		return nil, fmt.Errorf("list offline downloads: %w", err)
	}
	return downloads, nil
}

// CountByTrack reports how many users keep a track offline.
func (r *gormOfflineRepository) CountByTrack(ctx context.Context, trackID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OfflineDownload{}).
		Where("track_id = ?", trackID).
		Count(&count).Error
	return count, err
}
