package model

import "time"

// OfflineDownload is the catalog row for a completed offline copy.
type OfflineDownload struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:idx_offline_user_track" json:"userId"`
	TrackID   string    `gorm:"size:128;not null;uniqueIndex:idx_offline_user_track" json:"trackId"`
	Title     string    `gorm:"size:255" json:"title"`
	Artist    string    `gorm:"size:255" json:"artist"`
	Quality   string    `gorm:"size:32" json:"quality"`
	Format    string    `gorm:"size:16" json:"format"`
	LocalPath string    `gorm:"size:500" json:"-"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (OfflineDownload) TableName() string {
	return "offline_downloads"
}
