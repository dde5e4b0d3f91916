package model

// StorageStats is derived on demand and never persisted.
type StorageStats struct {
	TotalTracks    int     `json:"totalTracks"`
	TotalBytes     int64   `json:"totalSizeBytes"`
	QuotaBytes     int64   `json:"quotaBytes"`
	AvailableBytes int64   `json:"availableBytes"`
	CacheHitRate   float64 `json:"cacheHitRate"`
	RemoteEnabled  bool    `json:"remoteEnabled"`
}

// TotalMB returns the used size in mebibytes.
func (s StorageStats) TotalMB() float64 {
	return float64(s.TotalBytes) / 1024 / 1024
}

// QuotaGB returns the quota in gibibytes.
func (s StorageStats) QuotaGB() float64 {
	return float64(s.QuotaBytes) / 1024 / 1024 / 1024
}
