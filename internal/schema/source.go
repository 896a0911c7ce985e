package schema

import "time"

// Source 一次导入操作的溯源记录
// file_hash 用于重复文件检测（同一文件重复导入只告警不阻断）。
type Source struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	UserID string `gorm:"size:36;index" json:"user_id"`

	Vendor        string `gorm:"size:40;index" json:"vendor"`
	FileName      string `gorm:"size:255" json:"file_name"`
	FileHash      string `gorm:"size:64;index" json:"file_hash"` // SHA-256 hex
	FileSizeBytes int64  `json:"file_size_bytes"`

	SleepSessionCount   int `json:"sleep_session_count"`
	WorkoutSessionCount int `json:"workout_session_count"`
	DailyMetricCount    int `json:"daily_metric_count"`
	TimeSeriesCount     int `json:"time_series_count"`
	WarningCount        int `json:"warning_count"`

	ImportedAt time.Time `gorm:"autoCreateTime" json:"imported_at"`
}

// TableName 指定表名
func (Source) TableName() string {
	return "sources"
}
