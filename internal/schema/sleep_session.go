package schema

import "time"

// DataQualityFlags 每条规范记录附带的数据质量标记
// 导入后可被自动重算（基线刷新）或手动修改（排除/恢复）。
type DataQualityFlags struct {
	IsComplete       bool      `gorm:"default:true" json:"is_complete"`
	HasOutliers      bool      `json:"has_outliers"`
	OutlierFields    JSONArray `gorm:"type:text" json:"outlier_fields"`
	SensorGaps       int       `json:"sensor_gaps"`
	ManuallyExcluded bool      `gorm:"index" json:"manually_excluded"`
	ExclusionReason  string    `gorm:"size:255" json:"exclusion_reason,omitempty"`
}

// SleepSession 规范化睡眠会话，按 (user_id, date) 去重
// date 使用 "night-of" 规则：凌晨 6 点前开始的会话归属前一天。
type SleepSession struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   string `gorm:"size:36;index:idx_sleep_user_date" json:"user_id"`
	SourceID string `gorm:"size:36;index" json:"source_id"`
	Date     string `gorm:"size:10;index:idx_sleep_user_date" json:"date"` // YYYY-MM-DD（night-of）

	StartedAt int64 `gorm:"index" json:"started_at"` // Unix 时间戳（毫秒）
	EndedAt   int64 `json:"ended_at"`                // Unix 时间戳（毫秒）

	DurationSeconds  int `json:"duration_seconds"` // deep+rem+light
	DeepSeconds      int `json:"deep_seconds"`
	RemSeconds       int `json:"rem_seconds"`
	LightSeconds     int `json:"light_seconds"`
	AwakeSeconds     int `json:"awake_seconds"`
	TimeInBedSeconds int `json:"time_in_bed_seconds"`

	Efficiency *float64 `json:"efficiency,omitempty"` // 0-100

	// 可选生理指标（指针区分"缺失"与 0）
	AvgHeartRate       *float64 `json:"avg_heart_rate,omitempty"`
	MinHeartRate       *float64 `json:"min_heart_rate,omitempty"`
	MaxHeartRate       *float64 `json:"max_heart_rate,omitempty"`
	AvgHrv             *float64 `json:"avg_hrv,omitempty"` // 毫秒
	AvgRespiratoryRate *float64 `json:"avg_respiratory_rate,omitempty"`

	// 可选环境指标
	AvgBedTempC  *float64 `json:"avg_bed_temp_c,omitempty"`
	AvgRoomTempC *float64 `json:"avg_room_temp_c,omitempty"`

	Quality    DataQualityFlags `gorm:"embedded;embeddedPrefix:quality_" json:"data_quality"`
	VendorData JSONMap          `gorm:"type:text" json:"vendor_data"` // 来源溯源信息（JSON）

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (SleepSession) TableName() string {
	return "sleep_sessions"
}
