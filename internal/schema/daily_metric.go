package schema

import "time"

// MetricType 常见单点指标类型
const (
	MetricBodyMass        = "body_mass" // 体重
	MetricRestingHR       = "resting_heart_rate"
	MetricBodyFatPercent  = "body_fat_percent"
	MetricBloodOxygen     = "blood_oxygen"
	MetricReadinessScore  = "readiness_score"
	MetricStepCount       = "step_count"
	MetricActiveEnergyKJ  = "active_energy"
	MetricRespiratoryRate = "respiratory_rate"
)

// DailyMetric 单日单点读数，如体重、静息心率
type DailyMetric struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   string `gorm:"size:36;index:idx_metric_user_date" json:"user_id"`
	SourceID string `gorm:"size:36;index" json:"source_id"`
	Date     string `gorm:"size:10;index:idx_metric_user_date" json:"date"` // YYYY-MM-DD

	MetricType string  `gorm:"size:40;index" json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `gorm:"size:20" json:"unit"`

	Quality    DataQualityFlags `gorm:"embedded;embeddedPrefix:quality_" json:"data_quality"`
	VendorData JSONMap          `gorm:"type:text" json:"vendor_data"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (DailyMetric) TableName() string {
	return "daily_metrics"
}

// TimeSeries 导入时伴随会话产生的逐样本序列（心率/HRV/呼吸/体温）
// 数据量级：每晚数百点，按会话整段存储。
type TimeSeries struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   string `gorm:"size:36;index:idx_series_user_date" json:"user_id"`
	SourceID string `gorm:"size:36;index" json:"source_id"`
	Date     string `gorm:"size:10;index:idx_series_user_date" json:"date"`

	SeriesType      string      `gorm:"size:30;index" json:"series_type"` // heart_rate / hrv / respiratory_rate / bed_temp
	IntervalSeconds int         `json:"interval_seconds"`                 // 估算采样间隔
	GapCount        int         `json:"gap_count"`                        // null 采样数
	Samples         SampleArray `gorm:"type:text" json:"samples"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (TimeSeries) TableName() string {
	return "time_series"
}
