package schema

import "time"

// WorkoutType 规范运动类型（封闭枚举，未知类型落入 WorkoutOther）
const (
	WorkoutStrength = "strength"
	WorkoutRunning  = "running"
	WorkoutCycling  = "cycling"
	WorkoutCardio   = "cardio"
	WorkoutHIIT     = "hiit"
	WorkoutWalking  = "walking"
	WorkoutSwimming = "swimming"
	WorkoutYoga     = "yoga"
	WorkoutOther    = "other"
)

// WorkoutSession 规范化运动会话
type WorkoutSession struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   string `gorm:"size:36;index:idx_workout_user_date" json:"user_id"`
	SourceID string `gorm:"size:36;index" json:"source_id"`
	Date     string `gorm:"size:10;index:idx_workout_user_date" json:"date"` // YYYY-MM-DD

	StartedAt int64  `gorm:"index" json:"started_at"` // Unix 时间戳（毫秒）
	EndedAt   *int64 `json:"ended_at,omitempty"`      // 部分来源无结束时间

	DurationSeconds int    `json:"duration_seconds"`
	WorkoutType     string `gorm:"size:20;index" json:"workout_type"`
	WorkoutSubtype  string `gorm:"size:100" json:"workout_subtype,omitempty"` // 自由文本，如 "Tread 50"

	// 可选强度/表现指标
	Calories     *float64 `json:"calories,omitempty"`
	AvgHeartRate *float64 `json:"avg_heart_rate,omitempty"`
	MaxHeartRate *float64 `json:"max_heart_rate,omitempty"`
	SplatPoints  *float64 `json:"splat_points,omitempty"` // 场馆类来源特有

	// 心率区间分钟数（Zone1 最低强度）
	Zone1Minutes *float64 `json:"zone1_minutes,omitempty"`
	Zone2Minutes *float64 `json:"zone2_minutes,omitempty"`
	Zone3Minutes *float64 `json:"zone3_minutes,omitempty"`
	Zone4Minutes *float64 `json:"zone4_minutes,omitempty"`
	Zone5Minutes *float64 `json:"zone5_minutes,omitempty"`

	Distance     *float64 `json:"distance,omitempty"`
	DistanceUnit string   `gorm:"size:10" json:"distance_unit,omitempty"` // km / mi / m

	Quality    DataQualityFlags `gorm:"embedded;embeddedPrefix:quality_" json:"data_quality"`
	VendorData JSONMap          `gorm:"type:text" json:"vendor_data"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (WorkoutSession) TableName() string {
	return "workout_sessions"
}
