package quality

// 硬性生理范围：超出即硬违规，与个人基线无关。
// 范围刻意放宽到极端但仍可能的人类数值，只拦截传感器或解析错误。

type hardLimit struct {
	Min float64
	Max float64
}

const (
	// MinSleepSeconds / MaxSleepSeconds 睡眠时长的可信区间（30 分钟 ~ 16 小时）
	MinSleepSeconds = 30 * 60
	MaxSleepSeconds = 16 * 3600

	// MaxStagePercent 单一睡眠阶段占总时长的上限
	MaxStagePercent = 60.0
)

var heartRateLimit = hardLimit{Min: 25, Max: 220}

var hardLimits = map[string]hardLimit{
	"avg_heart_rate":       heartRateLimit,
	"min_heart_rate":       heartRateLimit,
	"max_heart_rate":       heartRateLimit,
	"avg_hrv":              {Min: 5, Max: 300},
	"avg_respiratory_rate": {Min: 4, Max: 40},
	"efficiency":           {Min: 0, Max: 100},
	"duration_seconds":     {Min: MinSleepSeconds, Max: MaxSleepSeconds},
}

// checkHardLimit 值在范围内返回 true；字段无已知范围时视为通过
func checkHardLimit(field string, value float64) bool {
	limit, ok := hardLimits[field]
	if !ok {
		return true
	}
	return value >= limit.Min && value <= limit.Max
}
