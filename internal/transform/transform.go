package transform

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peterpiperpicked4/vaulthealth/internal/parser"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// Transformer 声明式映射引擎：没有专用解析器的来源按 ImporterProfile
// 描述的 路径提取 → 字段变换 → 行过滤 流程转成规范记录。
type Transformer struct{}

// NewTransformer 创建变换器
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Apply 按 profile 把解码后的数据（JSON 值或 CSV 行数组）转为规范记录。
// 单行问题记告警继续；字段级缺失只放弃该字段。
func (t *Transformer) Apply(ctx context.Context, profile *schema.ImporterProfile, data interface{}, in parser.Input) (*parser.Result, error) {
	if profile == nil || len(profile.Mappings) == 0 {
		return nil, fmt.Errorf("导入配置缺少映射")
	}

	out := &parser.Result{}
	for _, mapping := range profile.Mappings {
		rows := ExtractRows(data, mapping.SourcePath)
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if mapping.Filter != nil && !matchFilter(row, mapping.Filter) {
				continue
			}

			fields, warns := t.resolveFields(mapping.Fields, row, i)
			out.Warnings = append(out.Warnings, warns...)

			if warn := t.materialize(out, mapping.Target, fields, in, i); warn != nil {
				out.Warnings = append(out.Warnings, *warn)
			}
		}
	}
	return out, nil
}

// resolveFields 逐字段求值；required 字段落空只记日志放弃该字段，不弃整行
func (t *Transformer) resolveFields(mappings []schema.FieldMapping, row interface{}, rowIdx int) (map[string]interface{}, []parser.Warning) {
	fields := make(map[string]interface{}, len(mappings))
	var warnings []parser.Warning

	for _, fm := range mappings {
		value, ok := t.resolveField(fm, row)
		if !ok {
			if fm.Required {
				slog.Debug("必填字段缺失", "target", fm.Target, "row", rowIdx)
				warnings = append(warnings, parser.Warning{
					Kind:     parser.WarnMissingField,
					Message:  fmt.Sprintf("字段 %s 无法解析", fm.Target),
					Field:    fm.Target,
					RowIndex: &rowIdx,
				})
			}
			continue
		}
		fields[fm.Target] = value
	}
	return fields, warnings
}

// resolveField 单字段：取源值 → 施加变换
func (t *Transformer) resolveField(fm schema.FieldMapping, row interface{}) (interface{}, bool) {
	kind := fm.Transform
	if kind == "" {
		kind = schema.TransformDirect
	}

	// coalesce 自己遍历候选来源
	if kind == schema.TransformCoalesce {
		for _, src := range fm.Sources {
			if v, ok := sourceValue(row, src); ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}

	raw, ok := sourceValue(row, fm.Source)
	if !ok && kind != schema.TransformCompute {
		return nil, false
	}

	switch kind {
	case schema.TransformDirect:
		return raw, true

	case schema.TransformTimestamp:
		return transformTimestamp(raw)

	case schema.TransformDuration:
		v, ok := toFloat(raw)
		if !ok {
			return nil, false
		}
		// 以秒为中间单位换算
		from := schema.GetString(fm.Params, "from_unit")
		to := schema.GetString(fm.Params, "to_unit")
		seconds := v * unitToSeconds(from)
		target := unitToSeconds(to)
		if target == 0 {
			return nil, false
		}
		return seconds / target, true

	case schema.TransformMultiply:
		v, ok := toFloat(raw)
		factor, okF := schema.GetFloat(fm.Params, "factor")
		if !ok || !okF {
			return nil, false
		}
		return v * factor, true

	case schema.TransformDivide:
		v, ok := toFloat(raw)
		factor, okF := schema.GetFloat(fm.Params, "factor")
		if !ok || !okF || factor == 0 {
			return nil, false
		}
		return v / factor, true

	case schema.TransformMap:
		table, ok := fm.Params["table"].(map[string]interface{})
		if !ok {
			return nil, false
		}
		key, _ := stringValue(raw)
		mapped, hit := table[key]
		return mapped, hit

	case schema.TransformRegex:
		pattern := schema.GetString(fm.Params, "pattern")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, false
		}
		s, _ := stringValue(raw)
		m := re.FindStringSubmatch(s)
		if len(m) < 2 {
			return nil, false
		}
		return m[1], true

	case schema.TransformJSONPath:
		return EvalPath(row, schema.GetString(fm.Params, "path"))

	case schema.TransformCompute:
		v, ok := evalCompute(schema.GetString(fm.Params, "formula"), row)
		if !ok {
			return nil, false
		}
		return v, true

	default:
		return nil, false
	}
}

// sourceValue 源表达式：'单引号字面量'、简单键名或点号/下标路径
func sourceValue(row interface{}, source string) (interface{}, bool) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, false
	}
	if strings.HasPrefix(source, "'") && strings.HasSuffix(source, "'") && len(source) >= 2 {
		return source[1 : len(source)-1], true
	}
	return EvalPath(row, source)
}

// transformTimestamp unix 秒/毫秒 → 毫秒时间戳（1e12 以上视为毫秒）
func transformTimestamp(raw interface{}) (interface{}, bool) {
	v, ok := toFloat(raw)
	if !ok {
		// 兼容 ISO 字符串时间
		if s, isStr := stringValue(raw); isStr {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UnixMilli(), true
			}
		}
		return nil, false
	}
	if v > 1e12 {
		return int64(v), true
	}
	return int64(v) * 1000, true
}

func unitToSeconds(unit string) float64 {
	switch strings.ToLower(unit) {
	case "", "s", "sec", "second", "seconds":
		return 1
	case "ms", "millisecond", "milliseconds":
		return 0.001
	case "m", "min", "minute", "minutes":
		return 60
	case "h", "hr", "hour", "hours":
		return 3600
	default:
		return 0
	}
}

// matchFilter 行级过滤：等值或数值比较
func matchFilter(row interface{}, f *schema.RowFilter) bool {
	raw, ok := EvalPath(row, f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case "eq", "":
		a, _ := stringValue(raw)
		b, _ := stringValue(f.Value)
		return a == b
	case "ne":
		a, _ := stringValue(raw)
		b, _ := stringValue(f.Value)
		return a != b
	}

	a, okA := toFloat(raw)
	b, okB := toFloat(f.Value)
	if !okA || !okB {
		return false
	}
	switch f.Op {
	case "gt":
		return a > b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "lte":
		return a <= b
	default:
		return false
	}
}

// materialize 已解析字段 → 目标表的规范记录
func (t *Transformer) materialize(out *parser.Result, target string, fields map[string]interface{}, in parser.Input, rowIdx int) *parser.Warning {
	date := fieldString(fields, "date")
	startedAt := fieldInt64(fields, "started_at")
	if date == "" && startedAt > 0 {
		date = time.UnixMilli(startedAt).Local().Format("2006-01-02")
	}
	if date == "" {
		w := parser.RowWarning(parser.WarnMissingField, "行缺少 date，已跳过", rowIdx)
		return &w
	}
	// 归一化日期形貌（允许带时间后缀的 ISO 串）
	if len(date) > 10 {
		date = date[:10]
	}
	if normalized, err := time.Parse("2006-01-02", date); err == nil {
		date = normalized.Format("2006-01-02")
	} else {
		w := parser.RowWarning(parser.WarnParseError, fmt.Sprintf("无法识别的日期 %q", date), rowIdx)
		return &w
	}

	switch target {
	case "sleep_sessions":
		s := schema.SleepSession{
			ID:               uuid.NewString(),
			UserID:           in.UserID,
			SourceID:         in.SourceID,
			Date:             date,
			StartedAt:        startedAt,
			EndedAt:          fieldInt64(fields, "ended_at"),
			DurationSeconds:  int(fieldFloat(fields, "duration_seconds")),
			DeepSeconds:      int(fieldFloat(fields, "deep_seconds")),
			RemSeconds:       int(fieldFloat(fields, "rem_seconds")),
			LightSeconds:     int(fieldFloat(fields, "light_seconds")),
			AwakeSeconds:     int(fieldFloat(fields, "awake_seconds")),
			TimeInBedSeconds: int(fieldFloat(fields, "time_in_bed_seconds")),
			Quality:          schema.DataQualityFlags{IsComplete: true},
			VendorData:       schema.JSONMap{"source": "profile"},
		}
		s.Efficiency = fieldPtr(fields, "efficiency")
		if s.Efficiency != nil && *s.Efficiency > 100 {
			clamped := 100.0
			s.Efficiency = &clamped
		}
		s.AvgHeartRate = fieldPtr(fields, "avg_heart_rate")
		s.MinHeartRate = fieldPtr(fields, "min_heart_rate")
		s.MaxHeartRate = fieldPtr(fields, "max_heart_rate")
		s.AvgHrv = fieldPtr(fields, "avg_hrv")
		s.AvgRespiratoryRate = fieldPtr(fields, "avg_respiratory_rate")
		out.SleepSessions = append(out.SleepSessions, s)

	case "workout_sessions":
		w := schema.WorkoutSession{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			SourceID:        in.SourceID,
			Date:            date,
			StartedAt:       startedAt,
			DurationSeconds: int(fieldFloat(fields, "duration_seconds")),
			WorkoutType:     fieldString(fields, "workout_type"),
			WorkoutSubtype:  fieldString(fields, "workout_subtype"),
			Quality:         schema.DataQualityFlags{IsComplete: true},
			VendorData:      schema.JSONMap{"source": "profile"},
		}
		if w.WorkoutType == "" {
			w.WorkoutType = schema.WorkoutOther
		}
		w.Calories = fieldPtr(fields, "calories")
		w.AvgHeartRate = fieldPtr(fields, "avg_heart_rate")
		w.MaxHeartRate = fieldPtr(fields, "max_heart_rate")
		w.Distance = fieldPtr(fields, "distance")
		w.DistanceUnit = fieldString(fields, "distance_unit")
		out.WorkoutSessions = append(out.WorkoutSessions, w)

	case "daily_metrics":
		metricType := fieldString(fields, "metric_type")
		value, hasValue := fields["value"]
		if metricType == "" || !hasValue {
			w := parser.RowWarning(parser.WarnMissingField, "指标行缺少 metric_type/value，已跳过", rowIdx)
			return &w
		}
		v, ok := toFloat(value)
		if !ok {
			w := parser.RowWarning(parser.WarnParseError, "指标 value 不是数值，已跳过", rowIdx)
			return &w
		}
		out.DailyMetrics = append(out.DailyMetrics, schema.DailyMetric{
			ID:         uuid.NewString(),
			UserID:     in.UserID,
			SourceID:   in.SourceID,
			Date:       date,
			MetricType: metricType,
			Value:      v,
			Unit:       fieldString(fields, "unit"),
			Quality:    schema.DataQualityFlags{IsComplete: true},
			VendorData: schema.JSONMap{"source": "profile"},
		})

	default:
		w := parser.RowWarning(parser.WarnParseError, fmt.Sprintf("未知目标表 %q", target), rowIdx)
		return &w
	}
	return nil
}

func fieldString(fields map[string]interface{}, key string) string {
	s, _ := stringValue(fields[key])
	return s
}

func fieldFloat(fields map[string]interface{}, key string) float64 {
	v, _ := toFloat(fields[key])
	return v
}

func fieldInt64(fields map[string]interface{}, key string) int64 {
	v, _ := toFloat(fields[key])
	return int64(v)
}

func fieldPtr(fields map[string]interface{}, key string) *float64 {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	v, ok := toFloat(raw)
	if !ok {
		return nil
	}
	return &v
}

// toFloat 宽松数值转换（JSON 数值、字符串数字、整型）
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}
