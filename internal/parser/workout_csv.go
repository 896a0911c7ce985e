package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 时长列解析失败时的缺省值
const defaultWorkoutMinutes = 60

// WorkoutCSVParser 运动课程 CSV 解析器（弹性表头）
// 各家导出的列名差异很大，先用别名表把表头映射到规范字段，再逐行解析。
type WorkoutCSVParser struct{}

// NewWorkoutCSVParser 创建运动 CSV 解析器
func NewWorkoutCSVParser() *WorkoutCSVParser {
	return &WorkoutCSVParser{}
}

// Vendor 厂商标识
func (p *WorkoutCSVParser) Vendor() string {
	return detect.VendorStudioCSV
}

// 规范字段 → 表头别名列表（大小写不敏感的子串匹配）
var workoutColumnAliases = map[string][]string{
	"date":         {"date", "class date", "workout date", "day"},
	"class_type":   {"class type", "class name", "workout type", "class", "activity", "type"},
	"duration_min": {"duration", "minutes", "length"},
	"calories":     {"calorie", "kcal", "energy"},
	"splat_points": {"splat"},
	"avg_hr":       {"avg hr", "average hr", "avg heart", "average heart"},
	"max_hr":       {"max hr", "peak hr", "max heart", "peak heart"},
	"zone1_min":    {"zone 1", "gray zone", "grey zone"},
	"zone2_min":    {"zone 2", "blue zone"},
	"zone3_min":    {"zone 3", "green zone"},
	"zone4_min":    {"zone 4", "orange zone"},
	"zone5_min":    {"zone 5", "red zone"},
	"distance_1":   {"treadmill distance", "tread distance", "distance"},
	"distance_2":   {"rower distance", "row distance", "strider distance"},
}

// Parse 解析 CSV：建列映射 → 逐行出 WorkoutSession，无日期的行跳过
func (p *WorkoutCSVParser) Parse(ctx context.Context, in Input) (*Result, error) {
	headers, rows, err := csvRows(in.Content)
	if err != nil {
		return nil, err
	}

	colMap := buildColumnMap(headers)
	if _, ok := colMap["date"]; !ok {
		return nil, fmt.Errorf("CSV 缺少可识别的日期列")
	}

	out := &Result{}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session := p.parseRow(row, colMap, in)
		if session == nil {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnParseError, "无法解析行内日期，已跳过", i+1))
			continue
		}
		out.WorkoutSessions = append(out.WorkoutSessions, *session)
	}
	return out, nil
}

// buildColumnMap 规范字段 → 实际表头列名
func buildColumnMap(headers []string) map[string]string {
	colMap := make(map[string]string)
	for field, aliases := range workoutColumnAliases {
		for _, h := range headers {
			lower := strings.ToLower(h)
			for _, alias := range aliases {
				if strings.Contains(lower, alias) {
					if _, taken := colMap[field]; !taken {
						colMap[field] = h
					}
				}
			}
		}
	}
	// distance 的泛别名可能抢占 treadmill 列，确保两个距离字段不指向同一列
	if colMap["distance_1"] != "" && colMap["distance_1"] == colMap["distance_2"] {
		delete(colMap, "distance_2")
	}
	return colMap
}

// parseRow 单行 → WorkoutSession，日期解析失败返回 nil（不报错）
func (p *WorkoutCSVParser) parseRow(row map[string]string, colMap map[string]string, in Input) *schema.WorkoutSession {
	date, ok := parseFlexibleDate(row[colMap["date"]])
	if !ok {
		return nil
	}

	classText := row[colMap["class_type"]]
	durationMin := defaultWorkoutMinutes
	if v, ok := cellFloat(row, colMap, "duration_min"); ok && v > 0 {
		durationMin = int(v)
	}

	// 精确开始时刻通常不可得，用当天零点锚定
	dayStart, _ := time.ParseInLocation("2006-01-02", date, time.Local)

	rawRow := schema.JSONMap{}
	for k, v := range row {
		rawRow[k] = v
	}

	session := &schema.WorkoutSession{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		SourceID:        in.SourceID,
		Date:            date,
		StartedAt:       dayStart.UnixMilli(),
		DurationSeconds: durationMin * 60,
		WorkoutType:     classifyWorkout(classText),
		WorkoutSubtype:  strings.TrimSpace(classText),
		Quality:         schema.DataQualityFlags{IsComplete: true},
		VendorData: schema.JSONMap{
			"source":  detect.VendorStudioCSV,
			"raw_row": rawRow,
		},
	}

	if v, ok := cellFloat(row, colMap, "calories"); ok {
		session.Calories = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "splat_points"); ok {
		session.SplatPoints = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "avg_hr"); ok {
		session.AvgHeartRate = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "max_hr"); ok {
		session.MaxHeartRate = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "zone1_min"); ok {
		session.Zone1Minutes = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "zone2_min"); ok {
		session.Zone2Minutes = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "zone3_min"); ok {
		session.Zone3Minutes = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "zone4_min"); ok {
		session.Zone4Minutes = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "zone5_min"); ok {
		session.Zone5Minutes = floatPtr(v)
	}
	if v, ok := cellFloat(row, colMap, "distance_1"); ok {
		session.Distance = floatPtr(v)
		session.DistanceUnit = "km"
	} else if v, ok := cellFloat(row, colMap, "distance_2"); ok {
		session.Distance = floatPtr(v)
		session.DistanceUnit = "m"
	}

	return session
}

// classifyWorkout 课程名子串 → 规范运动类型，默认 HIIT 类课程
func classifyWorkout(classText string) string {
	lower := strings.ToLower(classText)
	switch {
	case strings.Contains(lower, "lift"), strings.Contains(lower, "strength"):
		return schema.WorkoutStrength
	case strings.Contains(lower, "run"), strings.Contains(lower, "tread"):
		return schema.WorkoutRunning
	case strings.Contains(lower, "row"):
		return schema.WorkoutCardio
	default:
		return schema.WorkoutHIIT
	}
}

// parseFlexibleDate 日期格式级联：ISO 前缀 → 美式 → 欧式 → 原生解析
func parseFlexibleDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// ISO：取 YYYY-MM-DD 前缀（可能带时间后缀）
	if len(raw) >= 10 {
		if t, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	// 美式 M/D/YYYY 或 M/D/YY（两位年以 50 为轴）
	if parts := strings.Split(raw, "/"); len(parts) == 3 {
		m, errM := strconv.Atoi(strings.TrimSpace(parts[0]))
		d, errD := strconv.Atoi(strings.TrimSpace(parts[1]))
		y, errY := strconv.Atoi(strings.TrimSpace(parts[2]))
		if errM == nil && errD == nil && errY == nil && m >= 1 && m <= 12 && d >= 1 && d <= 31 {
			if y < 100 {
				if y < 50 {
					y += 2000
				} else {
					y += 1900
				}
			}
			return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
		}
	}

	// 欧式 D.M.YYYY
	if parts := strings.Split(raw, "."); len(parts) == 3 {
		d, errD := strconv.Atoi(strings.TrimSpace(parts[0]))
		m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
		y, errY := strconv.Atoi(strings.TrimSpace(parts[2]))
		if errD == nil && errM == nil && errY == nil && m >= 1 && m <= 12 && d >= 1 && d <= 31 && y >= 1000 {
			return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
		}
	}

	// 原生解析兜底
	for _, layout := range []string{time.RFC3339, "2006/01/02", "Jan 2, 2006", "January 2, 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func cellFloat(row map[string]string, colMap map[string]string, field string) (float64, bool) {
	col, ok := colMap[field]
	if !ok {
		return 0, false
	}
	raw := strings.TrimSpace(row[col])
	if raw == "" {
		return 0, false
	}
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ColumnAnalysis 表头映射诊断，供 UI 辅助人工映射
type ColumnAnalysis struct {
	Mapped      map[string]string   `json:"mapped"`      // 规范字段 → 命中表头
	Unmapped    []string            `json:"unmapped"`    // 未被任何字段吸收的表头
	Suggestions map[string][]string `json:"suggestions"` // 未命中字段 → 近似表头候选
}

// AnalyzeColumns 报告哪些表头被自动映射、哪些落空，并给模糊建议
func AnalyzeColumns(headers []string) ColumnAnalysis {
	colMap := buildColumnMap(headers)

	used := make(map[string]bool, len(colMap))
	for _, h := range colMap {
		used[h] = true
	}

	analysis := ColumnAnalysis{
		Mapped:      colMap,
		Suggestions: make(map[string][]string),
	}
	for _, h := range headers {
		if !used[h] {
			analysis.Unmapped = append(analysis.Unmapped, h)
		}
	}

	// 未命中的规范字段：按 token 重叠找近似表头
	for field, aliases := range workoutColumnAliases {
		if _, ok := colMap[field]; ok {
			continue
		}
		var candidates []string
		for _, h := range analysis.Unmapped {
			if fuzzyHeaderMatch(h, aliases) {
				candidates = append(candidates, h)
			}
		}
		if len(candidates) > 0 {
			analysis.Suggestions[field] = candidates
		}
	}
	return analysis
}

// fuzzyHeaderMatch 表头与别名存在共享 token 即视为候选
func fuzzyHeaderMatch(header string, aliases []string) bool {
	headerTokens := strings.Fields(strings.ToLower(header))
	for _, alias := range aliases {
		for _, at := range strings.Fields(alias) {
			for _, ht := range headerTokens {
				if len(at) >= 3 && (strings.Contains(ht, at) || strings.Contains(at, ht)) {
					return true
				}
			}
		}
	}
	return false
}
