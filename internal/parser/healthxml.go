package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 健康导出 XML 动辄数百 MB，整文档 DOM 解析会打爆内存。
// 这里用分块读取 + 正则扫描：累积缓冲区里匹配完整元素，只保留
// 未消费的尾部（外加固定安全边距，防止元素被块边界截断）。
const (
	defaultChunkSize = 1 << 20   // 1MB
	xmlTailMargin    = 50 * 1024 // 跨块元素的安全边距
)

// 会话/运动的噪声下限
const (
	minXMLSleepSeconds   = 30 * 60
	minXMLWorkoutSeconds = 5 * 60
)

var (
	// 自闭合 Record 元素
	xmlRecordRe = regexp.MustCompile(`<Record\s[^>]*?/>`)
	// Workout 元素：自闭合，或带嵌套 WorkoutStatistics 的成对标签
	xmlWorkoutRe = regexp.MustCompile(`(?s)<Workout\s[^>]*?(?:/>|>.*?</Workout>)`)
	// 元素属性
	xmlAttrRe = regexp.MustCompile(`(\w+)="([^"]*)"`)
	// 嵌套统计元素
	xmlStatRe = regexp.MustCompile(`<WorkoutStatistics\s[^>]*?/>`)
)

// 导出文件里的时间格式，如 "2024-03-01 23:15:00 -0800"
const xmlTimeLayout = "2006-01-02 15:04:05 -0700"

// HealthXMLParser 结构化健康导出 XML 的流式解析器
type HealthXMLParser struct {
	ChunkSize  int // 0 取 defaultChunkSize
	TailMargin int // 0 取 xmlTailMargin
}

// NewHealthXMLParser 创建 XML 解析器
func NewHealthXMLParser(chunkSize int) *HealthXMLParser {
	return &HealthXMLParser{ChunkSize: chunkSize}
}

// Vendor 厂商标识
func (p *HealthXMLParser) Vendor() string {
	return detect.VendorHealthXML
}

// sleepSegment 单条睡眠分段记录
type sleepSegment struct {
	start time.Time
	end   time.Time
	value string // 分段类别字符串
}

// xmlAccumulator 整个文档扫描期间的累积状态，归一次解析调用所有
type xmlAccumulator struct {
	segments    map[string][]sleepSegment // date → 分段（仅收首个上报来源）
	dateSource  map[string]string         // date → 首见来源
	hrByDate    map[string][]float64
	hrvByDate   map[string][]float64
	bodyMass    []schema.DailyMetric
	stepRecords int
	otherTypes  int
	badRecords  int
	workouts    []schema.WorkoutSession
	warnings    []Warning
}

func newXMLAccumulator() *xmlAccumulator {
	return &xmlAccumulator{
		segments:   make(map[string][]sleepSegment),
		dateSource: make(map[string]string),
		hrByDate:   make(map[string][]float64),
		hrvByDate:  make(map[string][]float64),
	}
}

// Parse 内存内容入口；大文件建议走 ParseStream
func (p *HealthXMLParser) Parse(ctx context.Context, in Input) (*Result, error) {
	return p.ParseStream(ctx, bytes.NewReader(in.Content), int64(len(in.Content)), in)
}

// ParseStream 分块扫描：内存占用上界为 chunk + 尾部边距，与文档总大小无关。
// 进度按字节偏移上报（文档大小才是操作者可感知的成本信号）。
func (p *HealthXMLParser) ParseStream(ctx context.Context, r io.Reader, totalBytes int64, in Input) (*Result, error) {
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	tailMargin := p.TailMargin
	if tailMargin <= 0 {
		tailMargin = xmlTailMargin
	}

	acc := newXMLAccumulator()
	buf := make([]byte, 0, chunkSize+tailMargin)
	chunk := make([]byte, chunkSize)
	var processed int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := r.Read(chunk)
		if n > 0 {
			processed += int64(n)
			buf = append(buf, chunk[:n]...)

			consumed := p.scanBuffer(buf, acc)
			// 消费点之前的内容不再需要；长时间无匹配时也强制截断，保住内存上界
			cut := consumed
			if len(buf)-cut > chunkSize+tailMargin {
				cut = len(buf) - tailMargin
			}
			if cut > 0 {
				buf = append(buf[:0], buf[cut:]...)
			}

			reportProgress(in, processed, totalBytes)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("读取 XML 内容失败: %w", readErr)
		}
	}

	// 收尾：尾部缓冲里可能还有完整元素
	p.scanBuffer(buf, acc)

	return p.finalize(acc, in), nil
}

// reportProgress 回调异常与管线状态隔离
func reportProgress(in Input, processed, total int64) {
	if in.Progress == nil {
		return
	}
	defer func() { _ = recover() }()
	in.Progress(processed, total)
}

// scanBuffer 对缓冲区跑两类元素的正则，返回最后一个完整匹配的结束偏移
func (p *HealthXMLParser) scanBuffer(buf []byte, acc *xmlAccumulator) int {
	consumed := 0

	for _, loc := range xmlRecordRe.FindAllIndex(buf, -1) {
		p.handleRecord(buf[loc[0]:loc[1]], acc)
		if loc[1] > consumed {
			consumed = loc[1]
		}
	}
	for _, loc := range xmlWorkoutRe.FindAllIndex(buf, -1) {
		p.handleWorkout(buf[loc[0]:loc[1]], acc)
		if loc[1] > consumed {
			consumed = loc[1]
		}
	}
	return consumed
}

// handleRecord 按 type 路由到计数器和按日期分桶
func (p *HealthXMLParser) handleRecord(elem []byte, acc *xmlAccumulator) {
	attrs := parseAttrs(elem)

	switch attrs["type"] {
	case "HKCategoryTypeIdentifierSleepAnalysis":
		start, err1 := time.Parse(xmlTimeLayout, attrs["startDate"])
		end, err2 := time.Parse(xmlTimeLayout, attrs["endDate"])
		if err1 != nil || err2 != nil || !end.After(start) {
			acc.badRecords++
			return
		}
		date := nightOfDate(start)
		source := attrs["sourceName"]
		if first, seen := acc.dateSource[date]; seen {
			// 同一晚多来源上报时，首见来源胜出
			if first != source {
				return
			}
		} else {
			acc.dateSource[date] = source
		}
		acc.segments[date] = append(acc.segments[date], sleepSegment{
			start: start,
			end:   end,
			value: attrs["value"],
		})

	case "HKQuantityTypeIdentifierHeartRate":
		if v, start, ok := recordValueAndStart(attrs); ok {
			acc.hrByDate[nightOfDate(start)] = append(acc.hrByDate[nightOfDate(start)], v)
		} else {
			acc.badRecords++
		}

	case "HKQuantityTypeIdentifierHeartRateVariabilitySDNN":
		if v, start, ok := recordValueAndStart(attrs); ok {
			acc.hrvByDate[nightOfDate(start)] = append(acc.hrvByDate[nightOfDate(start)], v)
		} else {
			acc.badRecords++
		}

	case "HKQuantityTypeIdentifierBodyMass":
		v, start, ok := recordValueAndStart(attrs)
		if !ok {
			acc.badRecords++
			return
		}
		acc.bodyMass = append(acc.bodyMass, schema.DailyMetric{
			Date:       start.Local().Format("2006-01-02"),
			MetricType: schema.MetricBodyMass,
			Value:      v,
			Unit:       attrs["unit"],
			Quality:    schema.DataQualityFlags{IsComplete: true},
			VendorData: schema.JSONMap{"source": attrs["sourceName"]},
		})

	case "HKQuantityTypeIdentifierStepCount":
		// 步数只计数，不物化为记录
		acc.stepRecords++

	default:
		acc.otherTypes++
	}
}

func recordValueAndStart(attrs map[string]string) (float64, time.Time, bool) {
	v, err := strconv.ParseFloat(attrs["value"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	start, err := time.Parse(xmlTimeLayout, attrs["startDate"])
	if err != nil {
		return 0, time.Time{}, false
	}
	return v, start, true
}

// 厂商活动类型 → 规范 WorkoutType（显式映射表，未列出的落 other）
var xmlActivityTypeMap = map[string]string{
	"HKWorkoutActivityTypeTraditionalStrengthTraining":   schema.WorkoutStrength,
	"HKWorkoutActivityTypeFunctionalStrengthTraining":    schema.WorkoutStrength,
	"HKWorkoutActivityTypeRunning":                       schema.WorkoutRunning,
	"HKWorkoutActivityTypeCycling":                       schema.WorkoutCycling,
	"HKWorkoutActivityTypeRowing":                        schema.WorkoutCardio,
	"HKWorkoutActivityTypeElliptical":                    schema.WorkoutCardio,
	"HKWorkoutActivityTypeCrossTraining":                 schema.WorkoutCardio,
	"HKWorkoutActivityTypeHighIntensityIntervalTraining": schema.WorkoutHIIT,
	"HKWorkoutActivityTypeWalking":                       schema.WorkoutWalking,
	"HKWorkoutActivityTypeHiking":                        schema.WorkoutWalking,
	"HKWorkoutActivityTypeSwimming":                      schema.WorkoutSwimming,
	"HKWorkoutActivityTypeYoga":                          schema.WorkoutYoga,
}

// handleWorkout 解析 Workout 元素及其嵌套统计
func (p *HealthXMLParser) handleWorkout(elem []byte, acc *xmlAccumulator) {
	attrs := parseAttrs(elem[:firstTagEnd(elem)])

	start, err := time.Parse(xmlTimeLayout, attrs["startDate"])
	if err != nil {
		acc.badRecords++
		return
	}

	durationSec := 0
	if d, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		// durationUnit 基本都是 min
		if strings.HasPrefix(strings.ToLower(attrs["durationUnit"]), "min") || attrs["durationUnit"] == "" {
			durationSec = int(d * 60)
		} else {
			durationSec = int(d)
		}
	}
	if durationSec < minXMLWorkoutSeconds {
		return
	}

	activityType := attrs["workoutActivityType"]
	workoutType, ok := xmlActivityTypeMap[activityType]
	if !ok {
		workoutType = schema.WorkoutOther
	}

	session := schema.WorkoutSession{
		Date:            start.Local().Format("2006-01-02"),
		StartedAt:       start.UnixMilli(),
		DurationSeconds: durationSec,
		WorkoutType:     workoutType,
		WorkoutSubtype:  humanizeActivityType(activityType),
		Quality:         schema.DataQualityFlags{IsComplete: true},
		VendorData: schema.JSONMap{
			"source":        attrs["sourceName"],
			"activity_type": activityType,
		},
	}
	if end, err := time.Parse(xmlTimeLayout, attrs["endDate"]); err == nil {
		endMs := end.UnixMilli()
		session.EndedAt = &endMs
	}
	if v, err := strconv.ParseFloat(attrs["totalEnergyBurned"], 64); err == nil && v > 0 {
		session.Calories = floatPtr(v)
	}
	if v, err := strconv.ParseFloat(attrs["totalDistance"], 64); err == nil && v > 0 {
		session.Distance = floatPtr(v)
		session.DistanceUnit = attrs["totalDistanceUnit"]
	}

	// 嵌套统计：目前只关心心率的 avg/min/max
	for _, loc := range xmlStatRe.FindAllIndex(elem, -1) {
		stat := parseAttrs(elem[loc[0]:loc[1]])
		if stat["type"] != "HKQuantityTypeIdentifierHeartRate" {
			continue
		}
		if v, err := strconv.ParseFloat(stat["average"], 64); err == nil {
			session.AvgHeartRate = floatPtr(v)
		}
		if v, err := strconv.ParseFloat(stat["maximum"], 64); err == nil {
			session.MaxHeartRate = floatPtr(v)
		}
	}

	acc.workouts = append(acc.workouts, session)
}

// finalize 输入耗尽后，把累积状态归约为规范记录
func (p *HealthXMLParser) finalize(acc *xmlAccumulator, in Input) *Result {
	out := &Result{Warnings: acc.warnings}

	dates := make([]string, 0, len(acc.segments))
	for date := range acc.segments {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		session := p.buildSleepSession(date, acc, in)
		if session != nil {
			out.SleepSessions = append(out.SleepSessions, *session)
		}
	}

	for i := range acc.workouts {
		w := acc.workouts[i]
		w.ID = uuid.NewString()
		w.UserID = in.UserID
		w.SourceID = in.SourceID
		out.WorkoutSessions = append(out.WorkoutSessions, w)
	}

	for i := range acc.bodyMass {
		m := acc.bodyMass[i]
		m.ID = uuid.NewString()
		m.UserID = in.UserID
		m.SourceID = in.SourceID
		out.DailyMetrics = append(out.DailyMetrics, m)
	}

	if acc.badRecords > 0 {
		out.Warnings = append(out.Warnings, Warning{
			Kind:    WarnParseError,
			Message: fmt.Sprintf("%d 条记录属性不完整，已跳过", acc.badRecords),
		})
	}
	return out
}

// buildSleepSession 分段按时间排序后求和到各阶段桶，deep+rem+light 即总睡眠时长
func (p *HealthXMLParser) buildSleepSession(date string, acc *xmlAccumulator, in Input) *schema.SleepSession {
	segments := acc.segments[date]
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].start.Before(segments[j].start)
	})

	var deep, rem, light, awake, inBed int
	earliest := segments[0].start
	latest := segments[0].end
	for _, seg := range segments {
		dur := int(seg.end.Sub(seg.start).Seconds())
		switch {
		case strings.Contains(seg.value, "AsleepDeep"):
			deep += dur
		case strings.Contains(seg.value, "AsleepREM"):
			rem += dur
		case strings.Contains(seg.value, "AsleepCore"),
			strings.Contains(seg.value, "AsleepUnspecified"),
			strings.HasSuffix(seg.value, "Asleep"):
			light += dur
		case strings.Contains(seg.value, "Awake"):
			awake += dur
		case strings.Contains(seg.value, "InBed"):
			inBed += dur
		}
		if seg.start.Before(earliest) {
			earliest = seg.start
		}
		if seg.end.After(latest) {
			latest = seg.end
		}
	}

	duration := deep + rem + light
	if duration < minXMLSleepSeconds {
		return nil
	}

	timeInBed := inBed
	if timeInBed == 0 {
		timeInBed = int(latest.Sub(earliest).Seconds())
	}

	session := &schema.SleepSession{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		SourceID:         in.SourceID,
		Date:             date,
		StartedAt:        earliest.UnixMilli(),
		EndedAt:          latest.UnixMilli(),
		DurationSeconds:  duration,
		DeepSeconds:      deep,
		RemSeconds:       rem,
		LightSeconds:     light,
		AwakeSeconds:     awake,
		TimeInBedSeconds: timeInBed,
		Quality:          schema.DataQualityFlags{IsComplete: true},
		VendorData: schema.JSONMap{
			"source": acc.dateSource[date],
		},
	}
	if timeInBed > 0 {
		eff := float64(duration) / float64(timeInBed) * 100
		if eff > 100 {
			eff = 100
		}
		session.Efficiency = &eff
	}

	// 附加当晚心率/HRV 聚合
	if hrs := acc.hrByDate[date]; len(hrs) > 0 {
		min, max := hrs[0], hrs[0]
		sum := 0.0
		for _, v := range hrs {
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		session.AvgHeartRate = floatPtr(sum / float64(len(hrs)))
		session.MinHeartRate = floatPtr(min)
		session.MaxHeartRate = floatPtr(max)
	}
	if hrvs := acc.hrvByDate[date]; len(hrvs) > 0 {
		sum := 0.0
		for _, v := range hrvs {
			sum += v
		}
		session.AvgHrv = floatPtr(sum / float64(len(hrvs)))
	}

	return session
}

// humanizeActivityType 去掉已知前缀并在大写字母前插空格
func humanizeActivityType(activityType string) string {
	s := strings.TrimPrefix(activityType, "HKWorkoutActivityType")
	if s == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseAttrs 提取元素属性键值对
func parseAttrs(elem []byte) map[string]string {
	attrs := make(map[string]string)
	for _, m := range xmlAttrRe.FindAllSubmatch(elem, -1) {
		attrs[string(m[1])] = string(m[2])
	}
	return attrs
}

// firstTagEnd 首个 '>' 的位置，用于只取 Workout 开标签上的属性
func firstTagEnd(elem []byte) int {
	if i := bytes.IndexByte(elem, '>'); i >= 0 {
		return i + 1
	}
	return len(elem)
}
