package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 低于 3 小时的会话视为噪声（小睡、误触发）
const minMatSleepSeconds = 3 * 3600

// 采样间隔估不出来时的缺省值（秒）
const defaultSampleInterval = 300

// SleepMatParser 智能床垫会话 JSON 解析器
// 输入为会话数组，每个会话带 unix 秒时间戳和 stages 分段列表。
type SleepMatParser struct{}

// NewSleepMatParser 创建床垫解析器
func NewSleepMatParser() *SleepMatParser {
	return &SleepMatParser{}
}

// Vendor 厂商标识
func (p *SleepMatParser) Vendor() string {
	return detect.VendorSleepMat
}

// matSeriesSpec 逐样本序列名 → 序列类型与聚合落点
var matSeriesSpecs = []struct {
	keys       []string
	seriesType string
}{
	{[]string{"heartRate", "heart_rate"}, "heart_rate"},
	{[]string{"hrv", "heartRateVariability"}, "hrv"},
	{[]string{"respiratoryRate", "respiratory_rate"}, "respiratory_rate"},
	{[]string{"tempBedC", "bed_temp"}, "bed_temp"},
	{[]string{"tempRoomC", "room_temp"}, "room_temp"},
}

// Parse 解析会话数组；单个坏会话记告警继续
func (p *SleepMatParser) Parse(ctx context.Context, in Input) (*Result, error) {
	var sessions []map[string]interface{}
	if err := json.Unmarshal(in.Content, &sessions); err != nil {
		return nil, fmt.Errorf("解析床垫 JSON 失败: %w", err)
	}

	out := &Result{}
	for i, raw := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session, series, warn := p.parseSession(raw, in)
		if warn != nil {
			w := *warn
			idx := i
			w.RowIndex = &idx
			out.Warnings = append(out.Warnings, w)
			continue
		}
		if session == nil {
			continue // 噪声会话，静默丢弃
		}
		out.SleepSessions = append(out.SleepSessions, *session)
		out.TimeSeries = append(out.TimeSeries, series...)
	}
	return out, nil
}

// parseSession 单个会话：分段求和 → 时长/效率 → 逐样本聚合
func (p *SleepMatParser) parseSession(raw map[string]interface{}, in Input) (*schema.SleepSession, []schema.TimeSeries, *Warning) {
	startUnix, ok := sessionTimestamp(raw)
	if !ok {
		return nil, nil, &Warning{Kind: WarnParseError, Message: "session missing unix timestamp"}
	}
	start := time.Unix(startUnix, 0)

	stagesRaw, ok := raw["stages"].([]interface{})
	if !ok {
		return nil, nil, &Warning{Kind: WarnMissingField, Message: "session missing stages array", Field: "stages"}
	}

	// 按 stage 名求和到 deep/light/rem/awake/out 五个桶
	buckets := map[string]int{}
	for _, s := range stagesRaw {
		m, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["stage"].(string)
		dur, ok := numberValue(m["duration"])
		if !ok || dur < 0 {
			continue
		}
		buckets[name] += int(dur)
	}

	deep := buckets["deep"]
	light := buckets["light"]
	rem := buckets["rem"]
	awake := buckets["awake"]
	// "out"（离床）不计入睡眠也不计入在床

	duration := deep + light + rem
	if duration < minMatSleepSeconds {
		return nil, nil, nil
	}
	timeInBed := duration + awake

	session := &schema.SleepSession{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		SourceID:         in.SourceID,
		Date:             nightOfDate(start),
		StartedAt:        start.UnixMilli(),
		EndedAt:          start.Add(time.Duration(timeInBed) * time.Second).UnixMilli(),
		DurationSeconds:  duration,
		DeepSeconds:      deep,
		RemSeconds:       rem,
		LightSeconds:     light,
		AwakeSeconds:     awake,
		TimeInBedSeconds: timeInBed,
		Quality:          schema.DataQualityFlags{IsComplete: true},
		VendorData: schema.JSONMap{
			"source":     detect.VendorSleepMat,
			"session_ts": startUnix,
		},
	}
	if timeInBed > 0 {
		eff := float64(duration) / float64(timeInBed) * 100
		if eff > 100 {
			eff = 100
		}
		session.Efficiency = &eff
	}

	seriesRecords := p.aggregateSeries(raw, session, in)
	return session, seriesRecords, nil
}

// aggregateSeries 逐样本序列 → 会话级生理指标 + 平行 TimeSeries 记录
// null 采样不参与聚合，但计入 gap 数。
func (p *SleepMatParser) aggregateSeries(raw map[string]interface{}, session *schema.SleepSession, in Input) []schema.TimeSeries {
	tsRaw, ok := raw["timeseries"].(map[string]interface{})
	if !ok {
		return nil
	}

	var out []schema.TimeSeries
	for _, spec := range matSeriesSpecs {
		var pairs []interface{}
		for _, key := range spec.keys {
			if v, ok := tsRaw[key].([]interface{}); ok {
				pairs = v
				break
			}
		}
		if len(pairs) == 0 {
			continue
		}

		samples := make(schema.SampleArray, 0, len(pairs))
		values := make([]float64, 0, len(pairs))
		gaps := 0
		for _, pair := range pairs {
			arr, ok := pair.([]interface{})
			if !ok || len(arr) < 2 {
				continue
			}
			ts, ok := numberValue(arr[0])
			if !ok {
				continue
			}
			sample := schema.Sample{Timestamp: int64(ts)}
			if v, ok := numberValue(arr[1]); ok {
				sample.Value = floatPtr(v)
				values = append(values, v)
			} else {
				gaps++
			}
			samples = append(samples, sample)
		}
		if len(samples) == 0 {
			continue
		}

		if len(values) > 0 {
			avg := 0.0
			min, max := values[0], values[0]
			for _, v := range values {
				avg += v
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
			avg /= float64(len(values))

			switch spec.seriesType {
			case "heart_rate":
				session.AvgHeartRate = floatPtr(avg)
				session.MinHeartRate = floatPtr(min)
				session.MaxHeartRate = floatPtr(max)
			case "hrv":
				session.AvgHrv = floatPtr(avg)
			case "respiratory_rate":
				session.AvgRespiratoryRate = floatPtr(avg)
			case "bed_temp":
				session.AvgBedTempC = floatPtr(avg)
			case "room_temp":
				session.AvgRoomTempC = floatPtr(avg)
			}
		}
		session.Quality.SensorGaps += gaps

		out = append(out, schema.TimeSeries{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			SourceID:        in.SourceID,
			Date:            session.Date,
			SeriesType:      spec.seriesType,
			IntervalSeconds: estimateInterval(samples),
			GapCount:        gaps,
			Samples:         samples,
		})
	}
	return out
}

// estimateInterval 取前 ~10 个采样点间隔的中位数，不足 2 个点给缺省 300s
func estimateInterval(samples schema.SampleArray) int {
	if len(samples) < 2 {
		return defaultSampleInterval
	}
	n := len(samples)
	if n > 10 {
		n = 10
	}
	deltas := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		d := int(samples[i].Timestamp - samples[i-1].Timestamp)
		if d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return defaultSampleInterval
	}
	sort.Ints(deltas)
	return deltas[len(deltas)/2]
}

// sessionTimestamp 取会话的 unix 秒时间戳（ts 或 timestamp 键）
func sessionTimestamp(raw map[string]interface{}) (int64, bool) {
	for _, key := range []string{"ts", "timestamp"} {
		if v, ok := numberValue(raw[key]); ok && v > 0 {
			return int64(v), true
		}
	}
	return 0, false
}

// numberValue JSON 数值（解码后为 float64）的安全取值
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
