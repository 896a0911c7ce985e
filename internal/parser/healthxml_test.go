package parser

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

const healthXMLDoc = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData locale="en_US">
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" value="HKCategoryValueSleepAnalysisAsleepDeep" startDate="2024-03-01 23:00:00 +0000" endDate="2024-03-01 23:45:00 +0000"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" value="HKCategoryValueSleepAnalysisAsleepREM" startDate="2024-03-01 23:45:00 +0000" endDate="2024-03-02 00:15:00 +0000"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" value="HKCategoryValueSleepAnalysisAsleepCore" startDate="2024-03-02 00:15:00 +0000" endDate="2024-03-02 03:15:00 +0000"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" value="HKCategoryValueSleepAnalysisAwake" startDate="2024-03-02 03:15:00 +0000" endDate="2024-03-02 03:25:00 +0000"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="OtherApp" value="HKCategoryValueSleepAnalysisAsleepCore" startDate="2024-03-01 23:10:00 +0000" endDate="2024-03-02 02:00:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Watch" unit="count/min" value="52" startDate="2024-03-01 23:30:00 +0000" endDate="2024-03-01 23:30:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Watch" unit="count/min" value="64" startDate="2024-03-01 23:50:00 +0000" endDate="2024-03-01 23:50:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierHeartRateVariabilitySDNN" sourceName="Watch" unit="ms" value="48" startDate="2024-03-01 23:40:00 +0000" endDate="2024-03-01 23:40:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierBodyMass" sourceName="Scale" unit="kg" value="80.5" startDate="2024-03-01 08:00:00 +0000" endDate="2024-03-01 08:00:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="Phone" unit="count" value="523" startDate="2024-03-01 12:00:00 +0000" endDate="2024-03-01 12:10:00 +0000"/>
 <Record type="HKQuantityTypeIdentifierDietaryWater" sourceName="Phone" unit="mL" value="250" startDate="2024-03-01 12:00:00 +0000" endDate="2024-03-01 12:00:00 +0000"/>
 <Workout workoutActivityType="HKWorkoutActivityTypeRunning" duration="42.5" durationUnit="min" totalDistance="7.1" totalDistanceUnit="km" totalEnergyBurned="410" totalEnergyBurnedUnit="kcal" sourceName="Watch" startDate="2024-03-01 17:00:00 +0000" endDate="2024-03-01 17:42:30 +0000">
  <WorkoutStatistics type="HKQuantityTypeIdentifierHeartRate" average="128" minimum="95" maximum="162" startDate="2024-03-01 17:00:00 +0000" endDate="2024-03-01 17:42:30 +0000"/>
 </Workout>
 <Workout workoutActivityType="HKWorkoutActivityTypeWalking" duration="3" durationUnit="min" sourceName="Watch" startDate="2024-03-01 09:00:00 +0000" endDate="2024-03-01 09:03:00 +0000"/>
</HealthData>
`

func parseHealthXML(t *testing.T, chunkSize int) *Result {
	t.Helper()
	p := NewHealthXMLParser(chunkSize)
	result, err := p.Parse(context.Background(), Input{
		UserID:   "u1",
		SourceID: "src1",
		Content:  []byte(healthXMLDoc),
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return result
}

func TestHealthXMLSleepSession(t *testing.T) {
	result := parseHealthXML(t, 0)

	if len(result.SleepSessions) != 1 {
		t.Fatalf("sessions=%d, want 1 (one per date, first source wins)", len(result.SleepSessions))
	}
	s := result.SleepSessions[0]

	// 首见来源（Watch）胜出，OtherApp 的分段被丢弃
	if s.VendorData["source"] != "Watch" {
		t.Fatalf("source=%v, want Watch", s.VendorData["source"])
	}
	if s.DeepSeconds != 45*60 || s.RemSeconds != 30*60 || s.LightSeconds != 180*60 {
		t.Fatalf("stages=%d/%d/%d, want 2700/1800/10800", s.DeepSeconds, s.RemSeconds, s.LightSeconds)
	}
	if s.AwakeSeconds != 10*60 {
		t.Fatalf("awake=%d, want 600", s.AwakeSeconds)
	}
	// 阶段和与总时长严格相等（构造保证，非舍入）
	if s.DeepSeconds+s.RemSeconds+s.LightSeconds != s.DurationSeconds {
		t.Fatalf("deep+rem+light=%d != duration=%d",
			s.DeepSeconds+s.RemSeconds+s.LightSeconds, s.DurationSeconds)
	}
	// 无 InBed 分段 → timeInBed 取首尾跨度（23:00–03:25 = 265 分钟）
	if s.TimeInBedSeconds != 265*60 {
		t.Fatalf("timeInBed=%d, want %d", s.TimeInBedSeconds, 265*60)
	}

	if s.AvgHeartRate == nil || *s.AvgHeartRate != 58 {
		t.Fatalf("avgHR=%v, want 58", s.AvgHeartRate)
	}
	if s.MinHeartRate == nil || *s.MinHeartRate != 52 {
		t.Fatalf("minHR=%v, want 52", s.MinHeartRate)
	}
	if s.MaxHeartRate == nil || *s.MaxHeartRate != 64 {
		t.Fatalf("maxHR=%v, want 64", s.MaxHeartRate)
	}
	if s.AvgHrv == nil || *s.AvgHrv != 48 {
		t.Fatalf("avgHrv=%v, want 48", s.AvgHrv)
	}
}

func TestHealthXMLWorkouts(t *testing.T) {
	result := parseHealthXML(t, 0)

	// 3 分钟散步低于下限被丢弃
	if len(result.WorkoutSessions) != 1 {
		t.Fatalf("workouts=%d, want 1", len(result.WorkoutSessions))
	}
	w := result.WorkoutSessions[0]
	if w.WorkoutType != "running" {
		t.Fatalf("workoutType=%s, want running", w.WorkoutType)
	}
	if w.WorkoutSubtype != "Running" {
		t.Fatalf("subtype=%s, want Running", w.WorkoutSubtype)
	}
	if w.DurationSeconds != 2550 {
		t.Fatalf("duration=%d, want 2550 (42.5 min)", w.DurationSeconds)
	}
	if w.Calories == nil || *w.Calories != 410 {
		t.Fatalf("calories=%v, want 410", w.Calories)
	}
	if w.Distance == nil || *w.Distance != 7.1 || w.DistanceUnit != "km" {
		t.Fatalf("distance=%v %s, want 7.1 km", w.Distance, w.DistanceUnit)
	}
	if w.AvgHeartRate == nil || *w.AvgHeartRate != 128 {
		t.Fatalf("avgHR=%v, want 128 (nested statistics)", w.AvgHeartRate)
	}
	if w.MaxHeartRate == nil || *w.MaxHeartRate != 162 {
		t.Fatalf("maxHR=%v, want 162", w.MaxHeartRate)
	}
}

func TestHealthXMLMetricsAndCounters(t *testing.T) {
	result := parseHealthXML(t, 0)

	if len(result.DailyMetrics) != 1 {
		t.Fatalf("metrics=%d, want 1 (body mass only)", len(result.DailyMetrics))
	}
	m := result.DailyMetrics[0]
	if m.MetricType != "body_mass" || m.Value != 80.5 || m.Unit != "kg" {
		t.Fatalf("metric=%+v, want body_mass 80.5 kg", m)
	}
}

// 同一文档整块喂入 vs 任意小块喂入，产出必须完全一致
func TestHealthXMLChunkBoundarySafety(t *testing.T) {
	whole := parseHealthXML(t, 0)

	for _, chunkSize := range []int{7, 64, 377, 1024} {
		chunked := parseHealthXML(t, chunkSize)

		if len(chunked.SleepSessions) != len(whole.SleepSessions) ||
			len(chunked.WorkoutSessions) != len(whole.WorkoutSessions) ||
			len(chunked.DailyMetrics) != len(whole.DailyMetrics) {
			t.Fatalf("chunk=%d counts differ: %d/%d/%d vs %d/%d/%d", chunkSize,
				len(chunked.SleepSessions), len(chunked.WorkoutSessions), len(chunked.DailyMetrics),
				len(whole.SleepSessions), len(whole.WorkoutSessions), len(whole.DailyMetrics))
		}

		a, b := whole.SleepSessions[0], chunked.SleepSessions[0]
		a.ID, b.ID = "", "" // ID 每次随机
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("chunk=%d sleep session differs:\n%+v\nvs\n%+v", chunkSize, a, b)
		}
	}
}

func TestHealthXMLProgressByteOffsets(t *testing.T) {
	var calls []int64
	p := NewHealthXMLParser(128)
	_, err := p.Parse(context.Background(), Input{
		Content: []byte(healthXMLDoc),
		Progress: func(processed, total int64) {
			calls = append(calls, processed)
			if total != int64(len(healthXMLDoc)) {
				t.Fatalf("total=%d, want %d", total, len(healthXMLDoc))
			}
		},
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(calls) < 2 {
		t.Fatalf("progress calls=%d, want several", len(calls))
	}
	if calls[len(calls)-1] != int64(len(healthXMLDoc)) {
		t.Fatalf("last progress=%d, want full length", calls[len(calls)-1])
	}
}

func TestHealthXMLProgressPanicIsolated(t *testing.T) {
	p := NewHealthXMLParser(128)
	result, err := p.Parse(context.Background(), Input{
		Content:  []byte(healthXMLDoc),
		Progress: func(processed, total int64) { panic("callback bug") },
	})
	if err != nil {
		t.Fatalf("Parse error: %v (callback panic must not fail pipeline)", err)
	}
	if len(result.SleepSessions) != 1 {
		t.Fatalf("sessions=%d, want 1", len(result.SleepSessions))
	}
}

func TestHealthXMLCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHealthXMLParser(64)
	_, err := p.Parse(ctx, Input{Content: []byte(healthXMLDoc)})
	if err == nil {
		t.Fatal("want error after cancellation")
	}
}

func TestHealthXMLDiscardsShortSleep(t *testing.T) {
	doc := `<?xml version="1.0"?><HealthData>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" value="HKCategoryValueSleepAnalysisAsleepCore" startDate="2024-03-01 23:00:00 +0000" endDate="2024-03-01 23:20:00 +0000"/>
</HealthData>`
	p := NewHealthXMLParser(0)
	result, err := p.Parse(context.Background(), Input{Content: []byte(doc)})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.SleepSessions) != 0 {
		t.Fatalf("sessions=%d, want 0 (under 30min floor)", len(result.SleepSessions))
	}
}

func TestHumanizeActivityType(t *testing.T) {
	cases := map[string]string{
		"HKWorkoutActivityTypeTraditionalStrengthTraining": "Traditional Strength Training",
		"HKWorkoutActivityTypeRunning":                     "Running",
		"":                                                 "",
	}
	for in, want := range cases {
		if got := humanizeActivityType(in); got != want {
			t.Fatalf("humanize(%q)=%q, want %q", in, got, want)
		}
	}
}

// 大文档下强制截断不丢完整元素：重复记录拼一个远超 chunk 的文档
func TestHealthXMLLargeDocBounded(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><HealthData>`)
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b,
			` <Record type="HKQuantityTypeIdentifierHeartRate" sourceName="W" unit="count/min" value="6%d" startDate="2024-03-01 2%d:0%d:00 +0000" endDate="2024-03-01 23:00:00 +0000"/>`,
			i%10, i%4, i%10)
	}
	b.WriteString(`</HealthData>`)

	p := NewHealthXMLParser(256)
	result, err := p.Parse(context.Background(), Input{Content: []byte(b.String())})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	// 心率记录只进累积桶，无睡眠分段时不产出会话
	if len(result.SleepSessions) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("got %d sessions %d warnings, want none", len(result.SleepSessions), len(result.Warnings))
	}
}
