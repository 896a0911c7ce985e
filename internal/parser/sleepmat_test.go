package parser

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"
)

func matInput(t *testing.T, sessions []map[string]interface{}) Input {
	t.Helper()
	content, err := json.Marshal(sessions)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Input{UserID: "u1", SourceID: "src1", Content: content}
}

func TestSleepMatStageAggregation(t *testing.T) {
	// 2024-03-01 23:00 本地时间开始
	start := time.Date(2024, 3, 1, 23, 0, 0, 0, time.Local)
	sessions := []map[string]interface{}{{
		"ts": start.Unix(),
		"stages": []map[string]interface{}{
			{"stage": "deep", "duration": 1800},
			{"stage": "rem", "duration": 900},
			{"stage": "light", "duration": 10800},
			{"stage": "awake", "duration": 300},
		},
	}}

	p := NewSleepMatParser()
	result, err := p.Parse(context.Background(), matInput(t, sessions))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.SleepSessions) != 1 {
		t.Fatalf("sessions=%d, want 1", len(result.SleepSessions))
	}

	s := result.SleepSessions[0]
	if s.DurationSeconds != 13500 {
		t.Fatalf("duration=%d, want 13500", s.DurationSeconds)
	}
	if s.TimeInBedSeconds != 13800 {
		t.Fatalf("timeInBed=%d, want 13800", s.TimeInBedSeconds)
	}
	if s.Efficiency == nil || math.Abs(*s.Efficiency-97.8) > 0.1 {
		t.Fatalf("efficiency=%v, want ~97.8", s.Efficiency)
	}
	if s.Date != "2024-03-01" {
		t.Fatalf("date=%s, want 2024-03-01", s.Date)
	}
}

func TestSleepMatNightOfAttribution(t *testing.T) {
	// 凌晨 01:30 开始 → 归属前一天；22:00 开始 → 归属当天
	earlyStart := time.Date(2024, 3, 2, 1, 30, 0, 0, time.Local)
	lateStart := time.Date(2024, 3, 2, 22, 0, 0, 0, time.Local)

	stages := []map[string]interface{}{
		{"stage": "deep", "duration": 5400},
		{"stage": "light", "duration": 7200},
	}
	sessions := []map[string]interface{}{
		{"ts": earlyStart.Unix(), "stages": stages},
		{"ts": lateStart.Unix(), "stages": stages},
	}

	p := NewSleepMatParser()
	result, err := p.Parse(context.Background(), matInput(t, sessions))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.SleepSessions) != 2 {
		t.Fatalf("sessions=%d, want 2", len(result.SleepSessions))
	}
	if got := result.SleepSessions[0].Date; got != "2024-03-01" {
		t.Fatalf("early session date=%s, want 2024-03-01", got)
	}
	if got := result.SleepSessions[1].Date; got != "2024-03-02" {
		t.Fatalf("late session date=%s, want 2024-03-02", got)
	}
}

func TestSleepMatDiscardsShortSessions(t *testing.T) {
	sessions := []map[string]interface{}{{
		"ts": time.Date(2024, 3, 1, 23, 0, 0, 0, time.Local).Unix(),
		"stages": []map[string]interface{}{
			{"stage": "light", "duration": 1200}, // 20 分钟，低于噪声下限
		},
	}}

	p := NewSleepMatParser()
	result, err := p.Parse(context.Background(), matInput(t, sessions))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.SleepSessions) != 0 {
		t.Fatalf("sessions=%d, want 0 (noise floor)", len(result.SleepSessions))
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("warnings=%d, want 0 (silent discard)", len(result.Warnings))
	}
}

func TestSleepMatSeriesAggregation(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 0, 0, 0, time.Local)
	base := start.Unix()
	sessions := []map[string]interface{}{{
		"ts": base,
		"stages": []map[string]interface{}{
			{"stage": "deep", "duration": 7200},
			{"stage": "light", "duration": 7200},
		},
		"timeseries": map[string]interface{}{
			"heartRate": []interface{}{
				[]interface{}{base, 60.0},
				[]interface{}{base + 300, nil}, // 缺采样
				[]interface{}{base + 600, 50.0},
				[]interface{}{base + 900, 70.0},
			},
			"hrv": []interface{}{
				[]interface{}{base, 40.0},
				[]interface{}{base + 300, 60.0},
			},
		},
	}}

	p := NewSleepMatParser()
	result, err := p.Parse(context.Background(), matInput(t, sessions))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	s := result.SleepSessions[0]

	if s.AvgHeartRate == nil || *s.AvgHeartRate != 60 {
		t.Fatalf("avgHR=%v, want 60 (null excluded)", s.AvgHeartRate)
	}
	if s.MinHeartRate == nil || *s.MinHeartRate != 50 {
		t.Fatalf("minHR=%v, want 50", s.MinHeartRate)
	}
	if s.MaxHeartRate == nil || *s.MaxHeartRate != 70 {
		t.Fatalf("maxHR=%v, want 70", s.MaxHeartRate)
	}
	if s.AvgHrv == nil || *s.AvgHrv != 50 {
		t.Fatalf("avgHrv=%v, want 50", s.AvgHrv)
	}
	if s.Quality.SensorGaps != 1 {
		t.Fatalf("sensorGaps=%d, want 1", s.Quality.SensorGaps)
	}

	if len(result.TimeSeries) != 2 {
		t.Fatalf("series=%d, want 2", len(result.TimeSeries))
	}
	hr := result.TimeSeries[0]
	if hr.SeriesType != "heart_rate" || hr.IntervalSeconds != 300 || hr.GapCount != 1 {
		t.Fatalf("hr series=%+v, want heart_rate/300/1 gap", hr)
	}
}

func TestSleepMatBadSessionWarns(t *testing.T) {
	good := map[string]interface{}{
		"ts": time.Date(2024, 3, 1, 23, 0, 0, 0, time.Local).Unix(),
		"stages": []map[string]interface{}{
			{"stage": "deep", "duration": 12000},
		},
	}
	bad := map[string]interface{}{"stages": []map[string]interface{}{}}

	p := NewSleepMatParser()
	result, err := p.Parse(context.Background(), matInput(t, []map[string]interface{}{bad, good}))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.SleepSessions) != 1 {
		t.Fatalf("sessions=%d, want 1 (bad row skipped)", len(result.SleepSessions))
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != WarnParseError {
		t.Fatalf("warnings=%+v, want one parse_error", result.Warnings)
	}
	if result.Warnings[0].RowIndex == nil || *result.Warnings[0].RowIndex != 0 {
		t.Fatalf("rowIndex=%v, want 0", result.Warnings[0].RowIndex)
	}
}

func TestSleepMatTopLevelParseError(t *testing.T) {
	p := NewSleepMatParser()
	_, err := p.Parse(context.Background(), Input{Content: []byte("not json")})
	if err == nil {
		t.Fatal("want error for malformed top-level JSON")
	}
}

func TestEstimateIntervalDefaults(t *testing.T) {
	if got := estimateInterval(nil); got != defaultSampleInterval {
		t.Fatalf("interval=%d, want default %d", got, defaultSampleInterval)
	}
}
