package parser

import (
	"context"
	"testing"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

func TestPreParsedReassignsIdentity(t *testing.T) {
	hrv := 52.0
	payload := `{
		"sleepSessions": [
			{"id": "old-id", "user_id": "someone-else", "date": "2024-03-01",
			 "duration_seconds": 13500, "deep_seconds": 1800, "avg_hrv": 52},
			{"duration_seconds": 9000}
		],
		"workoutSessions": [
			{"date": "2024-03-02", "duration_seconds": 1800}
		],
		"dailyMetrics": [
			{"date": "2024-03-01", "metric_type": "readiness", "value": 80},
			{"metric_type": "readiness", "value": 75}
		]
	}`

	p := NewHealthExportJSONParser()
	result, err := p.Parse(context.Background(), Input{UserID: "u1", SourceID: "src1", Content: []byte(payload)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(result.SleepSessions) != 1 {
		t.Fatalf("sleep sessions=%d, want 1", len(result.SleepSessions))
	}
	s := result.SleepSessions[0]
	if s.ID == "old-id" || s.ID == "" {
		t.Fatalf("id=%q, want fresh uuid", s.ID)
	}
	if s.UserID != "u1" || s.SourceID != "src1" {
		t.Fatalf("ownership=%s/%s, want u1/src1", s.UserID, s.SourceID)
	}
	if s.DurationSeconds != 13500 || s.DeepSeconds != 1800 {
		t.Fatalf("duration=%d deep=%d, want 13500/1800", s.DurationSeconds, s.DeepSeconds)
	}
	if s.AvgHrv == nil || *s.AvgHrv != hrv {
		t.Fatalf("avg_hrv=%v, want %v", s.AvgHrv, hrv)
	}
	if got := schema.GetString(s.VendorData, "source"); got != p.Vendor() {
		t.Fatalf("vendor_data.source=%q, want %q", got, p.Vendor())
	}

	if len(result.WorkoutSessions) != 1 {
		t.Fatalf("workouts=%d, want 1", len(result.WorkoutSessions))
	}
	if result.WorkoutSessions[0].WorkoutType != schema.WorkoutOther {
		t.Fatalf("workout_type=%q, want %q", result.WorkoutSessions[0].WorkoutType, schema.WorkoutOther)
	}

	if len(result.DailyMetrics) != 1 {
		t.Fatalf("metrics=%d, want 1", len(result.DailyMetrics))
	}

	// 缺 date 的睡眠记录 + 缺 date 的指标记录 → 两条告警
	if len(result.Warnings) != 2 {
		t.Fatalf("warnings=%d, want 2", len(result.Warnings))
	}
	for _, w := range result.Warnings {
		if w.Kind != WarnMissingField {
			t.Fatalf("warning kind=%q, want %q", w.Kind, WarnMissingField)
		}
	}
}

func TestPreParsedVaultExportSessionsKey(t *testing.T) {
	payload := `{"sessions": [{"date": "2024-04-01", "duration_seconds": 20000}]}`

	p := NewVaultExportParser()
	result, err := p.Parse(context.Background(), Input{UserID: "u1", SourceID: "src1", Content: []byte(payload)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.SleepSessions) != 1 {
		t.Fatalf("sleep sessions=%d, want 1", len(result.SleepSessions))
	}
	if result.SleepSessions[0].Date != "2024-04-01" {
		t.Fatalf("date=%q, want 2024-04-01", result.SleepSessions[0].Date)
	}
}

func TestPreParsedTopLevelError(t *testing.T) {
	p := NewHealthExportJSONParser()
	if _, err := p.Parse(context.Background(), Input{Content: []byte("{not json")}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestPreParsedExistingSourceKept(t *testing.T) {
	payload := `{"sleepSessions": [{"date": "2024-04-02", "duration_seconds": 10000,
		"vendor_data": {"source": "sleepmat"}}]}`

	p := NewHealthExportJSONParser()
	result, err := p.Parse(context.Background(), Input{UserID: "u1", SourceID: "src1", Content: []byte(payload)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := schema.GetString(result.SleepSessions[0].VendorData, "source"); got != "sleepmat" {
		t.Fatalf("vendor_data.source=%q, want sleepmat", got)
	}
}
