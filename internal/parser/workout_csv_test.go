package parser

import (
	"context"
	"testing"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

func TestWorkoutCSVScenario(t *testing.T) {
	content := []byte("Date, Splat Points, Avg HR\n" +
		"2024-01-15, 12, 150\n" +
		"01/16/2024, 9, 145\n")

	p := NewWorkoutCSVParser()
	result, err := p.Parse(context.Background(), Input{UserID: "u1", SourceID: "src1", Content: content})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.WorkoutSessions) != 2 {
		t.Fatalf("sessions=%d, want 2", len(result.WorkoutSessions))
	}

	first, second := result.WorkoutSessions[0], result.WorkoutSessions[1]
	if first.Date != "2024-01-15" || second.Date != "2024-01-16" {
		t.Fatalf("dates=%s/%s, want 2024-01-15/2024-01-16", first.Date, second.Date)
	}
	if first.WorkoutType != schema.WorkoutHIIT {
		t.Fatalf("workoutType=%s, want hiit default", first.WorkoutType)
	}
	if first.Calories != nil {
		t.Fatalf("calories=%v, want nil (no matching column)", *first.Calories)
	}
	if first.SplatPoints == nil || *first.SplatPoints != 12 {
		t.Fatalf("splat=%v, want 12", first.SplatPoints)
	}
	if first.AvgHeartRate == nil || *first.AvgHeartRate != 150 {
		t.Fatalf("avgHR=%v, want 150", first.AvgHeartRate)
	}
	if first.DurationSeconds != defaultWorkoutMinutes*60 {
		t.Fatalf("duration=%d, want default %d min", first.DurationSeconds, defaultWorkoutMinutes)
	}
}

func TestWorkoutCSVClassification(t *testing.T) {
	content := []byte("Date,Class Type\n" +
		"2024-01-15,Strength 50\n" +
		"2024-01-16,Tread 50\n" +
		"2024-01-17,Row Sprint\n" +
		"2024-01-18,Orange 60\n")

	p := NewWorkoutCSVParser()
	result, err := p.Parse(context.Background(), Input{Content: content})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	want := []string{schema.WorkoutStrength, schema.WorkoutRunning, schema.WorkoutCardio, schema.WorkoutHIIT}
	for i, w := range want {
		if got := result.WorkoutSessions[i].WorkoutType; got != w {
			t.Fatalf("row %d workoutType=%s, want %s", i, got, w)
		}
	}
	if result.WorkoutSessions[0].WorkoutSubtype != "Strength 50" {
		t.Fatalf("subtype=%s, want original class text", result.WorkoutSessions[0].WorkoutSubtype)
	}
}

func TestWorkoutCSVDateCascade(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"2024-01-15", "2024-01-15", true},
		{"2024-01-15T08:00:00Z", "2024-01-15", true},
		{"1/5/2024", "2024-01-05", true},
		{"01/16/24", "2024-01-16", true},
		{"01/16/99", "1999-01-16", true}, // 两位年 ≥50 → 19xx
		{"16.1.2024", "2024-01-16", true},
		{"garbage", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := parseFlexibleDate(c.raw)
		if ok != c.ok || got != c.want {
			t.Fatalf("parseFlexibleDate(%q)=(%q,%v), want (%q,%v)", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestWorkoutCSVSkipsUnparseableDateRows(t *testing.T) {
	content := []byte("Date,Class\nnot-a-date,Tread 50\n2024-01-15,Tread 50\n")

	p := NewWorkoutCSVParser()
	result, err := p.Parse(context.Background(), Input{Content: content})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(result.WorkoutSessions) != 1 {
		t.Fatalf("sessions=%d, want 1", len(result.WorkoutSessions))
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != WarnParseError {
		t.Fatalf("warnings=%+v, want one parse_error", result.Warnings)
	}
}

func TestWorkoutCSVZonesAndVendorData(t *testing.T) {
	content := []byte("Date,Class,Gray Zone,Blue Zone,Green Zone,Orange Zone,Red Zone,Treadmill Distance\n" +
		"2024-01-15,Orange 60,5,10,20,15,5,3.2\n")

	p := NewWorkoutCSVParser()
	result, err := p.Parse(context.Background(), Input{Content: content})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	s := result.WorkoutSessions[0]
	if s.Zone4Minutes == nil || *s.Zone4Minutes != 15 {
		t.Fatalf("zone4=%v, want 15", s.Zone4Minutes)
	}
	if s.Distance == nil || *s.Distance != 3.2 {
		t.Fatalf("distance=%v, want 3.2", s.Distance)
	}
	raw, ok := s.VendorData["raw_row"].(schema.JSONMap)
	if !ok || raw["Class"] != "Orange 60" {
		t.Fatalf("vendorData raw_row=%v, want original row retained", s.VendorData["raw_row"])
	}
}

func TestAnalyzeColumns(t *testing.T) {
	analysis := AnalyzeColumns([]string{"Date", "Splat Points", "Cal Burned", "Mystery"})

	if analysis.Mapped["date"] != "Date" || analysis.Mapped["splat_points"] != "Splat Points" {
		t.Fatalf("mapped=%v, want date and splat mapped", analysis.Mapped)
	}
	found := false
	for _, h := range analysis.Unmapped {
		if h == "Mystery" {
			found = true
		}
	}
	if !found {
		t.Fatalf("unmapped=%v, want Mystery listed", analysis.Unmapped)
	}
	// "Cal Burned" 未直接命中 calories 别名，但应出现在模糊建议里
	if cands := analysis.Suggestions["calories"]; len(cands) == 0 || cands[0] != "Cal Burned" {
		t.Fatalf("suggestions=%v, want Cal Burned suggested for calories", analysis.Suggestions)
	}
}

func TestWorkoutCSVMissingDateColumn(t *testing.T) {
	p := NewWorkoutCSVParser()
	_, err := p.Parse(context.Background(), Input{Content: []byte("a,b\n1,2\n")})
	if err == nil {
		t.Fatal("want error when no date column resolves")
	}
}
