package quality

import (
	"strings"
	"testing"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

func fp(v float64) *float64 { return &v }

func normalSession(id string) schema.SleepSession {
	return schema.SleepSession{
		ID:              id,
		UserID:          "u1",
		Date:            "2024-03-01",
		DurationSeconds: 7 * 3600,
		DeepSeconds:     5400,
		RemSeconds:      6300,
		LightSeconds:    13500,
		AvgHeartRate:    fp(55),
		MinHeartRate:    fp(48),
		AvgHrv:          fp(50),
	}
}

func TestHardViolationAlwaysBad(t *testing.T) {
	s := normalSession("s1")
	s.AvgHrv = fp(400) // 超过 300 上限

	e := NewEngine(0)
	for _, baselines := range []map[string]Baseline{
		nil,
		{"avg_hrv": {Median: 400, MAD: 1}}, // 即使基线认为 400 正常
	} {
		rr := e.CheckSleepSession(&s, baselines)
		if rr.Overall != QualityBad || rr.Action != ActionExcludeFromBaseline {
			t.Fatalf("overall=%s action=%s, want bad/exclude_from_baseline", rr.Overall, rr.Action)
		}
		if len(rr.HardViolations) != 1 || !strings.Contains(rr.HardViolations[0], "avg_hrv") {
			t.Fatalf("violations=%v, want single avg_hrv violation", rr.HardViolations)
		}
	}
}

func TestStagePercentViolation(t *testing.T) {
	s := normalSession("s1")
	s.DeepSeconds = int(float64(s.DurationSeconds) * 0.7) // 深睡 70%

	rr := NewEngine(0).CheckSleepSession(&s, nil)
	if rr.Overall != QualityBad {
		t.Fatalf("overall=%s, want bad for deep stage 70%%", rr.Overall)
	}
}

func TestOutlierDecisionPolicy(t *testing.T) {
	e := NewEngine(0)
	baselines := map[string]Baseline{
		"avg_hrv":        {Median: 50, MAD: 2},
		"min_heart_rate": {Median: 48, MAD: 2},
	}

	// 一个离群字段 → warning/include
	one := normalSession("s1")
	one.AvgHrv = fp(80) // z = (80-50)/(2/0.6745) ≈ 10
	rr := e.CheckSleepSession(&one, baselines)
	if rr.Overall != QualityWarning || rr.Action != ActionInclude {
		t.Fatalf("one outlier: %s/%s, want warning/include", rr.Overall, rr.Action)
	}
	if len(rr.OutlierFields) != 1 || rr.OutlierFields[0] != "avg_hrv" {
		t.Fatalf("outlierFields=%v, want [avg_hrv]", rr.OutlierFields)
	}

	// 两个离群字段 → warning/flag_for_review
	two := normalSession("s2")
	two.AvgHrv = fp(80)
	two.MinHeartRate = fp(90)
	rr = e.CheckSleepSession(&two, baselines)
	if rr.Overall != QualityWarning || rr.Action != ActionFlagForReview {
		t.Fatalf("two outliers: %s/%s, want warning/flag_for_review", rr.Overall, rr.Action)
	}

	// 无离群且字段齐全 → good/include
	clean := normalSession("s3")
	rr = e.CheckSleepSession(&clean, baselines)
	if rr.Overall != QualityGood || rr.Action != ActionInclude {
		t.Fatalf("clean: %s/%s, want good/include", rr.Overall, rr.Action)
	}
}

func TestMissingFieldsMakeWarning(t *testing.T) {
	s := normalSession("s1")
	s.AvgHrv = nil

	rr := NewEngine(0).CheckSleepSession(&s, nil)
	if rr.Overall != QualityWarning || rr.Action != ActionInclude {
		t.Fatalf("overall=%s/%s, want warning/include for missing optional field", rr.Overall, rr.Action)
	}

	// 缺总时长：唯一必填指标
	s2 := normalSession("s2")
	s2.DurationSeconds = 0
	rr = NewEngine(0).CheckSleepSession(&s2, nil)
	found := false
	for _, f := range rr.MissingFields {
		if f == "duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missingFields=%v, want duration_seconds listed", rr.MissingFields)
	}
}

func TestComputeBaselineTwoPass(t *testing.T) {
	e := NewEngine(0)
	values := []float64{48, 50, 52, 49, 51, 50, 500} // 500 是明显离群

	single := e.ComputeBaseline(values, false)
	if single.SampleCount != 7 || single.Excluded != 0 {
		t.Fatalf("single pass: count=%d excluded=%d", single.SampleCount, single.Excluded)
	}

	double := e.ComputeBaseline(values, true)
	if double.Excluded != 1 || double.SampleCount != 6 {
		t.Fatalf("two pass: count=%d excluded=%d, want 6/1", double.SampleCount, double.Excluded)
	}
	if double.Median != 50 {
		t.Fatalf("median=%v, want 50 after exclusion", double.Median)
	}
	// 保留集 {48,49,50,50,51,52}：绝对偏差 {2,1,0,0,1,2} 的中位数为 1
	if double.MAD != 1 {
		t.Fatalf("mad=%v, want 1 (deviations from retained median)", double.MAD)
	}
	if double.BandLow >= double.Median || double.BandHigh <= double.Median {
		t.Fatalf("band [%v,%v] must straddle median %v", double.BandLow, double.BandHigh, double.Median)
	}
	// 均值对离群敏感，剔除后应显著回落
	if double.Mean >= single.Mean {
		t.Fatalf("mean after exclusion %v should drop below %v", double.Mean, single.Mean)
	}
}

func TestComputeBaselineEmpty(t *testing.T) {
	b := NewEngine(0).ComputeBaseline(nil, true)
	if b.SampleCount != 0 || b.Median != 0 {
		t.Fatalf("empty baseline=%+v, want zero value", b)
	}
}

func TestAssessSessions(t *testing.T) {
	sessions := make([]schema.SleepSession, 0, 12)
	for i := 0; i < 10; i++ {
		s := normalSession("good")
		s.ID = s.ID + string(rune('0'+i))
		s.AvgHrv = fp(48 + float64(i%5)) // 48~52，给基线一点自然波动
		sessions = append(sessions, s)
	}
	bad := normalSession("bad1")
	bad.AvgHrv = fp(400)
	sessions = append(sessions, bad)
	outlier := normalSession("outlier1")
	outlier.AvgHrv = fp(120)
	sessions = append(sessions, outlier)

	report := NewEngine(0).AssessSessions(sessions)
	if report.TotalSessions != 12 {
		t.Fatalf("total=%d, want 12", report.TotalSessions)
	}
	if report.BadCount != 1 {
		t.Fatalf("bad=%d, want 1", report.BadCount)
	}
	if report.GoodCount != 10 || report.WarningCount != 1 {
		t.Fatalf("good=%d warning=%d, want 10/1", report.GoodCount, report.WarningCount)
	}
	if _, ok := report.Baselines["avg_hrv"]; !ok {
		t.Fatal("want avg_hrv baseline")
	}
	if rr, ok := report.Records[bad.ID]; !ok || rr.Overall != QualityBad {
		t.Fatalf("record report for %s = %+v, want bad", bad.ID, rr)
	}
	if len(report.TopIssues) == 0 {
		t.Fatal("want at least one top issue")
	}
}

func TestAssessExcludesManuallyExcludedFromBaseline(t *testing.T) {
	sessions := []schema.SleepSession{}
	for i := 0; i < 6; i++ {
		s := normalSession("s")
		s.ID = s.ID + string(rune('0'+i))
		sessions = append(sessions, s)
	}
	excluded := normalSession("manual")
	excluded.AvgHrv = fp(290) // 合法但极端，若进基线会拉偏中位数
	excluded.Quality.ManuallyExcluded = true
	sessions = append(sessions, excluded)

	report := NewEngine(0).AssessSessions(sessions)
	if b := report.Baselines["avg_hrv"]; b.Median != 50 {
		t.Fatalf("median=%v, want 50 (manual exclusion must not enter baseline)", b.Median)
	}
	// 被排除的记录仍要被体检计数
	if _, ok := report.Records[excluded.ID]; !ok {
		t.Fatal("manually excluded session must still get a record report")
	}
}

func TestRecommendations(t *testing.T) {
	sessions := []schema.SleepSession{}
	for i := 0; i < 5; i++ {
		s := normalSession("g")
		s.ID = s.ID + string(rune('0'+i))
		sessions = append(sessions, s)
	}
	bad := normalSession("b1")
	bad.AvgHrv = fp(400)
	sessions = append(sessions, bad) // 1/6 ≈ 17% > 10%

	report := NewEngine(0).AssessSessions(sessions)
	if len(report.Recommendations) == 0 {
		t.Fatal("want recommendation when bad share exceeds 10%")
	}
}

func TestApplyToFlags(t *testing.T) {
	flags := schema.DataQualityFlags{IsComplete: true, ManuallyExcluded: true}
	ApplyToFlags(RecordReport{
		OutlierFields: []string{"avg_hrv"},
		MissingFields: []string{"avg_heart_rate"},
	}, &flags)

	if !flags.HasOutliers || flags.IsComplete {
		t.Fatalf("flags=%+v, want hasOutliers && !isComplete", flags)
	}
	if !flags.ManuallyExcluded {
		t.Fatal("manual exclusion bit must be preserved")
	}
	if len(flags.OutlierFields) != 1 || flags.OutlierFields[0] != "avg_hrv" {
		t.Fatalf("outlierFields=%v", flags.OutlierFields)
	}
}
