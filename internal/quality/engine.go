package quality

import (
	"fmt"
	"sort"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/stats"
)

// DefaultOutlierThreshold 稳健 z 分数的默认离群阈值
const DefaultOutlierThreshold = 3.5

// 记录质量等级
const (
	QualityGood    = "good"
	QualityWarning = "warning"
	QualityBad     = "bad"
)

// 对记录的建议动作
const (
	ActionInclude             = "include"
	ActionExcludeFromBaseline = "exclude_from_baseline"
	ActionFlagForReview       = "flag_for_review"
)

// 参与基线统计与离群检测的指标字段
var baselineMetrics = []string{
	"avg_hrv",
	"min_heart_rate",
	"avg_respiratory_rate",
	"duration_seconds",
}

// Baseline 单一指标的个人基线
type Baseline struct {
	Median      float64 `json:"median"`
	MAD         float64 `json:"mad"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stdDev"`
	P25         float64 `json:"p25"`
	P75         float64 `json:"p75"`
	BandLow     float64 `json:"bandLow"`
	BandHigh    float64 `json:"bandHigh"`
	SampleCount int     `json:"sampleCount"`
	Excluded    int     `json:"excluded"`
}

// RecordReport 单条记录的质量体检结果
type RecordReport struct {
	HardViolations []string `json:"hardViolations,omitempty"`
	OutlierFields  []string `json:"outlierFields,omitempty"`
	MissingFields  []string `json:"missingFields,omitempty"`
	Overall        string   `json:"overall"`
	Action         string   `json:"action"`
}

// IssueCount 问题描述及出现次数
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// UserReport 某用户全量睡眠记录的质量汇总
type UserReport struct {
	TotalSessions   int                     `json:"totalSessions"`
	GoodCount       int                     `json:"goodCount"`
	WarningCount    int                     `json:"warningCount"`
	BadCount        int                     `json:"badCount"`
	Baselines       map[string]Baseline     `json:"baselines"`
	TopIssues       []IssueCount            `json:"topIssues"`
	Recommendations []string                `json:"recommendations"`
	Records         map[string]RecordReport `json:"-"`
}

// Engine 数据质量引擎：硬性范围校验 + 基于个人基线的 MAD 离群检测
type Engine struct {
	threshold float64
}

// NewEngine 创建引擎；threshold <= 0 时取默认阈值
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	return &Engine{threshold: threshold}
}

// ComputeBaseline 由样本计算基线。excludeOutliers 为 true 时做两遍稳健估计：
// 第一遍的中位数/MAD 只用来决定剔除，报告的基线来自保留子集。
func (e *Engine) ComputeBaseline(values []float64, excludeOutliers bool) Baseline {
	retained := values
	excluded := 0
	if excludeOutliers && len(values) > 0 {
		median := stats.Median(values)
		mad := stats.MAD(values, median)
		kept := make([]float64, 0, len(values))
		for _, v := range values {
			z := stats.RobustZScore(v, median, mad)
			if z < 0 {
				z = -z
			}
			if z > e.threshold {
				excluded++
				continue
			}
			kept = append(kept, v)
		}
		retained = kept
	}
	if len(retained) == 0 {
		return Baseline{Excluded: excluded}
	}

	median := stats.Median(retained)
	mad := stats.MAD(retained, median)
	return Baseline{
		Median:      median,
		MAD:         mad,
		Mean:        stats.Mean(retained),
		StdDev:      stats.StdDev(retained),
		P25:         stats.Percentile(retained, 25),
		P75:         stats.Percentile(retained, 75),
		BandLow:     median - 2*mad,
		BandHigh:    median + 2*mad,
		SampleCount: len(retained),
		Excluded:    excluded,
	}
}

// CheckSleepSession 单条记录体检。baselines 可为 nil（只做硬性范围校验）。
// 判定：硬违规 → bad/剔除基线；≥2 个离群字段 → warning/待复核；
// 1 个离群或缺可选字段 → warning/保留；其余 → good/保留。
func (e *Engine) CheckSleepSession(s *schema.SleepSession, baselines map[string]Baseline) RecordReport {
	report := RecordReport{}

	values := sessionMetricValues(s)
	for _, field := range sortedKeys(values) {
		if !checkHardLimit(field, values[field]) {
			report.HardViolations = append(report.HardViolations,
				fmt.Sprintf("%s 超出生理范围", field))
		}
	}

	// 阶段占比（相对总时长）
	if s.DurationSeconds > 0 {
		total := float64(s.DurationSeconds)
		for field, sec := range map[string]int{
			"deep_seconds": s.DeepSeconds,
			"rem_seconds":  s.RemSeconds,
		} {
			if pct := float64(sec) / total * 100; pct > MaxStagePercent {
				report.HardViolations = append(report.HardViolations,
					fmt.Sprintf("%s 占比 %.0f%% 超过上限", field, pct))
			}
		}
	} else {
		// 总时长是唯一必填指标
		report.MissingFields = append(report.MissingFields, "duration_seconds")
	}
	sort.Strings(report.HardViolations)

	if s.AvgHeartRate == nil {
		report.MissingFields = append(report.MissingFields, "avg_heart_rate")
	}
	if s.AvgHrv == nil {
		report.MissingFields = append(report.MissingFields, "avg_hrv")
	}

	for _, metric := range baselineMetrics {
		v, ok := values[metric]
		if !ok {
			continue
		}
		b, has := baselines[metric]
		if !has {
			continue
		}
		z := stats.RobustZScore(v, b.Median, b.MAD)
		if z < 0 {
			z = -z
		}
		if z > e.threshold {
			report.OutlierFields = append(report.OutlierFields, metric)
		}
	}

	switch {
	case len(report.HardViolations) > 0:
		report.Overall = QualityBad
		report.Action = ActionExcludeFromBaseline
	case len(report.OutlierFields) >= 2:
		report.Overall = QualityWarning
		report.Action = ActionFlagForReview
	case len(report.OutlierFields) == 1 || len(report.MissingFields) > 0:
		report.Overall = QualityWarning
		report.Action = ActionInclude
	default:
		report.Overall = QualityGood
		report.Action = ActionInclude
	}
	return report
}

// AssessSessions 批量体检：先按指标独立算基线，再逐条复检并汇总。
// 手动排除的记录不进基线，但仍会被体检计数。
func (e *Engine) AssessSessions(sessions []schema.SleepSession) *UserReport {
	report := &UserReport{
		TotalSessions: len(sessions),
		Baselines:     make(map[string]Baseline, len(baselineMetrics)),
		Records:       make(map[string]RecordReport, len(sessions)),
	}

	samples := make(map[string][]float64, len(baselineMetrics))
	for i := range sessions {
		if sessions[i].Quality.ManuallyExcluded {
			continue
		}
		for metric, v := range sessionMetricValues(&sessions[i]) {
			samples[metric] = append(samples[metric], v)
		}
	}
	for _, metric := range baselineMetrics {
		if vals := samples[metric]; len(vals) > 0 {
			report.Baselines[metric] = e.ComputeBaseline(vals, true)
		}
	}

	issueCounts := map[string]int{}
	for i := range sessions {
		s := &sessions[i]
		rr := e.CheckSleepSession(s, report.Baselines)
		report.Records[s.ID] = rr

		switch rr.Overall {
		case QualityGood:
			report.GoodCount++
		case QualityWarning:
			report.WarningCount++
		case QualityBad:
			report.BadCount++
		}
		for _, issue := range rr.HardViolations {
			issueCounts[issue]++
		}
		for _, field := range rr.OutlierFields {
			issueCounts[fmt.Sprintf("%s 偏离个人基线", field)]++
		}
		for _, field := range rr.MissingFields {
			issueCounts[fmt.Sprintf("缺少 %s", field)]++
		}
	}
	report.TopIssues = topIssues(issueCounts, 10)
	report.Recommendations = e.recommendations(report)
	return report
}

// ApplyToFlags 把体检结果写回记录的质量标记（不触碰手动排除位）
func ApplyToFlags(rr RecordReport, flags *schema.DataQualityFlags) {
	flags.HasOutliers = len(rr.OutlierFields) > 0 || len(rr.HardViolations) > 0
	flags.IsComplete = len(rr.MissingFields) == 0
	flags.OutlierFields = schema.JSONArray(rr.OutlierFields)
}

func (e *Engine) recommendations(report *UserReport) []string {
	var recs []string
	if report.TotalSessions > 0 {
		badShare := float64(report.BadCount) / float64(report.TotalSessions)
		if badShare > 0.10 {
			recs = append(recs, fmt.Sprintf(
				"%.0f%% 的睡眠记录存在硬性违规，建议检查数据来源或解析配置", badShare*100))
		}
	}
	for _, metric := range baselineMetrics {
		if b, ok := report.Baselines[metric]; ok && b.Excluded > 5 {
			recs = append(recs, fmt.Sprintf(
				"指标 %s 有 %d 个样本被基线剔除，可能存在持续性的传感器问题", metric, b.Excluded))
		}
	}
	return recs
}

// sessionMetricValues 抽取参与范围校验/离群检测的数值字段（缺失的不出现）
func sessionMetricValues(s *schema.SleepSession) map[string]float64 {
	values := map[string]float64{}
	if s.DurationSeconds > 0 {
		values["duration_seconds"] = float64(s.DurationSeconds)
	}
	putPtr := func(field string, v *float64) {
		if v != nil {
			values[field] = *v
		}
	}
	putPtr("avg_heart_rate", s.AvgHeartRate)
	putPtr("min_heart_rate", s.MinHeartRate)
	putPtr("max_heart_rate", s.MaxHeartRate)
	putPtr("avg_hrv", s.AvgHrv)
	putPtr("avg_respiratory_rate", s.AvgRespiratoryRate)
	putPtr("efficiency", s.Efficiency)
	return values
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func topIssues(counts map[string]int, limit int) []IssueCount {
	issues := make([]IssueCount, 0, len(counts))
	for issue, count := range counts {
		issues = append(issues, IssueCount{Issue: issue, Count: count})
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Count != issues[j].Count {
			return issues[i].Count > issues[j].Count
		}
		return issues[i].Issue < issues[j].Issue
	})
	if len(issues) > limit {
		issues = issues[:limit]
	}
	return issues
}
