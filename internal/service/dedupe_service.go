package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 完整度权重：时长最高，其次睡眠阶段，再次心率/HRV，最后环境类字段。
// 分数是合并优先级的唯一依据——“更丰富”胜过“更新”，后导入的稀疏数据
// 永远不能覆盖已有的更完整记录。
const (
	weightDuration    = 30
	weightStage       = 10 // deep/rem/light/awake 各一份
	weightTimeInBed   = 8
	weightHeartRate   = 5 // avg/min/max 各一份
	weightHrv         = 6
	weightEfficiency  = 3
	weightRespiratory = 3
	weightTemp        = 2 // bed/room 各一份
)

// CompletenessScore 按字段有无加权求和；0 视为缺失（没有 0 秒的真实睡眠阶段）
func CompletenessScore(s *schema.SleepSession) int {
	score := 0
	if s.DurationSeconds > 0 {
		score += weightDuration
	}
	for _, sec := range []int{s.DeepSeconds, s.RemSeconds, s.LightSeconds, s.AwakeSeconds} {
		if sec > 0 {
			score += weightStage
		}
	}
	if s.TimeInBedSeconds > 0 {
		score += weightTimeInBed
	}
	for _, p := range []*float64{s.AvgHeartRate, s.MinHeartRate, s.MaxHeartRate} {
		if p != nil {
			score += weightHeartRate
		}
	}
	if s.AvgHrv != nil {
		score += weightHrv
	}
	if s.Efficiency != nil {
		score += weightEfficiency
	}
	if s.AvgRespiratoryRate != nil {
		score += weightRespiratory
	}
	for _, p := range []*float64{s.AvgBedTempC, s.AvgRoomTempC} {
		if p != nil {
			score += weightTemp
		}
	}
	return score
}

// DedupeService 睡眠会话去重/合并引擎，自然键为 (user_id, date)
type DedupeService struct {
	sleeps SleepStore
}

// NewDedupeService 创建去重引擎
func NewDedupeService(sleeps SleepStore) *DedupeService {
	return &DedupeService{sleeps: sleeps}
}

// DedupeResult 去重产物：待写入的会话 + 各路径计数
type DedupeResult struct {
	Sessions []schema.SleepSession
	Created  int
	Merged   int
	Skipped  int
}

// Dedupe 先把同一天的新会话折叠成一条，再与库中既有记录比较：
// 无既有记录 → 新建；既有分数 ≥ 新来 → 丢弃；否则合并并继承既有 id。
func (s *DedupeService) Dedupe(ctx context.Context, userID string, incoming []schema.SleepSession) (*DedupeResult, error) {
	result := &DedupeResult{}

	byDate := make(map[string]schema.SleepSession)
	var dates []string
	for _, session := range incoming {
		if session.Date == "" {
			continue
		}
		if prior, ok := byDate[session.Date]; ok {
			byDate[session.Date] = mergeSleepPair(prior, session)
		} else {
			byDate[session.Date] = session
			dates = append(dates, session.Date)
		}
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate := byDate[date]

		stored, err := s.sleeps.ListByUserAndDate(ctx, userID, date)
		if err != nil {
			return nil, fmt.Errorf("查询既有会话失败: %w", err)
		}
		// 同一天存在多条历史记录时由最完整的一条代表既有状态
		existing := mostComplete(stored)
		if existing == nil {
			result.Sessions = append(result.Sessions, candidate)
			result.Created++
			continue
		}

		existingScore := CompletenessScore(existing)
		candidateScore := CompletenessScore(&candidate)
		if existingScore >= candidateScore {
			result.Skipped++
			slog.Debug("丢弃较稀疏的新会话",
				"date", date, "existing_score", existingScore, "incoming_score", candidateScore)
			continue
		}

		merged := mergeSleepPair(candidate, *existing)
		merged.ID = existing.ID // 继承既有身份，存储层按更新处理
		merged.CreatedAt = existing.CreatedAt
		result.Sessions = append(result.Sessions, merged)
		result.Merged++
	}
	return result, nil
}

// mostComplete 返回分数最高的一条；空列表返回 nil
func mostComplete(sessions []schema.SleepSession) *schema.SleepSession {
	var best *schema.SleepSession
	bestScore := -1
	for i := range sessions {
		if score := CompletenessScore(&sessions[i]); score > bestScore {
			best = &sessions[i]
			bestScore = score
		}
	}
	return best
}

// mergeSleepPair 取分数高者为底，只从另一条补其缺失字段，绝不覆盖已有值；
// 来源信息并入 vendor_data.merged_sources。
func mergeSleepPair(a, b schema.SleepSession) schema.SleepSession {
	base, supplement := a, b
	if CompletenessScore(&b) > CompletenessScore(&a) {
		base, supplement = b, a
	}

	if base.StartedAt == 0 {
		base.StartedAt = supplement.StartedAt
	}
	if base.EndedAt == 0 {
		base.EndedAt = supplement.EndedAt
	}
	fillInt(&base.DurationSeconds, supplement.DurationSeconds)
	fillInt(&base.DeepSeconds, supplement.DeepSeconds)
	fillInt(&base.RemSeconds, supplement.RemSeconds)
	fillInt(&base.LightSeconds, supplement.LightSeconds)
	fillInt(&base.AwakeSeconds, supplement.AwakeSeconds)
	fillInt(&base.TimeInBedSeconds, supplement.TimeInBedSeconds)
	fillPtr(&base.Efficiency, supplement.Efficiency)
	fillPtr(&base.AvgHeartRate, supplement.AvgHeartRate)
	fillPtr(&base.MinHeartRate, supplement.MinHeartRate)
	fillPtr(&base.MaxHeartRate, supplement.MaxHeartRate)
	fillPtr(&base.AvgHrv, supplement.AvgHrv)
	fillPtr(&base.AvgRespiratoryRate, supplement.AvgRespiratoryRate)
	fillPtr(&base.AvgBedTempC, supplement.AvgBedTempC)
	fillPtr(&base.AvgRoomTempC, supplement.AvgRoomTempC)

	if base.Quality.SensorGaps == 0 {
		base.Quality.SensorGaps = supplement.Quality.SensorGaps
	}

	base.VendorData = mergeSources(base.VendorData, supplement.VendorData)
	return base
}

// mergeSources 并入双方的 source / merged_sources 去重列表
func mergeSources(base, supplement schema.JSONMap) schema.JSONMap {
	out := schema.JSONMap{}
	for k, v := range base {
		out[k] = v
	}

	var sources []string
	collect := func(m schema.JSONMap) {
		if s := schema.GetString(m, "source"); s != "" {
			sources = append(sources, s)
		}
		sources = append(sources, schema.GetStringSlice(m, "merged_sources")...)
	}
	collect(base)
	collect(supplement)

	schema.SetStringSlice(out, "merged_sources", sources)
	return out
}

func fillInt(dst *int, src int) {
	if *dst == 0 {
		*dst = src
	}
}

func fillPtr(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}
