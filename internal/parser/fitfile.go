package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tormoder/fit"

	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// FITParser FIT 二进制活动文件解析器（跑表/码表常见导出）
type FITParser struct{}

// NewFITParser 创建 FIT 解析器
func NewFITParser() *FITParser {
	return &FITParser{}
}

// Vendor 厂商标识
func (p *FITParser) Vendor() string {
	return detect.VendorFIT
}

// fit 库用 0xFF/0xFFFF 表示字段无效
const (
	fitInvalidUint8  = 0xFF
	fitInvalidUint16 = 0xFFFF
)

// Parse 解码 activity 文件，每个 session 消息出一条 WorkoutSession
func (p *FITParser) Parse(ctx context.Context, in Input) (*Result, error) {
	decoded, err := fit.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, fmt.Errorf("解码 FIT 文件失败: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("FIT 文件不是 activity 类型: %w", err)
	}

	out := &Result{}
	for i, s := range activity.Sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s == nil || s.StartTime.IsZero() {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnParseError, "session 消息缺少开始时间，已跳过", i))
			continue
		}

		durationSec := int(s.GetTotalTimerTimeScaled())
		if durationSec <= 0 {
			durationSec = int(s.GetTotalElapsedTimeScaled())
		}
		if durationSec <= 0 {
			out.Warnings = append(out.Warnings,
				RowWarning(WarnParseError, "session 消息缺少时长，已跳过", i))
			continue
		}

		sport := fmt.Sprint(s.Sport)
		session := schema.WorkoutSession{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			SourceID:        in.SourceID,
			Date:            s.StartTime.Local().Format("2006-01-02"),
			StartedAt:       s.StartTime.UnixMilli(),
			DurationSeconds: durationSec,
			WorkoutType:     mapFITSport(sport),
			WorkoutSubtype:  sport,
			Quality:         schema.DataQualityFlags{IsComplete: true},
			VendorData: schema.JSONMap{
				"source":    detect.VendorFIT,
				"sport":     sport,
				"sub_sport": fmt.Sprint(s.SubSport),
			},
		}

		if !s.Timestamp.IsZero() {
			endMs := s.Timestamp.UnixMilli()
			session.EndedAt = &endMs
		}
		if s.TotalCalories != fitInvalidUint16 && s.TotalCalories > 0 {
			session.Calories = floatPtr(float64(s.TotalCalories))
		}
		if s.AvgHeartRate != fitInvalidUint8 && s.AvgHeartRate > 0 {
			session.AvgHeartRate = floatPtr(float64(s.AvgHeartRate))
		}
		if s.MaxHeartRate != fitInvalidUint8 && s.MaxHeartRate > 0 {
			session.MaxHeartRate = floatPtr(float64(s.MaxHeartRate))
		}
		if d := s.GetTotalDistanceScaled(); d > 0 {
			session.Distance = floatPtr(d)
			session.DistanceUnit = "m"
		}

		out.WorkoutSessions = append(out.WorkoutSessions, session)
	}
	return out, nil
}

// mapFITSport fit 库的 Sport 字符串 → 规范运动类型
func mapFITSport(sport string) string {
	switch strings.ToLower(sport) {
	case "running", "trailrunning":
		return schema.WorkoutRunning
	case "cycling", "ebikeriding":
		return schema.WorkoutCycling
	case "swimming":
		return schema.WorkoutSwimming
	case "walking", "hiking":
		return schema.WorkoutWalking
	case "training", "fitnessequipment", "rowing":
		return schema.WorkoutCardio
	case "hiit":
		return schema.WorkoutHIIT
	case "yoga":
		return schema.WorkoutYoga
	default:
		return schema.WorkoutOther
	}
}
