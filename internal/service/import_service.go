package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/parser"
	"github.com/peterpiperpicked4/vaulthealth/internal/quality"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/transform"
)

// 导入流水线阶段，严格单向推进
const (
	StageDetecting    = "detecting"
	StageParsing      = "parsing"
	StageTransforming = "transforming"
	StageValidating   = "validating"
	StageStoring      = "storing"
	StageComplete     = "complete"
)

// 终止性错误类别
const (
	ErrInvalidFormat     = "invalid_format"
	ErrUnsupportedVendor = "unsupported_vendor"
	ErrParseError        = "parse_error"
	ErrStorageError      = "storage_error"
	ErrCancelled         = "cancelled"
)

// ImportError 终止整个导入的结构化错误；行级问题走告警不走这里
type ImportError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Progress 推送给调用方的进度事件
type Progress struct {
	Stage            string `json:"stage"`
	Percent          int    `json:"percent"`
	Message          string `json:"message"`
	RecordsProcessed int64  `json:"records_processed,omitempty"`
	TotalRecords     int64  `json:"total_records,omitempty"`
}

// ProgressFunc 进度回调；回调内 panic 会被隔离，不影响流水线
type ProgressFunc func(Progress)

// RecordCounts 各类记录的入库条数
type RecordCounts struct {
	SleepSessions   int `json:"sleep_sessions"`
	WorkoutSessions int `json:"workout_sessions"`
	DailyMetrics    int `json:"daily_metrics"`
	TimeSeries      int `json:"time_series"`
}

// QualitySummary 本次导入睡眠记录的质量分布
type QualitySummary struct {
	Good    int `json:"good"`
	Warning int `json:"warning"`
	Bad     int `json:"bad"`
}

// ImportResult 单文件导入的完整结果；ImportFile 不抛错，一切都在这里
type ImportResult struct {
	Success        bool             `json:"success"`
	SourceID       string           `json:"source_id,omitempty"`
	Vendor         string           `json:"vendor"`
	RecordCounts   RecordCounts     `json:"record_counts"`
	MergedCount    int              `json:"merged_count"`
	SkippedCount   int              `json:"skipped_count"`
	Warnings       []parser.Warning `json:"warnings,omitempty"`
	Errors         []ImportError    `json:"errors,omitempty"`
	QualitySummary QualitySummary   `json:"quality_summary"`
}

// ImportInput 一次导入的全部输入
type ImportInput struct {
	UserID     string
	FileName   string
	MimeType   string
	Content    []byte
	Profile    *schema.ImporterProfile // 可选，优先于库中与内置配置
	OnProgress ProgressFunc
}

// ImportService 导入编排器：检测 → 解析/变换 → 质检 → 去重 → 入库
type ImportService struct {
	registry    *parser.Registry
	transformer *transform.Transformer
	engine      *quality.Engine
	dedupe      *DedupeService

	sleeps   SleepStore
	workouts WorkoutStore
	metrics  MetricStore
	series   SeriesStore
	sources  SourceStore
	profiles ProfileStore
}

// NewImportService 创建导入编排器。profiles 可为 nil（只用内置配置）。
func NewImportService(
	registry *parser.Registry,
	transformer *transform.Transformer,
	engine *quality.Engine,
	dedupe *DedupeService,
	sleeps SleepStore,
	workouts WorkoutStore,
	metrics MetricStore,
	series SeriesStore,
	sources SourceStore,
	profiles ProfileStore,
) *ImportService {
	return &ImportService{
		registry:    registry,
		transformer: transformer,
		engine:      engine,
		dedupe:      dedupe,
		sleeps:      sleeps,
		workouts:    workouts,
		metrics:     metrics,
		series:      series,
		sources:     sources,
		profiles:    profiles,
	}
}

// ImportFile 导入单个文件。任何输入（包括损坏的）都返回一份 ImportResult，
// 不向上抛错；终止性问题记入 Errors 并置 Success=false。
func (s *ImportService) ImportFile(ctx context.Context, in ImportInput) *ImportResult {
	result := &ImportResult{}
	report := func(p Progress) { safeProgress(in.OnProgress, p) }

	fail := func(ie *ImportError) *ImportResult {
		result.Success = false
		result.Errors = append(result.Errors, *ie)
		slog.Warn("导入终止", "file", in.FileName, "kind", ie.Kind, "error", ie.Error())
		return result
	}
	if err := ctx.Err(); err != nil {
		return fail(&ImportError{Kind: ErrCancelled, Message: "导入已取消", Err: err})
	}

	// ---- detecting ----
	report(Progress{Stage: StageDetecting, Percent: 0, Message: "识别文件类型"})

	sum := sha256.Sum256(in.Content)
	fileHash := hex.EncodeToString(sum[:])

	detected := detect.DetectFile(in.FileName, in.MimeType, in.Content)
	if detected.FileType == detect.FileUnknown || detected.SuggestedVendor == "" {
		return fail(&ImportError{Kind: ErrInvalidFormat,
			Message: fmt.Sprintf("无法识别文件 %s 的格式", in.FileName)})
	}
	result.Vendor = detected.SuggestedVendor

	// 重复文件只告警；依赖去重引擎保证数据不重复，而不是阻断导入
	if prior, err := s.sources.GetByFileHash(ctx, in.UserID, fileHash); err != nil {
		return fail(&ImportError{Kind: ErrStorageError, Message: "查询重复文件失败", Err: err})
	} else if prior != nil {
		result.Warnings = append(result.Warnings, parser.Warning{
			Kind:    parser.WarnDuplicate,
			Message: fmt.Sprintf("文件与 %s 的既有导入内容相同", prior.ImportedAt.Format("2006-01-02")),
		})
	}
	report(Progress{Stage: StageDetecting, Percent: 5, Message: "识别为 " + detected.SuggestedVendor})

	sourceID := uuid.NewString()
	input := parser.Input{
		UserID:   in.UserID,
		SourceID: sourceID,
		FileName: in.FileName,
		Content:  in.Content,
		Progress: func(processed, total int64) {
			percent := 10
			if total > 0 {
				percent = 10 + int(float64(processed)/float64(total)*50)
			}
			safeProgress(in.OnProgress, Progress{
				Stage:            StageParsing,
				Percent:          percent,
				Message:          "解析中",
				RecordsProcessed: processed,
				TotalRecords:     total,
			})
		},
	}

	// ---- parsing / transforming ----
	var parsed *parser.Result
	if p, ok := s.registry.Lookup(detected.SuggestedVendor); ok {
		// 专用解析器直接产出规范记录，旁路通用变换
		report(Progress{Stage: StageParsing, Percent: 10, Message: "解析 " + detected.SuggestedVendor})
		var err error
		parsed, err = p.Parse(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return fail(&ImportError{Kind: ErrCancelled, Message: "导入已取消", Err: err})
			}
			return fail(&ImportError{Kind: ErrParseError, Message: "文件解析失败", Err: err})
		}
	} else {
		profile, err := s.resolveProfile(ctx, in.Profile, detected.SuggestedVendor)
		if err != nil {
			return fail(&ImportError{Kind: ErrStorageError, Message: "查询导入配置失败", Err: err})
		}
		if profile == nil {
			return fail(&ImportError{Kind: ErrUnsupportedVendor,
				Message: fmt.Sprintf("没有 %s 的解析器或导入配置", detected.SuggestedVendor)})
		}

		report(Progress{Stage: StageParsing, Percent: 10, Message: "按配置 " + profile.Name + " 解析"})
		data, derr := decodeForTransform(detected.FileType, in.Content)
		if derr != nil {
			return fail(&ImportError{Kind: ErrParseError, Message: "文件内容损坏", Err: derr})
		}

		report(Progress{Stage: StageTransforming, Percent: 60, Message: "字段映射"})
		parsed, err = s.transformer.Apply(ctx, profile, data, input)
		if err != nil {
			if ctx.Err() != nil {
				return fail(&ImportError{Kind: ErrCancelled, Message: "导入已取消", Err: err})
			}
			return fail(&ImportError{Kind: ErrParseError, Message: "字段映射失败", Err: err})
		}
	}
	result.Warnings = append(result.Warnings, parsed.Warnings...)

	// ---- validating ----
	report(Progress{Stage: StageValidating, Percent: 70, Message: "数据质量检查"})
	s.validateSleep(parsed, result)

	if err := ctx.Err(); err != nil {
		return fail(&ImportError{Kind: ErrCancelled, Message: "导入已取消", Err: err})
	}

	// ---- storing ----
	report(Progress{Stage: StageStoring, Percent: 80, Message: "写入存储"})

	source := &schema.Source{
		ID:            sourceID,
		UserID:        in.UserID,
		Vendor:        detected.SuggestedVendor,
		FileName:      in.FileName,
		FileHash:      fileHash,
		FileSizeBytes: int64(len(in.Content)),
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return fail(&ImportError{Kind: ErrStorageError, Message: "创建溯源记录失败", Err: err})
	}
	result.SourceID = sourceID

	if err := s.storeRecords(ctx, in.UserID, parsed, result); err != nil {
		if ctx.Err() != nil {
			return fail(&ImportError{Kind: ErrCancelled, Message: "导入已取消", Err: err})
		}
		// 跨表写入不具事务性：此处失败意味着部分写入，重跑导入即可恢复
		return fail(&ImportError{Kind: ErrStorageError, Message: "写入记录失败", Err: err})
	}

	source.SleepSessionCount = result.RecordCounts.SleepSessions
	source.WorkoutSessionCount = result.RecordCounts.WorkoutSessions
	source.DailyMetricCount = result.RecordCounts.DailyMetrics
	source.TimeSeriesCount = result.RecordCounts.TimeSeries
	source.WarningCount = len(result.Warnings)
	if err := s.sources.UpdateCounts(ctx, source); err != nil {
		return fail(&ImportError{Kind: ErrStorageError, Message: "回写溯源计数失败", Err: err})
	}

	result.Success = true
	report(Progress{Stage: StageComplete, Percent: 100, Message: "导入完成"})
	slog.Info("导入完成",
		"file", in.FileName,
		"vendor", result.Vendor,
		"sleep_sessions", result.RecordCounts.SleepSessions,
		"workout_sessions", result.RecordCounts.WorkoutSessions,
		"daily_metrics", result.RecordCounts.DailyMetrics,
		"warnings", len(result.Warnings),
	)
	return result
}

// resolveProfile 配置优先级：调用方显式给的 > 库中按厂商 > 内置
func (s *ImportService) resolveProfile(ctx context.Context, explicit *schema.ImporterProfile, vendor string) (*schema.ImporterProfile, error) {
	if explicit != nil {
		return explicit, nil
	}
	if s.profiles != nil {
		stored, err := s.profiles.GetByVendor(ctx, vendor)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return stored, nil
		}
	}
	for _, builtin := range transform.BuiltinProfiles() {
		if builtin.Vendor == vendor {
			b := builtin
			return &b, nil
		}
	}
	return nil, nil
}

// decodeForTransform 按文件类型解码成变换器可消费的数据
func decodeForTransform(fileType string, content []byte) (interface{}, error) {
	switch fileType {
	case detect.FileCSV:
		_, rows, err := parser.DecodeCSVRows(content)
		if err != nil {
			return nil, fmt.Errorf("解码 CSV 失败: %w", err)
		}
		data := make([]interface{}, len(rows))
		for i, row := range rows {
			data[i] = row
		}
		return data, nil
	default:
		var data interface{}
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("解码 JSON 失败: %w", err)
		}
		return data, nil
	}
}

// validateSleep 对睡眠会话做质检（导入时无历史基线，只做硬性范围校验），
// 质量问题永远是标记+告警，不会让记录被拒绝。
func (s *ImportService) validateSleep(parsed *parser.Result, result *ImportResult) {
	for i := range parsed.SleepSessions {
		session := &parsed.SleepSessions[i]
		rr := s.engine.CheckSleepSession(session, nil)
		quality.ApplyToFlags(rr, &session.Quality)

		switch rr.Overall {
		case quality.QualityGood:
			result.QualitySummary.Good++
		case quality.QualityWarning:
			result.QualitySummary.Warning++
		case quality.QualityBad:
			result.QualitySummary.Bad++
		}
		for _, violation := range rr.HardViolations {
			result.Warnings = append(result.Warnings, parser.Warning{
				Kind:    parser.WarnOutlier,
				Message: fmt.Sprintf("%s：%s", session.Date, violation),
			})
		}
	}
}

// storeRecords 去重后入库；跨表非事务，失败即返回由调用方定性
func (s *ImportService) storeRecords(ctx context.Context, userID string, parsed *parser.Result, result *ImportResult) error {
	deduped, err := s.dedupe.Dedupe(ctx, userID, parsed.SleepSessions)
	if err != nil {
		return err
	}
	result.MergedCount = deduped.Merged
	result.SkippedCount = deduped.Skipped
	for i := range deduped.Sessions {
		if err := s.sleeps.Save(ctx, &deduped.Sessions[i]); err != nil {
			return err
		}
		result.RecordCounts.SleepSessions++
	}

	for i := range parsed.WorkoutSessions {
		w := &parsed.WorkoutSessions[i]
		existing, err := s.workouts.FindDuplicate(ctx, w)
		if err != nil {
			return err
		}
		if existing != nil {
			result.SkippedCount++
			continue
		}
		if err := s.workouts.Save(ctx, w); err != nil {
			return err
		}
		result.RecordCounts.WorkoutSessions++
	}

	for i := range parsed.DailyMetrics {
		if _, err := s.metrics.Upsert(ctx, &parsed.DailyMetrics[i]); err != nil {
			return err
		}
		result.RecordCounts.DailyMetrics++
	}

	for i := range parsed.TimeSeries {
		if err := s.series.ReplaceForDate(ctx, &parsed.TimeSeries[i]); err != nil {
			return err
		}
		result.RecordCounts.TimeSeries++
	}
	return nil
}

// safeProgress 进度回调故障隔离：回调 panic 不得影响流水线
func safeProgress(fn ProgressFunc, p Progress) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("进度回调 panic 已忽略", "panic", r)
		}
	}()
	fn(p)
}
