package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// Warning 级别问题类型（单行/单记录问题不中断批处理）
const (
	WarnMissingField = "missing_field"
	WarnOutlier      = "outlier"
	WarnParseError   = "parse_error"
	WarnDuplicate    = "duplicate"
)

// Warning 行/记录级问题，附带行号便于回溯
type Warning struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	RowIndex *int   `json:"row_index,omitempty"`
}

// RowWarning 构造带行号的告警
func RowWarning(kind, message string, row int) Warning {
	return Warning{Kind: kind, Message: message, RowIndex: &row}
}

// Input 解析输入：原始内容 + 归属信息
type Input struct {
	UserID   string
	SourceID string
	FileName string
	Content  []byte

	// Progress 可选的字节级进度回调（仅大文件流式解析使用），
	// 回调异常不得影响解析状态。
	Progress func(processedBytes, totalBytes int64)
}

// Result 解析产物：零或多条规范记录 + 行级告警
type Result struct {
	SleepSessions   []schema.SleepSession
	WorkoutSessions []schema.WorkoutSession
	DailyMetrics    []schema.DailyMetric
	TimeSeries      []schema.TimeSeries
	Warnings        []Warning
}

// Parser 厂商解析器：单条坏记录记告警继续，顶层格式损坏才返回 error
type Parser interface {
	Vendor() string
	Parse(ctx context.Context, in Input) (*Result, error)
}

// Registry 厂商 → 解析器注册表（新增厂商即注册新实现，不改中央分支）
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register 注册解析器，同名厂商后注册者覆盖
func (r *Registry) Register(p Parser) {
	if p == nil {
		return
	}
	r.parsers[p.Vendor()] = p
}

// Lookup 按厂商标识查找解析器
func (r *Registry) Lookup(vendor string) (Parser, bool) {
	p, ok := r.parsers[vendor]
	return p, ok
}

// Vendors 已注册厂商列表
func (r *Registry) Vendors() []string {
	out := make([]string, 0, len(r.parsers))
	for v := range r.parsers {
		out = append(out, v)
	}
	return out
}

// nightOfDate "night-of" 归属规则：本地开始时刻早于 6 点归属前一天
func nightOfDate(start time.Time) string {
	local := start.Local()
	if local.Hour() < 6 {
		return local.AddDate(0, 0, -1).Format("2006-01-02")
	}
	return local.Format("2006-01-02")
}

// DecodeCSVRows 将 CSV 内容解码为表头 + 行对象数组，供声明式变换器复用
func DecodeCSVRows(content []byte) ([]string, []map[string]string, error) {
	return csvRows(content)
}

// csvRows 将 CSV 内容解码为表头行 + 行对象数组
func csvRows(content []byte) ([]string, []map[string]string, error) {
	text := string(content)
	delim := ','
	if line, _, found := strings.Cut(text, "\n"); found || line != "" {
		if strings.Count(line, "\t") > strings.Count(line, ",") {
			delim = '\t'
		}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1 // 宽松模式：列数不齐的行仍然读出

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("读取 CSV 失败: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV 内容为空")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, v := range rec {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func floatPtr(v float64) *float64 { return &v }
