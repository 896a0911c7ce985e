package schema

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// TransformKind 字段变换类型（封闭集合，不扩展为通用表达式求值器）
const (
	TransformDirect    = "direct"
	TransformTimestamp = "timestamp"
	TransformDuration  = "duration"
	TransformMultiply  = "multiply"
	TransformDivide    = "divide"
	TransformMap       = "map"
	TransformRegex     = "regex"
	TransformJSONPath  = "jsonpath"
	TransformCompute   = "compute"
	TransformCoalesce  = "coalesce"
)

// FieldMapping 单个目标字段的取值与变换规则
type FieldMapping struct {
	Target    string   `json:"target" yaml:"target"`                           // 规范字段名
	Source    string   `json:"source" yaml:"source"`                           // 字面量 / 键名 / 点路径
	Transform string   `json:"transform,omitempty" yaml:"transform,omitempty"` // 缺省 direct
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Params    JSONMap  `json:"params,omitempty" yaml:"params,omitempty"`       // 变换参数（factor / pattern / table / formula / from_unit ...）
	Sources   []string `json:"sources,omitempty" yaml:"sources,omitempty"`     // coalesce 的候选来源
}

// RowFilter 行级过滤：字面量等值或数值比较，不满足的行不物化
type RowFilter struct {
	Field string      `json:"field" yaml:"field"`
	Op    string      `json:"op" yaml:"op"` // eq / ne / gt / gte / lt / lte
	Value interface{} `json:"value" yaml:"value"`
}

// TableMapping 一段源数据到一类规范记录的映射
type TableMapping struct {
	SourcePath string         `json:"source_path" yaml:"source_path"` // JSONPath 风格，[*] 表示整个数组
	Target     string         `json:"target" yaml:"target"`           // sleep_sessions / workout_sessions / daily_metrics
	Filter     *RowFilter     `json:"filter,omitempty" yaml:"filter,omitempty"`
	Fields     []FieldMapping `json:"fields" yaml:"fields"`
}

// TableMappings 用于存储 JSON 映射配置
type TableMappings []TableMapping

// Value 实现 driver.Valuer 接口
func (m TableMappings) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口
func (m *TableMappings) Scan(value interface{}) error {
	if value == nil {
		*m = make(TableMappings, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid type for TableMappings")
	}

	return json.Unmarshal(bytes, m)
}

// ImporterProfile 声明式导入配置：文件特征指纹 + 字段映射
// 仅供通用变换器使用；有专用解析器的厂商不走此路径。
type ImporterProfile struct {
	ID       string `gorm:"primaryKey;size:36" json:"id" yaml:"id,omitempty"`
	Name     string `gorm:"size:100;uniqueIndex" json:"name" yaml:"name"`
	Version  int    `gorm:"default:1" json:"version" yaml:"version"`
	Vendor   string `gorm:"size:40;index" json:"vendor" yaml:"vendor"`
	FileType string `gorm:"size:20" json:"file_type" yaml:"file_type"` // json / csv

	Signatures JSONArray     `gorm:"type:text" json:"signatures" yaml:"signatures"` // 内容特征 token
	Mappings   TableMappings `gorm:"type:text" json:"mappings" yaml:"mappings"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at" yaml:"-"`
}

// TableName 指定表名
func (ImporterProfile) TableName() string {
	return "importer_profiles"
}
