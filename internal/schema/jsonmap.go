package schema

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap 用于存储 JSON 格式的开放字段（如 vendor_data）
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid type for JSONMap")
	}

	return json.Unmarshal(bytes, j)
}

// JSONArray 用于存储 JSON 字符串数组
type JSONArray []string

// Value 实现 driver.Valuer 接口
func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONArray, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*j = make(JSONArray, 0)
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Sample 时间序列采样点，Value 为 nil 表示传感器缺采样
type Sample struct {
	Timestamp int64    `json:"t"` // Unix 时间戳（秒）
	Value     *float64 `json:"v"` // nil = 缺失
}

// SampleArray 用于存储 JSON 采样点数组
type SampleArray []Sample

// Value 实现 driver.Valuer 接口
func (s SampleArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner 接口
func (s *SampleArray) Scan(value interface{}) error {
	if value == nil {
		*s = make(SampleArray, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = make(SampleArray, 0)
		return nil
	}

	return json.Unmarshal(bytes, s)
}
