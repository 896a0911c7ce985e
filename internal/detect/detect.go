package detect

import (
	"bytes"
	"encoding/json"
	"strings"
)

// 文件类型
const (
	FileJSON    = "json"
	FileCSV     = "csv"
	FileXML     = "xml"
	FileFIT     = "fit"
	FileZIP     = "zip"
	FileUnknown = "unknown"
)

// 厂商标识（解析器注册表按此分发）
const (
	VendorSleepMat         = "sleepmat"           // 智能床垫会话 JSON（stages 数组）
	VendorSmartRing        = "smartring"          // 智能戒指 JSON（sleep / daily_readiness）
	VendorVaultExport      = "vault_export"       // 本应用历史导出（sessions+baselines+debtStats）
	VendorHealthExportJSON = "health_export_json" // 已规范化的健康导出 JSON
	VendorStudioCSV        = "studio_csv"         // 场馆训练课 CSV（splat 指纹）
	VendorRingCSV          = "ring_csv"           // 戒指 CSV（readiness+hrv 指纹）
	VendorGenericCSV       = "generic_csv"        // 无指纹 CSV，走声明式映射
	VendorHealthXML        = "health_xml"         // 结构化健康导出 XML
	VendorFIT              = "fit"                // FIT 二进制活动文件
	VendorUnknown          = ""
)

// 置信度：high 仅在结构特征命中时给出，文件名线索只给 low
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Result 检测结果
type Result struct {
	FileType        string         `json:"file_type"`
	SuggestedVendor string         `json:"suggested_vendor"`
	Confidence      string         `json:"confidence"`
	Manifest        map[string]any `json:"manifest,omitempty"` // 命中的特征摘要
}

var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// DetectFile 基于内容（而非扩展名）识别文件类型与可能的厂商
// 纯函数，无副作用。检测顺序：JSON → CSV → XML → FIT → ZIP → unknown。
func DetectFile(name, mimeType string, content []byte) Result {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return Result{FileType: FileUnknown, Confidence: ConfidenceLow}
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if r, ok := detectJSON(trimmed); ok {
			return r
		}
	}

	if r, ok := detectCSV(trimmed); ok {
		return r
	}

	if r, ok := detectXML(trimmed); ok {
		return r
	}

	// FIT 头：字节 8-11 为 ".FIT"
	if len(content) >= 12 && string(content[8:12]) == ".FIT" {
		return Result{FileType: FileFIT, SuggestedVendor: VendorFIT, Confidence: ConfidenceHigh}
	}

	if bytes.HasPrefix(content, zipMagic) {
		return Result{FileType: FileZIP, Confidence: ConfidenceLow}
	}

	// 仅剩文件名线索
	r := Result{FileType: FileUnknown, Confidence: ConfidenceLow}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".json"):
		r.FileType = FileJSON
	case strings.HasSuffix(lower, ".csv"):
		r.FileType = FileCSV
		r.SuggestedVendor = VendorGenericCSV
	case strings.HasSuffix(lower, ".xml"):
		r.FileType = FileXML
	}
	return r
}

// detectJSON JSON 形状特征识别
func detectJSON(content []byte) (Result, bool) {
	var raw interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return Result{}, false
	}

	switch v := raw.(type) {
	case []interface{}:
		// 对象数组且元素含 stages 数组 → 床垫会话导出
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]interface{}); ok {
				if _, has := obj["stages"].([]interface{}); has {
					return Result{
						FileType:        FileJSON,
						SuggestedVendor: VendorSleepMat,
						Confidence:      ConfidenceHigh,
						Manifest:        map[string]any{"sessions": len(v)},
					}, true
				}
			}
		}
		return Result{FileType: FileJSON, Confidence: ConfidenceMedium}, true

	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		manifest := map[string]any{"keys": keys}

		if hasKeys(v, "sleep") || hasKeys(v, "daily_readiness") {
			return Result{FileType: FileJSON, SuggestedVendor: VendorSmartRing, Confidence: ConfidenceHigh, Manifest: manifest}, true
		}
		if hasKeys(v, "sessions", "baselines", "debtStats") {
			return Result{FileType: FileJSON, SuggestedVendor: VendorVaultExport, Confidence: ConfidenceHigh, Manifest: manifest}, true
		}
		if hasKeys(v, "sleepSessions", "workoutSessions", "sources") {
			return Result{FileType: FileJSON, SuggestedVendor: VendorHealthExportJSON, Confidence: ConfidenceHigh, Manifest: manifest}, true
		}
		return Result{FileType: FileJSON, Confidence: ConfidenceMedium, Manifest: manifest}, true
	}

	return Result{FileType: FileJSON, Confidence: ConfidenceMedium}, true
}

func hasKeys(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// detectCSV CSV 形状与表头指纹识别
func detectCSV(content []byte) (Result, bool) {
	text := string(content)
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return Result{}, false
	}

	header := strings.TrimSpace(lines[0])
	delim := ","
	if strings.Count(header, "\t") > strings.Count(header, ",") {
		delim = "\t"
	}
	cols := strings.Split(header, delim)
	if len(cols) < 2 || !plausibleHeader(cols) {
		return Result{}, false
	}

	// 第二行也要有分隔符，排除普通文本
	if !strings.Contains(lines[1], delim) {
		return Result{}, false
	}

	lower := strings.ToLower(header)
	manifest := map[string]any{"columns": len(cols), "header": header}

	if strings.Contains(lower, "splat") {
		return Result{FileType: FileCSV, SuggestedVendor: VendorStudioCSV, Confidence: ConfidenceHigh, Manifest: manifest}, true
	}
	if strings.Contains(lower, "readiness") && strings.Contains(lower, "hrv") {
		return Result{FileType: FileCSV, SuggestedVendor: VendorRingCSV, Confidence: ConfidenceHigh, Manifest: manifest}, true
	}
	return Result{FileType: FileCSV, SuggestedVendor: VendorGenericCSV, Confidence: ConfidenceMedium, Manifest: manifest}, true
}

// plausibleHeader 表头应以非纯数字 token 为主
func plausibleHeader(cols []string) bool {
	nonNumeric := 0
	for _, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !isNumericToken(c) {
			nonNumeric++
		}
	}
	return nonNumeric >= len(cols)/2+1
}

func isNumericToken(s string) bool {
	dot := false
	for _, r := range s {
		if r == '.' && !dot {
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// detectXML 结构化健康导出 XML 识别
func detectXML(content []byte) (Result, bool) {
	head := string(content[:min(len(content), 4096)])
	if !strings.HasPrefix(head, "<?xml") && !strings.HasPrefix(head, "<!DOCTYPE") {
		return Result{}, false
	}

	if strings.Contains(head, "<HealthData") || strings.Contains(head, "HKQuantityTypeIdentifier") {
		return Result{
			FileType:        FileXML,
			SuggestedVendor: VendorHealthXML,
			Confidence:      ConfidenceHigh,
			Manifest:        map[string]any{"root": "HealthData"},
		}, true
	}
	return Result{FileType: FileXML, Confidence: ConfidenceLow}, true
}
