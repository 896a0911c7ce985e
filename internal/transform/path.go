package transform

import (
	"strconv"
	"strings"
)

// 最小 JSONPath 子集：点号导航、[N] 下标、[*] 通配（含义是"此处的整个数组"）。
// 刻意不支持过滤器/切片/递归下降，避免长成通用表达式求值器。

// EvalPath 在解码后的 JSON 数据上求值路径，返回 (值, 是否命中)
func EvalPath(data interface{}, path string) (interface{}, bool) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return data, true
	}

	current := data
	for _, seg := range splitPath(path) {
		if seg == "*" {
			// [*] 返回当前位置的整个数组
			if _, ok := current.([]interface{}); ok {
				return current, true
			}
			return nil, false
		}

		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}

		obj, ok := current.(map[string]interface{})
		if !ok {
			// CSV 行是 map[string]string
			if row, ok := current.(map[string]string); ok {
				v, hit := row[seg]
				if !hit {
					return nil, false
				}
				current = v
				continue
			}
			return nil, false
		}
		v, hit := obj[seg]
		if !hit {
			return nil, false
		}
		current = v
	}
	return current, true
}

// ExtractRows 把路径指向的数据展开为行列表：数组 → 元素，单对象 → 单行
func ExtractRows(data interface{}, path string) []interface{} {
	v, ok := EvalPath(data, path)
	if !ok || v == nil {
		return nil
	}
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

// splitPath "a.b[0].c[*]" → ["a","b","0","c","*"]
func splitPath(path string) []string {
	var segs []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
		}
	}

	for _, r := range path {
		switch r {
		case '.', '[':
			flush()
		case ']':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return segs
}
