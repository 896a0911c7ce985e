package transform

import (
	"strings"
)

// compute 公式语言刻意只支持三种形状（来源侧同样限制，防止演化成内嵌求值器）：
//  1. sum(arr[*].field)
//  2. sum(arr[*].field, arr[*].pred == 字面量)   单谓词过滤求和
//  3. fieldA <op> fieldB                          两操作数算术（+ - * /）

// evalCompute 在单行数据上求值公式
func evalCompute(formula string, row interface{}) (float64, bool) {
	formula = strings.TrimSpace(formula)

	if strings.HasPrefix(formula, "sum(") && strings.HasSuffix(formula, ")") {
		return evalSum(formula[4:len(formula)-1], row)
	}
	return evalBinary(formula, row)
}

// evalSum "arr[*].field" 或 "arr[*].field, arr[*].pred == lit"
func evalSum(inner string, row interface{}) (float64, bool) {
	parts := strings.SplitN(inner, ",", 2)

	arrPath, fieldName, ok := splitWildcardPath(parts[0])
	if !ok {
		return 0, false
	}
	arr, hit := EvalPath(row, arrPath)
	if !hit {
		return 0, false
	}
	elems, isArr := arr.([]interface{})
	if !isArr {
		return 0, false
	}

	// 可选谓词：同一数组的元素字段与字面量做等值比较
	predField, predValue := "", ""
	hasPred := false
	if len(parts) == 2 {
		lhs, rhs, found := strings.Cut(parts[1], "==")
		if !found {
			return 0, false
		}
		_, pf, ok := splitWildcardPath(lhs)
		if !ok {
			return 0, false
		}
		predField = pf
		predValue = strings.Trim(strings.TrimSpace(rhs), `'"`)
		hasPred = true
	}

	sum := 0.0
	matched := false
	for _, elem := range elems {
		obj, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		if hasPred {
			if sv, _ := stringValue(obj[predField]); sv != predValue {
				continue
			}
		}
		if v, ok := toFloat(obj[fieldName]); ok {
			sum += v
			matched = true
		}
	}
	return sum, matched
}

// evalBinary "path1 <op> path2"，两个操作数都是行上的字段路径
func evalBinary(formula string, row interface{}) (float64, bool) {
	for _, op := range []string{"+", "-", "*", "/"} {
		lhs, rhs, found := strings.Cut(formula, op)
		if !found {
			continue
		}
		a, okA := resolveOperand(strings.TrimSpace(lhs), row)
		b, okB := resolveOperand(strings.TrimSpace(rhs), row)
		if !okA || !okB {
			return 0, false
		}
		switch op {
		case "+":
			return a + b, true
		case "-":
			return a - b, true
		case "*":
			return a * b, true
		case "/":
			if b == 0 {
				return 0, false
			}
			return a / b, true
		}
	}
	return 0, false
}

func resolveOperand(expr string, row interface{}) (float64, bool) {
	if v, ok := EvalPath(row, expr); ok {
		return toFloat(v)
	}
	return 0, false
}

// splitWildcardPath "stages[*].duration" → ("stages", "duration")
func splitWildcardPath(expr string) (arrPath, field string, ok bool) {
	expr = strings.TrimSpace(expr)
	arrPart, fieldPart, found := strings.Cut(expr, "[*].")
	if !found || arrPart == "" || fieldPart == "" || strings.Contains(fieldPart, "[") {
		return "", "", false
	}
	return arrPart, fieldPart, true
}
