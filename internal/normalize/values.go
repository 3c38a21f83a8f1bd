// internal/normalize/values.go
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AsMap 取对象，非对象返回 nil
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsSlice 取数组，非数组返回 nil
func AsSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// IsArray 字段存在且为数组（可以为空）
func IsArray(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	_, ok := m[key].([]any)
	return ok
}

// NonEmptyArray 字段为非空数组
func NonEmptyArray(m map[string]any, key string) bool {
	return len(AsSlice(m[key])) > 0
}

// String 把标量转为字符串；数字保留原文，null/对象/数组返回空串
func String(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// FirstString 按顺序返回第一个非空字段
func FirstString(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s := String(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// FirstValue 按顺序返回第一个存在且非 nil 的字段值
func FirstValue(m map[string]any, keys ...string) any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// StringList 接受字符串数组或单个字符串
func StringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := String(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return nil
	default:
		if s := String(t); s != "" {
			return []string{s}
		}
		return nil
	}
}
