package ai

import (
	"encoding/json"
	"strings"
)

// ParseKind 标记容错解析命中的阶段。
type ParseKind int

const (
	// ParseFailed 三个阶段都没有得到非空文本。
	ParseFailed ParseKind = iota
	// ParsedObject 原始输出整体就是合法 JSON 对象。
	ParsedObject
	// ExtractedObject 从原始输出中截取的第一个平衡 {...} 子串是合法 JSON 对象。
	ExtractedObject
	// RawText 无法按 JSON 解析，原样使用非空文本。
	RawText
)

func (k ParseKind) String() string {
	switch k {
	case ParsedObject:
		return "parsed-object"
	case ExtractedObject:
		return "extracted-object"
	case RawText:
		return "raw-text"
	default:
		return "failure"
	}
}

// ParseResult 是 ParseStructured 的结果。Kind 为 ParseFailed 时 Text 为空。
type ParseResult struct {
	Kind ParseKind
	Text string
}

// OK 表示得到了可用文本。
func (r ParseResult) OK() bool {
	return r.Kind != ParseFailed && r.Text != ""
}

// ParseStructured 依次尝试：整体解析、截取第一个平衡对象解析、原样文本。
// 能解析成对象但指定字段缺失或为空时直接判定失败，不会把 JSON 原文当作答案。
func ParseStructured(raw, field string) ParseResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParseResult{Kind: ParseFailed}
	}

	if obj, ok := decodeObject(trimmed); ok {
		return fieldResult(obj, field, ParsedObject)
	}

	if candidate, ok := ExtractObject(trimmed); ok {
		if obj, ok := decodeObject(candidate); ok {
			return fieldResult(obj, field, ExtractedObject)
		}
	}

	return ParseResult{Kind: RawText, Text: trimmed}
}

// ExtractObject 返回 s 中第一个 '{' 开始的平衡对象子串，会跳过字符串字面量内的括号。
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func fieldResult(obj map[string]any, field string, kind ParseKind) ParseResult {
	value, ok := obj[field].(string)
	if !ok {
		return ParseResult{Kind: ParseFailed}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ParseResult{Kind: ParseFailed}
	}
	return ParseResult{Kind: kind, Text: value}
}
