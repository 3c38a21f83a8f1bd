// internal/parser/parser.go
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// RepairKind 修复类别，用于诊断展示
type RepairKind string

const (
	RepairSmartQuotes        RepairKind = "smart_quotes"
	RepairInvalidLiterals    RepairKind = "invalid_literals"
	RepairTrailingCommas     RepairKind = "trailing_commas"
	RepairMissingCommas      RepairKind = "missing_commas"
	RepairBareKeys           RepairKind = "bare_keys"
	RepairControlChars       RepairKind = "control_chars"
	RepairMarkdownFence      RepairKind = "markdown_fence"
	RepairUnbalancedBrackets RepairKind = "unbalanced_brackets"
)

// Result 解析结果；WasFixed 表示经过了文本修复
type Result struct {
	Value    any
	WasFixed bool
	Repairs  []RepairKind
}

// ParseError 所有修复都失败时返回，行列号基于原始文本
type ParseError struct {
	Line   int
	Column int
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("第 %d 行第 %d 列附近JSON语法错误: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type repair struct {
	kind  RepairKind
	apply func(string) string
}

// 第一轮：保守修复，顺序固定且每一步幂等
var firstPass = []repair{
	{RepairSmartQuotes, fixSmartQuotes},
	{RepairInvalidLiterals, fixInvalidLiterals},
	{RepairTrailingCommas, fixTrailingCommas},
	{RepairMissingCommas, fixMissingCommas},
	{RepairBareKeys, fixBareKeys},
}

// 第二轮：激进修复，之后再补一次逗号修复
var secondPass = []repair{
	{RepairControlChars, stripControlChars},
	{RepairMarkdownFence, stripMarkdownFence},
	{RepairBareKeys, forceQuoteKeys},
	{RepairUnbalancedBrackets, closeBrackets},
	{RepairTrailingCommas, fixTrailingCommas},
	{RepairMissingCommas, fixMissingCommas},
}

// Parse 严格解析，失败后依次尝试两轮修复
func Parse(text string) (*Result, error) {
	value, strictErr := strictParse(text)
	if strictErr == nil {
		return &Result{Value: value}, nil
	}

	current := text
	var applied []RepairKind

	for _, pass := range [][]repair{firstPass, secondPass} {
		next, kinds := applyPass(current, pass)
		if len(kinds) == 0 {
			continue
		}
		current = next
		applied = appendKinds(applied, kinds...)

		if value, err := strictParse(current); err == nil {
			return &Result{Value: value, WasFixed: true, Repairs: applied}, nil
		}
	}

	return nil, newParseError(text, strictErr)
}

func applyPass(text string, pass []repair) (string, []RepairKind) {
	var kinds []RepairKind
	for _, r := range pass {
		fixed := r.apply(text)
		if fixed != text {
			kinds = appendKinds(kinds, r.kind)
			text = fixed
		}
	}
	return text, kinds
}

func appendKinds(dst []RepairKind, kinds ...RepairKind) []RepairKind {
	for _, k := range kinds {
		seen := false
		for _, existing := range dst {
			if existing == k {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, k)
		}
	}
	return dst
}

// strictParse 先用 Unmarshal 校验（拿到带偏移量的 SyntaxError），再用 UseNumber 解码保留数字原文
func strictParse(text string) (any, error) {
	data := []byte(text)

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func newParseError(text string, err error) *ParseError {
	var offset int64
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	}
	line, column := position(text, offset)
	return &ParseError{Line: line, Column: column, Offset: offset, Err: err}
}

// position 把字节偏移换算成1起始的行列号
func position(text string, offset int64) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	prefix := text[:offset]

	line := strings.Count(prefix, "\n") + 1
	lastLine := prefix
	if idx := strings.LastIndex(prefix, "\n"); idx >= 0 {
		lastLine = prefix[idx+1:]
	}
	column := utf8.RuneCountInString(lastLine)
	if column < 1 {
		column = 1
	}
	return line, column
}
