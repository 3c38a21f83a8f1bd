// internal/parser/repairs.go
package parser

import (
	"strings"
	"unicode"
)

// 字符串外出现的非法字面量
var invalidLiterals = []string{"-Infinity", "Infinity", "NaN", "undefined"}

func isSmartDoubleQuote(r rune) bool {
	switch r {
	case '“', '”', '„', '‟', '＂':
		return true
	}
	return false
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// scanState 跟踪当前是否位于字符串内部
type scanState struct {
	inString bool
	escaped  bool
}

// step 处理一个字符，返回该字符是否属于字符串外的结构部分
func (s *scanState) step(r rune) bool {
	if s.inString {
		switch {
		case s.escaped:
			s.escaped = false
		case r == '\\':
			s.escaped = true
		case r == '"':
			s.inString = false
		}
		return false
	}
	if r == '"' {
		s.inString = true
		return false
	}
	return true
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return i
}

func isSmartSingleQuote(r rune) bool {
	return r == '‘' || r == '’'
}

// fixSmartQuotes 把充当字符串定界符的中文/弯引号替换为ASCII双引号。
// 弯单引号只在键或值的起始位置开启字符串，且只在其后紧跟结构字符时关闭，
// 正文中的撇号（don’t）保持原样。
func fixSmartQuotes(s string) string {
	if !strings.ContainsAny(s, "“”„‟＂‘’") {
		return s
	}

	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	var opener rune // 0 表示由 ASCII 引号开启

	for i, r := range rs {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"' && opener == '‘':
				b.WriteString(`\"`)
				continue
			case r == '"':
				inString = false
			case opener == '“' && isSmartDoubleQuote(r):
				inString = false
				r = '"'
			case opener == '‘' && isSmartSingleQuote(r) && closesValue(rs, i+1):
				inString = false
				r = '"'
			}
			b.WriteRune(r)
			continue
		}

		switch {
		case isSmartDoubleQuote(r):
			inString, opener = true, '“'
			r = '"'
		case isSmartSingleQuote(r) && opensValue(rs, i):
			inString, opener = true, '‘'
			r = '"'
		case r == '"':
			inString, opener = true, 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

// opensValue 前一个非空白字符是 { [ , : 或文本开头
func opensValue(rs []rune, i int) bool {
	for i--; i >= 0 && unicode.IsSpace(rs[i]); i-- {
	}
	return i < 0 || strings.ContainsRune("{[,:", rs[i])
}

// closesValue 跳过空白后是 : , } ] 或文本结尾
func closesValue(rs []rune, i int) bool {
	i = skipSpace(rs, i)
	return i >= len(rs) || strings.ContainsRune(":,}]", rs[i])
}

// fixInvalidLiterals NaN / undefined / Infinity → null
func fixInvalidLiterals(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	var st scanState

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if !st.step(r) {
			b.WriteRune(r)
			continue
		}
		if i == 0 || !isIdentRune(rs[i-1]) {
			if lit := literalAt(rs, i); lit > 0 {
				b.WriteString("null")
				i += lit - 1
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func literalAt(rs []rune, i int) int {
	for _, lit := range invalidLiterals {
		n := len(lit)
		if i+n > len(rs) || string(rs[i:i+n]) != lit {
			continue
		}
		if i+n < len(rs) && isIdentRune(rs[i+n]) {
			continue
		}
		return n
	}
	return 0
}

// fixTrailingCommas 删除 } 或 ] 之前多余的逗号
func fixTrailingCommas(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	var st scanState

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.step(r) && r == ',' {
			j := skipSpace(rs, i+1)
			if j < len(rs) && (rs[j] == '}' || rs[j] == ']') {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fixMissingCommas 相邻的值之间补逗号，如 }{ ][ "a" "b" 1 "x"；``` 围栏行原样保留
func fixMissingCommas(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped, valueEnded, lineStart := false, false, false, true

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
				valueEnded = true
			}
			b.WriteRune(r)
			continue
		}

		if lineStart {
			lineStart = false
			if end, ok := fenceLine(rs, i); ok {
				b.WriteString(string(rs[i:end]))
				valueEnded = false
				i = end - 1
				continue
			}
		}

		if unicode.IsSpace(r) {
			lineStart = r == '\n'
			b.WriteRune(r)
			continue
		}

		if valueEnded && (r == '{' || r == '[' || r == '"') {
			b.WriteRune(',')
		}

		switch {
		case r == '"':
			inString = true
			valueEnded = false
		case r == '}' || r == ']':
			valueEnded = true
		case r == '.' || r == '-' || r == '+' || isIdentRune(r):
			valueEnded = true
		default:
			valueEnded = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fenceLine 从行首 i 开始若是 ``` 围栏行，返回行尾（不含换行）的位置
func fenceLine(rs []rune, i int) (int, bool) {
	j := i
	for j < len(rs) && (rs[j] == ' ' || rs[j] == '\t') {
		j++
	}
	if j+3 > len(rs) || string(rs[j:j+3]) != "```" {
		return 0, false
	}
	end := j
	for end < len(rs) && rs[end] != '\n' {
		end++
	}
	return end, true
}

// fixBareKeys 给形如 {key: 的标识符键名补引号
func fixBareKeys(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	var st scanState

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		structural := st.step(r)
		b.WriteRune(r)
		if !structural || (r != '{' && r != ',') {
			continue
		}

		start := skipSpace(rs, i+1)
		if start >= len(rs) || !(rs[start] == '_' || rs[start] == '$' || unicode.IsLetter(rs[start])) {
			continue
		}
		end := start
		for end < len(rs) && (isIdentRune(rs[end]) || rs[end] == '-') {
			end++
		}
		colon := skipSpace(rs, end)
		if colon >= len(rs) || rs[colon] != ':' {
			continue
		}

		b.WriteString(string(rs[i+1 : start]))
		b.WriteByte('"')
		b.WriteString(string(rs[start:end]))
		b.WriteByte('"')
		i = end - 1
	}
	return b.String()
}

// stripControlChars 删除控制字符和不可见字符；字符串内的原始换行/制表符转义
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var st scanState

	for _, r := range s {
		if isInvisible(r) {
			continue
		}
		if r == '\u00a0' || r == '\u2028' || r == '\u2029' {
			r = ' '
		}

		if st.inString && !st.escaped {
			switch r {
			case '\n':
				b.WriteString(`\n`)
				continue
			case '\r':
				b.WriteString(`\r`)
				continue
			case '\t':
				b.WriteString(`\t`)
				continue
			}
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}

		st.step(r)
		b.WriteRune(r)
	}
	return b.String()
}

// stripMarkdownFence 去掉 ``` 代码块标记以及最外层JSON值前后的说明文字
func stripMarkdownFence(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	body := strings.Join(kept, "\n")

	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return body
	}
	body = body[start:]

	depth := 0
	var st scanState
	for i, r := range body {
		if !st.step(r) {
			continue
		}
		switch r {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return body[:i+1]
			}
		}
	}
	return strings.TrimSpace(body)
}

// forceQuoteKeys 把冒号前任何未加引号的键（含空格、单引号等）强制加上双引号
func forceQuoteKeys(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	var st scanState

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		structural := st.step(r)
		b.WriteRune(r)
		if !structural || (r != '{' && r != ',') {
			continue
		}

		start := skipSpace(rs, i+1)
		if start >= len(rs) || strings.ContainsRune(`"{}[],:`, rs[start]) {
			continue
		}
		end := start
		for end < len(rs) && !strings.ContainsRune(`"{}[],:`, rs[end]) {
			end++
		}
		if end >= len(rs) || rs[end] != ':' {
			continue
		}

		key := strings.TrimSpace(string(rs[start:end]))
		key = strings.Trim(key, "'`‘’")
		if key == "" {
			continue
		}
		key = strings.ReplaceAll(key, `\`, `\\`)

		b.WriteString(string(rs[i+1 : start]))
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteByte('"')
		i = end - 1
	}
	return b.String()
}

// closeBrackets 在文本末尾补齐未闭合的字符串和括号
func closeBrackets(s string) string {
	var stack []rune
	var st scanState

	for _, r := range s {
		if !st.step(r) {
			continue
		}
		switch r {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == r {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) == 0 && !st.inString {
		return s
	}

	out := s
	if st.inString {
		if st.escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}

	out = strings.TrimRightFunc(out, unicode.IsSpace)
	switch {
	case strings.HasSuffix(out, ","):
		out = out[:len(out)-1]
	case strings.HasSuffix(out, ":"):
		out += "null"
	}

	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteRune(stack[i])
	}
	return b.String()
}
