// Package textnorm 负责把原始行转换为用于编码的规范文本，并识别平台、版本、语言、应用等列角色。
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlPattern       = regexp.MustCompile(`(?i)\bhttps?://\S+\b|\bwww\.\S+\b`)
	ipv4Pattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	hexPattern       = regexp.MustCompile(`(?i)\b[a-f0-9]{32,64}\b`)
	htmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
	codeBlockPattern = regexp.MustCompile("```[\\s\\S]*?```|`[^`]+`")
	markupPattern    = regexp.MustCompile(`(?i)[*#>\-]+|h[1-6]\.`)
	specialPattern   = regexp.MustCompile(`[|"'\-_\[\]{}()<>+=!@#$%^&*~` + "`" + `,.:;]`)
)

// Clean 是索引文本与查询文本共用的清洗流程：
// NFC 规范化并去除控制字符，去掉 HTML 标签与代码块，脱敏邮箱/URL/IP/长十六进制串，
// 去掉 Markdown/Jira 标记与特殊符号，转小写并折叠空白。
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = stripControl(norm.NFC.String(text))
	text = htmlTagPattern.ReplaceAllString(text, " ")
	text = codeBlockPattern.ReplaceAllString(text, " ")
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = urlPattern.ReplaceAllString(text, "[URL]")
	text = ipv4Pattern.ReplaceAllString(text, "[IP]")
	text = hexPattern.ReplaceAllString(text, "[HEX]")
	text = markupPattern.ReplaceAllString(text, " ")
	text = specialPattern.ReplaceAllString(text, " ")
	text = strings.ToLower(text)
	return strings.Join(strings.Fields(text), " ")
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co) {
			return -1
		}
		return r
	}, text)
}
