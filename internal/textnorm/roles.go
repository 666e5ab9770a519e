package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

const unknownPlatform = "unknown"

var (
	versionPattern  = regexp.MustCompile(`\d+\.\d+\.\d+`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}`)
)

// Platform 把平台/组件列的值映射到分区名。
// android 优先；ios、iphone、ipad 都归入 ios；其余配置的平台按名称包含匹配；否则为 unknown。
func Platform(raw string, platforms []string) string {
	v := strings.ToLower(raw)
	if v == "" {
		return unknownPlatform
	}
	if strings.Contains(v, "android") && contains(platforms, "android") {
		return "android"
	}
	if (strings.Contains(v, "ios") || strings.Contains(v, "iphone") || strings.Contains(v, "ipad")) && contains(platforms, "ios") {
		return "ios"
	}
	for _, p := range platforms {
		if p != "" && strings.Contains(v, strings.ToLower(p)) {
			return strings.ToLower(p)
		}
	}
	return unknownPlatform
}

// PlatformFilter 把查询中的平台过滤值映射到分区。值没有对应任何配置的平台
// 且不是 unknown 本身时 ok 为 false，调用方应检索全部分区。
func PlatformFilter(raw string, platforms []string) (partition string, ok bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	partition = Platform(v, platforms)
	return partition, partition != unknownPlatform || v == unknownPlatform
}

// Partitions 返回配置的平台加上 unknown，去重后保持配置顺序。
func Partitions(platforms []string) []string {
	out := make([]string, 0, len(platforms)+1)
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && p != unknownPlatform && !contains(out, p) {
			out = append(out, p)
		}
	}
	return append(out, unknownPlatform)
}

// ExtractVersion 返回值中第一个 x.y.z 形式的版本号，没有时返回去掉首尾空白的原值。
func ExtractVersion(raw string) string {
	if m := versionPattern.FindString(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}

// LanguageCode 提取语言列开头的两个字母，例如 "en (0.75)" → "en"。无法识别时返回空串。
func LanguageCode(raw string) string {
	return languagePattern.FindString(strings.ToLower(strings.TrimSpace(raw)))
}

// DetectApplication 在文本中查找已知应用名，大小写不敏感，返回配置中的写法。
func DetectApplication(text string, known []string) string {
	lower := strings.ToLower(text)
	for _, app := range known {
		if app != "" && strings.Contains(lower, strings.ToLower(app)) {
			return app
		}
	}
	return ""
}

// matchColumn 判断列名是否按整词匹配关键词，关键词可以包含多个词。
func matchColumn(column, keyword string) bool {
	words := strings.FieldsFunc(strings.ToLower(column), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kw := strings.Fields(strings.ToLower(keyword))
	if len(kw) == 0 || len(words) < len(kw) {
		return false
	}
	for i := 0; i+len(kw) <= len(words); i++ {
		ok := true
		for j := range kw {
			if words[i+j] != kw[j] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
