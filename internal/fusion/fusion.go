// Package fusion 把交叉编码器得分与版本、平台、语言信号融合为最终排序。
package fusion

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"duplike-go/internal/config"
	"duplike-go/internal/model"
)

var numberPattern = regexp.MustCompile(`\d+`)

// Candidate 是进入融合阶段的候选，按粗排顺序给出。
type Candidate struct {
	Report      model.Report
	CoarseScore float64
	CEScore     float64
}

// Fuser 按配置的权重计算最终得分。
type Fuser struct {
	weights config.FusionWeights
	neutral float64
}

// New 创建 Fuser。neutral 是查询未给出平台时所有候选的平台得分。
func New(weights config.FusionWeights, neutral float64) *Fuser {
	return &Fuser{weights: weights, neutral: neutral}
}

// Fuse 计算 final = ce + w_v·version + w_p·platform + w_l·language，
// 按最终得分稳定降序排列（同分保持粗排顺序），截断到 topK。
func (f *Fuser) Fuse(candidates []Candidate, filters model.SearchFilters, topK int) []model.SearchResult {
	results := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		vs := VersionSimilarity(filters.Version, c.Report.Version)
		pm := f.platformMatch(filters.Platform, c.Report.Platform)
		lm := languageMatch(filters.Language, c.Report.Language)
		results = append(results, model.SearchResult{
			Offset:            c.Report.Offset,
			CoarseScore:       c.CoarseScore,
			CrossEncoderScore: c.CEScore,
			VersionSimilarity: vs,
			PlatformMatch:     pm,
			LanguageMatch:     lm,
			FinalScore:        c.CEScore + f.weights.Version*vs + f.weights.Platform*pm + f.weights.Language*lm,
			Platform:          c.Report.Platform,
			Application:       c.Report.Application,
			Version:           c.Report.Version,
			Language:          c.Report.Language,
			Fields:            c.Report.Record.Fields,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func (f *Fuser) platformMatch(query, candidate string) float64 {
	if query == "" {
		return f.neutral
	}
	if strings.EqualFold(query, candidate) {
		return 1
	}
	return 0
}

func languageMatch(query, candidate string) float64 {
	if query == "" || candidate == "" {
		return 0
	}
	if strings.EqualFold(query, candidate) {
		return 1
	}
	return 0
}

// VersionSimilarity 计算两个版本号的相似度，结果在 [0,1] 内：
// 完全相同为 1.0；主版本（大于 0）与次版本相同时为 0.9−0.05·|Δpatch|；
// 仅主版本相同时为 0.7−0.1·|Δminor|；其余为 0。空值或 "N/A" 为 0。
func VersionSimilarity(query, candidate string) float64 {
	if isMissingVersion(query) || isMissingVersion(candidate) {
		return 0
	}
	q, r := parseVersion(query), parseVersion(candidate)
	var score float64
	switch {
	case q == r:
		score = 1
	case q[0] == r[0] && q[0] > 0 && q[1] == r[1]:
		score = 0.9 - 0.05*math.Abs(float64(q[2]-r[2]))
	case q[0] == r[0] && q[0] > 0:
		score = 0.7 - 0.1*math.Abs(float64(q[1]-r[1]))
	default:
		score = 0
	}
	return math.Max(0, math.Min(1, score))
}

func isMissingVersion(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "N/A")
}

// parseVersion 取前三段数字，不足补 0。
func parseVersion(v string) [3]int {
	var out [3]int
	for i, p := range numberPattern.FindAllString(v, 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
