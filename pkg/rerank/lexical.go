package rerank

import (
	"context"
	"strings"
	"unicode"
)

// LexicalClient 是进程内的成对打分器：词集合 Dice 系数与字符三元组 Dice 系数各占一半。
// 完全相同的文本得分 1.0，没有任何重叠得分 0。
type LexicalClient struct {
	model       string
	maxDocChars int
}

// NewLexicalClient creates a local pairwise scorer.
func NewLexicalClient(model string, maxDocChars int) *LexicalClient {
	return &LexicalClient{model: model, maxDocChars: maxDocChars}
}

func (l *LexicalClient) ModelName() string { return l.model }

// Score returns one score per document.
func (l *LexicalClient) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qWords, qGrams := features(query)
	scores := make([]float64, len(documents))
	for i, d := range documents {
		dWords, dGrams := features(truncate(d, l.maxDocChars))
		scores[i] = 0.5*dice(qWords, dWords) + 0.5*dice(qGrams, dGrams)
	}
	return scores, nil
}

func features(text string) (map[string]struct{}, map[string]struct{}) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	ws := make(map[string]struct{}, len(words))
	grams := make(map[string]struct{})
	for _, w := range words {
		ws[w] = struct{}{}
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			grams[string(padded[i:i+3])] = struct{}{}
		}
	}
	return ws, grams
}

func dice(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for k := range small {
		if _, ok := large[k]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
