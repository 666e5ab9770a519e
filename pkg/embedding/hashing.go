package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
	emptyFeature  = "<empty>"
)

// HashingClient 是进程内的特征哈希编码器。
// 词与字符三元组经 xxhash 映射到 D 维并带符号累加，最后做 L2 归一化。
// 它不依赖外部模型，结果只由文本与维度决定。
type HashingClient struct {
	model string
	dim   int
}

// NewHashingClient creates a local encoder producing vectors of dim length.
func NewHashingClient(model string, dim int) *HashingClient {
	if dim <= 0 {
		dim = 384
	}
	return &HashingClient{model: model, dim: dim}
}

func (h *HashingClient) Dimension() int    { return h.dim }
func (h *HashingClient) ModelName() string { return h.model }

// Encode returns the unit feature-hashing vector of text.
func (h *HashingClient) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateText(text); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// EncodeBatch encodes every text; an invalid entry fails the whole batch.
func (h *HashingClient) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashingClient) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := tokenize(text)
	if len(words) == 0 {
		h.add(v, emptyFeature, wordWeight)
		return Normalize(v)
	}
	for _, w := range words {
		h.add(v, "w:"+w, wordWeight)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "c:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	return Normalize(v)
}

func (h *HashingClient) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
