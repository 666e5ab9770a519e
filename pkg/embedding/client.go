// Package embedding provides the text encoders used to build and query tenant indices.
package embedding

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"duplike-go/internal/config"
	"duplike-go/pkg/errs"
)

// Client defines the interface for an embedding client.
// Encode is deterministic for a loaded model and always returns a unit vector of Dimension() length.
// A batch of N texts yields exactly the vectors of N single Encode calls, in input order.
type Client interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	switch cfg.Provider {
	case "http":
		return newOpenAICompatibleClient(cfg), nil
	case "local", "":
		return NewHashingClient(cfg.Model, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// validateText 拒绝非 UTF-8 的输入，这类输入无法被模型编码。
func validateText(text string) error {
	if !utf8.ValidString(text) {
		return errs.Wrap(errs.ErrEncoding, "input is not valid UTF-8 text")
	}
	return nil
}

// Normalize scales v to unit L2 length in place. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
