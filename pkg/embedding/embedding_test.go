package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/internal/config"
	"duplike-go/pkg/errs"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashingClient_UnitAndDeterministic(t *testing.T) {
	c := NewHashingClient("hashing-test", 128)
	ctx := context.Background()

	a, err := c.Encode(ctx, "app crashes on login")
	require.NoError(t, err)
	b, err := c.Encode(ctx, "app crashes on login")
	require.NoError(t, err)

	assert.Len(t, a, 128)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
	assert.Equal(t, a, b)
}

func TestHashingClient_BatchEqualsSingles(t *testing.T) {
	c := NewHashingClient("hashing-test", 64)
	ctx := context.Background()
	texts := []string{"login crash", "", "video freezes after update", "giriş hatası"}

	batch, err := c.EncodeBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := c.Encode(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "text %d", i)
	}
}

func TestHashingClient_EmptyTextIsStillUnit(t *testing.T) {
	c := NewHashingClient("hashing-test", 32)
	v, err := c.Encode(context.Background(), "   ")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(v), 1e-5)
}

func TestHashingClient_SimilarTextsScoreHigher(t *testing.T) {
	c := NewHashingClient("hashing-test", 384)
	ctx := context.Background()
	q, _ := c.Encode(ctx, "app crashes when logging in")
	near, _ := c.Encode(ctx, "app crash on login screen")
	far, _ := c.Encode(ctx, "dark mode colors are wrong in settings")

	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestHashingClient_InvalidUTF8(t *testing.T) {
	c := NewHashingClient("hashing-test", 32)
	_, err := c.Encode(context.Background(), string([]byte{0xff, 0xfe, 0x41}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrEncoding))

	_, err = c.EncodeBatch(context.Background(), []string{"ok", string([]byte{0xc3})})
	assert.True(t, errors.Is(err, errs.ErrEncoding))
}

func TestNewClient_Providers(t *testing.T) {
	c, err := NewClient(config.EmbeddingConfig{Provider: "local", Model: "m", Dimensions: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, c.Dimension())
	assert.Equal(t, "m", c.ModelName())

	_, err = NewClient(config.EmbeddingConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func newEmbeddingServer(t *testing.T, dim int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// 逆序返回，客户端需要按 index 还原顺序
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, dim)
			v[len(req.Input[i])%dim] = 3
			data = append(data, item{Embedding: v, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestOpenAIClient_BatchingAndOrder(t *testing.T) {
	calls := 0
	server := newEmbeddingServer(t, 8, &calls)
	defer server.Close()

	c, err := NewClient(config.EmbeddingConfig{
		Provider: "http", BaseURL: server.URL, APIKey: "test-key", Model: "m", Dimensions: 8, BatchSize: 2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.InDelta(t, 1.0, vecs[i][len(text)%8], 1e-6, "text %d", i)
		assert.InDelta(t, 1.0, norm(vecs[i]), 1e-6)
	}
}

func TestOpenAIClient_DimensionMismatch(t *testing.T) {
	calls := 0
	server := newEmbeddingServer(t, 4, &calls)
	defer server.Close()

	c, err := NewClient(config.EmbeddingConfig{
		Provider: "http", BaseURL: server.URL, APIKey: "test-key", Model: "m", Dimensions: 8,
	})
	require.NoError(t, err)
	_, err = c.Encode(context.Background(), "hello")
	assert.True(t, errors.Is(err, errs.ErrEncoding))
}

func TestOpenAIClient_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, err := NewClient(config.EmbeddingConfig{Provider: "http", BaseURL: server.URL, Model: "m", Dimensions: 8})
	require.NoError(t, err)
	_, err = c.Encode(context.Background(), "hello")
	assert.Error(t, err)
}
