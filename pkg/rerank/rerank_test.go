package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/internal/config"
)

func TestLexicalClient_Scores(t *testing.T) {
	c := NewLexicalClient("lexical-test", 0)
	scores, err := c.Score(context.Background(), "app crashes on login", []string{
		"app crashes on login",
		"login crash on app start",
		"dark mode colors wrong",
		"",
	})
	require.NoError(t, err)
	require.Len(t, scores, 4)

	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.Greater(t, scores[1], scores[2])
	assert.Equal(t, 0.0, scores[3])
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestLexicalClient_Deterministic(t *testing.T) {
	c := NewLexicalClient("lexical-test", 0)
	docs := []string{"video freezes", "giriş yapınca uygulama çöküyor"}
	a, err := c.Score(context.Background(), "uygulama çöküyor", docs)
	require.NoError(t, err)
	b, err := c.Score(context.Background(), "uygulama çöküyor", docs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "çök", truncate("çöküyor", 3))
	assert.Equal(t, "abc", truncate("abc", 0))
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestHTTPClient_BatchesAndMapsIndices(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rr-model", req.Model)
		assert.Equal(t, "q", req.Query)

		type result struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}
		// 按得分降序返回，与常见 rerank 服务一致
		results := make([]result, 0, len(req.Documents))
		for i := len(req.Documents) - 1; i >= 0; i-- {
			results = append(results, result{Index: i, RelevanceScore: float64(len(req.Documents[i]))})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	}))
	defer server.Close()

	c, err := NewClient(config.RerankerConfig{Provider: "http", BaseURL: server.URL, Model: "rr-model", BatchSize: 2, MaxDocChars: 4})
	require.NoError(t, err)
	assert.Equal(t, "rr-model", c.ModelName())

	scores, err := c.Score(context.Background(), "q", []string{"a", "bb", "ccc", "dddddddd"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []float64{1, 2, 3, 4}, scores)
}

func TestHTTPClient_BadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": []map[string]interface{}{{"index": 5, "relevance_score": 1}}})
	}))
	defer server.Close()

	c, err := NewClient(config.RerankerConfig{Provider: "http", BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)
	_, err = c.Score(context.Background(), "q", []string{"only one"})
	assert.Error(t, err)
}
