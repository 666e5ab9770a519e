// Package rerank provides cross-encoder style scorers that judge (query, candidate) pairs jointly.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"duplike-go/internal/config"
	"duplike-go/pkg/log"
)

// Client scores candidates against a query.
// Scores are returned in the order of documents, deterministic per model version.
// If an error occurs, callers should fall back to their coarse scores.
type Client interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	ModelName() string
}

// NewClient creates a reranker based on the provider in the config.
func NewClient(cfg config.RerankerConfig) (Client, error) {
	switch cfg.Provider {
	case "http":
		return newHTTPClient(cfg), nil
	case "local", "":
		return NewLexicalClient(cfg.Model, cfg.MaxDocChars), nil
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Provider)
	}
}

type httpClient struct {
	cfg    config.RerankerConfig
	client *http.Client
}

func newHTTPClient(cfg config.RerankerConfig) *httpClient {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &httpClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *httpClient) ModelName() string { return c.cfg.Model }

// Score 按 BatchSize 分批调用 /rerank 接口。
func (c *httpClient) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for start := 0; start < len(documents); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := make([]string, end-start)
		for i, d := range documents[start:end] {
			batch[i] = truncate(d, c.cfg.MaxDocChars)
		}
		if err := c.call(ctx, query, batch, scores[start:end]); err != nil {
			return nil, err
		}
	}
	return scores, nil
}

func (c *httpClient) call(ctx context.Context, query string, batch []string, out []float64) error {
	reqBytes, err := json.Marshal(rerankRequest{Model: c.cfg.Model, Query: query, Documents: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[RerankClient] 调用 Rerank API 失败, error: %v", err)
		return fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Errorf("[RerankClient] Rerank API 返回非 200 状态码: %s", resp.Status)
		return fmt.Errorf("rerank api returned non-200 status: %s", resp.Status)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(rr.Results) != len(batch) {
		return fmt.Errorf("rerank api returned %d scores for %d documents", len(rr.Results), len(batch))
	}
	seen := make([]bool, len(batch))
	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(batch) || seen[r.Index] {
			return fmt.Errorf("rerank api returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		out[r.Index] = r.RelevanceScore
	}
	return nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
