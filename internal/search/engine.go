// Package search 实现单租户的两阶段检索：向量粗排 → 交叉编码器精排 → 打分融合。
package search

import (
	"context"
	"strings"
	"time"

	"duplike-go/internal/artifact"
	"duplike-go/internal/config"
	"duplike-go/internal/fusion"
	"duplike-go/internal/model"
	"duplike-go/internal/textnorm"
	"duplike-go/pkg/embedding"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
	"duplike-go/pkg/rerank"
)

// Engine 在一个已提交的产物集合上执行查询。它不持有租户状态，可被所有租户并发共享。
type Engine struct {
	encoder    embedding.Client
	reranker   rerank.Client
	normalizer *textnorm.Normalizer
	fuser      *fusion.Fuser
	cfg        config.SearchConfig
	platforms  []string
}

// NewEngine 创建检索引擎，platforms 是配置的平台分区（不含 unknown）。
func NewEngine(encoder embedding.Client, reranker rerank.Client, normalizer *textnorm.Normalizer, cfg config.SearchConfig, platforms []string) *Engine {
	if cfg.DegradedCoarseK <= 0 || cfg.DegradedCoarseK > cfg.CoarseK {
		cfg.DegradedCoarseK = cfg.CoarseK
	}
	return &Engine{
		encoder:    encoder,
		reranker:   reranker,
		normalizer: normalizer,
		fuser:      fusion.New(cfg.Weights, cfg.NeutralScore),
		cfg:        cfg,
		platforms:  platforms,
	}
}

// Validate 检查查询文本与 top_k。
func (e *Engine) Validate(q model.SearchQuery) error {
	if strings.TrimSpace(q.Text) == "" {
		return errs.Wrap(errs.ErrValidation, "query must not be empty")
	}
	if q.TopK <= 0 || q.TopK > e.cfg.MaxTopK {
		return errs.Wrap(errs.ErrValidation, "top_k must be in [1, %d] (got %d)", e.cfg.MaxTopK, q.TopK)
	}
	return nil
}

// Search 在 set 上执行一次查询。set 必须是已提交且不再变化的集合。
// 剩余时间不足精排预算时缩小候选集并跳过精排；精排失败时退回粗排得分。
func (e *Engine) Search(ctx context.Context, set *artifact.Set, q model.SearchQuery) (*model.SearchResponse, error) {
	started := time.Now()
	if err := e.Validate(q); err != nil {
		return nil, err
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	resp := &model.SearchResponse{CoarseK: e.cfg.CoarseK, Results: []model.SearchResult{}}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < e.cfg.RerankBudget {
		resp.Degraded = true
		resp.CoarseK = e.cfg.DegradedCoarseK
	}

	// 步骤1: 清洗并编码查询
	cleaned := e.normalizer.CleanQuery(q.Text)
	if cleaned == "" {
		return nil, errs.Wrap(errs.ErrValidation, "query has no searchable text after cleanup")
	}
	qv, err := e.encoder.Encode(ctx, cleaned)
	if err != nil {
		return nil, err
	}

	// 步骤2: 粗排，平台决定分区，应用是分区扫描时的硬过滤。
	// 未配置的平台没有自己的分区，检索全部分区，过滤值原样参与打分
	filters := q.Filters
	partition := ""
	if raw := strings.ToLower(strings.TrimSpace(filters.Platform)); raw != "" {
		filters.Platform = raw
		if p, ok := textnorm.PlatformFilter(raw, e.platforms); ok {
			partition = p
			filters.Platform = p
		}
	}
	reports := set.Table.Reports
	var accept func(offset int) bool
	if app := strings.TrimSpace(filters.Application); app != "" {
		accept = func(offset int) bool {
			return strings.EqualFold(reports[offset].Application, app)
		}
	}
	hits, err := set.Index.Search(ctx, qv, resp.CoarseK, partition, accept)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		resp.SearchTimeMs = time.Since(started).Milliseconds()
		return resp, nil
	}

	candidates := make([]fusion.Candidate, len(hits))
	docs := make([]string, len(hits))
	for i, h := range hits {
		candidates[i] = fusion.Candidate{Report: reports[h.Offset], CoarseScore: h.Score, CEScore: h.Score}
		docs[i] = reports[h.Offset].Text
	}

	// 步骤3: 精排
	if !resp.Degraded {
		scores, err := e.reranker.Score(ctx, cleaned, docs)
		if err != nil {
			log.Warnf("[SearchEngine] 精排失败, 使用粗排得分, tenant: %s, error: %v", set.Metadata.TenantID, err)
			resp.Degraded = true
		} else {
			for i := range candidates {
				candidates[i].CEScore = scores[i]
			}
			resp.Reranked = true
		}
	}

	// 步骤4: 融合、排序、截断
	resp.Results = e.fuser.Fuse(candidates, filters, q.TopK)
	resp.SearchTimeMs = time.Since(started).Milliseconds()
	log.Infow("[SearchEngine] 查询完成", "tenant", set.Metadata.TenantID, "partition", partition,
		"candidates", len(hits), "results", len(resp.Results), "reranked", resp.Reranked,
		"degraded", resp.Degraded, "elapsed_ms", resp.SearchTimeMs)
	return resp, nil
}
