package service

import (
	"context"

	"duplike-go/internal/model"
	"duplike-go/internal/search"
	"duplike-go/internal/tenant"
	"duplike-go/pkg/log"
)

// SearchService 接口定义了搜索操作。
type SearchService interface {
	Search(ctx context.Context, tenantID string, q model.SearchQuery) (*model.SearchResponse, error)
}

type searchService struct {
	tenants TenantRegistry
	engine  *search.Engine
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(tenants TenantRegistry, engine *search.Engine) SearchService {
	return &searchService{tenants: tenants, engine: engine}
}

// Search 在租户当前已提交的索引上执行两阶段检索。
// 索引正在重建时返回 ErrNotReady，不会返回旧模型或其他租户的结果。
func (s *searchService) Search(ctx context.Context, tenantID string, q model.SearchQuery) (*model.SearchResponse, error) {
	log.Infof("[SearchService] 开始检索, tenant: %s, query: '%s', topK: %d, filters: %+v", tenantID, q.Text, q.TopK, q.Filters)

	// 参数错误不需要激活租户
	if err := s.engine.Validate(q); err != nil {
		return nil, err
	}

	var resp *model.SearchResponse
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		set, err := st.View()
		if err != nil {
			return err
		}
		resp, err = s.engine.Search(ctx, set, q)
		return err
	})
	if err != nil {
		log.Warnf("[SearchService] 检索失败, tenant: %s, error: %v", tenantID, err)
		return nil, err
	}
	return resp, nil
}
