package handler

import (
	"github.com/gin-gonic/gin"

	"duplike-go/internal/middleware"
	"duplike-go/internal/model"
	"duplike-go/internal/service"
	"duplike-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
	defaultTopK   int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, defaultTopK int) *SearchHandler {
	return &SearchHandler{searchService: searchService, defaultTopK: defaultTopK}
}

// SearchRequest 定义了检索 API 的请求体结构，top_k 省略时使用默认值。
type SearchRequest struct {
	Query       string `json:"query"`
	Platform    string `json:"platform"`
	Application string `json:"application"`
	Version     string `json:"version"`
	Language    string `json:"language"`
	TopK        *int   `json:"top_k"`
}

// Search 是处理相似报告检索请求的 Gin 处理函数。
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	q := model.SearchQuery{
		Text: req.Query,
		Filters: model.SearchFilters{
			Platform:    req.Platform,
			Application: req.Application,
			Version:     req.Version,
			Language:    req.Language,
		},
		TopK: h.defaultTopK,
	}
	if req.TopK != nil {
		q.TopK = *req.TopK
	}

	tenantID := middleware.TenantID(c)
	resp, err := h.searchService.Search(c.Request.Context(), tenantID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[SearchHandler] 检索成功, tenant: %s, query: '%s', 返回 %d 条结果, 耗时 %dms", tenantID, q.Text, len(resp.Results), resp.SearchTimeMs)
	respondOK(c, resp)
}
