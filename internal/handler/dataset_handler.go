package handler

import (
	"github.com/gin-gonic/gin"

	"duplike-go/internal/middleware"
	"duplike-go/internal/model"
	"duplike-go/internal/service"
	"duplike-go/pkg/log"
)

// DatasetHandler 负责租户数据集的上传、列配置与清空。
type DatasetHandler struct {
	datasetService service.DatasetService
}

// NewDatasetHandler 创建一个新的 DatasetHandler 实例。
func NewDatasetHandler(datasetService service.DatasetService) *DatasetHandler {
	return &DatasetHandler{datasetService: datasetService}
}

// UpdateColumnsRequest 定义了修改文本列 API 的请求体结构。
type UpdateColumnsRequest struct {
	SelectedColumns []string `json:"selected_columns" binding:"required"`
}

// Upload 处理全量上传，完成重建后返回。
func (h *DatasetHandler) Upload(c *gin.Context) {
	var req model.DatasetUpload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	tenantID := middleware.TenantID(c)
	log.Infof("[DatasetHandler] 收到上传请求, tenant: %s, rows: %d", tenantID, len(req.Rows))

	result, err := h.datasetService.Upload(c.Request.Context(), tenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// UpdateColumns 修改文本列并重建。
func (h *DatasetHandler) UpdateColumns(c *gin.Context) {
	var req UpdateColumnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "selected_columns 不能为空")
		return
	}
	result, err := h.datasetService.UpdateColumns(c.Request.Context(), middleware.TenantID(c), req.SelectedColumns)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Clear 删除租户的全部数据。
func (h *DatasetHandler) Clear(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if err := h.datasetService.Clear(c.Request.Context(), tenantID); err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[DatasetHandler] 租户数据已清空, tenant: %s", tenantID)
	respondOK(c, nil)
}

func (h *DatasetHandler) Status(c *gin.Context) {
	status, err := h.datasetService.Status(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, status)
}

func (h *DatasetHandler) ColumnValues(c *gin.Context) {
	values, err := h.datasetService.ColumnValues(c.Request.Context(), middleware.TenantID(c), c.Param("column"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"column": c.Param("column"), "values": values})
}
