package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"duplike-go/internal/middleware"
	"duplike-go/internal/model"
	"duplike-go/internal/service"
)

// ReportHandler 负责单条报告的追加。
type ReportHandler struct {
	reportService service.ReportService
}

// NewReportHandler 创建一个新的 ReportHandler 实例。
func NewReportHandler(reportService service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// AddReportRequest 定义了追加报告 API 的请求体结构。
type AddReportRequest struct {
	Row model.Row `json:"row" binding:"required"`
}

// Add 同步追加，返回新报告的 offset。
func (h *ReportHandler) Add(c *gin.Context) {
	var req AddReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "row 不能为空")
		return
	}
	offset, err := h.reportService.AddReport(c.Request.Context(), middleware.TenantID(c), req.Row)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"offset": offset})
}

// AddAsync 把追加任务写入队列，返回 202 与任务 ID。
func (h *ReportHandler) AddAsync(c *gin.Context) {
	var req AddReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "row 不能为空")
		return
	}
	taskID, err := h.reportService.AddReportAsync(c.Request.Context(), middleware.TenantID(c), req.Row)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "data": gin.H{"task_id": taskID}, "message": "accepted"})
}
