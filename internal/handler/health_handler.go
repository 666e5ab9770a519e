package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler 返回进程存活状态与当前模型信息。
type HealthHandler struct {
	modelName    string
	rerankerName string
	resident     func() int
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(modelName, rerankerName string, resident func() int) *HealthHandler {
	return &HealthHandler{modelName: modelName, rerankerName: rerankerName, resident: resident}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"model_name":       h.modelName,
		"reranker":         h.rerankerName,
		"resident_tenants": h.resident(),
	})
}
