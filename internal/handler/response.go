// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"duplike-go/pkg/errs"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": data, "message": "success"})
}

// respondError 按错误分类返回 HTTP 状态码，未分类的错误不向调用方暴露细节。
func respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	body := gin.H{"code": status, "message": err.Error()}
	if kind := errs.KindOf(err); kind != nil {
		body["error_code"] = kind.Code
	} else {
		body["message"] = "服务器内部错误"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error_code": errs.ErrValidation.Code, "message": message})
}
