// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"duplike-go/internal/model"
	"duplike-go/pkg/log"
	"duplike-go/pkg/token"
)

// TenantKey 是 gin 上下文中保存租户 ID 的键。
const TenantKey = "tenantID"

// TenantAuth 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并把 tenant_id 声明存入 Gin 的上下文中。
func TenantAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[TenantAuth] token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}
		if !model.ValidTenantID(claims.TenantID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "token 中的租户 ID 不合法"})
			return
		}

		c.Set(TenantKey, claims.TenantID)
		c.Set("claims", claims)
		c.Next()
	}
}

// TenantID 返回 TenantAuth 写入上下文的租户 ID。
func TenantID(c *gin.Context) string {
	return c.GetString(TenantKey)
}
