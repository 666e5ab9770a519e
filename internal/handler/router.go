package handler

import (
	"github.com/gin-gonic/gin"

	"duplike-go/internal/middleware"
	"duplike-go/pkg/token"
)

// Router 汇总了注册路由所需的处理器。
type Router struct {
	JWT      *token.JWTManager
	Datasets *DatasetHandler
	Reports  *ReportHandler
	Search   *SearchHandler
	Health   *HealthHandler
}

// Engine 创建 gin 引擎并注册全部路由。除健康检查外，所有接口都需要带租户声明的 JWT。
func (rt Router) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/api/health", rt.Health.Health)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.TenantAuth(rt.JWT))
	{
		datasets := apiV1.Group("/datasets")
		{
			datasets.POST("", rt.Datasets.Upload)
			datasets.DELETE("", rt.Datasets.Clear)
			datasets.PUT("/columns", rt.Datasets.UpdateColumns)
			datasets.GET("/status", rt.Datasets.Status)
			datasets.GET("/columns/:column/values", rt.Datasets.ColumnValues)
		}

		reports := apiV1.Group("/reports")
		{
			reports.POST("", rt.Reports.Add)
			reports.POST("/async", rt.Reports.AddAsync)
		}

		apiV1.POST("/search", rt.Search.Search)
	}
	return r
}
