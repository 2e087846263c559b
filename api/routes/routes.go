package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/api/handlers"
	"github.com/feichai0017/knowledge-pipeline/api/middleware"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger, origins []string) {
	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(origins))

	v1 := r.Group("/api/v1")

	v1.GET("/health", h.System.Health)
	v1.GET("/stats", h.System.Stats)

	// 文档路由组
	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.POST("/crawl", h.Document.Crawl)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.GET("/:id/export", h.Document.Export)
		docs.DELETE("/:id", h.Document.Delete)
		docs.POST("/:id/reprocess", h.Document.Reprocess)
	}
	v1.GET("/tasks/:taskId", h.Document.TaskStatus)

	v1.POST("/query", h.Query.Query)
	v1.POST("/chat", h.Query.Chat)

	m := v1.Group("/models")
	{
		m.GET("", h.Model.List)
		m.GET("/active", h.Model.GetActive)
		m.PUT("/active", h.Model.SetActive)
		m.POST("/pull", h.Model.Pull)
		m.DELETE("/*name", h.Model.Delete)
	}
}
