package router

import (
	"github.com/gin-gonic/gin"

	"nosto_indexer_v1_202609/internal/controller"
	"nosto_indexer_v1_202609/internal/middleware"
)

// Controllers 控制器集合
type Controllers struct {
	Index *controller.IndexController
	Sync  *controller.SyncController
	Queue *controller.QueueController
}

// SetupRouter 注册所有路由
func SetupRouter(ctls *Controllers) *gin.Engine {
	r := gin.Default()

	// 健康检查 (无需认证)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API 路由组 (运维接口，全部走 JWT)
	api := r.Group("/api", middleware.JWTAuth())
	{
		// index 索引健康度
		index := api.Group("/index")
		{
			// GET /api/index/stats
			index.GET("/stats", ctls.Index.GetStats)
		}

		// queue 队列查看
		queue := api.Group("/queue")
		{
			// GET /api/queue
			queue.GET("", ctls.Queue.GetList)
		}

		// rebuild 重建触发
		rebuild := api.Group("/rebuild")
		{
			// POST /api/rebuild/trigger
			rebuild.POST("/trigger", middleware.TriggerRateLimit("rebuild-trigger"), ctls.Index.TriggerRebuild)
			// POST /api/rebuild/sweep
			rebuild.POST("/sweep", middleware.TriggerRateLimit("rebuild"), ctls.Sync.TriggerRebuildSweep)
		}

		// sync 同步触发
		sync := api.Group("/sync")
		{
			// POST /api/sync/trigger
			sync.POST("/trigger", middleware.TriggerRateLimit("sync"), ctls.Sync.TriggerSync)
		}
	}

	return r
}
