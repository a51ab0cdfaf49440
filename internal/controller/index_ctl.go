package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
)

// IndexController 索引运维接口
type IndexController struct {
	indexRepo    repository.ProductIndexRepository
	queueService *service.QueueService
}

// NewIndexController 创建索引控制器
func NewIndexController(indexRepo repository.ProductIndexRepository, queueService *service.QueueService) *IndexController {
	return &IndexController{
		indexRepo:    indexRepo,
		queueService: queueService,
	}
}

// ==================== 查询接口 ====================

// GetStats 获取指定店铺的索引健康度计数
// GET /api/index/stats?store_id=1
func (ctrl *IndexController) GetStats(c *gin.Context) {
	storeID, err := strconv.ParseInt(c.Query("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		c.JSON(400, gin.H{"code": 400, "message": "无效的 store_id"})
		return
	}

	ctx := c.Request.Context()

	dirty, err := ctrl.indexRepo.CountDirty(ctx, storeID)
	if err != nil {
		c.JSON(500, gin.H{"code": 500, "message": "查询失败: " + err.Error()})
		return
	}
	outOfSync, err := ctrl.indexRepo.CountOutOfSync(ctx, storeID)
	if err != nil {
		c.JSON(500, gin.H{"code": 500, "message": "查询失败: " + err.Error()})
		return
	}

	c.JSON(200, gin.H{
		"code": 200,
		"data": gin.H{
			"store_id":    storeID,
			"dirty":       dirty,
			"out_of_sync": outOfSync,
		},
	})
}

// ==================== 触发接口 ====================

// triggerReq 手动触发请求体
type triggerReq struct {
	StoreID    int64   `json:"store_id" binding:"required"`
	ProductIDs []int64 `json:"product_ids"`
}

// TriggerRebuild 手动触发重建
// 走队列异步路径：入队 upsert 记录，由队列处理器合并下发
// POST /api/rebuild/trigger
func (ctrl *IndexController) TriggerRebuild(c *gin.Context) {
	var req triggerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"code": 400, "message": "参数错误: " + err.Error()})
		return
	}
	if len(req.ProductIDs) == 0 {
		c.JSON(400, gin.H{"code": 400, "message": "product_ids 不能为空"})
		return
	}

	if err := ctrl.queueService.Enqueue(c.Request.Context(), req.StoreID, model.QueueActionUpsert, req.ProductIDs); err != nil {
		c.JSON(500, gin.H{"code": 500, "message": "入队失败: " + err.Error()})
		return
	}

	c.JSON(202, gin.H{"code": 202, "message": "已入队"})
}
