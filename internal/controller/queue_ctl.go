package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"nosto_indexer_v1_202609/internal/repository"
)

// QueueController 更新队列运维接口
type QueueController struct {
	queueRepo repository.UpdateQueueRepository
}

// NewQueueController 创建队列控制器
func NewQueueController(queueRepo repository.UpdateQueueRepository) *QueueController {
	return &QueueController{queueRepo: queueRepo}
}

// GetList 查看最近的队列记录
// GET /api/queue?limit=50
func (ctrl *QueueController) GetList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := ctrl.queueRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(500, gin.H{"code": 500, "message": "查询失败: " + err.Error()})
		return
	}

	c.JSON(200, gin.H{"code": 200, "data": entries})
}
