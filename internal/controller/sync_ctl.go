package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"nosto_indexer_v1_202609/internal/task"
)

// SyncController 同步运维接口
type SyncController struct {
	taskManager *task.TaskManager
}

// NewSyncController 创建同步控制器
func NewSyncController(taskManager *task.TaskManager) *SyncController {
	return &SyncController{taskManager: taskManager}
}

// TriggerSync 手动触发单店铺同步 (异步执行，立即返回)
// POST /api/sync/trigger?store_id=1
func (ctrl *SyncController) TriggerSync(c *gin.Context) {
	storeID, err := strconv.ParseInt(c.Query("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		c.JSON(400, gin.H{"code": 400, "message": "无效的 store_id"})
		return
	}

	syncTask := ctrl.taskManager.SyncTask()
	if syncTask == nil {
		c.JSON(503, gin.H{"code": 503, "message": "同步任务未启用"})
		return
	}

	syncTask.SyncStoreNow(storeID)
	c.JSON(202, gin.H{"code": 202, "message": "同步已触发"})
}

// TriggerRebuildSweep 手动触发全量重建扫描
// POST /api/rebuild/sweep
func (ctrl *SyncController) TriggerRebuildSweep(c *gin.Context) {
	rebuildTask := ctrl.taskManager.RebuildTask()
	if rebuildTask == nil {
		c.JSON(503, gin.H{"code": 503, "message": "重建任务未启用"})
		return
	}

	rebuildTask.SweepNow()
	c.JSON(202, gin.H{"code": 202, "message": "重建扫描已触发"})
}
