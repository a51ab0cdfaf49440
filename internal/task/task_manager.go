package task

import (
	"log"
	"time"

	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
)

// ==================== TaskManager 索引任务管理器 ====================

// TaskManager 统一管理索引管道的定时任务
// 管理范围：队列处理、重建扫描、同步扫描、每日对账
type TaskManager struct {
	queueTask     *QueueProcessTask
	rebuildTask   *RebuildSweepTask
	syncTask      *SyncSweepTask
	reconcileTask *ReconcileTask
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	// Repositories
	StoreRepo   repository.StoreRepository
	AccountRepo repository.AccountRepository
	CatalogRepo repository.CatalogRepository
	IndexRepo   repository.ProductIndexRepository

	// Services
	QueueService      *service.QueueService
	RebuildService    *service.RebuildService
	SyncService       *service.SyncService
	InvalidateService *service.InvalidateService
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// 队列处理
	QueueEnabled bool

	// 重建扫描
	RebuildEnabled     bool
	RebuildConcurrency int

	// 同步扫描
	SyncEnabled     bool
	SyncConcurrency int

	// 每日对账
	ReconcileEnabled bool
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		QueueEnabled: true,

		RebuildEnabled:     true,
		RebuildConcurrency: 3,

		SyncEnabled:     true,
		SyncConcurrency: 2,

		ReconcileEnabled: true,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{}

	// 队列处理任务
	if cfg.QueueEnabled && deps.QueueService != nil {
		tm.queueTask = NewQueueProcessTask(deps.QueueService)
	}

	// 重建扫描任务
	if cfg.RebuildEnabled && deps.RebuildService != nil {
		tm.rebuildTask = NewRebuildSweepTask(deps.StoreRepo, deps.AccountRepo, deps.RebuildService)
		tm.rebuildTask.SetConcurrency(cfg.RebuildConcurrency, 200*time.Millisecond)
	}

	// 同步扫描任务
	if cfg.SyncEnabled && deps.SyncService != nil {
		tm.syncTask = NewSyncSweepTask(deps.StoreRepo, deps.AccountRepo, deps.IndexRepo, deps.SyncService)
		tm.syncTask.SetConcurrency(cfg.SyncConcurrency, 200*time.Millisecond)
	}

	// 对账任务
	if cfg.ReconcileEnabled && deps.InvalidateService != nil {
		tm.reconcileTask = NewReconcileTask(
			deps.StoreRepo, deps.AccountRepo, deps.CatalogRepo, deps.IndexRepo, deps.InvalidateService)
	}

	return tm
}

// StartAll 启动全部任务
func (tm *TaskManager) StartAll() {
	if tm.queueTask != nil {
		tm.queueTask.Start()
	}
	if tm.rebuildTask != nil {
		tm.rebuildTask.Start()
	}
	if tm.syncTask != nil {
		tm.syncTask.Start()
	}
	if tm.reconcileTask != nil {
		tm.reconcileTask.Start()
	}
	log.Println("[TaskManager] 全部任务已启动")
}

// StopAll 停止全部任务
func (tm *TaskManager) StopAll() {
	if tm.queueTask != nil {
		tm.queueTask.Stop()
	}
	if tm.rebuildTask != nil {
		tm.rebuildTask.Stop()
	}
	if tm.syncTask != nil {
		tm.syncTask.Stop()
	}
	if tm.reconcileTask != nil {
		tm.reconcileTask.Stop()
	}
	log.Println("[TaskManager] 全部任务已停止")
}

// RebuildTask 暴露重建任务 (手动触发用)
func (tm *TaskManager) RebuildTask() *RebuildSweepTask {
	return tm.rebuildTask
}

// SyncTask 暴露同步任务 (手动触发用)
func (tm *TaskManager) SyncTask() *SyncSweepTask {
	return tm.syncTask
}
