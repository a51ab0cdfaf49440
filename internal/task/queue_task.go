package task

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"nosto_indexer_v1_202609/internal/service"
)

// ==================== QueueProcessTask 队列处理任务 ====================

// QueueProcessTask 更新队列处理定时任务
// 每分钟认领一批 new 条目，合并后分片下发给调度器
type QueueProcessTask struct {
	queueService *service.QueueService
	cron         *cron.Cron
}

// NewQueueProcessTask 创建队列处理任务
func NewQueueProcessTask(queueService *service.QueueService) *QueueProcessTask {
	return &QueueProcessTask{
		queueService: queueService,
		cron:         cron.New(cron.WithSeconds()),
	}
}

// Start 启动定时任务
func (t *QueueProcessTask) Start() {
	// 每分钟处理一次
	_, _ = t.cron.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := t.queueService.ProcessQueue(ctx); err != nil {
			log.Printf("[QueueProcessTask] 队列处理失败: %v", err)
		}
	})

	t.cron.Start()
	log.Println("[QueueProcessTask] 已启动 (每分钟)")
}

// Stop 停止任务
func (t *QueueProcessTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[QueueProcessTask] 已停止")
}

// ProcessNow 立即处理一轮
func (t *QueueProcessTask) ProcessNow(ctx context.Context) error {
	return t.queueService.ProcessQueue(ctx)
}
