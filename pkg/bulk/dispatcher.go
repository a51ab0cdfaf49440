package bulk

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Chunk 一个异步处理单元：同一批下发的分片共享 BatchID
type Chunk struct {
	BatchID    string
	StoreID    int64
	Action     string // upsert / delete
	ProductIDs []int64
}

// Handler 分片消费回调
// 至少一次投递：返回 error 会触发重投，消费方必须幂等
type Handler func(ctx context.Context, chunk Chunk) error

// Dispatcher 批量任务调度器 (通用组件)
type Dispatcher interface {
	// Publish 提交一个分片，返回的是"调度是否成功"而非"执行是否成功"
	Publish(ctx context.Context, chunk Chunk) error

	// Start 启动消费 worker
	Start()

	// Stop 停止接收并等待在途分片处理完成
	Stop()
}

// chanDispatcher 是 Dispatcher 接口的具体实现
// 注意：它是私有的，外部只能通过 NewDispatcher 获取接口
type chanDispatcher struct {
	handler    Handler
	queue      chan Chunk
	workers    int
	maxRetries int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ Dispatcher = (*chanDispatcher)(nil)

// NewDispatcher 创建调度器
// workers: 消费协程数; queueSize: 积压上限，满后 Publish 阻塞
func NewDispatcher(handler Handler, workers, queueSize int) Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &chanDispatcher{
		handler:    handler,
		queue:      make(chan Chunk, queueSize),
		workers:    workers,
		maxRetries: 2,
	}
}

func (d *chanDispatcher) Publish(ctx context.Context, chunk Chunk) error {
	select {
	case d.queue <- chunk:
		return nil
	case <-ctx.Done():
		return errors.New("dispatcher queue full, publish aborted")
	}
}

func (d *chanDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Printf("[Dispatcher] 已启动 (workers=%d)", d.workers)
}

func (d *chanDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
	log.Println("[Dispatcher] 已停止")
}

func (d *chanDispatcher) worker(id int) {
	defer d.wg.Done()

	for chunk := range d.queue {
		var lastErr error

		// 失败重投，保证至少一次交付
		for attempt := 0; attempt <= d.maxRetries; attempt++ {
			lastErr = d.handler(context.Background(), chunk)
			if lastErr == nil {
				break
			}
		}

		if lastErr != nil {
			// 重投耗尽只能记日志放弃，周期性 cron 扫描会兜底
			log.Printf("[Dispatcher] 分片处理失败 (batch=%s store=%d action=%s ids=%d): %v",
				chunk.BatchID, chunk.StoreID, chunk.Action, len(chunk.ProductIDs), lastErr)
		}
	}
}
