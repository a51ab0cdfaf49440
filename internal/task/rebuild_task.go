package task

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== RebuildSweepTask 重建扫描任务 ====================

// RebuildSweepTask 脏条目重建定时扫描
// 事件路径之外的兜底：每 15 分钟扫一轮所有绑定了账号的店铺，
// 漏掉或失败的标脏条目在这里被重建
type RebuildSweepTask struct {
	storeRepo      repository.StoreRepository
	accountRepo    repository.AccountRepository
	rebuildService *service.RebuildService
	cron           *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewRebuildSweepTask 创建重建扫描任务
func NewRebuildSweepTask(
	storeRepo repository.StoreRepository,
	accountRepo repository.AccountRepository,
	rebuildService *service.RebuildService,
) *RebuildSweepTask {
	return &RebuildSweepTask{
		storeRepo:        storeRepo,
		accountRepo:      accountRepo,
		rebuildService:   rebuildService,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 3,
		sleepTime:        200 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *RebuildSweepTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *RebuildSweepTask) Start() {
	// 每 15 分钟
	_, _ = t.cron.AddFunc("0 */15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
		defer cancel()
		t.sweepAllStores(ctx)
	})

	t.cron.Start()
	log.Println("[RebuildSweepTask] 已启动 (每15分钟)")
}

// Stop 停止任务
func (t *RebuildSweepTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[RebuildSweepTask] 已停止")
}

// SweepNow 立即执行一轮扫描
func (t *RebuildSweepTask) SweepNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
		defer cancel()
		t.sweepAllStores(ctx)
	}()
}

// sweepAllStores 扫描所有有账号的店铺
func (t *RebuildSweepTask) sweepAllStores(ctx context.Context) {
	stores := listStoresWithAccount(ctx, t.storeRepo, t.accountRepo, "RebuildSweepTask")
	if len(stores) == 0 {
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		successCount int
		failCount    int
		totalRebuilt int
		aborted      bool
		mu           sync.Mutex
	)

	for i := range stores {
		store := stores[i]
		select {
		case <-ctx.Done():
			log.Println("[RebuildSweepTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}

		// 内存保险丝熔断后剩余店铺不再启动
		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop {
			<-sem
			break
		}

		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rebuilt, err := t.rebuildService.RebuildDirtyProducts(ctx, &store, nil)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failCount++
				if errors.Is(err, utils.ErrMemoryOutOfBounds) {
					aborted = true
					log.Printf("[RebuildSweepTask] 内存越界，中止本轮扫描: %v", err)
					return
				}
				log.Printf("[RebuildSweepTask] 店铺 %s(%d) 重建失败: %v", store.Code, store.ID, err)
			} else {
				successCount++
				totalRebuilt += rebuilt
			}
		}()
	}

	wg.Wait()
	log.Printf("[RebuildSweepTask] 扫描完成: 店铺成功 %d, 失败 %d, 重建条目 %d",
		successCount, failCount, totalRebuilt)
}
