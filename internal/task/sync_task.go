package task

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== SyncSweepTask 同步扫描任务 ====================

// SyncSweepTask out-of-sync 条目上行同步定时扫描
// 每小时一轮，逐店铺把未同步条目推给 Nosto 并清理软删除条目
type SyncSweepTask struct {
	storeRepo   repository.StoreRepository
	accountRepo repository.AccountRepository
	indexRepo   repository.ProductIndexRepository
	syncService *service.SyncService
	cron        *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewSyncSweepTask 创建同步扫描任务
func NewSyncSweepTask(
	storeRepo repository.StoreRepository,
	accountRepo repository.AccountRepository,
	indexRepo repository.ProductIndexRepository,
	syncService *service.SyncService,
) *SyncSweepTask {
	return &SyncSweepTask{
		storeRepo:        storeRepo,
		accountRepo:      accountRepo,
		indexRepo:        indexRepo,
		syncService:      syncService,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 2,
		sleepTime:        200 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *SyncSweepTask) SetConcurrency(limit int, sleep time.Duration) {
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *SyncSweepTask) Start() {
	// 每小时
	_, _ = t.cron.AddFunc("0 0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		t.sweepAllStores(ctx)
	})

	t.cron.Start()
	log.Println("[SyncSweepTask] 已启动 (每小时)")
}

// Stop 停止任务
func (t *SyncSweepTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[SyncSweepTask] 已停止")
}

// SyncStoreNow 立即同步单个店铺
func (t *SyncSweepTask) SyncStoreNow(storeID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
		defer cancel()

		store, err := t.storeRepo.GetByID(ctx, storeID)
		if err != nil {
			log.Printf("[SyncSweepTask] 加载店铺 %d 失败: %v", storeID, err)
			return
		}
		if err := t.syncService.SyncIndexedProducts(ctx, store, nil); err != nil {
			log.Printf("[SyncSweepTask] 店铺 %s(%d) 同步失败: %v", store.Code, store.ID, err)
		}
	}()
}

// sweepAllStores 扫描所有有账号的店铺
func (t *SyncSweepTask) sweepAllStores(ctx context.Context) {
	stores := listStoresWithAccount(ctx, t.storeRepo, t.accountRepo, "SyncSweepTask")
	if len(stores) == 0 {
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		successCount int
		failCount    int
		aborted      bool
		mu           sync.Mutex
	)

	for i := range stores {
		store := stores[i]
		select {
		case <-ctx.Done():
			log.Println("[SyncSweepTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		// 扫描前先看计数，没有待同步条目的店铺直接跳过
		pending, err := t.indexRepo.CountOutOfSync(ctx, store.ID)
		if err != nil {
			log.Printf("[SyncSweepTask] 统计失败 (store=%d): %v", store.ID, err)
			continue
		}
		if pending == 0 {
			continue
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

			err := t.syncService.SyncIndexedProducts(ctx, &store, nil)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failCount++
				if errors.Is(err, utils.ErrMemoryOutOfBounds) {
					aborted = true
					log.Printf("[SyncSweepTask] 内存越界，中止本轮扫描: %v", err)
					return
				}
				// 未绑定账号等错误只影响该店铺，其余店铺照常
				log.Printf("[SyncSweepTask] 店铺 %s(%d) 同步失败: %v", store.Code, store.ID, err)
			} else {
				successCount++
			}
		}()
	}

	wg.Wait()
	log.Printf("[SyncSweepTask] 扫描完成: 店铺成功 %d, 失败 %d", successCount, failCount)
}

// ==================== 公共辅助 ====================

// listStoresWithAccount 列出启用且绑定了账号的店铺
func listStoresWithAccount(ctx context.Context, storeRepo repository.StoreRepository, accountRepo repository.AccountRepository, tag string) []model.Store {
	stores, err := storeRepo.ListActive(ctx)
	if err != nil {
		log.Printf("[%s] 获取店铺列表失败: %v", tag, err)
		return nil
	}

	var withAccount []model.Store
	for i := range stores {
		if _, err := accountRepo.GetByStoreID(ctx, stores[i].ID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[%s] 查询账号失败 (store=%d): %v", tag, stores[i].ID, err)
			}
			continue
		}
		withAccount = append(withAccount, stores[i])
	}

	if len(withAccount) == 0 {
		log.Printf("[%s] 无绑定账号的店铺需要处理", tag)
	}
	return withAccount
}
