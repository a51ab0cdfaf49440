package task

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
)

// ==================== ReconcileTask 对账任务 ====================

// ReconcileTask 每日全量对账
// 两件事：
//  1. 价格规则生效中的商品重新标脏 (规则价到期/生效不会触发目录变更事件)
//  2. 差集对账：索引里有、目录里已没有的商品标记软删除
type ReconcileTask struct {
	storeRepo         repository.StoreRepository
	accountRepo       repository.AccountRepository
	catalogRepo       repository.CatalogRepository
	indexRepo         repository.ProductIndexRepository
	invalidateService *service.InvalidateService
	cron              *cron.Cron
}

// NewReconcileTask 创建对账任务
func NewReconcileTask(
	storeRepo repository.StoreRepository,
	accountRepo repository.AccountRepository,
	catalogRepo repository.CatalogRepository,
	indexRepo repository.ProductIndexRepository,
	invalidateService *service.InvalidateService,
) *ReconcileTask {
	return &ReconcileTask{
		storeRepo:         storeRepo,
		accountRepo:       accountRepo,
		catalogRepo:       catalogRepo,
		indexRepo:         indexRepo,
		invalidateService: invalidateService,
		cron:              cron.New(cron.WithSeconds()),
	}
}

// Start 启动定时任务
func (t *ReconcileTask) Start() {
	// 每日凌晨 2 点
	_, _ = t.cron.AddFunc("0 0 2 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Hour)
		defer cancel()
		log.Println("[ReconcileTask] 开始每日对账...")
		t.reconcileAllStores(ctx)
	})

	t.cron.Start()
	log.Println("[ReconcileTask] 已启动 (每日2点)")
}

// Stop 停止任务
func (t *ReconcileTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[ReconcileTask] 已停止")
}

// ReconcileNow 立即执行一轮对账
func (t *ReconcileTask) ReconcileNow(ctx context.Context) {
	t.reconcileAllStores(ctx)
}

// reconcileAllStores 逐店铺对账 (串行，每日一次不追求吞吐)
func (t *ReconcileTask) reconcileAllStores(ctx context.Context) {
	stores := listStoresWithAccount(ctx, t.storeRepo, t.accountRepo, "ReconcileTask")

	for i := range stores {
		store := &stores[i]

		// 1. 规则价商品重新标脏
		ruleIDs, err := t.catalogRepo.ListProductIDsWithRulePrice(ctx, store.ID)
		if err != nil {
			log.Printf("[ReconcileTask] 查询规则价商品失败 (store=%d): %v", store.ID, err)
		} else if len(ruleIDs) > 0 {
			if touched, err := t.invalidateService.InvalidateOrCreate(ctx, ruleIDs, store); err != nil {
				log.Printf("[ReconcileTask] 规则价标脏失败 (store=%d): %v", store.ID, err)
			} else {
				log.Printf("[ReconcileTask] 规则价标脏 %d 个商品 (store=%d)", len(touched), store.ID)
			}
		}

		// 2. 差集对账
		knownIDs, err := t.indexRepo.ListProductIDsByStore(ctx, store.ID)
		if err != nil {
			log.Printf("[ReconcileTask] 加载索引商品失败 (store=%d): %v", store.ID, err)
			continue
		}
		if err := t.invalidateService.MarkProductsAsDeletedByDiff(ctx, knownIDs, store); err != nil {
			log.Printf("[ReconcileTask] 差集对账失败 (store=%d): %v", store.ID, err)
		}
	}

	log.Printf("[ReconcileTask] 对账完成，共 %d 个店铺", len(stores))
}
