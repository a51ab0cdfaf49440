package task

import (
	"bytes"
	"context"
	"log"
	"os"
	"runtime"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/service"
	"nosto_indexer_v1_202609/pkg/bulk"
	"nosto_indexer_v1_202609/pkg/nosto"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== 辅助函数 ====================

func setupTaskTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.Store{}, &model.NostoAccount{},
		&model.CatalogProduct{}, &model.ProductStoreLink{}, &model.CatalogRulePrice{},
		&model.ProductIndex{}, &model.UpdateQueue{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	return db
}

func seedStoreWithAccount(t *testing.T, db *gorm.DB, code string) *model.Store {
	store := &model.Store{Code: code, Status: 1}
	if err := db.Create(store).Error; err != nil {
		t.Fatalf("写入店铺失败: %v", err)
	}
	account := &model.NostoAccount{StoreID: store.ID, AccountID: "acct-" + code, Status: 1}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("写入账号失败: %v", err)
	}
	return store
}

// captureLogs 把标准日志重定向到缓冲区，测试结束后恢复
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

// allocBallast 分配压舱内存，确保小上限的内存保险丝必然熔断
func allocBallast() []byte {
	ballast := make([]byte, 8<<20)
	for i := range ballast {
		ballast[i] = byte(i)
	}
	return ballast
}

type stubNostoAPI struct{}

func (stubNostoAPI) Upsert(ctx context.Context, account nosto.Account, products []*nosto.Product) error {
	return nil
}

func (stubNostoAPI) Delete(ctx context.Context, account nosto.Account, productIDs []int64) error {
	return nil
}

// ==================== listStoresWithAccount ====================

func TestListStoresWithAccount(t *testing.T) {
	db := setupTaskTestDB(t)
	ctx := context.Background()
	storeRepo := repository.NewStoreRepository(db)
	accountRepo := repository.NewAccountRepository(db)

	bound := seedStoreWithAccount(t, db, "bound")

	// 活跃但未绑定账号
	if err := db.Create(&model.Store{Code: "unbound", Status: 1}).Error; err != nil {
		t.Fatalf("写入店铺失败: %v", err)
	}
	// 已停用
	if err := db.Create(&model.Store{Code: "inactive", Status: 0}).Error; err != nil {
		t.Fatalf("写入店铺失败: %v", err)
	}

	stores := listStoresWithAccount(ctx, storeRepo, accountRepo, "Test")
	if len(stores) != 1 {
		t.Fatalf("入选店铺数 = %d, want 1", len(stores))
	}
	if stores[0].ID != bound.ID {
		t.Fatalf("入选了错误的店铺: %d", stores[0].ID)
	}
}

// ==================== TaskManager ====================

func TestTaskManager_ConditionalConstruction(t *testing.T) {
	db := setupTaskTestDB(t)

	queueRepo := repository.NewUpdateQueueRepository(db)
	dispatcher := bulk.NewDispatcher(func(ctx context.Context, chunk bulk.Chunk) error { return nil }, 1, 4)
	queueService := service.NewQueueService(queueRepo, dispatcher)

	deps := &TaskManagerDeps{
		StoreRepo:    repository.NewStoreRepository(db),
		AccountRepo:  repository.NewAccountRepository(db),
		IndexRepo:    repository.NewProductIndexRepository(db),
		QueueService: queueService,
	}

	// 只开队列任务，其余全关
	tm := NewTaskManager(deps, &TaskManagerConfig{QueueEnabled: true})
	if tm.queueTask == nil {
		t.Fatal("队列任务应已构造")
	}
	if tm.RebuildTask() != nil || tm.SyncTask() != nil || tm.reconcileTask != nil {
		t.Fatal("未启用的任务不应构造")
	}

	// 开关打开但依赖缺失时跳过
	tm = NewTaskManager(deps, &TaskManagerConfig{RebuildEnabled: true, SyncEnabled: true})
	if tm.RebuildTask() != nil || tm.SyncTask() != nil {
		t.Fatal("缺少服务依赖的任务不应构造")
	}

	// nil 配置回落到默认值
	tm = NewTaskManager(deps, nil)
	if tm.queueTask == nil {
		t.Fatal("默认配置应启用队列任务")
	}
}

// ==================== QueueProcessTask ====================

func TestQueueProcessTask_ProcessNow(t *testing.T) {
	db := setupTaskTestDB(t)
	ctx := context.Background()

	var handled []bulk.Chunk
	dispatcher := &captureDispatcher{chunks: &handled}

	queueRepo := repository.NewUpdateQueueRepository(db)
	queueService := service.NewQueueService(queueRepo, dispatcher)
	queueTask := NewQueueProcessTask(queueService)

	if err := queueService.Enqueue(ctx, 1, model.QueueActionUpsert, []int64{1, 2, 3}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := queueTask.ProcessNow(ctx); err != nil {
		t.Fatalf("ProcessNow() error = %v", err)
	}
	if len(handled) != 1 {
		t.Fatalf("下发分片数 = %d, want 1", len(handled))
	}

	done, err := queueRepo.ListByStatus(ctx, model.QueueStatusDone, 10)
	if err != nil {
		t.Fatalf("查询队列失败: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("done 条目数 = %d, want 1", len(done))
	}
}

type captureDispatcher struct {
	chunks *[]bulk.Chunk
}

func (d *captureDispatcher) Publish(ctx context.Context, chunk bulk.Chunk) error {
	*d.chunks = append(*d.chunks, chunk)
	return nil
}

func (d *captureDispatcher) Start() {}
func (d *captureDispatcher) Stop()  {}

// ==================== 内存熔断 ====================

func TestRebuildSweep_MemoryGuardAbortsWholeSweep(t *testing.T) {
	db := setupTaskTestDB(t)
	ctx := context.Background()

	for _, code := range []string{"s1", "s2", "s3"} {
		seedStoreWithAccount(t, db, code)
	}

	storeRepo := repository.NewStoreRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	indexRepo := repository.NewProductIndexRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	builder := service.NewBuilderService(catalogRepo, repository.NewCategoryRepository(db))

	// 1MB 上限配合压舱内存，首个店铺必然熔断
	guard := utils.NewMemoryGuard(1, 0)
	rebuildService := service.NewRebuildService(catalogRepo, storeRepo, indexRepo, builder, guard)

	ballast := allocBallast()
	defer runtime.KeepAlive(ballast)

	sweepTask := NewRebuildSweepTask(storeRepo, accountRepo, rebuildService)
	sweepTask.SetConcurrency(1, 0)

	buf := captureLogs(t)
	sweepTask.sweepAllStores(ctx)

	// 熔断后剩余店铺不再启动，整轮只出现一次越界日志
	if got := strings.Count(buf.String(), "内存越界"); got != 1 {
		t.Fatalf("熔断日志次数 = %d, want 1\n%s", got, buf.String())
	}
}

func TestSyncSweep_MemoryGuardAbortsWholeSweep(t *testing.T) {
	db := setupTaskTestDB(t)
	ctx := context.Background()

	storeRepo := repository.NewStoreRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	indexRepo := repository.NewProductIndexRepository(db)

	// 每个店铺都有待同步条目，否则会在计数检查处被跳过
	for i, code := range []string{"s1", "s2", "s3"} {
		store := seedStoreWithAccount(t, db, code)
		err := db.Create(&model.ProductIndex{
			ProductID: int64(100 + i),
			StoreID:   store.ID,
			InSync:    false,
		}).Error
		if err != nil {
			t.Fatalf("写入索引条目失败: %v", err)
		}
	}

	guard := utils.NewMemoryGuard(1, 0)
	syncService := service.NewSyncService(indexRepo, accountRepo, stubNostoAPI{}, guard)

	ballast := allocBallast()
	defer runtime.KeepAlive(ballast)

	sweepTask := NewSyncSweepTask(storeRepo, accountRepo, indexRepo, syncService)
	sweepTask.SetConcurrency(1, 0)

	buf := captureLogs(t)
	sweepTask.sweepAllStores(ctx)

	if got := strings.Count(buf.String(), "内存越界"); got != 1 {
		t.Fatalf("熔断日志次数 = %d, want 1\n%s", got, buf.String())
	}
}
