package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nosto_indexer_v1_202609/internal/controller"
	"nosto_indexer_v1_202609/internal/middleware"
	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/internal/router"
	"nosto_indexer_v1_202609/internal/service"
	"nosto_indexer_v1_202609/internal/task"
	"nosto_indexer_v1_202609/pkg/bulk"
	"nosto_indexer_v1_202609/pkg/database"
	"nosto_indexer_v1_202609/pkg/nosto"
	"nosto_indexer_v1_202609/pkg/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// 0. 加载运行时配置
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg := middleware.DefaultJWTConfig()
		cfg.SecretKey = secret
		middleware.SetJWTConfig(cfg)
	}

	// 1. 初始化数据库
	db := initDatabase()

	// 2. 初始化依赖
	deps := initDependencies(db)

	// 3. 启动分片调度器
	deps.Dispatcher.Start()

	// 4. 启动定时任务
	deps.Tasks.StartAll()

	// 5. 初始化路由
	r := router.SetupRouter(deps.Controllers)

	// 6. 启动服务
	startServer(r, deps)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Services    *Services
	Dispatcher  bulk.Dispatcher
	Tasks       *task.TaskManager
	Controllers *router.Controllers
}

// Repositories 仓库集合
type Repositories struct {
	Store    repository.StoreRepository
	Account  repository.AccountRepository
	Catalog  repository.CatalogRepository
	Category repository.CategoryRepository
	Index    repository.ProductIndexRepository
	Queue    repository.UpdateQueueRepository
}

// Services 服务集合
type Services struct {
	Builder    *service.BuilderService
	Invalidate *service.InvalidateService
	Rebuild    *service.RebuildService
	Sync       *service.SyncService
	Queue      *service.QueueService
	Consumer   *service.ChunkConsumer
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase() *gorm.DB {
	dsn := getEnv("DATABASE_DSN",
		"host=localhost user=nosto_admin password=1234 dbname=nosto_indexer port=5432 sslmode=disable")

	return database.InitDB(dsn,
		// Store
		&model.Store{}, &model.NostoAccount{},
		// Catalog
		&model.CatalogProduct{}, &model.ProductStoreLink{}, &model.ProductCategoryLink{},
		&model.ProductRelation{}, &model.Category{},
		// Price
		&model.TierPrice{}, &model.CatalogRulePrice{}, &model.CustomerGroup{},
		// Index
		&model.ProductIndex{}, &model.UpdateQueue{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := initRepositories(db)

	// -------- 基础设施 --------
	guard := utils.NewMemoryGuard(getEnvUint("MEMORY_LIMIT_MB", 0), 0)
	apiClient := nosto.NewClient(getEnv("NOSTO_API_URL", ""))

	// -------- 业务服务 --------
	services := &Services{}
	services.Builder = service.NewBuilderService(repos.Catalog, repos.Category)
	services.Invalidate = service.NewInvalidateService(repos.Catalog, repos.Index)
	services.Rebuild = service.NewRebuildService(repos.Catalog, repos.Store, repos.Index, services.Builder, guard)
	services.Sync = service.NewSyncService(repos.Index, repos.Account, apiClient, guard)
	services.Consumer = service.NewChunkConsumer(repos.Store, repos.Index, services.Invalidate, services.Rebuild, services.Sync)

	// -------- 分片调度器 --------
	dispatcher := bulk.NewDispatcher(
		services.Consumer.Handle,
		getEnvInt("BULK_WORKERS", 4),
		getEnvInt("BULK_QUEUE_SIZE", 256),
	)
	services.Queue = service.NewQueueService(repos.Queue, dispatcher)

	// -------- 定时任务 --------
	tasks := task.NewTaskManager(&task.TaskManagerDeps{
		StoreRepo:   repos.Store,
		AccountRepo: repos.Account,
		CatalogRepo: repos.Catalog,
		IndexRepo:   repos.Index,

		QueueService:      services.Queue,
		RebuildService:    services.Rebuild,
		SyncService:       services.Sync,
		InvalidateService: services.Invalidate,
	}, task.DefaultConfig())

	// -------- Controller 层 --------
	controllers := &router.Controllers{
		Index: controller.NewIndexController(repos.Index, services.Queue),
		Sync:  controller.NewSyncController(tasks),
		Queue: controller.NewQueueController(repos.Queue),
	}

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Services:    services,
		Dispatcher:  dispatcher,
		Tasks:       tasks,
		Controllers: controllers,
	}
}

// initRepositories 初始化所有仓库
func initRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Store:    repository.NewStoreRepository(db),
		Account:  repository.NewAccountRepository(db),
		Catalog:  repository.NewCatalogRepository(db),
		Category: repository.NewCategoryRepository(db),
		Index:    repository.NewProductIndexRepository(db),
		Queue:    repository.NewUpdateQueueRepository(db),
	}
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(r *gin.Engine, deps *Dependencies) {
	port := getEnv("SERVER_PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 先停任务与调度器，避免关停期间还有新分片进来
	deps.Tasks.StopAll()
	deps.Dispatcher.Stop()

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务强制关闭: %v", err)
	}

	log.Println("服务已退出")
}

// ==================== 工具函数 ====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
