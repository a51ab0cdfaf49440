package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/nosto"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== 重建服务 ====================

const (
	rebuildPageSize        = 100
	rebuildBenchBreakpoint = 10
)

// RebuildService 索引重建服务
// 消费脏条目：重新拉取目录商品、重跑构建、与旧快照结构化比较，
// 有差异才替换快照并清 inSync，dirty 无条件清除
type RebuildService struct {
	catalogRepo repository.CatalogRepository
	storeRepo   repository.StoreRepository
	indexRepo   repository.ProductIndexRepository
	builder     *BuilderService
	guard       *utils.MemoryGuard
	pageSize    int
}

// NewRebuildService 创建重建服务
func NewRebuildService(
	catalogRepo repository.CatalogRepository,
	storeRepo repository.StoreRepository,
	indexRepo repository.ProductIndexRepository,
	builder *BuilderService,
	guard *utils.MemoryGuard,
) *RebuildService {
	return &RebuildService{
		catalogRepo: catalogRepo,
		storeRepo:   storeRepo,
		indexRepo:   indexRepo,
		builder:     builder,
		guard:       guard,
		pageSize:    rebuildPageSize,
	}
}

// RebuildDirtyProduct 重建单个索引条目
// 任何单条异常只记日志并返回 nil，绝不让一个坏商品中断整批任务
func (s *RebuildService) RebuildDirtyProduct(ctx context.Context, entry *model.ProductIndex) *model.ProductIndex {
	store, err := s.storeRepo.GetByID(ctx, entry.StoreID)
	if err != nil {
		log.Printf("[Rebuild] 加载店铺失败 (entry=%d store=%d): %v", entry.ID, entry.StoreID, err)
		return nil
	}

	product, err := s.catalogRepo.GetProduct(ctx, entry.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 商品已从目录消失，条目转入软删除，等待同步批次送 delete 后清除
			return s.markEntryDeleted(ctx, entry)
		}
		log.Printf("[Rebuild] 加载商品失败 (entry=%d product=%d): %v", entry.ID, entry.ProductID, err)
		return nil
	}

	built, err := s.builder.Build(ctx, product, store)
	if err != nil {
		var filtered *FilteredProductError
		if errors.As(err, &filtered) {
			// 不再满足打标条件同样视为下架
			log.Printf("[Rebuild] %v，条目转入删除 (entry=%d)", err, entry.ID)
			return s.markEntryDeleted(ctx, entry)
		}
		log.Printf("[Rebuild] 构建失败 (entry=%d product=%d): %v", entry.ID, entry.ProductID, err)
		return nil
	}

	// 旧快照缺失/损坏/版本不识别一律按"内容不同"处理
	changed := true
	if old, derr := nosto.Deserialize(entry.ProductData); derr == nil {
		changed = !RepresentationsEqual(old, built)
	}

	if changed {
		data, err := built.Serialize()
		if err != nil {
			log.Printf("[Rebuild] 快照序列化失败 (entry=%d): %v", entry.ID, err)
			return nil
		}
		entry.ProductData = data
		entry.InSync = false
	}
	entry.IsDirty = false

	if err := s.indexRepo.Save(ctx, entry); err != nil {
		log.Printf("[Rebuild] 保存条目失败 (entry=%d): %v", entry.ID, err)
		return nil
	}
	return entry
}

// RebuildDirtyProducts 分页重建店铺的脏条目
// productIDs 非空时收窄到指定商品 (队列分片消费场景)；返回成功重建的条数
// 内存越界错误必须原样向上传播，由调用方中止整轮任务
func (s *RebuildService) RebuildDirtyProducts(ctx context.Context, store *model.Store, productIDs []int64) (int, error) {
	bench := utils.NewBenchmark(fmt.Sprintf("RebuildDirtyProducts(store=%d)", store.ID), rebuildBenchBreakpoint)
	bench.Start()
	defer bench.Summary()

	rebuilt := 0
	lastID := int64(0)

	for {
		if err := s.guard.Check(); err != nil {
			return rebuilt, err
		}

		entries, err := s.indexRepo.ListDirtyByStore(ctx, repository.IndexFilter{
			StoreID:    store.ID,
			ProductIDs: productIDs,
			AfterID:    lastID,
			Limit:      s.pageSize,
		})
		if err != nil {
			return rebuilt, fmt.Errorf("扫描脏条目失败: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for i := range entries {
			if s.RebuildDirtyProduct(ctx, &entries[i]) != nil {
				rebuilt++
			}
			bench.Tick()
		}

		// 重建成功的条目会掉出 dirty 过滤，必须用游标而不是 offset 翻页
		lastID = entries[len(entries)-1].ID
		if len(entries) < s.pageSize {
			break
		}
	}

	return rebuilt, nil
}

func (s *RebuildService) markEntryDeleted(ctx context.Context, entry *model.ProductIndex) *model.ProductIndex {
	entry.IsDeleted = true
	entry.IsDirty = false
	if err := s.indexRepo.Save(ctx, entry); err != nil {
		log.Printf("[Rebuild] 标记删除失败 (entry=%d): %v", entry.ID, err)
		return nil
	}
	return entry
}
