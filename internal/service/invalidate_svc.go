package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
)

// ==================== 失效服务 ====================

const invalidatePageSize = 100

// InvalidateService 索引失效服务
// 响应目录变更：把受影响的索引条目标脏 (不存在则创建)，
// 子品变更重定向到父品的条目
type InvalidateService struct {
	catalogRepo repository.CatalogRepository
	indexRepo   repository.ProductIndexRepository
	pageSize    int
}

// NewInvalidateService 创建失效服务
func NewInvalidateService(catalogRepo repository.CatalogRepository, indexRepo repository.ProductIndexRepository) *InvalidateService {
	return &InvalidateService{
		catalogRepo: catalogRepo,
		indexRepo:   indexRepo,
		pageSize:    invalidatePageSize,
	}
}

// InvalidateOrCreate 将一批商品的索引条目标脏
// 返回实际被标脏的商品 ID (重定向后的集合)，供调用方收窄后续重建/同步
//
// 规则：
//   - 有父品的商品重定向到每个不同的父品条目 (子品不建条目)
//   - 单次调用内用去重集合保护，同一父品只写一次
//   - 单条失败记日志继续；父品解析失败视为结构性错误，中止整批
func (s *InvalidateService) InvalidateOrCreate(ctx context.Context, productIDs []int64, store *model.Store) ([]int64, error) {
	seen := make(map[int64]struct{})
	var touched []int64
	var itemErrs []error

	for offset := 0; offset < len(productIDs); offset += s.pageSize {
		end := offset + s.pageSize
		if end > len(productIDs) {
			end = len(productIDs)
		}

		for _, productID := range productIDs[offset:end] {
			parents, err := s.catalogRepo.ListParentIDs(ctx, productID)
			if err != nil {
				// 父子关系解析失败属于配置/数据错误，不是单条瞬时错误
				return nil, fmt.Errorf("解析商品 %d 的父品失败: %w", productID, err)
			}

			targets := parents
			if len(targets) == 0 {
				targets = []int64{productID}
			}

			for _, target := range targets {
				if _, done := seen[target]; done {
					continue
				}
				seen[target] = struct{}{}

				if err := s.markDirty(ctx, target, store.ID); err != nil {
					itemErrs = append(itemErrs, fmt.Errorf("商品 %d: %w", target, err))
					continue
				}
				touched = append(touched, target)
			}
		}
	}

	// 批内异常统一在循环后输出，单条失败不影响整批
	for _, err := range itemErrs {
		log.Printf("[Invalidate] 标脏失败 (store=%d): %v", store.ID, err)
	}
	return touched, nil
}

// markDirty 标脏单个条目，不存在时创建
// 新建条目 dirty=true 且 productData 为空，等待首次构建
func (s *InvalidateService) markDirty(ctx context.Context, productID, storeID int64) error {
	entry, err := s.indexRepo.GetByProductAndStore(ctx, productID, storeID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.indexRepo.Save(ctx, &model.ProductIndex{
			ProductID: productID,
			StoreID:   storeID,
			IsDirty:   true,
		})
	}

	entry.IsDirty = true
	entry.IsDeleted = false
	return s.indexRepo.Save(ctx, entry)
}

// MarkProductsAsDeletedByDiff 差集对账
// knownIDs 中存在、但目录中已查不到的商品，其索引条目标记软删除，
// 用于兜底 changelog 漏报的删除事件
func (s *InvalidateService) MarkProductsAsDeletedByDiff(ctx context.Context, knownIDs []int64, store *model.Store) error {
	currentIDs, err := s.catalogRepo.ListProductIDsByStore(ctx, store.ID)
	if err != nil {
		return fmt.Errorf("加载店铺商品列表失败: %w", err)
	}

	current := make(map[int64]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = struct{}{}
	}

	var missing []int64
	for _, id := range knownIDs {
		if _, ok := current[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	log.Printf("[Invalidate] 对账发现 %d 个已下架商品 (store=%d)", len(missing), store.ID)
	return s.indexRepo.MarkDeletedByProductIDs(ctx, missing, store.ID)
}
