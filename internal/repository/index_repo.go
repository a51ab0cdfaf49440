package repository

import (
	"context"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// ==================== 接口定义 ====================

// ProductIndexRepository 索引条目仓储接口
type ProductIndexRepository interface {
	// 点查
	GetByID(ctx context.Context, id int64) (*model.ProductIndex, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.ProductIndex, error)
	GetByProductAndStore(ctx context.Context, productID, storeID int64) (*model.ProductIndex, error)

	// 批量扫描 (均限定 store，支持可选商品 ID 集合过滤)
	ListDirtyByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error)
	ListOutOfSyncByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error)
	ListDeletedByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error)
	ListProductIDsByStore(ctx context.Context, storeID int64) ([]int64, error)

	// 写入
	Save(ctx context.Context, entry *model.ProductIndex) error
	Delete(ctx context.Context, ids []int64) error
	MarkInSyncByIDs(ctx context.Context, ids []int64) error
	MarkDeletedByProductIDs(ctx context.Context, productIDs []int64, storeID int64) error

	// 统计
	CountDirty(ctx context.Context, storeID int64) (int64, error)
	CountOutOfSync(ctx context.Context, storeID int64) (int64, error)

	// 事务
	WithTx(tx *gorm.DB) ProductIndexRepository
	Transaction(ctx context.Context, fn func(txRepo ProductIndexRepository) error) error
}

// ==================== 过滤条件 ====================

// IndexFilter 索引条目过滤条件
// ProductIDs 非空时额外按商品 ID 集合收窄 (队列分片消费场景)；
// AfterID 用于游标分页 (结果按 ID 升序)
type IndexFilter struct {
	StoreID    int64
	ProductIDs []int64
	AfterID    int64
	Limit      int
}

// ==================== 仓储实现 ====================

type productIndexRepo struct {
	db *gorm.DB
}

// NewProductIndexRepository 创建索引条目仓储
func NewProductIndexRepository(db *gorm.DB) ProductIndexRepository {
	return &productIndexRepo{db: db}
}

func (r *productIndexRepo) GetByID(ctx context.Context, id int64) (*model.ProductIndex, error) {
	var entry model.ProductIndex
	err := r.db.WithContext(ctx).First(&entry, id).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *productIndexRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.ProductIndex, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entries []model.ProductIndex
	// 不保证返回顺序
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&entries).Error
	return entries, err
}

func (r *productIndexRepo) GetByProductAndStore(ctx context.Context, productID, storeID int64) (*model.ProductIndex, error) {
	var entry model.ProductIndex
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND store_id = ?", productID, storeID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// listByFlags 按标志位组合扫描，所有批量查询的公共底座
func (r *productIndexRepo) listByFlags(ctx context.Context, filter IndexFilter, conds map[string]interface{}) ([]model.ProductIndex, error) {
	query := r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("store_id = ?", filter.StoreID)

	for col, val := range conds {
		query = query.Where(col+" = ?", val)
	}

	if len(filter.ProductIDs) > 0 {
		query = query.Where("product_id IN ?", filter.ProductIDs)
	}
	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []model.ProductIndex
	err := query.Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *productIndexRepo) ListDirtyByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error) {
	return r.listByFlags(ctx, filter, map[string]interface{}{
		"is_dirty":   true,
		"is_deleted": false,
	})
}

func (r *productIndexRepo) ListOutOfSyncByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error) {
	return r.listByFlags(ctx, filter, map[string]interface{}{
		"in_sync":    false,
		"is_deleted": false,
	})
}

func (r *productIndexRepo) ListDeletedByStore(ctx context.Context, filter IndexFilter) ([]model.ProductIndex, error) {
	return r.listByFlags(ctx, filter, map[string]interface{}{
		"is_deleted": true,
	})
}

func (r *productIndexRepo) ListProductIDsByStore(ctx context.Context, storeID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("store_id = ? AND is_deleted = ?", storeID, false).
		Pluck("product_id", &ids).Error
	return ids, err
}

func (r *productIndexRepo) Save(ctx context.Context, entry *model.ProductIndex) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *productIndexRepo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&model.ProductIndex{}).Error
}

func (r *productIndexRepo) MarkInSyncByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("id IN ?", ids).
		Update("in_sync", true).Error
}

func (r *productIndexRepo) MarkDeletedByProductIDs(ctx context.Context, productIDs []int64, storeID int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("product_id IN ? AND store_id = ?", productIDs, storeID).
		Update("is_deleted", true).Error
}

func (r *productIndexRepo) CountDirty(ctx context.Context, storeID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("store_id = ? AND is_dirty = ? AND is_deleted = ?", storeID, true, false).
		Count(&count).Error
	return count, err
}

func (r *productIndexRepo) CountOutOfSync(ctx context.Context, storeID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductIndex{}).
		Where("store_id = ? AND in_sync = ? AND is_deleted = ?", storeID, false, false).
		Count(&count).Error
	return count, err
}

func (r *productIndexRepo) WithTx(tx *gorm.DB) ProductIndexRepository {
	return &productIndexRepo{db: tx}
}

func (r *productIndexRepo) Transaction(ctx context.Context, fn func(txRepo ProductIndexRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
