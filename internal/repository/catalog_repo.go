package repository

import (
	"context"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// ==================== 接口定义 ====================

// CatalogRepository 目录读模型仓储接口
// 索引管道只读目录，不修改目录；写入发生在平台镜像同步侧
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*model.CatalogProduct, error)
	ListProductsByIDs(ctx context.Context, ids []int64) ([]model.CatalogProduct, error)
	ListProductIDsByStore(ctx context.Context, storeID int64) ([]int64, error)
	IsAssignedToStore(ctx context.Context, productID, storeID int64) (bool, error)

	// 组合商品关系
	ListParentIDs(ctx context.Context, childID int64) ([]int64, error)
	ListEnabledChildren(ctx context.Context, parentID int64) ([]model.CatalogProduct, error)
	CountChildren(ctx context.Context, parentID int64) (int64, error)

	// 类目关联
	ListCategoryIDs(ctx context.Context, productID int64) ([]int64, error)

	// 定价
	ListTierPrices(ctx context.Context, productID, storeID int64) ([]model.TierPrice, error)
	GetRulePrice(ctx context.Context, productID, groupID, storeID int64) (float64, error)
	ListProductIDsWithRulePrice(ctx context.Context, storeID int64) ([]int64, error)

	// 客户组
	ListCustomerGroups(ctx context.Context) ([]model.CustomerGroup, error)
}

// ==================== 仓储实现 ====================

type catalogRepo struct {
	db *gorm.DB
}

// NewCatalogRepository 创建目录仓储
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) GetProduct(ctx context.Context, id int64) (*model.CatalogProduct, error) {
	var product model.CatalogProduct
	err := r.db.WithContext(ctx).First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *catalogRepo) ListProductsByIDs(ctx context.Context, ids []int64) ([]model.CatalogProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []model.CatalogProduct
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&products).Error
	return products, err
}

func (r *catalogRepo) ListProductIDsByStore(ctx context.Context, storeID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductStoreLink{}).
		Where("store_id = ?", storeID).
		Pluck("product_id", &ids).Error
	return ids, err
}

func (r *catalogRepo) IsAssignedToStore(ctx context.Context, productID, storeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductStoreLink{}).
		Where("product_id = ? AND store_id = ?", productID, storeID).
		Count(&count).Error
	return count > 0, err
}

func (r *catalogRepo) ListParentIDs(ctx context.Context, childID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductRelation{}).
		Where("child_id = ?", childID).
		Pluck("parent_id", &ids).Error
	return ids, err
}

func (r *catalogRepo) ListEnabledChildren(ctx context.Context, parentID int64) ([]model.CatalogProduct, error) {
	var children []model.CatalogProduct
	err := r.db.WithContext(ctx).
		Joins("JOIN catalog_product_relation rel ON rel.child_id = catalog_products.id").
		Where("rel.parent_id = ? AND catalog_products.status = ?", parentID, model.ProductStatusEnabled).
		Find(&children).Error
	return children, err
}

func (r *catalogRepo) CountChildren(ctx context.Context, parentID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductRelation{}).
		Where("parent_id = ?", parentID).
		Count(&count).Error
	return count, err
}

func (r *catalogRepo) ListCategoryIDs(ctx context.Context, productID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductCategoryLink{}).
		Where("product_id = ?", productID).
		Pluck("category_id", &ids).Error
	return ids, err
}

func (r *catalogRepo) ListTierPrices(ctx context.Context, productID, storeID int64) ([]model.TierPrice, error) {
	var prices []model.TierPrice
	// store_id = 0 为全店通用行
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND (store_id = ? OR store_id = 0)", productID, storeID).
		Find(&prices).Error
	return prices, err
}

func (r *catalogRepo) GetRulePrice(ctx context.Context, productID, groupID, storeID int64) (float64, error) {
	var row model.CatalogRulePrice
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND customer_group_id = ? AND (store_id = ? OR store_id = 0)",
			productID, groupID, storeID).
		Order("store_id DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return row.RulePrice, nil
}

func (r *catalogRepo) ListProductIDsWithRulePrice(ctx context.Context, storeID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.CatalogRulePrice{}).
		Distinct("product_id").
		Where("store_id = ? OR store_id = 0", storeID).
		Pluck("product_id", &ids).Error
	return ids, err
}

func (r *catalogRepo) ListCustomerGroups(ctx context.Context) ([]model.CustomerGroup, error) {
	var groups []model.CustomerGroup
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&groups).Error
	return groups, err
}
